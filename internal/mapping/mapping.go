// Package mapping owns the per-table column mappings: for each source table
// name, which source column feeds each target column.
//
// Entries are validated when they are read, not when they are written. A
// mapping may name a table that is not loaded yet, or a column the current
// upload no longer has; both are inert rather than errors, so a remembered
// mapping survives until the same file is uploaded again.
package mapping

import "slices"

// ColumnMapping maps a target column name to a source column name. A nil
// value means the target is explicitly unset; a missing key means the same.
type ColumnMapping map[string]*string

// Document maps a source table name to its ColumnMapping.
type Document map[string]ColumnMapping

// Src returns a pointer to name, for building mapping entries.
func Src(name string) *string { return &name }

// Resolve returns the source column feeding target when it is set and present
// in columns.
func (m ColumnMapping) Resolve(target string, columns []string) (string, bool) {
	src := m[target]
	if src == nil {
		return "", false
	}
	if !slices.Contains(columns, *src) {
		return "", false
	}
	return *src, true
}

// Clone returns a deep copy.
func (m ColumnMapping) Clone() ColumnMapping {
	if m == nil {
		return nil
	}
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = nil
			continue
		}
		out[k] = Src(*v)
	}
	return out
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v.Clone()
	}
	return out
}

// Equal reports whether two documents hold the same entries, distinguishing
// an unset entry from a missing one.
func (d Document) Equal(o Document) bool {
	if len(d) != len(o) {
		return false
	}
	for table, m := range d {
		om, ok := o[table]
		if !ok || len(m) != len(om) {
			return false
		}
		for target, src := range m {
			osrc, ok := om[target]
			if !ok || (src == nil) != (osrc == nil) {
				return false
			}
			if src != nil && *src != *osrc {
				return false
			}
		}
	}
	return true
}

// Store holds the mapping document of one session.
type Store struct {
	doc Document
}

// NewStore returns a Store holding a copy of doc. A nil doc is treated as
// empty.
func NewStore(doc Document) *Store {
	return &Store{doc: doc.Clone()}
}

// GetOrInit returns the mapping for table, inserting an empty one first when
// the table has none. The returned map is the stored one; writes go through
// SetEntry.
func (s *Store) GetOrInit(table string) ColumnMapping {
	m, ok := s.doc[table]
	if !ok || m == nil {
		m = ColumnMapping{}
		s.doc[table] = m
	}
	return m
}

// SetEntry sets target → source for table. A nil source unsets the target.
func (s *Store) SetEntry(table, target string, source *string) {
	m := s.GetOrInit(table)
	if source == nil {
		m[target] = nil
		return
	}
	m[target] = Src(*source)
}

// ResetAll drops every mapping, including those of tables not loaded.
func (s *Store) ResetAll() {
	s.doc = Document{}
}

// Selected returns the source column to present for target given the table's
// current columns. ok is false when the entry is unset or stale; a column
// may itself be named "".
func (s *Store) Selected(table, target string, columns []string) (string, bool) {
	return s.doc[table].Resolve(target, columns)
}

// Document returns a deep copy of the current document.
func (s *Store) Document() Document {
	return s.doc.Clone()
}

// Replace installs a copy of doc, e.g. after loading settings.
func (s *Store) Replace(doc Document) {
	s.doc = doc.Clone()
}
