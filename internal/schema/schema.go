// Package schema owns the target schema: the ordered list of output column
// names every merged table conforms to.
package schema

import "strings"

// TargetSchema is an ordered list of target column names. Order controls the
// output column order. Duplicates are allowed; see Duplicates.
type TargetSchema []string

// Text renders the schema one column per line, the form users edit.
func (s TargetSchema) Text() string {
	return strings.Join(s, "\n")
}

// Duplicates returns the names that occur more than once, in first-seen order.
func (s TargetSchema) Duplicates() []string {
	seen := make(map[string]int, len(s))
	var dups []string
	for _, c := range s {
		seen[c]++
		if seen[c] == 2 {
			dups = append(dups, c)
		}
	}
	return dups
}

// Store holds the current target schema of one session.
type Store struct {
	cols TargetSchema
}

// NewStore returns a Store initialized with cols (copied).
func NewStore(cols []string) *Store {
	s := &Store{}
	s.Replace(cols)
	return s
}

// Replace installs cols verbatim (copied). It is the load path for a
// persisted schema; user edits go through SetSchema.
func (s *Store) Replace(cols []string) {
	s.cols = append(TargetSchema{}, cols...)
}

// SetSchema replaces the schema wholesale. Each line is trimmed, blank lines
// are dropped, order and duplicates are kept.
func (s *Store) SetSchema(lines []string) {
	cols := make(TargetSchema, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			cols = append(cols, l)
		}
	}
	s.cols = cols
}

// Schema returns a copy of the current schema.
func (s *Store) Schema() TargetSchema {
	return append(TargetSchema{}, s.cols...)
}

// ParseText splits raw editor text into lines for SetSchema.
func ParseText(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}
