// Package tableset holds the source tables uploaded in one session. Tables
// are parsed fully into memory on upload and never persisted.
package tableset

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"colmerge/internal/config"
	csvparser "colmerge/internal/parser/csv"
	jsonparser "colmerge/internal/parser/json"
)

// SourceTable is one parsed upload. Name is the uploaded file name and is the
// key mappings are stored under.
type SourceTable struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// ColumnIndex returns the position of col, or -1.
func (t *SourceTable) ColumnIndex(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Preview returns at most the first n rows. The rows are shared, not copied.
func (t *SourceTable) Preview(n int) [][]any {
	if n < 0 {
		n = 0
	}
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}

// Set is an ordered collection of SourceTables keyed by name.
type Set struct {
	order  []string
	tables map[string]*SourceTable
}

func New() *Set {
	return &Set{tables: map[string]*SourceTable{}}
}

// Add inserts t. A table with the same name is replaced in its original
// position, so re-uploading a file keeps the merge order stable.
func (s *Set) Add(t *SourceTable) {
	if _, ok := s.tables[t.Name]; !ok {
		s.order = append(s.order, t.Name)
	}
	s.tables[t.Name] = t
}

// Get returns the table called name.
func (s *Set) Get(name string) (*SourceTable, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Tables returns the tables in insertion order.
func (s *Set) Tables() []*SourceTable {
	out := make([]*SourceTable, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.tables[n])
	}
	return out
}

// Names returns table names in insertion order.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

func (s *Set) Len() int { return len(s.order) }

// RowCount is the total number of rows across all tables.
func (s *Set) RowCount() int {
	n := 0
	for _, t := range s.tables {
		n += len(t.Rows)
	}
	return n
}

// Upload is one named byte stream as received from the user.
type Upload struct {
	Name string
	Body io.Reader
}

// LoadError reports an upload that could not be parsed. Other uploads in the
// same batch are unaffected.
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("%s: %v", e.Name, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Parse reads one upload into a SourceTable.
func Parse(ctx context.Context, u Upload, opt config.Options) (*SourceTable, error) {
	if Format(u.Name, opt.String("format", "auto")) == "json" {
		tbl, err := jsonparser.ReadTable(ctx, u.Body, opt)
		if err != nil {
			return nil, err
		}
		return &SourceTable{Name: u.Name, Columns: tbl.Columns, Rows: tbl.Rows}, nil
	}

	tbl, err := csvparser.ReadTable(ctx, u.Body, opt)
	if err != nil {
		return nil, err
	}
	return &SourceTable{Name: u.Name, Columns: tbl.Columns, Rows: tbl.Rows}, nil
}

// Format picks the parser for an upload: kind when it is "csv" or "json",
// otherwise by file extension (.json, .jsonl, .ndjson are JSON).
func Format(name, kind string) string {
	switch kind {
	case "csv", "json":
		return kind
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonl", ".ndjson":
		return "json"
	}
	return "csv"
}

// AddUploads parses every upload into s. Each upload that fails is reported
// and skipped; an earlier table with the same name stays in place.
func (s *Set) AddUploads(ctx context.Context, uploads []Upload, opt config.Options) []*LoadError {
	var errs []*LoadError
	for _, u := range uploads {
		t, err := Parse(ctx, u, opt)
		if err != nil {
			errs = append(errs, &LoadError{Name: u.Name, Err: err})
			continue
		}
		s.Add(t)
	}
	return errs
}
