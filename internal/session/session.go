// Package session ties the schema, mapping and table stores of one user
// together. A Session is passed explicitly to every caller; nothing here is
// process-wide.
package session

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"colmerge/internal/config"
	"colmerge/internal/export"
	"colmerge/internal/mapping"
	"colmerge/internal/merge"
	"colmerge/internal/metrics"
	"colmerge/internal/schema"
	"colmerge/internal/settings"
	"colmerge/internal/tableset"
)

// Options configures a new Session.
type Options struct {
	// Store persists schema and mappings. Nil means an in-memory store.
	Store settings.Store
	// Parser holds the upload parser options (see tableset.Parse).
	Parser config.Options
	// PreviewRows is the default preview size. Zero means 10.
	PreviewRows int
}

// Session is safe for concurrent use; every operation holds the session lock
// for its whole duration, so actions run one at a time to completion.
type Session struct {
	mu          sync.Mutex
	store       settings.Store
	parser      config.Options
	previewRows int

	schema   *schema.Store
	mappings *mapping.Store
	tables   *tableset.Set
}

// New creates a session seeded from the persisted settings. A corrupt or
// unreadable settings document is returned as an error; an absent one yields
// an empty session.
func New(opts Options) (*Session, error) {
	store := opts.Store
	if store == nil {
		store = &settings.MemoryStore{}
	}
	preview := opts.PreviewRows
	if preview <= 0 {
		preview = config.DefaultPreviewRows
	}

	start := time.Now()
	cfg, err := store.Load()
	metrics.RecordStep("load", start, err)
	if err != nil {
		return nil, fmt.Errorf("session: load settings: %w", err)
	}

	return &Session{
		store:       store,
		parser:      opts.Parser,
		previewRows: preview,
		schema:      schema.NewStore(cfg.TargetColumns),
		mappings:    mapping.NewStore(cfg.Mappings),
		tables:      tableset.New(),
	}, nil
}

// SetSchemaText replaces the schema from editor text, one column per line.
func (s *Session) SetSchemaText(text string) schema.TargetSchema {
	return s.SetSchemaLines(schema.ParseText(text))
}

// SetSchemaLines replaces the schema. Lines are trimmed and blanks dropped.
func (s *Session) SetSchemaLines(lines []string) schema.TargetSchema {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schema.SetSchema(lines)
	cols := s.schema.Schema()
	if dups := cols.Duplicates(); len(dups) > 0 {
		log.Printf("session: schema columns=%d duplicates=%v", len(cols), dups)
	}
	return cols
}

func (s *Session) Schema() schema.TargetSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema.Schema()
}

// Upload parses uploads into the table set. Each failing upload is reported
// and skipped; the others are loaded.
func (s *Session) Upload(ctx context.Context, uploads []tableset.Upload) []*tableset.LoadError {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	before := s.tables.RowCount()
	errs := s.tables.AddUploads(ctx, uploads, s.parser)

	var stepErr error
	if len(errs) > 0 {
		stepErr = errs[0]
	}
	metrics.RecordStep("upload", start, stepErr)
	metrics.CountUploads(len(uploads)-len(errs), len(errs))
	metrics.AddRows("input", s.tables.RowCount()-before)

	for _, e := range errs {
		log.Printf("session: upload failed name=%s err=%v", e.Name, e.Err)
	}
	log.Printf("session: uploads=%d failed=%d tables=%d", len(uploads), len(errs), s.tables.Len())
	return errs
}

// Tables returns the loaded tables in upload order.
func (s *Session) Tables() []*tableset.SourceTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables.Tables()
}

// Preview returns the columns and first n rows of table. n <= 0 uses the
// session default.
func (s *Session) Preview(table string, n int) ([]string, [][]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables.Get(table)
	if !ok {
		return nil, nil, false
	}
	if n <= 0 {
		n = s.previewRows
	}
	return t.Columns, t.Preview(n), true
}

// GetMapping returns a copy of table's mapping, creating an empty one first
// when the table has none.
func (s *Session) GetMapping(table string) mapping.ColumnMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappings.GetOrInit(table).Clone()
}

// Selected returns the source column currently shown for target in table.
// ok is false when the entry is unset, or when the remembered column is not
// in the loaded table.
func (s *Session) Selected(table, target string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cols []string
	if t, ok := s.tables.Get(table); ok {
		cols = t.Columns
	}
	return s.mappings.Selected(table, target, cols)
}

// SetMapping sets target → source for table; a nil source unsets it. The
// pair is not checked against loaded tables.
func (s *Session) SetMapping(table, target string, source *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings.SetEntry(table, target, source)
}

// ResetMappings drops every mapping, including those of tables not loaded.
func (s *Session) ResetMappings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings.ResetAll()
	log.Printf("session: mappings reset")
}

// Merge combines the loaded tables into the target schema.
func (s *Session) Merge() (*merge.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked()
}

func (s *Session) mergeLocked() (*merge.Output, error) {
	start := time.Now()
	out, err := merge.Merge(s.schema.Schema(), s.mappings.Document(), s.tables)
	metrics.RecordStep("merge", start, err)
	if err != nil {
		return nil, err
	}

	metrics.AddRows("output", len(out.Rows))
	for _, c := range out.Contributions {
		if len(c.Stale) > 0 {
			log.Printf("merge: table=%s stale=%v", c.Table, c.Stale)
		}
	}
	log.Printf("merge: tables=%d rows=%d columns=%d", len(out.Contributions), len(out.Rows), len(out.Columns))
	return out, nil
}

// Export merges and writes the result to w as CSV.
func (s *Session) Export(w io.Writer) (*merge.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.mergeLocked()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	err = export.WriteCSV(w, out)
	metrics.RecordStep("export", start, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExportTo merges once and writes the result to every sink in order. It
// stops at the first failing sink.
func (s *Session) ExportTo(ctx context.Context, sinks ...export.Sink) (*merge.Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, err := s.mergeLocked()
	if err != nil {
		return nil, err
	}
	for _, sink := range sinks {
		start := time.Now()
		_, err := sink.Write(ctx, out)
		metrics.RecordStep("export", start, err)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Config returns a snapshot of the persistable state.
func (s *Session) Config() settings.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configLocked()
}

func (s *Session) configLocked() settings.Config {
	return settings.Config{
		TargetColumns: []string(s.schema.Schema()),
		Mappings:      s.mappings.Document(),
	}
}

// Save persists the schema and mappings. In-memory state is unchanged.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	cfg := s.configLocked()
	err := s.store.Save(cfg)
	metrics.RecordStep("save", start, err)
	if err != nil {
		return fmt.Errorf("session: save settings: %w", err)
	}
	log.Printf("session: saved columns=%d tables=%d", len(cfg.TargetColumns), len(cfg.Mappings))
	return nil
}

// Reload replaces schema and mappings with the persisted document. On error
// the session is left as it was. Loaded tables are kept.
func (s *Session) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	cfg, err := s.store.Load()
	metrics.RecordStep("load", start, err)
	if err != nil {
		return fmt.Errorf("session: load settings: %w", err)
	}
	s.schema.Replace(cfg.TargetColumns)
	s.mappings.Replace(cfg.Mappings)
	return nil
}
