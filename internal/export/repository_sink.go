package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"colmerge/internal/merge"
	"colmerge/internal/metrics"
	"colmerge/internal/storage"
	"colmerge/internal/transformer"
)

// HashColumn holds the row hash when dedupe is enabled.
const HashColumn = "row_hash"

// DefaultBatchSize is the number of rows sent per InsertRows call.
const DefaultBatchSize = 500

// ErrDuplicateColumns is returned when the schema repeats a name; a SQL
// table cannot carry two columns with one name.
var ErrDuplicateColumns = errors.New("export: duplicate column names")

// RepositorySink writes merged rows into Table through a storage backend.
// All schema columns are nullable TEXT. With Dedupe, every row also carries
// a SHA-256 row hash under a UNIQUE constraint, and re-exporting the same
// merge inserts nothing new.
type RepositorySink struct {
	Repo      storage.Repository
	Table     string
	Dedupe    bool
	BatchSize int
	Hash      transformer.RowHash
}

// TableSpec returns the destination table definition for columns.
func (s *RepositorySink) TableSpec(columns []string) storage.TableSpec {
	spec := storage.TableSpec{Name: s.Table, AutoCreateTable: true}
	for _, c := range columns {
		spec.Columns = append(spec.Columns, storage.ColumnSpec{Name: c, Type: "TEXT"})
	}
	if s.Dedupe {
		notNull := false
		spec.Columns = append(spec.Columns, storage.ColumnSpec{Name: HashColumn, Type: "TEXT", Nullable: &notNull})
		spec.Constraints = []storage.ConstraintSpec{{Kind: "unique", Columns: []string{HashColumn}}}
	}
	return spec
}

func (s *RepositorySink) Write(ctx context.Context, out *merge.Output) (int64, error) {
	if s.Repo == nil {
		return 0, fmt.Errorf("export: repository sink has no repository")
	}
	if strings.TrimSpace(s.Table) == "" {
		return 0, fmt.Errorf("export: repository sink has no table")
	}

	columns := []string(out.Columns)
	if dups := out.Columns.Duplicates(); len(dups) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateColumns, strings.Join(dups, ", "))
	}
	if s.Dedupe && slices.Contains(columns, HashColumn) {
		return 0, fmt.Errorf("%w: %s is reserved for dedupe", ErrDuplicateColumns, HashColumn)
	}

	spec := s.TableSpec(columns)
	if err := s.Repo.EnsureTables(ctx, []storage.TableSpec{spec}); err != nil {
		return 0, fmt.Errorf("export: ensure table %s: %w", s.Table, err)
	}

	rows := out.Rows
	insertCols := columns
	var dedupe []string
	if s.Dedupe {
		rows = s.Hash.Apply(columns, rows)
		insertCols = append(slices.Clone(columns), HashColumn)
		dedupe = []string{HashColumn}
	}

	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	batch = min(batch, storage.RowsPerStatement(s.Repo.MaxParams(), len(insertCols)))

	var total int64
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		n, err := s.Repo.InsertRows(ctx, s.Table, insertCols, rows[start:end], dedupe)
		if err != nil {
			return total, fmt.Errorf("export: insert rows %d-%d into %s: %w", start+1, end, s.Table, err)
		}
		total += n
	}

	metrics.AddRows("exported", int(total))
	log.Printf("export: table=%s rows=%d inserted=%d dedupe=%t", s.Table, len(rows), total, s.Dedupe)
	return total, nil
}
