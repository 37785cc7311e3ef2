// Package export writes a merged table out: as CSV for download or to a file,
// and into a database table through a storage backend.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"colmerge/internal/merge"
	"colmerge/internal/metrics"
)

const (
	// FileName is the default name of the exported file.
	FileName    = "merged.csv"
	ContentType = "text/csv"
)

// Sink receives a merged table. Write returns how many rows were stored.
type Sink interface {
	Write(ctx context.Context, out *merge.Output) (int64, error)
}

// WriteCSV writes out as CSV: a header row with the schema names in order,
// then one record per merged row. Missing values are empty fields. Lines end
// with "\n".
func WriteCSV(w io.Writer, out *merge.Output) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(out.Columns); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}

	rec := make([]string, len(out.Columns))
	for i, row := range out.Rows {
		for j := range rec {
			rec[j] = cellText(row, j)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("export: write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}

func cellText(row []any, j int) string {
	if j >= len(row) || row[j] == nil {
		return ""
	}
	switch v := row[j].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// FileSink writes CSV to Path. "-" means Stdout.
type FileSink struct {
	Path   string
	Stdout io.Writer
}

// Write replaces the file at Path. The file is written to a temporary name
// in the same directory and renamed, so a failed export never leaves a
// truncated file behind.
func (s *FileSink) Write(ctx context.Context, out *merge.Output) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.Path == "-" {
		w := s.Stdout
		if w == nil {
			w = os.Stdout
		}
		if err := WriteCSV(w, out); err != nil {
			return 0, err
		}
		return int64(len(out.Rows)), nil
	}

	path := s.Path
	if path == "" {
		path = FileName
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("export: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, out); err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("export: close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return 0, fmt.Errorf("export: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("export: rename to %s: %w", path, err)
	}

	n := int64(len(out.Rows))
	metrics.AddRows("exported", int(n))
	log.Printf("export: file=%s rows=%d columns=%d", path, n, len(out.Columns))
	return n, nil
}
