// Package csv reads delimited text uploads into fully materialized tables.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"colmerge/internal/config"
)

var (
	// ErrNoHeader is returned when an upload has no header row at all.
	ErrNoHeader = errors.New("no header row")
	// ErrInvalidUTF8 is wrapped when decoded text is not UTF-8, usually a
	// single-byte file read without its encoding option.
	ErrInvalidUTF8 = errors.New("invalid UTF-8")
)

// Table is the parsed form of one upload. A cell is a string, or nil when the
// field was empty.
type Table struct {
	Columns []string
	Rows    [][]any
}

// ReadTable parses src into a Table.
//
// Recognized options:
//   - comma (default ','), lazy_quotes (default false)
//   - trim_space (default true): trims cells and header names
//   - encoding (default utf-8): see decodeReader. Text that is still not
//     valid UTF-8 after decoding fails the table with ErrInvalidUTF8.
//   - header_map: renames header names before uniquing
//
// Header names are made unique ("a", "a.1", "a.2") so every source column can
// be addressed by name. Short rows are padded with nil; a row with more
// fields than the header fails the whole table.
func ReadTable(ctx context.Context, src io.Reader, opt config.Options) (*Table, error) {
	comma := opt.Rune("comma", ',')
	trim := opt.Bool("trim_space", true)
	lazy := opt.Bool("lazy_quotes", false)
	hm := opt.StringMap("header_map")

	r, err := decodeReader(src, opt.String("encoding", "utf-8"))
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = lazy
	cr.FieldsPerRecord = -1

	var line int
	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	hdr, err := readRec()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make([]string, len(hdr))
	for i, h := range hdr {
		if !utf8.ValidString(h) {
			return nil, fmt.Errorf("header column %d: %w (set the encoding option)", i+1, ErrInvalidUTF8)
		}
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		if trim && HasEdgeSpace(h) {
			h = strings.TrimSpace(h)
		}
		if mapped, ok := hm[h]; ok {
			h = mapped
		}
		cols[i] = h
	}
	cols = uniqueNames(cols)

	t := &Table{Columns: cols}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := readRec()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(cols) > 1 && isBlankRecord(rec) {
			continue
		}
		if len(rec) > len(cols) {
			return nil, fmt.Errorf("line %d: expected %d fields, saw %d", line, len(cols), len(rec))
		}

		row := make([]any, len(cols))
		for i, v := range rec {
			if !utf8.ValidString(v) {
				return nil, fmt.Errorf("line %d, column %d: %w (set the encoding option)", line, i+1, ErrInvalidUTF8)
			}
			if trim && HasEdgeSpace(v) {
				v = strings.TrimSpace(v)
			}
			if v != "" {
				row[i] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
}

// uniqueNames suffixes repeated names with ".1", ".2", ... skipping suffixes
// that collide with a name already present.
func uniqueNames(in []string) []string {
	taken := make(map[string]bool, len(in))
	for _, n := range in {
		taken[n] = true
	}
	seen := make(map[string]int, len(in))
	out := make([]string, len(in))
	for i, n := range in {
		k := seen[n]
		seen[n] = k + 1
		if k == 0 {
			out[i] = n
			continue
		}
		cand := n + "." + strconv.Itoa(k)
		for taken[cand] {
			k++
			seen[n] = k + 1
			cand = n + "." + strconv.Itoa(k)
		}
		taken[cand] = true
		out[i] = cand
	}
	return out
}

// isBlankRecord reports a line the csv reader returned as a single empty
// field, which happens for whitespace-only lines.
func isBlankRecord(rec []string) bool {
	return len(rec) == 1 && strings.TrimSpace(rec[0]) == ""
}

// HasEdgeSpace reports whether s starts or ends with ASCII whitespace. It lets
// hot paths skip strings.TrimSpace for the common already-clean case.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}
