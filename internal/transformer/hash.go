// Package transformer holds row-level transforms applied to merged output
// before it is written to a database.
package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// RowHash computes a deterministic SHA-256 over positional rows. It gives
// merged rows a stable, never-NULL dedupe key, so re-exporting the same merge
// into a table with a UNIQUE row_hash column is idempotent even when some
// cells are NULL (SQL treats NULLs as distinct in UNIQUE constraints).
//
// Canonical form, one token per cell in column order:
//   - nil is "n"
//   - text is "s<len>:<bytes>"; other values are "v<len>:<fmt.Sprint>"
//   - with IncludeFieldNames each token is preceded by "k<len>:<column>"
//
// Every token carries its own length, so no cell content can move a cell
// boundary or pass for a missing value.
type RowHash struct {
	IncludeFieldNames bool
	// TrimSpace trims string cells before hashing.
	TrimSpace bool
}

// Sum hashes row, whose cells line up with columns.
func (h RowHash) Sum(columns []string, row []any) string {
	var b strings.Builder
	b.Grow(len(row) * 24)

	for i, v := range row {
		if h.IncludeFieldNames && i < len(columns) {
			writeToken(&b, 'k', columns[i])
		}
		appendCanonicalValue(&b, v, h.TrimSpace)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Apply returns rows extended with their hash as the last cell. Input rows
// are not modified.
func (h RowHash) Apply(columns []string, rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		ext := make([]any, len(r)+1)
		copy(ext, r)
		ext[len(r)] = h.Sum(columns, r)
		out[i] = ext
	}
	return out
}

func appendCanonicalValue(b *strings.Builder, v any, trimSpace bool) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('n')
	case string:
		if trimSpace {
			t = strings.TrimSpace(t)
		}
		writeToken(b, 's', t)
	case []byte:
		s := string(t)
		if trimSpace {
			s = strings.TrimSpace(s)
		}
		writeToken(b, 's', s)
	default:
		writeToken(b, 'v', fmt.Sprint(t))
	}
}

func writeToken(b *strings.Builder, tag byte, s string) {
	b.WriteByte(tag)
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}
