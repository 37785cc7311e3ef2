package storage

import (
	"fmt"
	"strings"
)

// NormalizeKey converts a cell value to a canonical string form suitable for
// in-memory dedupe keys (e.g. "Germany" or "8429529").
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// DedupeRows keeps the first row for every distinct dedupe key and drops the
// rest, preserving order. Statements that insert from a VALUES list do not
// collapse duplicates inside the batch, so backends call this before insert.
func DedupeRows(columns []string, rows [][]any, dedupeColumns []string) ([][]any, error) {
	if len(dedupeColumns) == 0 {
		return rows, nil
	}

	idx := make([]int, len(dedupeColumns))
	for i, dc := range dedupeColumns {
		pos := -1
		for j, c := range columns {
			if c == dc {
				pos = j
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("storage: dedupe column %q not present in columns", dc)
		}
		idx[i] = pos
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, len(idx))
		for i, p := range idx {
			if p < len(row) {
				parts[i] = NormalizeKey(row[p])
			}
		}
		key := strings.Join(parts, "\x1f")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}
