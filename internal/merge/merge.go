// Package merge combines the loaded source tables into one table whose columns
// are exactly the target schema.
//
// Merge is a pure function of its inputs: each table contributes a block of
// len(schema) columns, filled from the table's mapped source columns or with
// the missing marker (nil), and the blocks are stacked in table order.
package merge

import (
	"errors"

	"colmerge/internal/mapping"
	"colmerge/internal/schema"
	"colmerge/internal/tableset"
)

// ErrPrecondition is wrapped by every input error Merge can return.
var ErrPrecondition = errors.New("merge precondition failed")

var (
	ErrEmptySchema = preconditionError("target schema is empty")
	ErrNoTables    = preconditionError("no source tables loaded")
)

type preconditionError string

func (e preconditionError) Error() string        { return string(e) }
func (e preconditionError) Is(target error) bool { return target == ErrPrecondition }

// Output is the merged table. Rows hold strings or nil for missing values.
type Output struct {
	Columns       schema.TargetSchema
	Rows          [][]any
	Contributions []Contribution
}

// Contribution describes one table's block in the output.
type Contribution struct {
	Table string
	Rows  int
	// Mapped lists the target columns filled from the table, in schema order.
	Mapped []string
	// Stale lists targets whose mapping names a column the table lacks.
	Stale []string
}

// Merge builds the output table. tables is read, never modified; output rows
// reference the source cell values directly.
//
// Every occurrence of a duplicated target name resolves through the same
// mapping entry, so duplicate output columns carry identical data.
func Merge(cols schema.TargetSchema, doc mapping.Document, tables *tableset.Set) (*Output, error) {
	if len(cols) == 0 {
		return nil, ErrEmptySchema
	}
	if tables == nil || tables.Len() == 0 {
		return nil, ErrNoTables
	}

	out := &Output{
		Columns: append(schema.TargetSchema{}, cols...),
		Rows:    make([][]any, 0, tables.RowCount()),
	}

	for _, t := range tables.Tables() {
		colIx, c := resolve(cols, doc[t.Name], t)
		for _, src := range t.Rows {
			row := make([]any, len(cols))
			for i, si := range colIx {
				if si >= 0 && si < len(src) {
					row[i] = src[si]
				}
			}
			out.Rows = append(out.Rows, row)
		}
		out.Contributions = append(out.Contributions, c)
	}
	return out, nil
}

// resolve maps every target position to a source column index, -1 when the
// target has no data in t.
func resolve(cols schema.TargetSchema, m mapping.ColumnMapping, t *tableset.SourceTable) ([]int, Contribution) {
	c := Contribution{Table: t.Name, Rows: len(t.Rows)}
	colIx := make([]int, len(cols))
	for i, target := range cols {
		colIx[i] = -1
		src, ok := m.Resolve(target, t.Columns)
		if !ok {
			if s := m[target]; s != nil {
				c.Stale = append(c.Stale, target)
			}
			continue
		}
		colIx[i] = t.ColumnIndex(src)
		c.Mapped = append(c.Mapped, target)
	}
	return colIx, c
}
