package web

import (
	"fmt"

	"colmerge/internal/schema"
	"colmerge/internal/session"
)

// page is the template model. It is rebuilt from the session on every render.
type page struct {
	SchemaText string
	Duplicates []string
	Targets    []string
	Tables     []tableView
	Errors     []string
	Notice     string
}

type tableView struct {
	Name     string
	Columns  []string
	RowCount int
	Preview  [][]string
	Selects  []selectView
}

// selectView is one target's select. Source is meaningful only when Mapped.
type selectView struct {
	Target string
	Source string
	Mapped bool
}

func buildPage(sess *session.Session, notice string, errs []string) page {
	cols := sess.Schema()
	p := page{
		SchemaText: cols.Text(),
		Duplicates: cols.Duplicates(),
		Targets:    uniqueTargets(cols),
		Errors:     errs,
		Notice:     notice,
	}

	for _, t := range sess.Tables() {
		columns, rows, _ := sess.Preview(t.Name, 0)
		tv := tableView{Name: t.Name, Columns: columns, RowCount: len(t.Rows)}
		for _, row := range rows {
			cells := make([]string, len(row))
			for i, v := range row {
				if v != nil {
					cells[i] = fmt.Sprint(v)
				}
			}
			tv.Preview = append(tv.Preview, cells)
		}
		for _, target := range p.Targets {
			src, ok := sess.Selected(t.Name, target)
			tv.Selects = append(tv.Selects, selectView{Target: target, Source: src, Mapped: ok})
		}
		p.Tables = append(p.Tables, tv)
	}
	return p
}

// uniqueTargets lists schema names once each, in first-seen order. Duplicate
// names share one mapping entry, so they get one select.
func uniqueTargets(cols schema.TargetSchema) []string {
	seen := make(map[string]bool, len(cols))
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
