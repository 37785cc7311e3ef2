// TableSpec lives here so both the export sinks and the backend packages can
// import it without circular deps.
package storage

type TableSpec struct {
	Name            string           `json:"name"`
	AutoCreateTable bool             `json:"auto_create_table"`
	Columns         []ColumnSpec     `json:"columns"`
	Constraints     []ConstraintSpec `json:"constraints,omitempty"`
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // TEXT, NVARCHAR(MAX), ...
	Nullable *bool  `json:"nullable,omitempty"`
}

// IsNullable reports the column's nullability; unset means nullable.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}
