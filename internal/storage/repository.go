package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config selects a registered backend and its connection string.
//
// Edge cases:
//   - Kind must match a registered backend kind ("sqlite", "postgres", "mssql").
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the backend-agnostic write surface used by the export sinks.
//
// Each backend implements dedupe in its own idiomatic way (Postgres ON
// CONFLICT, SQLite OR IGNORE, SQL Server NOT EXISTS).
type Repository interface {
	// Close releases connections. Call once.
	Close()

	// EnsureTables creates tables and constraints that do not exist yet.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// InsertRows inserts rows into table. When dedupeColumns is non-empty the
	// insert skips rows whose dedupe key already exists, so re-running the
	// same export is a no-op. Returns the number of rows actually written.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, dedupeColumns []string) (int64, error)

	// MaxParams is the bind parameter limit of a single statement.
	MaxParams() int
}

// Factory constructs a Repository for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It is meant to be called
// from a backend package's init function.
//
// Panics:
//   - If kind is empty or f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %s)", kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RowsPerStatement returns how many rows of width columns fit in one
// statement under maxParams bind parameters. It never returns less than 1.
func RowsPerStatement(maxParams, columns int) int {
	if columns <= 0 || maxParams <= 0 {
		return 1
	}
	n := maxParams / columns
	if n < 1 {
		return 1
	}
	return n
}
