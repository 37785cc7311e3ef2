// Package settings persists the target schema and the mapping document as one
// settings document ("config.json" by default).
//
// A missing document is the normal first-run state and loads as an empty
// Config. A document that exists but cannot be read or decoded is reported as
// an error and never repaired silently.
package settings

import (
	"errors"

	"colmerge/internal/mapping"
)

var (
	// ErrCorrupt is wrapped when the document exists but is not a valid
	// settings document.
	ErrCorrupt = errors.New("settings document is corrupt")
	// ErrUnreadable is wrapped when the document exists but cannot be read.
	ErrUnreadable = errors.New("settings document is unreadable")
)

// Config is the persisted aggregate.
type Config struct {
	TargetColumns []string         `json:"target_columns" yaml:"target_columns"`
	Mappings      mapping.Document `json:"mappings" yaml:"mappings"`
}

// Empty returns the first-run Config.
func Empty() Config {
	return Config{TargetColumns: []string{}, Mappings: mapping.Document{}}
}

// normalize replaces nil collections with empty ones so an absent field and
// an empty one load identically.
func (c *Config) normalize() {
	if c.TargetColumns == nil {
		c.TargetColumns = []string{}
	}
	if c.Mappings == nil {
		c.Mappings = mapping.Document{}
	}
	for k, m := range c.Mappings {
		if m == nil {
			c.Mappings[k] = mapping.ColumnMapping{}
		}
	}
}

// Equal compares schema order and mapping structure, including unset entries.
func (c Config) Equal(o Config) bool {
	if len(c.TargetColumns) != len(o.TargetColumns) {
		return false
	}
	for i := range c.TargetColumns {
		if c.TargetColumns[i] != o.TargetColumns[i] {
			return false
		}
	}
	return c.Mappings.Equal(o.Mappings)
}

// Store loads and saves one settings document.
type Store interface {
	Load() (Config, error)
	Save(Config) error
}

// MemoryStore keeps the document in memory. It backs tests and sessions that
// must not touch the file system.
type MemoryStore struct {
	cfg   *Config
	Saves int
}

func (m *MemoryStore) Load() (Config, error) {
	if m.cfg == nil {
		return Empty(), nil
	}
	c := Config{
		TargetColumns: append([]string{}, m.cfg.TargetColumns...),
		Mappings:      m.cfg.Mappings.Clone(),
	}
	c.normalize()
	return c, nil
}

func (m *MemoryStore) Save(c Config) error {
	cp := Config{
		TargetColumns: append([]string{}, c.TargetColumns...),
		Mappings:      c.Mappings.Clone(),
	}
	m.cfg = &cp
	m.Saves++
	return nil
}
