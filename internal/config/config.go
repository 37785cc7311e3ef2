package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Defaults applied by Normalize.
const (
	DefaultSettingsPath = "config.json"
	DefaultExportPath   = "merged.csv"
	DefaultPreviewRows  = 10
	DefaultBatchSize    = 500
)

// App is the run configuration for one colmerge invocation.
type App struct {
	Job          string `json:"job"`
	SettingsPath string `json:"settings_path"`
	Parser       Parser `json:"parser"`
	Export       Export `json:"export"`
	PreviewRows  int    `json:"preview_rows"`
}

type Parser struct {
	// Kind is "auto" (by file extension), "csv" or "json".
	Kind    string  `json:"kind"`
	Options Options `json:"options"`
}

type Export struct {
	// Path is the CSV destination. "-" writes to stdout.
	Path    string   `json:"path"`
	Storage *Storage `json:"storage,omitempty"`
}

// Storage describes an optional database destination for the merged table.
type Storage struct {
	// Kind is a registered backend: "sqlite" | "postgres" | "mssql".
	Kind      string `json:"kind"`
	DSN       string `json:"dsn"`
	Table     string `json:"table"`
	Dedupe    bool   `json:"dedupe"`
	BatchSize int    `json:"batch_size"`

	// HashFieldNames and HashTrimSpace shape the dedupe row hash: column
	// names become part of it, and cells are trimmed before hashing.
	HashFieldNames bool `json:"hash_field_names"`
	HashTrimSpace  bool `json:"hash_trim_space"`
}

// UploadOptions returns the parser options with the format selector set
// from Kind. The receiver's Options are not modified.
func (p Parser) UploadOptions() Options {
	out := make(Options, len(p.Options)+1)
	for k, v := range p.Options {
		out[k] = v
	}
	out["format"] = p.Kind
	return out
}

// Decode reads an App from JSON and applies defaults.
func Decode(r io.Reader) (App, error) {
	var a App
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return App{}, fmt.Errorf("decode config: %w", err)
	}
	a.Normalize()
	return a, nil
}

// LoadFile opens path and decodes it with Decode.
func LoadFile(path string) (App, error) {
	f, err := os.Open(path)
	if err != nil {
		return App{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Default returns the configuration used when no config file is given.
func Default() App {
	var a App
	a.Normalize()
	return a
}

// Normalize fills in defaults and expands environment variables in DSNs.
func (a *App) Normalize() {
	if a.Job == "" {
		a.Job = "colmerge"
	}
	if a.SettingsPath == "" {
		a.SettingsPath = DefaultSettingsPath
	}
	if a.Parser.Kind == "" {
		a.Parser.Kind = "auto"
	}
	a.Parser.Kind = strings.ToLower(strings.TrimSpace(a.Parser.Kind))
	if a.Export.Path == "" {
		a.Export.Path = DefaultExportPath
	}
	if a.PreviewRows <= 0 {
		a.PreviewRows = DefaultPreviewRows
	}
	if s := a.Export.Storage; s != nil {
		s.DSN = os.ExpandEnv(s.DSN)
		if s.BatchSize <= 0 {
			s.BatchSize = DefaultBatchSize
		}
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	}
}
