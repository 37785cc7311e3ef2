package config

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses JSON field names, e.g.
// "export.storage.kind".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var knownStorageKinds = map[string]bool{"sqlite": true, "postgres": true, "mssql": true}

var knownEncodings = map[string]bool{
	"": true, "utf-8": true, "utf8": true, "utf-16": true,
	"windows-1250": true, "windows-1252": true, "iso-8859-1": true, "iso-8859-2": true, "latin1": true,
}

// ValidateApp returns every problem found in a. A config is usable when no
// issue has SeverityError.
func ValidateApp(a App) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, args ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch a.Parser.Kind {
	case "auto", "csv", "json":
	default:
		add(SeverityError, "parser.kind", "unsupported parser %q (want auto, csv or json)", a.Parser.Kind)
	}
	if s := a.Parser.Options.String("comma", ","); len([]rune(s)) != 1 && !strings.EqualFold(s, "tab") && s != `\t` {
		add(SeverityError, "parser.options.comma", "delimiter must be a single character, got %q", s)
	}
	if enc := strings.ToLower(a.Parser.Options.String("encoding", "")); !knownEncodings[enc] {
		add(SeverityError, "parser.options.encoding", "unsupported encoding %q", enc)
	}
	if strings.TrimSpace(a.SettingsPath) == "" {
		add(SeverityError, "settings_path", "must not be empty")
	}
	if a.PreviewRows > 1000 {
		add(SeverityWarning, "preview_rows", "%d rows is a large preview", a.PreviewRows)
	}

	if s := a.Export.Storage; s != nil {
		if !knownStorageKinds[s.Kind] {
			add(SeverityError, "export.storage.kind", "unsupported storage kind %q", s.Kind)
		}
		if strings.TrimSpace(s.DSN) == "" {
			add(SeverityError, "export.storage.dsn", "must not be empty")
		}
		if strings.TrimSpace(s.Table) == "" {
			add(SeverityError, "export.storage.table", "must not be empty")
		}
		if s.BatchSize > 5000 {
			add(SeverityWarning, "export.storage.batch_size", "batch size %d may exceed backend parameter limits", s.BatchSize)
		}
	}
	return out
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
