// Package config holds the run configuration consumed by cmd/colmerge:
// parser options for uploads, the settings document location, and export
// destinations. Validation reports issues rather than failing on the first one
// so the CLI can print everything wrong with a config in one pass.
package config

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Options is a free-form option bag decoded from JSON ("options": {...}).
//
// Accessors never fail: a missing key or a value of the wrong type yields the
// supplied default. JSON numbers decode as float64, so Int accepts those too.
type Options map[string]any

// Any returns the raw value for key, or nil.
func (o Options) Any(key string) any {
	if o == nil {
		return nil
	}
	return o[key]
}

func (o Options) Bool(key string, def bool) bool {
	switch v := o.Any(key).(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return def
}

func (o Options) Int(key string, def int) int {
	switch v := o.Any(key).(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// Rune returns the first rune of a string option. "\t" and "tab" both mean a
// tab so delimiters can be written readably in JSON.
func (o Options) Rune(key string, def rune) rune {
	s, ok := o.Any(key).(string)
	if !ok || s == "" {
		return def
	}
	if strings.EqualFold(s, "tab") || s == `\t` {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return def
	}
	return r
}

func (o Options) String(key string, def string) string {
	if s, ok := o.Any(key).(string); ok && s != "" {
		return s
	}
	return def
}

// StringMap returns a string→string view of an object option. Non-string
// values are skipped.
func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	switch m := o.Any(key).(type) {
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
