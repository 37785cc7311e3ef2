package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"colmerge/internal/config"
)

// ErrNoRecords is returned when the document holds no objects, so no header
// can be derived.
var ErrNoRecords = errors.New("json: no records")

// Table is a parsed JSON upload. Cells are strings or nil (missing).
type Table struct {
	Columns []string
	Rows    [][]any
}

// object is a decoded JSON object that remembers key order.
type object struct {
	keys []string
	vals map[string]any
}

// ReadTable parses src into a Table.
//
// Accepted shapes:
//   - a root array of objects, one record per element
//   - a root object with an array-of-objects field (envelope); the first such
//     field supplies the records, other fields are ignored
//   - a single root object with no such field, one record
//   - any of the above followed by more objects (JSON Lines)
//
// Columns are the record keys in first-seen order; a record lacking a key
// gets nil in that column.
//
// Recognized options:
//   - header_map: renames keys before they become column names
//   - array_join_separator (default ","): joins arrays of strings into one cell
//   - trim_space (default true): trims string cells
func ReadTable(ctx context.Context, src io.Reader, opt config.Options) (*Table, error) {
	dec := json.NewDecoder(src)
	dec.UseNumber()

	hm := opt.StringMap("header_map")
	sep := opt.String("array_join_separator", ",")
	if sep == "" {
		sep = ","
	}
	trim := opt.Bool("trim_space", true)

	var records []*object
	emit := func(o *object) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		records = append(records, o)
		return nil
	}

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, ErrNoRecords
		}
		return nil, fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}
	switch d {
	case '[':
		v, err := readValue(dec, tok)
		if err != nil {
			return nil, err
		}
		if err := emitArray(v.([]any), emit); err != nil {
			return nil, err
		}
	case '{':
		v, err := readValue(dec, tok)
		if err != nil {
			return nil, err
		}
		if err := emitEnvelopeOrSingle(v.(*object), emit); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("json: unsupported root delimiter %q", d)
	}

	if err := readTrailingObjects(dec, emit); err != nil {
		return nil, err
	}
	return buildTable(records, hm, sep, trim)
}

// readTrailingObjects consumes JSON Lines style objects after the root value.
func readTrailingObjects(dec *json.Decoder, emit func(*object) error) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if tok != json.Delim('{') {
			return fmt.Errorf("json: trailing value is not an object (got %v)", tok)
		}
		v, err := readValue(dec, tok)
		if err != nil {
			return err
		}
		if err := emit(v.(*object)); err != nil {
			return err
		}
	}
}

func emitArray(arr []any, emit func(*object) error) error {
	for i, el := range arr {
		if el == nil {
			continue
		}
		o, ok := el.(*object)
		if !ok {
			return fmt.Errorf("json: array element %d not an object (got %T)", i, el)
		}
		if err := emit(o); err != nil {
			return err
		}
	}
	return nil
}

// emitEnvelopeOrSingle emits the first array-of-objects field of root, or
// root itself when there is none.
func emitEnvelopeOrSingle(root *object, emit func(*object) error) error {
	for _, k := range root.keys {
		arr, ok := root.vals[k].([]any)
		if ok && isObjectArray(arr) {
			return emitArray(arr, emit)
		}
	}
	return emit(root)
}

func isObjectArray(arr []any) bool {
	found := false
	for _, el := range arr {
		switch el.(type) {
		case nil:
		case *object:
			found = true
		default:
			return false
		}
	}
	return found
}

// readValue builds a Go value for the current JSON value, given its first
// token has already been read. Objects become *object so key order survives.
func readValue(dec *json.Decoder, tok json.Token) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch d {
	case '{':
		o := &object{vals: make(map[string]any)}
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read object key: %w", err)
			}
			k, ok := kt.(string)
			if !ok {
				return nil, fmt.Errorf("json: object key not a string (got %T)", kt)
			}
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read object value: %w", err)
			}
			v, err := readValue(dec, vt)
			if err != nil {
				return nil, err
			}
			if _, dup := o.vals[k]; !dup {
				o.keys = append(o.keys, k)
			}
			o.vals[k] = v
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("json: read object end: %w", err)
		}
		return o, nil

	case '[':
		arr := []any{}
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read array value: %w", err)
			}
			v, err := readValue(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("json: read array end: %w", err)
		}
		return arr, nil

	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

func buildTable(records []*object, hm map[string]string, sep string, trim bool) (*Table, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	rename := func(k string) string {
		if n, ok := hm[k]; ok && n != "" {
			return n
		}
		return k
	}

	pos := make(map[string]int)
	var cols []string
	for _, r := range records {
		for _, k := range r.keys {
			name := rename(k)
			if _, ok := pos[name]; !ok {
				pos[name] = len(cols)
				cols = append(cols, name)
			}
		}
	}
	if len(cols) == 0 {
		return nil, ErrNoRecords
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		row := make([]any, len(cols))
		for _, k := range r.keys {
			row[pos[rename(k)]] = cellValue(r.vals[k], sep, trim)
		}
		rows = append(rows, row)
	}
	return &Table{Columns: cols, Rows: rows}, nil
}

// cellValue flattens a JSON value into a cell: scalars become their text,
// arrays of strings are joined with sep, anything else is compact JSON.
// null and empty strings are missing (nil).
func cellValue(v any, sep string, trim bool) any {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case json.Number:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	case []any:
		if joined, ok := joinStrings(t, sep); ok {
			s = joined
		} else {
			s = compact(t)
		}
	case *object:
		s = compact(t)
	default:
		s = fmt.Sprint(t)
	}
	if trim {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return nil
	}
	return s
}

func joinStrings(arr []any, sep string) (string, bool) {
	ss := make([]string, 0, len(arr))
	for _, it := range arr {
		if it == nil {
			continue
		}
		s, ok := it.(string)
		if !ok {
			return "", false
		}
		ss = append(ss, s)
	}
	return strings.Join(ss, sep), true
}

func compact(v any) string {
	b, err := json.Marshal(plain(v))
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// plain converts *object trees back into maps for encoding.
func plain(v any) any {
	switch t := v.(type) {
	case *object:
		m := make(map[string]any, len(t.vals))
		for k, x := range t.vals {
			m[k] = plain(x)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = plain(x)
		}
		return out
	default:
		return v
	}
}
