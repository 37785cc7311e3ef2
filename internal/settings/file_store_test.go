package settings

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colmerge/internal/mapping"
)

func sampleConfig() Config {
	return Config{
		TargetColumns: []string{"name", "id", "email"},
		Mappings: mapping.Document{
			"a.csv":    {"id": mapping.Src("uid"), "name": mapping.Src("full_name"), "email": nil},
			"b.csv":    {"id": mapping.Src("id")},
			"gone.csv": {},
		},
	}
}

func TestFileStore_LoadMissingIsEmpty(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			s := NewFileStore(filepath.Join(t.TempDir(), name))
			c, err := s.Load()
			require.NoError(t, err)
			assert.Equal(t, []string{}, c.TargetColumns)
			assert.Equal(t, mapping.Document{}, c.Mappings)
		})
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "settings.yaml", "settings.yml"} {
		t.Run(name, func(t *testing.T) {
			s := NewFileStore(filepath.Join(t.TempDir(), name))
			want := sampleConfig()

			require.NoError(t, s.Save(want))
			got, err := s.Load()
			require.NoError(t, err)

			assert.True(t, want.Equal(got), "got=%+v", got)
			v, ok := got.Mappings["a.csv"]["email"]
			assert.True(t, ok)
			assert.Nil(t, v)
		})
	}
}

func TestFileStore_SaveOfLoadIsByteStable(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			s := NewFileStore(path)
			require.NoError(t, s.Save(sampleConfig()))
			first, err := os.ReadFile(path)
			require.NoError(t, err)

			c, err := s.Load()
			require.NoError(t, err)
			require.NoError(t, s.Save(c))
			second, err := os.ReadFile(path)
			require.NoError(t, err)

			assert.Equal(t, string(first), string(second))
		})
	}
}

func TestFileStore_JSONWireFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"target_columns":["id","name"],"mappings":{"A":{"id":"uid","name":null}}}`), 0o644))

	c, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, c.TargetColumns)
	assert.Equal(t, "uid", *c.Mappings["A"]["id"])
	assert.Contains(t, c.Mappings["A"], "name")
	assert.Nil(t, c.Mappings["A"]["name"])
}

func TestFileStore_MissingFieldsLoadEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mappings":{"A":null}}`), 0o644))

	c, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{}, c.TargetColumns)
	assert.Equal(t, mapping.ColumnMapping{}, c.Mappings["A"])
}

func TestFileStore_CorruptIsDistinctFromAbsent(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "truncated_json", file: "config.json", body: `{"target_columns": ["id"`},
		{name: "wrong_type", file: "config.json", body: `{"target_columns": "id"}`},
		{name: "empty_file", file: "config.json", body: "   \n"},
		{name: "bad_yaml", file: "config.yaml", body: "target_columns: [id\nmappings: {"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tc.file)
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o644))

			_, err := NewFileStore(path).Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.NotErrorIs(t, err, ErrUnreadable)
		})
	}
}

func TestFileStore_UnreadableDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := NewFileStore(dir).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestFileStore_SaveFailureKeepsPreviousContent(t *testing.T) {
	if runtime.GOOS == "windows" || os.Getuid() == 0 {
		t.Skip("permission bits are not enforced")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s := NewFileStore(path)
	require.NoError(t, s.Save(sampleConfig()))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	err = s.Save(Empty())
	require.Error(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "config.json"))
	require.NoError(t, s.Save(sampleConfig()))
	require.NoError(t, s.Save(Empty()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config.json", entries[0].Name())
}

func TestMemoryStore(t *testing.T) {
	var m MemoryStore
	c, err := m.Load()
	require.NoError(t, err)
	assert.True(t, Empty().Equal(c))

	in := sampleConfig()
	require.NoError(t, m.Save(in))
	*in.Mappings["a.csv"]["id"] = "mutated"

	got, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "uid", *got.Mappings["a.csv"]["id"])
	assert.Equal(t, 1, m.Saves)
}
