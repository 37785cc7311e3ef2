package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileStore keeps the document in a file. The format follows the extension:
// ".yaml"/".yml" use YAML, anything else JSON.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) isYAML() bool {
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads the document. A missing file yields Empty() and no error.
func (s *FileStore) Load() (Config, error) {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Empty(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrUnreadable, s.Path, err)
	}
	c, err := s.decode(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrCorrupt, s.Path, err)
	}
	return c, nil
}

func (s *FileStore) decode(raw []byte) (Config, error) {
	var c Config
	if len(bytes.TrimSpace(raw)) == 0 {
		return c, errors.New("empty document")
	}
	var err error
	if s.isYAML() {
		err = yaml.Unmarshal(raw, &c)
	} else {
		err = json.Unmarshal(raw, &c)
	}
	if err != nil {
		return Config{}, err
	}
	c.normalize()
	return c, nil
}

func (s *FileStore) encode(c Config) ([]byte, error) {
	c = Config{TargetColumns: c.TargetColumns, Mappings: c.Mappings.Clone()}
	c.normalize()
	if s.isYAML() {
		return yaml.Marshal(c)
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Save replaces the document atomically: the new content is written to a
// temporary file in the same directory, synced, then renamed over Path.
func (s *FileStore) Save(c Config) error {
	raw, err := s.encode(c)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return writeFileAtomic(s.Path, raw, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("save settings: write: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("save settings: sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("save settings: close: %w", err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("save settings: chmod: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("save settings: rename: %w", err)
	}
	return nil
}
