package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/loykin/procmgr/internal/module"
)

// Backend is the durable storage behind a Registry. Load returns the full
// collection; Save replaces it wholesale.
type Backend interface {
	Load() (map[string]module.Spec, error)
	Save(map[string]module.Spec) error
	Close() error
}

// YAMLFile stores the collection as a single YAML mapping keyed by module name.
type YAMLFile struct {
	path string
}

func NewYAMLFile(path string) (*YAMLFile, error) {
	if path == "" {
		return nil, errors.New("empty registry path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	// probe that the location is readable or creatable before the first flush
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return &YAMLFile{path: path}, nil
}

func (y *YAMLFile) Path() string { return y.path }

func (y *YAMLFile) Load() (map[string]module.Spec, error) {
	b, err := os.ReadFile(y.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]module.Spec{}, nil
		}
		return nil, err
	}
	out := map[string]module.Spec{}
	if len(b) == 0 {
		return out, nil
	}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", y.path, err)
	}
	if out == nil {
		out = map[string]module.Spec{}
	}
	return out, nil
}

func (y *YAMLFile) Save(data map[string]module.Spec) error {
	b, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	return renameio.WriteFile(y.path, b, 0o600)
}

func (y *YAMLFile) Close() error { return nil }
