package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Backend persists raw config values by dotted key ("server.port").
// Values are validated against the key table before they are stored.
type Backend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key, val string) error
	Unset(key string) error
}

// Dir returns the directory holding config.yaml and secrets.yaml:
// $SHOPBOT_CONFIG_DIR, else the user config dir.
func Dir() string {
	if dir := os.Getenv("SHOPBOT_CONFIG_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "shopbot")
	}
	return ".shopbot"
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "shopbot-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "shopbot")
}

// fileBackend keeps values in a YAML file grouped by section:
//
//	server:
//	  port: 4200
//	search:
//	  shuffle: false
type fileBackend struct {
	path     string
	sections map[string]map[string]string
}

func openFileBackend(path string) (*fileBackend, error) {
	b := &fileBackend{path: path, sections: make(map[string]map[string]string)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for section, kv := range raw {
		for name, v := range kv {
			b.put(section+"."+name, fmt.Sprint(v))
		}
	}
	return b, nil
}

func splitKey(key string) (section, name string) {
	section, name, ok := strings.Cut(key, ".")
	if !ok {
		return "", key
	}
	return section, name
}

func (b *fileBackend) put(key, val string) {
	section, name := splitKey(key)
	if b.sections[section] == nil {
		b.sections[section] = make(map[string]string)
	}
	b.sections[section][name] = val
}

func (b *fileBackend) Get(key string) (string, bool, error) {
	section, name := splitKey(key)
	v, ok := b.sections[section][name]
	return v, ok, nil
}

func (b *fileBackend) Set(key, val string) error {
	b.put(key, val)
	return b.save()
}

func (b *fileBackend) Unset(key string) error {
	section, name := splitKey(key)
	delete(b.sections[section], name)
	if len(b.sections[section]) == 0 {
		delete(b.sections, section)
	}
	return b.save()
}

func (b *fileBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(b.sections)
	if err != nil {
		return err
	}
	return os.WriteFile(b.path, data, 0o600)
}
