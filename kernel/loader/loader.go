// Package loader hands program images to the kernel at boot.
package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var ErrNoSuchApp = errors.New("no such application")

type Loader interface {
	NumApps() int
	AppData(i int) ([]byte, error)
}

// Namer is implemented by loaders that know their applications' names.
type Namer interface {
	Name(i int) string
}

// AppName returns ld's name for app i, or "app<i>" when it has none.
func AppName(ld Loader, i int) string {
	if n, ok := ld.(Namer); ok {
		return n.Name(i)
	}
	return fmt.Sprintf("app%d", i)
}

// Static serves images held in memory.
type Static [][]byte

func (s Static) NumApps() int { return len(s) }

func (s Static) AppData(i int) ([]byte, error) {
	if i < 0 || i >= len(s) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchApp, i)
	}
	return s[i], nil
}

type App struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Manifest lists applications in a YAML file:
//
//	apps:
//	  - name: hello
//	    path: apps/hello.txt
//
// Relative paths are resolved against the manifest's directory.
type Manifest struct {
	Apps []App `yaml:"apps"`
	dir  string
}

func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m := &Manifest{dir: filepath.Dir(path)}
	if err := yaml.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	for i, app := range m.Apps {
		if app.Path == "" {
			return nil, fmt.Errorf("manifest %s: app %d (%q) has no path", path, i, app.Name)
		}
	}
	return m, nil
}

func (m *Manifest) NumApps() int { return len(m.Apps) }

func (m *Manifest) AppData(i int) ([]byte, error) {
	if i < 0 || i >= len(m.Apps) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchApp, i)
	}
	path := m.Apps[i].Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading app %q: %w", m.Apps[i].Name, err)
	}
	return data, nil
}

// Name returns the app's name, or its index if it has none.
func (m *Manifest) Name(i int) string {
	if i >= 0 && i < len(m.Apps) && m.Apps[i].Name != "" {
		return m.Apps[i].Name
	}
	return fmt.Sprintf("app%d", i)
}
