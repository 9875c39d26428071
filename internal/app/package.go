// Package app reads a single local app directory (manifest, source,
// templates, translations) and compiles it into the JavaScript the Zendesk
// app framework expects to find in the browser.
package app

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
)

// Package is one app directory on disk. Only the manifest is read at load
// time; source, templates and translations are read on every compile so that
// edits show up on the next request without restarting the server.
type Package struct {
	fs   afero.Fs
	root string

	mu       sync.RWMutex
	manifest *Manifest
}

// Load reads and validates the manifest under root. A missing or malformed
// manifest is returned as a configuration error.
func Load(fs afero.Fs, root string) (*Package, error) {
	manifest, err := ReadManifest(fs, root)
	if err != nil {
		return nil, err
	}

	return &Package{
		fs:       fs,
		root:     root,
		manifest: manifest,
	}, nil
}

// Root returns the package directory.
func (p *Package) Root() string {
	return p.root
}

// Fs returns the filesystem the package was loaded from.
func (p *Package) Fs() afero.Fs {
	return p.fs
}

// Manifest returns the most recently loaded manifest.
func (p *Package) Manifest() *Manifest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.manifest
}

// Reload re-reads manifest.json. On failure the previous manifest is kept
// and the error returned.
func (p *Package) Reload() error {
	manifest, err := ReadManifest(p.fs, p.root)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.manifest = manifest
	p.mu.Unlock()
	return nil
}

// Name is the manifest name or DefaultName.
func (p *Package) Name() string {
	return p.Manifest().DisplayName()
}

// AssetsDir is the directory the package's assets are served from.
func (p *Package) AssetsDir() string {
	return filepath.Join(p.root, "assets")
}

// Source returns app.js, or an empty string when the package has none.
func (p *Package) Source() (string, error) {
	data, err := afero.ReadFile(p.fs, filepath.Join(p.root, "app.js"))
	if err != nil {
		if exists, _ := afero.Exists(p.fs, filepath.Join(p.root, "app.js")); !exists {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// Templates returns templates/*.hdbs keyed by base name without extension.
func (p *Package) Templates() (map[string]string, error) {
	templates := make(map[string]string)

	dir := filepath.Join(p.root, "templates")
	entries, err := afero.ReadDir(p.fs, dir)
	if err != nil {
		if exists, _ := afero.DirExists(p.fs, dir); !exists {
			return templates, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".hdbs" {
			continue
		}
		data, err := afero.ReadFile(p.fs, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		templates[strings.TrimSuffix(entry.Name(), ".hdbs")] = string(data)
	}

	return templates, nil
}

// Requirements returns requirements.json verbatim, or nil when absent.
func (p *Package) Requirements() (json.RawMessage, error) {
	path := filepath.Join(p.root, "requirements.json")
	if exists, _ := afero.Exists(p.fs, path); !exists {
		return nil, nil
	}

	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, zerrors.NewConfigError("REQUIREMENTS_INVALID",
			"requirements.json is not valid JSON", nil).WithPath(path)
	}
	return json.RawMessage(data), nil
}

// Locales lists the translation files available under translations/, by
// file name without extension, sorted.
func (p *Package) Locales() ([]string, error) {
	dir := filepath.Join(p.root, "translations")
	entries, err := afero.ReadDir(p.fs, dir)
	if err != nil {
		if exists, _ := afero.DirExists(p.fs, dir); !exists {
			return nil, nil
		}
		return nil, err
	}

	var locales []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		locales = append(locales, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(locales)
	return locales, nil
}

// Translations returns the translation table for the locale best matching
// requested. Files that nest their strings under an "app" key are unwrapped.
func (p *Package) Translations(requested string) (json.RawMessage, error) {
	available, err := p.Locales()
	if err != nil {
		return nil, err
	}

	locale := MatchLocale(requested, p.Manifest().DefaultLocale, available)
	if locale == "" {
		return json.RawMessage("{}"), nil
	}

	data, err := afero.ReadFile(p.fs, filepath.Join(p.root, "translations", locale+".json"))
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		App json.RawMessage `json:"app"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, err
	}
	if len(wrapper.App) > 0 {
		return wrapper.App, nil
	}
	return json.RawMessage(data), nil
}
