// Package theme reads a Help Center theme from disk and turns it into the
// payload the local preview endpoint accepts. Assets, scripts and
// stylesheets are not uploaded; the payload points at URLs served by the
// local preview server instead.
package theme

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/pchhetri/zendesk-apps-tools/internal/app"
	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
)

// GuidePrefix is the path the preview server serves theme files under.
const GuidePrefix = "/guide/"

// Payload is everything one preview upload carries. It is rebuilt from disk
// for every upload.
type Payload struct {
	// Templates maps templates/<name>.hbs to its contents.
	Templates map[string]string
	// Assets maps each file in assets/ to its local URL.
	Assets map[string]string
	// Variables is the manifest settings hash.
	Variables map[string]interface{}
	ScriptURL string
	StyleURL  string
	Role      string
}

// Theme is a theme directory served under baseURL.
type Theme struct {
	fs      afero.Fs
	root    string
	baseURL string
	role    string
}

// New returns a Theme rooted at root. baseURL is the public address of the
// preview server, e.g. http://localhost:4567.
func New(fs afero.Fs, root, baseURL, role string) *Theme {
	return &Theme{
		fs:      fs,
		root:    filepath.Clean(root),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		role:    role,
	}
}

func (t *Theme) Root() string {
	return t.root
}

func (t *Theme) Fs() afero.Fs {
	return t.fs
}

// Path joins slash separated parts onto the theme root.
func (t *Theme) Path(parts ...string) string {
	return filepath.Join(append([]string{t.root}, parts...)...)
}

// Manifest reads manifest.json. It is re-read on every call so that
// settings edits show up on the next upload.
func (t *Theme) Manifest() (*app.Manifest, error) {
	return app.ReadManifest(t.fs, t.root)
}

// URLFor returns the preview server URL of a file inside the theme. path is
// relative to the theme root, or absolute.
func (t *Theme) URLFor(path string) (string, error) {
	rel := filepath.Clean(path)
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(t.root, rel)
		if err != nil {
			return "", err
		}
		rel = r
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", zerrors.NewValidationError("OUTSIDE_THEME",
			fmt.Sprintf("%s is outside the theme directory", path))
	}

	return t.baseURL + GuidePrefix + filepath.ToSlash(rel), nil
}

// SettingsHash flattens the manifest's setting groups into identifier ->
// value. File settings resolve to their preview URL.
func (t *Theme) SettingsHash() (map[string]interface{}, error) {
	manifest, err := t.Manifest()
	if err != nil {
		return nil, err
	}

	hash := make(map[string]interface{})
	for _, group := range manifest.Settings {
		for _, variable := range group.Variables {
			value := variable.Value
			if variable.Type == "file" {
				if name, ok := value.(string); ok && name != "" {
					url, err := t.URLFor(filepath.FromSlash(name))
					if err != nil {
						return nil, err
					}
					value = url
				}
			}
			hash[variable.Identifier] = value
		}
	}
	return hash, nil
}

// Payload collects templates, asset URLs, script and stylesheet URLs and
// the settings hash.
func (t *Theme) Payload() (*Payload, error) {
	variables, err := t.SettingsHash()
	if err != nil {
		return nil, err
	}

	templates, err := t.templates()
	if err != nil {
		return nil, err
	}

	assets, err := t.assets()
	if err != nil {
		return nil, err
	}

	payload := &Payload{
		Templates: templates,
		Assets:    assets,
		Variables: variables,
		Role:      t.role,
	}

	if t.isFile("script.js") {
		payload.ScriptURL = t.baseURL + GuidePrefix + "script.js"
	}
	if t.isFile("style.css") {
		payload.StyleURL = t.baseURL + GuidePrefix + "style.css"
	}

	return payload, nil
}

func (t *Theme) templates() (map[string]string, error) {
	names, err := t.list("templates", ".hbs")
	if err != nil {
		return nil, err
	}

	templates := make(map[string]string, len(names))
	for _, name := range names {
		data, err := afero.ReadFile(t.fs, t.Path("templates", name))
		if err != nil {
			return nil, zerrors.NewIOError("TEMPLATE_READ", "cannot read template", err).WithPath(t.Path("templates", name))
		}
		templates[strings.TrimSuffix(name, ".hbs")] = string(data)
	}
	return templates, nil
}

func (t *Theme) assets() (map[string]string, error) {
	names, err := t.list("assets", "")
	if err != nil {
		return nil, err
	}

	assets := make(map[string]string, len(names))
	for _, name := range names {
		url, err := t.URLFor(filepath.Join("assets", name))
		if err != nil {
			return nil, err
		}
		assets[name] = url
	}
	return assets, nil
}

// list returns the regular files directly inside dir with the given
// extension ("" for any), sorted. A missing directory is empty.
func (t *Theme) list(dir, ext string) ([]string, error) {
	entries, err := afero.ReadDir(t.fs, t.Path(dir))
	if err != nil {
		if ok, _ := afero.DirExists(t.fs, t.Path(dir)); !ok {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext != "" && filepath.Ext(entry.Name()) != ext {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (t *Theme) isFile(name string) bool {
	info, err := t.fs.Stat(t.Path(name))
	return err == nil && !info.IsDir()
}
