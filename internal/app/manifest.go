package app

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
)

// DefaultName is used when a manifest does not declare a name.
const DefaultName = "Local App"

// Manifest is the subset of manifest.json the preview server understands.
// Apps and themes share the file name but use different halves of it:
// apps declare location/parameters, themes declare settings.
type Manifest struct {
	Name             string          `json:"name"`
	Author           Author          `json:"author"`
	DefaultLocale    string          `json:"defaultLocale"`
	Private          bool            `json:"private"`
	Location         json.RawMessage `json:"location"`
	Version          string          `json:"version"`
	FrameworkVersion string          `json:"frameworkVersion"`
	SingleInstall    bool            `json:"singleInstall"`
	NoTemplate       json.RawMessage `json:"noTemplate"`
	Parameters       []Parameter     `json:"parameters"`
	Settings         []SettingsGroup `json:"settings"`
}

type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	URL   string `json:"url,omitempty"`
}

// Parameter is one declared app setting.
type Parameter struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Required bool        `json:"required"`
	Default  interface{} `json:"default"`
	Secure   bool        `json:"secure"`
}

// SettingsGroup is a theme settings section.
type SettingsGroup struct {
	Label     string     `json:"label"`
	Variables []Variable `json:"variables"`
}

// Variable is one theme setting; file-typed values are paths relative to
// the theme root.
type Variable struct {
	Identifier string      `json:"identifier"`
	Type       string      `json:"type"`
	Value      interface{} `json:"value"`
}

// DisplayName returns the manifest name or DefaultName.
func (m *Manifest) DisplayName() string {
	if m == nil || m.Name == "" {
		return DefaultName
	}
	return m.Name
}

// ReadManifest loads and parses <root>/manifest.json. A missing or invalid
// manifest is a configuration error.
func ReadManifest(fs afero.Fs, root string) (*Manifest, error) {
	path := filepath.Join(root, "manifest.json")

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, zerrors.NewConfigError("MANIFEST_MISSING",
			fmt.Sprintf("there's no manifest file in %s", path), err).WithPath(path)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, zerrors.NewConfigError("MANIFEST_INVALID",
			fmt.Sprintf("the manifest file is invalid at %s", path), err).WithPath(path)
	}

	return &m, nil
}
