// Package testutils holds fixtures shared by the package tests.
package testutils

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/pchhetri/zendesk-apps-tools/internal/config"
	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
)

// WriteFiles writes files, keyed by slash separated path, below root.
func WriteFiles(t testing.TB, fs afero.Fs, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, fs.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, afero.WriteFile(fs, full, []byte(content), 0o644))
	}
}

// WriteTheme writes a minimal theme: a manifest, one template and a
// stylesheet. extra files are written on top.
func WriteTheme(t testing.TB, fs afero.Fs, root string, extra map[string]string) {
	t.Helper()
	WriteFiles(t, fs, root, map[string]string{
		"manifest.json":           `{"name": "Copenhagen", "settings": []}`,
		"templates/home_page.hbs": "<h1>{{help_center.name}}</h1>",
		"style.css":               "body { margin: 0; }",
	})
	WriteFiles(t, fs, root, extra)
}

// LoadConfig builds a Config from the defaults plus overrides, on a private
// viper instance.
func LoadConfig(t testing.TB, overrides map[string]interface{}) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	for key, value := range overrides {
		v.Set(key, value)
	}
	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

// NewTestLogger returns a debug logger that writes through t.Log, so output
// only shows for failing or verbose tests.
func NewTestLogger(t testing.TB) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelDebug,
		Output: testWriter{t},
	})
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
