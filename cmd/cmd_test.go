package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pchhetri/zendesk-apps-tools/internal/config"
	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
	"github.com/pchhetri/zendesk-apps-tools/internal/testutils"
	"github.com/pchhetri/zendesk-apps-tools/internal/version"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--short"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		versionShort = false
	})

	require.NoError(t, Execute())
	assert.Equal(t, version.GetVersion()+"\n", out.String())
}

func TestWriteVersion(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, writeVersion(&out, "json", false))

		var info map[string]interface{}
		require.NoError(t, json.Unmarshal(out.Bytes(), &info))
		assert.Equal(t, version.GetVersion(), info["version"])
		assert.Contains(t, info, "go_version")
	})

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, writeVersion(&out, "text", false))
		assert.True(t, strings.HasPrefix(out.String(), "Version: "))
	})

	t.Run("unsupported", func(t *testing.T) {
		err := writeVersion(&bytes.Buffer{}, "yaml", false)
		assert.ErrorContains(t, err, "unsupported format")
	})
}

func TestCommandTree(t *testing.T) {
	tests := []struct {
		args  []string
		flags []string
	}{
		{[]string{"server"}, []string{"path", "config", "domain", "port", "host", "public-url", "livereload", "watch"}},
		{[]string{"theme", "preview"}, []string{"path", "role", "subdomain", "username", "token", "password", "port", "livereload"}},
		{[]string{"version"}, []string{"format", "short"}},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			found, _, err := rootCmd.Find(tt.args)
			require.NoError(t, err)
			for _, name := range tt.flags {
				assert.NotNil(t, found.Flags().Lookup(name), "--%s", name)
			}
		})
	}

	server, _, err := rootCmd.Find([]string{"server"})
	require.NoError(t, err)
	assert.Equal(t, "p", server.Flags().Lookup("path").Shorthand)
	assert.Equal(t, "c", server.Flags().Lookup("config").Shorthand)
	assert.Equal(t, "4567", server.Flags().Lookup("port").DefValue)
}

func TestBindFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addServeFlags(flags)
	require.NoError(t, flags.Parse([]string{"--port", "9000", "--livereload=false"}))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, bindFlags(v, flags, serveFlagKeys))

	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.False(t, cfg.Server.LiveReload)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, "http://localhost:9000", cfg.Server.PublicURL)

	err = bindFlags(v, flags, map[string]string{"theme.role": "role"})
	assert.ErrorContains(t, err, "--role")
}

func TestAppPaths(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	tests := []struct {
		name       string
		pathFlag   string
		args       []string
		configured []string
		expected   []string
		wantErr    bool
	}{
		{name: "default", expected: []string{cwd}},
		{name: "flag", pathFlag: "/apps/a", expected: []string{"/apps/a"}},
		{name: "args", args: []string{"/apps/a", "/apps/b"}, expected: []string{"/apps/a", "/apps/b"}},
		{name: "relative", args: []string{"app"}, expected: []string{filepath.Join(cwd, "app")}},
		{name: "configured", configured: []string{"/apps/c"}, expected: []string{"/apps/c"}},
		{name: "args win over configured", args: []string{"/apps/a"}, configured: []string{"/apps/c"}, expected: []string{"/apps/a"}},
		{name: "flag with args", pathFlag: "/apps/a", args: []string{"/apps/b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paths, err := appPaths(tt.pathFlag, tt.args, tt.configured)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, zerrors.IsType(err, zerrors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, paths)
		})
	}
}

func TestNewAppsServer(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutils.WriteFiles(t, fs, "/apps/a", map[string]string{
		"manifest.json":   `{"location": "ticket_sidebar"}`,
		"assets/logo.png": "png",
	})
	testutils.WriteFiles(t, fs, "/apps/b", map[string]string{"manifest.json": `{}`})

	cfg := testutils.LoadConfig(t, map[string]interface{}{"watch.enabled": false})

	srv, err := newAppsServer(cfg, fs, []string{"/apps/a", "/apps/b"}, testutils.NewTestLogger(t))
	require.NoError(t, err)

	for _, target := range []string{"/app.js", "/-1/logo.png"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}
}

func TestNewAppsServerErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutils.WriteFiles(t, fs, "/apps/a", map[string]string{"manifest.json": `{}`})
	testutils.WriteFiles(t, fs, "/apps/b", map[string]string{"manifest.json": `{}`})

	t.Run("settings file with several apps", func(t *testing.T) {
		cfg := testutils.LoadConfig(t, map[string]interface{}{"watch.enabled": false, "apps.settings_file": "/apps/a/settings.yml"})
		_, err := newAppsServer(cfg, fs, []string{"/apps/a", "/apps/b"}, nil)
		assert.True(t, zerrors.IsConfigError(err))
	})

	t.Run("missing manifest", func(t *testing.T) {
		cfg := testutils.LoadConfig(t, map[string]interface{}{"watch.enabled": false})
		_, err := newAppsServer(cfg, fs, []string{"/apps/missing"}, nil)
		assert.Error(t, err)
	})
}

func TestThemePreviewRequiresCredentials(t *testing.T) {
	fs := afero.NewMemMapFs()
	testutils.WriteTheme(t, fs, "/theme", nil)

	cfg := testutils.LoadConfig(t, map[string]interface{}{"theme.path": "/theme", "theme.username": "me@acme.com"})

	_, err := newThemePreview(cfg, fs, nil)
	require.Error(t, err)

	var enhanced *zerrors.EnhancedError
	require.True(t, errors.As(err, &enhanced))
	assert.Contains(t, err.Error(), "subdomain")
	assert.Contains(t, err.Error(), "token or password")
	assert.NotEmpty(t, enhanced.Suggestions)
}

func TestThemePreviewRequiresManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/theme", 0o755))

	cfg := testutils.LoadConfig(t, map[string]interface{}{
		"theme.path": "/theme", "theme.subdomain": "acme", "theme.username": "me", "theme.token": "t",
	})

	_, err := newThemePreview(cfg, fs, nil)
	var enhanced *zerrors.EnhancedError
	require.True(t, errors.As(err, &enhanced))
	assert.Equal(t, "Invalid theme", enhanced.Title)
}

func TestThemeInitialUpload(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErr    bool
		suggestion string
	}{
		{name: "accepted", status: http.StatusOK},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true, suggestion: "Authentication rejected"},
		{name: "not enabled", status: http.StatusNotFound, wantErr: true, suggestion: "Preview endpoint not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := make(chan string, 1)
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				user, _, _ := r.BasicAuth()
				users <- user
				w.WriteHeader(tt.status)
			}))
			defer upstream.Close()

			fs := afero.NewMemMapFs()
			testutils.WriteTheme(t, fs, "/theme", nil)
			cfg := testutils.LoadConfig(t, map[string]interface{}{
				"theme.path":     "/theme",
				"theme.base_url": upstream.URL,
				"theme.username": "me@acme.com",
				"theme.token":    "secret",
				"watch.enabled":  false,
			})

			preview, err := newThemePreview(cfg, fs, nil)
			require.NoError(t, err)
			assert.Equal(t, upstream.URL+"/hc/admin/local_preview/start", preview.client.PreviewURL())

			err = preview.initialUpload(context.Background())
			assert.Equal(t, "me@acme.com/token", <-users)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, int64(1), preview.pipeline.GetMetrics().Uploads)

				srv, err := preview.server(cfg, nil)
				require.NoError(t, err)
				rec := httptest.NewRecorder()
				srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guide/templates/home_page.hbs", nil))
				assert.Equal(t, http.StatusOK, rec.Code)
				return
			}

			var enhanced *zerrors.EnhancedError
			require.True(t, errors.As(err, &enhanced))
			require.NotEmpty(t, enhanced.Suggestions)
			assert.Equal(t, tt.suggestion, enhanced.Suggestions[0].Title)
		})
	}
}

func TestReadZatFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".zat")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "subdomain": "acme",
  "username": "me@acme.com",
  "theme": {"token": "secret"},
  "server": {"port": 4568}
}`), 0o600))

	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, readZatFile(v, path))

	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Theme.Subdomain)
	assert.Equal(t, "https://acme.zendesk.com", cfg.Theme.BaseURL)
	assert.Equal(t, "me@acme.com", cfg.Theme.Username)
	assert.Equal(t, "secret", cfg.Theme.Token)
	assert.Equal(t, 4568, cfg.Server.Port)
	assert.NoError(t, cfg.Theme.RequireUploadCredentials())

	assert.NoError(t, readZatFile(viper.New(), filepath.Join(dir, "missing")))
	assert.NoError(t, readZatFile(viper.New(), ""))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	assert.Error(t, readZatFile(viper.New(), path))
}

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer
	cfg := testutils.LoadConfig(t, map[string]interface{}{"log.level": "debug", "log.format": "json"})

	logger, err := newLogger(cfg, &out)
	require.NoError(t, err)
	logger.Debug(context.Background(), "hello")
	assert.Contains(t, out.String(), `"msg":"hello"`)

	cfg.Log.Level = "loud"
	_, err = newLogger(cfg, &out)
	assert.Error(t, err)
}
