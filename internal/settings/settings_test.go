package settings

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pchhetri/zendesk-apps-tools/internal/app"
	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
)

var params = []app.Parameter{
	{Name: "subdomain", Type: "text", Required: true},
	{Name: "enabled", Type: "checkbox"},
	{Name: "limit", Type: "number", Default: 10},
	{Name: "mapping", Type: "multiline"},
	{Name: "note", Type: "text"},
}

func writeSettings(t *testing.T, fs afero.Fs, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	require.NoError(t, fs.Chtimes(path, mtime, mtime))
}

func TestResolve(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSettings(t, fs, "/app/settings.yml", `
subdomain: acme
enabled: "yes"
mapping:
  open: 1
  solved: [2, 3]
note: ""
`, time.Now())

	cache := NewCache(fs, "/app/settings.yml", nil)
	got := cache.Resolve(context.Background(), params, "")

	assert.Equal(t, map[string]interface{}{
		"subdomain": "acme",
		"enabled":   true,
		"limit":     10,
		"mapping":   `{"open":1,"solved":[2,3]}`,
	}, got)
}

func TestResolveWithoutPathOrParams(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSettings(t, fs, "/app/settings.yml", "subdomain: acme\n", time.Now())

	empty := NewCache(fs, "", nil)
	assert.Empty(t, empty.Resolve(context.Background(), params, ""))
	assert.Zero(t, empty.Reads())

	cache := NewCache(fs, "/app/settings.yml", nil)
	assert.Empty(t, cache.Resolve(context.Background(), nil, ""))
	assert.Zero(t, cache.Reads(), "no parameters means the file is never read")
}

func TestResolveMissingFile(t *testing.T) {
	cache := NewCache(afero.NewMemMapFs(), "/app/settings.yml", nil)
	assert.Empty(t, cache.Resolve(context.Background(), params, ""))
}

func TestRequiredParameterMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSettings(t, fs, "/app/settings.yml", "enabled: true\nnote: hello\n", time.Now())

	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelWarn, Format: "json", Output: &buf})

	cache := NewCache(fs, "/app/settings.yml", logger)
	got := cache.Resolve(context.Background(), params, "")

	assert.NotNil(t, got)
	assert.Empty(t, got, "a missing required parameter empties the whole result")
	assert.Contains(t, buf.String(), "subdomain")
}

func TestResolveReadsOncePerMtime(t *testing.T) {
	fs := afero.NewMemMapFs()
	start := time.Now().Add(-time.Hour)
	writeSettings(t, fs, "/app/settings.yml", "subdomain: first\n", start)

	cache := NewCache(fs, "/app/settings.yml", nil)
	ctx := context.Background()

	assert.Equal(t, "first", cache.Resolve(ctx, params, "")["subdomain"])
	assert.Equal(t, "first", cache.Resolve(ctx, params, "")["subdomain"])
	assert.Equal(t, int64(1), cache.Reads())

	writeSettings(t, fs, "/app/settings.yml", "subdomain: second\n", start.Add(time.Second))
	assert.Equal(t, "second", cache.Resolve(ctx, params, "")["subdomain"])
	assert.Equal(t, int64(2), cache.Reads())

	// An older mtime is not an advance.
	writeSettings(t, fs, "/app/settings.yml", "subdomain: third\n", start)
	assert.Equal(t, "second", cache.Resolve(ctx, params, "")["subdomain"])
	assert.Equal(t, int64(2), cache.Reads())
}

func TestConcurrentResolveReadsOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSettings(t, fs, "/app/settings.yml", "subdomain: acme\n", time.Now())
	cache := NewCache(fs, "/app/settings.yml", nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "acme", cache.Resolve(context.Background(), params, "")["subdomain"])
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), cache.Reads())
}

func TestParseErrorIsCachedUntilFileChanges(t *testing.T) {
	fs := afero.NewMemMapFs()
	start := time.Now().Add(-time.Hour)
	writeSettings(t, fs, "/app/settings.json", `{"subdomain": `, start)

	cache := NewCache(fs, "/app/settings.json", nil)
	ctx := context.Background()

	assert.Empty(t, cache.Resolve(ctx, params, ""))
	assert.Empty(t, cache.Resolve(ctx, params, ""))
	assert.Equal(t, int64(1), cache.Reads())

	writeSettings(t, fs, "/app/settings.json", `{"subdomain": "fixed"}`, start.Add(time.Minute))
	assert.Equal(t, "fixed", cache.Resolve(ctx, params, "")["subdomain"])
}

func TestResolveScopedToDomain(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeSettings(t, fs, "/app/settings.yml", `
subdomain: default
staging:
  subdomain: acme-staging
`, time.Now())

	cache := NewCache(fs, "/app/settings.yml", nil)
	ctx := context.Background()

	assert.Equal(t, "acme-staging", cache.Resolve(ctx, params, "staging")["subdomain"])
	assert.Equal(t, "default", cache.Resolve(ctx, params, "production")["subdomain"])
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		content  string
		expected map[string]interface{}
		wantErr  bool
	}{
		{"yaml", "settings.yml", "a: 1\nb: two\n", map[string]interface{}{"a": 1, "b": "two"}, false},
		{"json by extension", "settings.json", `{"a": 1}`, map[string]interface{}{"a": float64(1)}, false},
		{"json by content", "settings.yml", "  \n{\"a\": \"x\"}", map[string]interface{}{"a": "x"}, false},
		{"empty", "settings.yml", "   ", map[string]interface{}{}, false},
		{"broken json", "settings.json", `{"a":`, nil, true},
		{"broken yaml", "settings.yml", "a: [1, 2\n", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.path, []byte(tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestToBool(t *testing.T) {
	tests := []struct {
		input    interface{}
		expected bool
	}{
		{"yes", true},
		{"Y", true},
		{"TRUE", true},
		{"t", true},
		{"1", true},
		{"0", false},
		{"no", false},
		{"yes please", false},
		{true, true},
		{false, false},
		{nil, false},
		{1, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ToBool(tt.input), "input %#v", tt.input)
	}
}

func TestFind(t *testing.T) {
	fs := afero.NewMemMapFs()
	appDir := "/work/apps/one"
	require.NoError(t, fs.MkdirAll(appDir, 0o755))

	assert.Empty(t, Find(fs, appDir))

	sibling := filepath.Join("/work/apps", "settings", "settings.json")
	require.NoError(t, afero.WriteFile(fs, sibling, []byte("{}"), 0o644))
	assert.Equal(t, sibling, Find(fs, appDir))

	parent := filepath.Join("/work/apps", "settings.yml")
	require.NoError(t, afero.WriteFile(fs, parent, []byte(""), 0o644))
	assert.Equal(t, parent, Find(fs, appDir))

	local := filepath.Join(appDir, "settings.json")
	require.NoError(t, afero.WriteFile(fs, local, []byte("{}"), 0o644))
	assert.Equal(t, local, Find(fs, appDir))

	yml := filepath.Join(appDir, "settings.yml")
	require.NoError(t, afero.WriteFile(fs, yml, []byte(""), 0o644))
	assert.Equal(t, yml, Find(fs, appDir), "settings.yml wins over settings.json in the same directory")
}
