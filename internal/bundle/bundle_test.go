package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pchhetri/zendesk-apps-tools/internal/app"
	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
)

func writeApp(t *testing.T, fs afero.Fs, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(root, name), []byte(content), 0o644))
	}
}

func newBundler(t *testing.T, fs afero.Fs, paths ...string) *Bundler {
	t.Helper()
	apps, err := LoadApps(fs, paths, "", nil)
	require.NoError(t, err)

	b := New(apps, "http://localhost:4567/", nil)
	b.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return b
}

func TestBundleAssignsNegativeIDs(t *testing.T) {
	fs := afero.NewMemMapFs()
	var paths []string
	for i := 0; i < 4; i++ {
		root := fmt.Sprintf("/apps/app%d", i)
		writeApp(t, fs, root, map[string]string{
			"manifest.json": fmt.Sprintf(`{"name": "App %d", "location": "ticket_sidebar"}`, i),
		})
		paths = append(paths, root)
	}

	result, err := newBundler(t, fs, paths...).Bundle(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, result.Installations, 4)

	seen := map[int]bool{}
	for i, inst := range result.Installations {
		assert.Equal(t, -(i + 1), inst.ID)
		assert.Equal(t, inst.ID, inst.AppID)
		assert.Equal(t, fmt.Sprintf("App %d", i), inst.AppName)
		assert.True(t, inst.Enabled)
		assert.False(t, seen[inst.ID], "ids are pairwise distinct")
		seen[inst.ID] = true
	}
	assert.Equal(t, []int{-1, -2, -3, -4}, result.Order.IDs("ticket_sidebar"))
}

func TestBundleLocationOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeApp(t, fs, "/apps/a", map[string]string{
		"manifest.json": `{"name": "A", "location": ["ticket_sidebar"]}`,
	})
	writeApp(t, fs, "/apps/b", map[string]string{
		"manifest.json": `{"name": "B", "location": {"zendesk": ["ticket_sidebar", "nav_bar"]}}`,
	})

	result, err := newBundler(t, fs, "/apps/a", "/apps/b").Bundle(context.Background(), "")
	require.NoError(t, err)

	encoded, err := json.Marshal(result.Order)
	require.NoError(t, err)
	assert.Equal(t, `{"ticket_sidebar":[-1,-2],"nav_bar":[-2]}`, string(encoded))
	assert.Contains(t, result.Script, `var installationOrders = {"ticket_sidebar":[-1,-2],"nav_bar":[-2]};`)
}

func TestBundleInstallationPayload(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeApp(t, fs, "/apps/a", map[string]string{
		"manifest.json": `{
  "name": "Helper",
  "location": "ticket_sidebar",
  "parameters": [
    {"name": "token", "type": "text", "required": true},
    {"name": "title", "type": "text"}
  ]
}`,
		"settings.yml":      "token: abc\ntitle: overridden\n",
		"requirements.json": `{"targets": {"t": {"title": "x"}}}`,
		"app.js":            "({ events: {} });",
	})

	result, err := newBundler(t, fs, "/apps/a").Bundle(context.Background(), "en")
	require.NoError(t, err)
	require.Len(t, result.Installations, 1)

	inst := result.Installations[0]
	assert.Equal(t, map[string]interface{}{"token": "abc", "title": "Helper"}, inst.Settings,
		"title is always the app name")
	assert.JSONEq(t, `{"targets": {"t": {"title": "x"}}}`, string(inst.Requirements))
	assert.Equal(t, "2024-01-02T03:04:05Z", inst.CreatedAt)
	assert.Equal(t, inst.CreatedAt, inst.UpdatedAt)

	assert.Contains(t, result.Script, `assetUrlPrefix: "http://localhost:4567/-1/"`)
	assert.Contains(t, result.Script, "ZendeskApps.Installation.createAll(installations);")
	assert.True(t, strings.Index(result.Script, "defineApp") < strings.Index(result.Script, "var installations"),
		"app scripts come before the installations")
}

func TestBundleSettingsDomain(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeApp(t, fs, "/apps/a", map[string]string{
		"manifest.json": `{"name": "A", "parameters": [{"name": "subdomain"}]}`,
		"settings.yml":  "subdomain: acme\nstaging:\n  subdomain: acme-staging\n",
	})

	tests := []struct {
		domain   string
		expected string
	}{
		{"", "acme"},
		{"staging", "acme-staging"},
		{"production", "acme"},
	}

	for _, tt := range tests {
		t.Run("domain "+tt.domain, func(t *testing.T) {
			result, err := newBundler(t, fs, "/apps/a").WithDomain(tt.domain).Bundle(context.Background(), "")
			require.NoError(t, err)
			require.Len(t, result.Installations, 1)
			assert.Equal(t, tt.expected, result.Installations[0].Settings["subdomain"])
		})
	}
}

func TestBundleDegradesBrokenSettings(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeApp(t, fs, "/apps/a", map[string]string{
		"manifest.json": `{"name": "A", "parameters": [{"name": "token", "required": true}]}`,
		"settings.json": `{"token": `,
	})
	writeApp(t, fs, "/apps/b", map[string]string{
		"manifest.json": `{"parameters": [{"name": "token", "required": true}]}`,
	})

	result, err := newBundler(t, fs, "/apps/a", "/apps/b").Bundle(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, result.Installations, 2)

	assert.Equal(t, map[string]interface{}{"title": "A"}, result.Installations[0].Settings)
	assert.Equal(t, map[string]interface{}{"title": app.DefaultName}, result.Installations[1].Settings)
	assert.Nil(t, result.Installations[1].Requirements)
}

func TestBundleFailsOnUnreadableLocation(t *testing.T) {
	tests := []struct {
		name     string
		location string
	}{
		{"number", `42`},
		{"list of numbers", `[1, 2]`},
		{"host with a number", `{"zendesk": 7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeApp(t, fs, "/apps/a", map[string]string{"manifest.json": `{"name": "A"}`})
			b := newBundler(t, fs, "/apps/a")

			require.NoError(t, afero.WriteFile(fs, "/apps/a/manifest.json",
				[]byte(`{"name": "A", "location": `+tt.location+`}`), 0o644))

			_, err := b.Bundle(context.Background(), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "manifest location")
		})
	}
}

func TestBundleCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeApp(t, fs, "/apps/a", map[string]string{"manifest.json": `{}`})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newBundler(t, fs, "/apps/a").Bundle(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLookup(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeApp(t, fs, "/apps/a", map[string]string{"manifest.json": `{}`})
	writeApp(t, fs, "/apps/b", map[string]string{"manifest.json": `{}`})
	b := newBundler(t, fs, "/apps/a", "/apps/b")

	tests := []struct {
		id    int
		found bool
		root  string
	}{
		{-1, true, "/apps/a"},
		{-2, true, "/apps/b"},
		{-3, false, ""},
		{0, false, ""},
		{1, false, ""},
	}
	for _, tt := range tests {
		got, ok := b.Lookup(tt.id)
		assert.Equal(t, tt.found, ok, "id %d", tt.id)
		if ok {
			assert.Equal(t, tt.root, got.Package.Root())
		}
	}
}

func TestLoadApps(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeApp(t, fs, "/apps/a", map[string]string{"manifest.json": `{}`, "settings.yml": ""})
	writeApp(t, fs, "/apps/b", map[string]string{"manifest.json": `{}`})
	require.NoError(t, fs.MkdirAll("/apps/missing", 0o755))

	apps, err := LoadApps(fs, []string{"/apps/a", "/apps/b"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/apps/a", "settings.yml"), apps[0].Settings.Path())
	assert.Empty(t, apps[1].Settings.Path())
	assert.Equal(t, -2, apps[1].ID())

	_, err = LoadApps(fs, []string{"/apps/a", "/apps/missing"}, "", nil)
	assert.True(t, zerrors.IsConfigError(err))

	_, err = LoadApps(fs, []string{"/apps/a", "/apps/b"}, "/apps/a/settings.yml", nil)
	assert.True(t, zerrors.IsConfigError(err))

	apps, err = LoadApps(fs, []string{"/apps/b"}, "/elsewhere/settings.yml", nil)
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/settings.yml", apps[0].Settings.Path())
}

func TestLocationOrderEmpty(t *testing.T) {
	var order LocationOrder
	encoded, err := json.Marshal(order)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(encoded))
	assert.Zero(t, order.Len())
}
