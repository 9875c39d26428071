// Package bundle combines every local app into the single app.js payload
// the browser loads: each app's compiled script followed by the
// installation records and per-location ordering that activate them.
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/afero"

	"github.com/pchhetri/zendesk-apps-tools/internal/app"
	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
	"github.com/pchhetri/zendesk-apps-tools/internal/settings"
)

// LocalApp is one app directory being served, with its settings cache.
type LocalApp struct {
	Index    int
	Package  *app.Package
	Settings *settings.Cache
}

// ID is the negative installation and app id.
func (a *LocalApp) ID() int {
	return app.EncodeID(a.Index)
}

// Installation is the record the framework uses to activate an app.
type Installation struct {
	ID           int                    `json:"id"`
	AppID        int                    `json:"app_id"`
	AppName      string                 `json:"app_name"`
	Enabled      bool                   `json:"enabled"`
	Requirements json.RawMessage        `json:"requirements"`
	Settings     map[string]interface{} `json:"settings"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
}

// Result is one assembled bundle.
type Result struct {
	Script        string
	Installations []Installation
	Order         LocationOrder
}

var installedTemplate = template.Must(template.New("installed.js").Parse(`{{range .Scripts}}{{.}}
{{end}}(function() {
  var installations = {{.Installations}};
  var installationOrders = {{.InstallationOrders}};

  ZendeskApps.Installation.createAll(installations);
  ZendeskApps.installationOrders = installationOrders;
  ZendeskApps.trigger && ZendeskApps.trigger('ready');
}());
`))

// Bundler assembles the apps it was created with, in order.
type Bundler struct {
	apps    []*LocalApp
	baseURL string
	domain  string
	logger  logging.Logger
	now     func() time.Time
}

// New returns a Bundler serving apps under baseURL (e.g.
// http://localhost:4567). Each app's Index must match its position.
func New(apps []*LocalApp, baseURL string, logger logging.Logger) *Bundler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Bundler{
		apps:    apps,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.WithComponent("bundle"),
		now:     time.Now,
	}
}

// WithDomain scopes settings lookups to domain: a settings file with a
// top-level object under that key supplies the values from it.
func (b *Bundler) WithDomain(domain string) *Bundler {
	b.domain = domain
	return b
}

// Apps returns the apps in bundle order.
func (b *Bundler) Apps() []*LocalApp {
	return b.apps
}

// Lookup finds the app with the given (negative) id.
func (b *Bundler) Lookup(id int) (*LocalApp, bool) {
	index := app.DecodeID(id)
	if index < 0 || index >= len(b.apps) {
		return nil, false
	}
	return b.apps[index], true
}

// AssetsURL is the prefix an app's assets are served under.
func (b *Bundler) AssetsURL(id int) string {
	return fmt.Sprintf("%s/%d/", b.baseURL, id)
}

// Bundle compiles every app for locale and assembles the result. A settings
// problem degrades that app's settings to an empty map. A compile failure,
// an unreadable location included, fails the whole bundle.
func (b *Bundler) Bundle(ctx context.Context, locale string) (*Result, error) {
	result := &Result{Installations: make([]Installation, 0, len(b.apps))}
	scripts := make([]string, 0, len(b.apps))
	stamp := b.now().Format(time.RFC3339)

	for _, local := range b.apps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pkg := local.Package
		if err := pkg.Reload(); err != nil {
			b.logger.Warn(ctx, err, "Keeping previous manifest", "app", pkg.Root())
		}
		manifest := pkg.Manifest()
		id := local.ID()
		name := manifest.DisplayName()

		hosts, err := app.NormalizeLocations(manifest.Location)
		if err != nil {
			return nil, fmt.Errorf("compiling %s: manifest location: %w", pkg.Root(), err)
		}

		script, err := pkg.CompileJS(app.CompileOptions{
			AppID:     id,
			AppName:   name,
			AssetsDir: b.AssetsURL(id),
			Locale:    locale,
		})
		if err != nil {
			return nil, fmt.Errorf("compiling %s: %w", pkg.Root(), err)
		}
		scripts = append(scripts, script)

		for _, host := range hosts {
			for _, location := range host.Locations {
				result.Order.Add(location, id)
			}
		}

		requirements, err := pkg.Requirements()
		if err != nil {
			b.logger.Warn(ctx, err, "Ignoring requirements.json", "app", pkg.Root())
			requirements = nil
		}

		values := map[string]interface{}{}
		if local.Settings != nil {
			values = local.Settings.Resolve(ctx, manifest.Parameters, b.domain)
		}
		merged := make(map[string]interface{}, len(values)+1)
		for k, v := range values {
			merged[k] = v
		}
		merged["title"] = name

		result.Installations = append(result.Installations, Installation{
			ID:           id,
			AppID:        id,
			AppName:      name,
			Enabled:      true,
			Requirements: requirements,
			Settings:     merged,
			CreatedAt:    stamp,
			UpdatedAt:    stamp,
		})
	}

	installations, err := json.Marshal(result.Installations)
	if err != nil {
		return nil, err
	}
	orders, err := json.Marshal(result.Order)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = installedTemplate.Execute(&buf, struct {
		Scripts            []string
		Installations      string
		InstallationOrders string
	}{scripts, string(installations), string(orders)})
	if err != nil {
		return nil, err
	}
	result.Script = buf.String()

	return result, nil
}

// LoadApps loads each app directory in order. settingsFile applies to a
// single app only; otherwise every app looks for its own settings file next
// to it. Any unreadable manifest aborts loading.
func LoadApps(fs afero.Fs, paths []string, settingsFile string, logger logging.Logger) ([]*LocalApp, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if settingsFile != "" && len(paths) > 1 {
		return nil, zerrors.NewConfigError("SETTINGS_AMBIGUOUS",
			"a settings file can only be given when serving a single app", nil)
	}

	apps := make([]*LocalApp, 0, len(paths))
	for i, path := range paths {
		pkg, err := app.Load(fs, path)
		if err != nil {
			return nil, err
		}

		file := settingsFile
		if file == "" {
			file = settings.Find(fs, path)
		}

		apps = append(apps, &LocalApp{
			Index:    i,
			Package:  pkg,
			Settings: settings.NewCache(fs, file, logger),
		})
	}
	return apps, nil
}
