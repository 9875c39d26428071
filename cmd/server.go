package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pchhetri/zendesk-apps-tools/internal/build"
	"github.com/pchhetri/zendesk-apps-tools/internal/bundle"
	"github.com/pchhetri/zendesk-apps-tools/internal/config"
	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
	"github.com/pchhetri/zendesk-apps-tools/internal/livereload"
	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
	"github.com/pchhetri/zendesk-apps-tools/internal/monitoring"
	"github.com/pchhetri/zendesk-apps-tools/internal/server"
	"github.com/pchhetri/zendesk-apps-tools/internal/watcher"
)

var serverCmd = &cobra.Command{
	Use:   "server [APP_PATH...]",
	Short: "Serve apps for local testing",
	Long: `Compile the apps in the given directories into a single app.js and
serve it, together with each app's assets, for use with ?zat=true in a
Zendesk account.

Local apps get the ids -1, -2, ... in argument order; assets are served at
/<id>/<file>. Without arguments the current directory is served.`,
	Example: `  zat server
  zat server ./ticket_app ./user_app
  zat server --path ./ticket_app --config ./ticket_app/settings.yml`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	flags := serverCmd.Flags()
	flags.StringP("path", "p", "", "path to a single app")
	flags.StringP("config", "c", "", "settings file for the app (YAML or JSON)")
	flags.String("domain", "", "settings file section to read values from")
	addServeFlags(flags)
}

func runServer(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	appsFlagKeys := map[string]string{"apps.settings_file": "config", "apps.domain": "domain"}
	if err := bindFlags(v, cmd.Flags(), mergeKeys(serveFlagKeys, appsFlagKeys)); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(v)
	if err != nil {
		return zerrors.NewEnhancedError("Failed to load configuration", err,
			zerrors.ConfigurationError(err.Error(), zatConfigFile))
	}

	pathFlag, _ := cmd.Flags().GetString("path")
	paths, err := appPaths(pathFlag, args, cfg.Apps.Paths)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return zerrors.NewEnhancedError("Invalid log level", err, nil)
	}

	srv, err := newAppsServer(cfg, afero.NewOsFs(), paths, logger)
	if err != nil {
		return zerrors.NewEnhancedError("Failed to load apps", err,
			zerrors.ConfigurationError(err.Error(), paths[0]))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d app(s) at %s/app.js\n", len(paths), cfg.Server.PublicURL)
	fmt.Fprintln(cmd.OutOrStdout(), "Open your account with ?zat=true to load them. Press Ctrl+C to stop.")
	return serve(ctx, srv, cfg)
}

// appPaths resolves which app directories to serve: --path, then
// arguments, then apps.paths from the configuration, then the current
// directory. The result is absolute.
func appPaths(pathFlag string, args, configured []string) ([]string, error) {
	var paths []string
	switch {
	case pathFlag != "" && len(args) > 0:
		return nil, zerrors.NewValidationError("PATH_CONFLICT",
			"--path serves a single app; pass several apps as arguments instead")
	case pathFlag != "":
		paths = []string{pathFlag}
	case len(args) > 0:
		paths = args
	case len(configured) > 0:
		paths = configured
	default:
		paths = []string{"."}
	}

	resolved := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, zerrors.NewIOError("PATH_RESOLVE", "cannot resolve "+p, err)
		}
		resolved = append(resolved, abs)
	}
	return resolved, nil
}

// newAppsServer loads the apps and wires the preview server. Watchers are
// only created when watching is enabled.
func newAppsServer(cfg *config.Config, fs afero.Fs, paths []string, logger logging.Logger) (*server.PreviewServer, error) {
	apps, err := bundle.LoadApps(fs, paths, cfg.Apps.SettingsFile, logger)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	hub := livereload.NewHub(logger, metrics)
	opts := server.Options{
		Config:  cfg,
		Fs:      fs,
		Bundler: bundle.New(apps, cfg.Server.PublicURL, logger).WithDomain(cfg.Apps.Domain),
		Hub:     hub,
		Metrics: metrics,
		Logger:  logger,
	}

	if cfg.Watch.Enabled {
		opts.Pipeline = build.NewPipeline(build.LocalRebuilder{}, hub, logger)
		for _, local := range apps {
			w, err := newWatcher(cfg, local.Package.Root(), logger)
			if err != nil {
				return nil, err
			}
			opts.Watchers = append(opts.Watchers, w)
		}
	}

	return server.New(opts)
}

func newWatcher(cfg *config.Config, root string, logger logging.Logger) (*watcher.FileWatcher, error) {
	return watcher.NewFileWatcher(root, watcher.Options{
		Debounce: cfg.Watch.Debounce,
		Ignore:   cfg.Watch.Ignore,
	}, logger)
}

func serve(ctx context.Context, srv *server.PreviewServer, cfg *config.Config) error {
	err := srv.Start(ctx)
	if err != nil && zerrors.IsType(err, zerrors.ErrorTypeNetwork) {
		return zerrors.NewEnhancedError("Failed to start server", err,
			zerrors.ServerStartError(err, cfg.Server.Port))
	}
	return err
}
