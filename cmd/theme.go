package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pchhetri/zendesk-apps-tools/internal/build"
	"github.com/pchhetri/zendesk-apps-tools/internal/config"
	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
	"github.com/pchhetri/zendesk-apps-tools/internal/livereload"
	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
	"github.com/pchhetri/zendesk-apps-tools/internal/monitoring"
	"github.com/pchhetri/zendesk-apps-tools/internal/server"
	"github.com/pchhetri/zendesk-apps-tools/internal/theme"
	"github.com/pchhetri/zendesk-apps-tools/internal/upload"
)

var themeCmd = &cobra.Command{
	Use:   "theme",
	Short: "Develop Help Center themes",
}

var themePreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Preview a theme in development",
	Long: `Upload the theme's templates to the account's local preview endpoint,
then serve its stylesheet and assets and upload again whenever a template
or the manifest changes. Stylesheet, script and asset edits only reload the
browser.`,
	Example: `  zat theme preview --subdomain acme --username me@acme.com --token $TOKEN
  ZAT_THEME_SUBDOMAIN=acme zat theme preview --role agent`,
	RunE: runThemePreview,
}

var themeFlagKeys = map[string]string{
	"theme.path":      "path",
	"theme.role":      "role",
	"theme.subdomain": "subdomain",
	"theme.username":  "username",
	"theme.token":     "token",
	"theme.password":  "password",
}

func init() {
	themeCmd.AddCommand(themePreviewCmd)
	rootCmd.AddCommand(themeCmd)

	flags := themePreviewCmd.Flags()
	flags.StringP("path", "p", ".", "path to the theme")
	flags.String("role", "manager", "role to preview as ("+strings.Join(config.Roles, ", ")+")")
	flags.String("subdomain", "", "account subdomain")
	flags.String("username", "", "account email")
	flags.String("token", "", "API token")
	flags.String("password", "", "account password, when no token is given")
	addServeFlags(flags)
}

func runThemePreview(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	if err := bindFlags(v, cmd.Flags(), mergeKeys(serveFlagKeys, themeFlagKeys)); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(v)
	if err != nil {
		return zerrors.NewEnhancedError("Failed to load configuration", err,
			zerrors.ConfigurationError(err.Error(), zatConfigFile))
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return zerrors.NewEnhancedError("Invalid log level", err, nil)
	}

	preview, err := newThemePreview(cfg, afero.NewOsFs(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := preview.initialUpload(ctx); err != nil {
		return err
	}

	srv, err := preview.server(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Ready at %s\n", preview.client.PreviewURL())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop.")
	return serve(ctx, srv, cfg)
}

// themePreview holds the parts of `zat theme preview` that exist before
// the server starts.
type themePreview struct {
	theme    *theme.Theme
	client   *upload.Client
	hub      *livereload.Hub
	metrics  *monitoring.Metrics
	pipeline *build.Pipeline
}

func newThemePreview(cfg *config.Config, fs afero.Fs, logger logging.Logger, opts ...upload.Option) (*themePreview, error) {
	if err := cfg.Theme.RequireUploadCredentials(); err != nil {
		return nil, zerrors.NewEnhancedError("Cannot preview theme", err,
			zerrors.ConfigurationError(err.Error(), cfg.Theme.Path))
	}

	root, err := filepath.Abs(cfg.Theme.Path)
	if err != nil {
		return nil, zerrors.NewIOError("PATH_RESOLVE", "cannot resolve "+cfg.Theme.Path, err)
	}

	th := theme.New(fs, root, cfg.Server.PublicURL, cfg.Theme.Role)
	if _, err := th.Manifest(); err != nil {
		return nil, zerrors.NewEnhancedError("Invalid theme", err,
			zerrors.ConfigurationError("manifest: "+err.Error(), root))
	}

	client := upload.NewClient(cfg.Theme.BaseURL, upload.Credentials{
		Username: cfg.Theme.Username,
		Token:    cfg.Theme.Token,
		Password: cfg.Theme.Password,
	}, logger, opts...)

	metrics := monitoring.NewMetrics()
	hub := livereload.NewHub(logger, metrics)
	rebuilder := &build.UploadRebuilder{Theme: th, Client: client, Logger: logger}

	return &themePreview{
		theme:    th,
		client:   client,
		hub:      hub,
		metrics:  metrics,
		pipeline: build.NewPipeline(rebuilder, hub, logger),
	}, nil
}

// initialUpload uploads the theme once before serving. Unlike later
// uploads, a failure here ends the command.
func (p *themePreview) initialUpload(ctx context.Context) error {
	err := p.pipeline.Run(ctx)
	if err == nil {
		return nil
	}

	status := 0
	var uploadErr *upload.UploadError
	if errors.As(err, &uploadErr) {
		status = uploadErr.Status
	}
	return zerrors.NewEnhancedError("Initial upload failed", err, zerrors.UploadError(status))
}

func (p *themePreview) server(cfg *config.Config, logger logging.Logger) (*server.PreviewServer, error) {
	opts := server.Options{
		Config:   cfg,
		Fs:       p.theme.Fs(),
		Theme:    p.theme,
		Pipeline: p.pipeline,
		Hub:      p.hub,
		Metrics:  p.metrics,
		Logger:   logger,
	}
	if cfg.Watch.Enabled {
		w, err := newWatcher(cfg, p.theme.Root(), logger)
		if err != nil {
			return nil, err
		}
		opts.Watchers = append(opts.Watchers, w)
	}
	return server.New(opts)
}
