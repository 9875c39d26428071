// Package server is the local preview HTTP server. It serves the compiled
// app bundle (apps mode) or the theme's stylesheet and files (theme mode),
// the livereload push channel, and the metrics and health endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/pchhetri/zendesk-apps-tools/internal/build"
	"github.com/pchhetri/zendesk-apps-tools/internal/bundle"
	"github.com/pchhetri/zendesk-apps-tools/internal/config"
	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
	"github.com/pchhetri/zendesk-apps-tools/internal/livereload"
	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
	"github.com/pchhetri/zendesk-apps-tools/internal/monitoring"
	"github.com/pchhetri/zendesk-apps-tools/internal/theme"
	"github.com/pchhetri/zendesk-apps-tools/internal/watcher"
)

const shutdownTimeout = 5 * time.Second

// Options wires a PreviewServer. Exactly one of Bundler and Theme is set.
type Options struct {
	Config  *config.Config
	Fs      afero.Fs
	Bundler *bundle.Bundler
	Theme   *theme.Theme

	// Pipeline and Watchers are optional; without them the server never
	// pushes reloads.
	Pipeline *build.Pipeline
	Watchers []*watcher.FileWatcher

	Hub     *livereload.Hub
	Metrics *monitoring.Metrics
	Logger  logging.Logger
}

// PreviewServer serves one bundle or theme with live reload.
type PreviewServer struct {
	config   *config.Config
	fs       afero.Fs
	bundler  *bundle.Bundler
	theme    *theme.Theme
	pipeline *build.Pipeline
	watchers []*watcher.FileWatcher
	hub      *livereload.Hub
	metrics  *monitoring.Metrics
	health   *monitoring.HealthMonitor
	logger   logging.Logger
	handler  http.Handler

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New creates a preview server from opts.
func New(opts Options) (*PreviewServer, error) {
	if opts.Config == nil {
		return nil, zerrors.NewInternalError("SERVER_CONFIG", "server configuration is required", nil)
	}
	if (opts.Bundler == nil) == (opts.Theme == nil) {
		return nil, zerrors.NewConfigError("SERVER_MODE", "serve either apps or a theme", nil)
	}

	s := &PreviewServer{
		config:   opts.Config,
		fs:       opts.Fs,
		bundler:  opts.Bundler,
		theme:    opts.Theme,
		pipeline: opts.Pipeline,
		watchers: opts.Watchers,
		hub:      opts.Hub,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	s.logger = s.logger.WithComponent("server")
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.metrics == nil {
		s.metrics = monitoring.NewMetrics()
	}
	if s.hub == nil {
		s.hub = livereload.NewHub(s.logger, s.metrics)
	}

	s.health = monitoring.NewHealthMonitor(s.hub.Len, s.logger)
	if s.bundler != nil {
		for _, local := range s.bundler.Apps() {
			name := "app " + strconv.Itoa(local.ID())
			s.health.RegisterCheck(monitoring.PathHealthChecker(name, local.Package.Fs(), local.Package.Root()))
		}
	} else {
		s.health.RegisterCheck(monitoring.PathHealthChecker("theme", s.theme.Fs(), s.theme.Root()))
	}

	if s.pipeline != nil {
		s.health.RegisterCheck(s.pipeline.HealthCheck())
		s.pipeline.AddCallback(func(result build.BuildResult) {
			s.metrics.ObserveBuild(result.Error, result.Uploaded, result.Duration)
		})
	}

	s.handler = s.routes()
	return s, nil
}

// Handler returns the server's routes.
func (s *PreviewServer) Handler() http.Handler {
	return s.handler
}

// Hub returns the livereload hub sessions register with.
func (s *PreviewServer) Hub() *livereload.Hub {
	return s.hub
}

// Addr is the configured listen address.
func (s *PreviewServer) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *PreviewServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return zerrors.NewNetworkError("LISTEN_FAILED", fmt.Sprintf("cannot listen on %s", s.Addr()), err)
	}
	return s.Serve(ctx, listener)
}

// Serve runs the HTTP server on listener together with the file watchers.
// It returns when ctx is cancelled or either of them fails, after shutting
// everything down.
func (s *PreviewServer) Serve(ctx context.Context, listener net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}
	s.serverMutex.Lock()
	s.httpServer = httpServer
	s.serverMutex.Unlock()

	if s.pipeline != nil {
		s.pipeline.Start(gctx)
		for _, w := range s.watchers {
			w.AddHandler(s.pipeline.HandleChanges(w.Root()))
		}
	}
	for _, w := range s.watchers {
		if err := w.Start(gctx); err != nil {
			_ = listener.Close()
			return err
		}
	}

	g.Go(func() error {
		s.logger.Info(gctx, "Serving", "addr", listener.Addr().String(), "public_url", s.config.Server.PublicURL)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return zerrors.NewNetworkError("SERVE_FAILED", "preview server stopped", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops the watchers, waits for a running rebuild, closes every
// livereload session and stops the HTTP server.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down")

		for _, w := range s.watchers {
			if err := w.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Stopping watcher", "root", w.Root())
			}
		}
		if s.pipeline != nil {
			s.pipeline.Wait()
		}

		s.hub.Close()

		s.serverMutex.RLock()
		httpServer := s.httpServer
		s.serverMutex.RUnlock()
		if httpServer != nil {
			shutdownErr = httpServer.Shutdown(ctx)
		}
	})

	return shutdownErr
}
