package server

import (
	"errors"
	"io/fs"
	"net/http"
	"regexp"
	"strconv"

	"github.com/spf13/afero"

	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
	"github.com/pchhetri/zendesk-apps-tools/internal/livereload"
	"github.com/pchhetri/zendesk-apps-tools/internal/middleware"
	"github.com/pchhetri/zendesk-apps-tools/internal/validation"
)

// zendeskOrigin matches the account origins allowed to load app.js.
var zendeskOrigin = regexp.MustCompile(`^https?://[a-z0-9-]+\.(zendesk|zopim|zd-(dev|master|staging))\.com$`)

const deprecatedAssetMessage = "Deprecated. We support multiple apps now, please add app_id to the path for file, e.g. /-1/"

func (s *PreviewServer) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, route string, h http.Handler) {
		mux.Handle(pattern, s.metrics.Instrument(route, h))
	}

	handle("GET /app.js", "app_js", http.HandlerFunc(s.handleAppJS))
	handle("OPTIONS /", "preflight", http.HandlerFunc(s.handlePreflight))
	handle("GET /{appID}/{file...}", "app_asset", http.HandlerFunc(s.handleAppAsset))
	handle("GET /{file}", "asset", http.HandlerFunc(s.handleAsset))
	handle("GET /livereload", "livereload", livereload.NewHandler(s.hub, s.config.Server.LiveReload, s.logger))
	handle("GET /guide/style.css", "guide_style", http.HandlerFunc(s.handleGuideStyle))
	handle("GET /guide/{path...}", "guide_file", http.HandlerFunc(s.handleGuideFile))
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.Handle("GET /health", s.health.HTTPHandler())

	chain := middleware.NewMiddlewareChain(
		middleware.Recover(s.logger),
		middleware.Logging(s.logger),
	)
	return chain.Apply(mux)
}

// allowOrigin echoes Origin back when it is a Zendesk account. It reports
// whether the origin matched.
func allowOrigin(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if !zendeskOrigin.MatchString(origin) {
		return false
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	return true
}

func (s *PreviewServer) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if allowOrigin(w, r) {
		if headers := r.Header.Get("Access-Control-Request-Headers"); headers != "" {
			w.Header().Set("Access-Control-Allow-Headers", headers)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *PreviewServer) handleAppJS(w http.ResponseWriter, r *http.Request) {
	if s.bundler == nil {
		http.NotFound(w, r)
		return
	}
	allowOrigin(w, r)

	result, err := s.bundler.Bundle(r.Context(), r.URL.Query().Get("locale"))
	s.metrics.ObserveBundle(err)
	if err != nil {
		s.logger.Error(r.Context(), err, "Bundling apps failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(result.Script))
}

func (s *PreviewServer) handleAppAsset(w http.ResponseWriter, r *http.Request) {
	if s.bundler == nil {
		http.NotFound(w, r)
		return
	}

	id, err := strconv.Atoi(r.PathValue("appID"))
	if err != nil || id >= 0 {
		http.NotFound(w, r)
		return
	}
	local, ok := s.bundler.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	pkg := local.Package
	s.serveFile(w, r, pkg.Fs(), pkg.AssetsDir(), r.PathValue("file"))
}

// handleAsset serves /{file}. With apps the route only explains the
// per-app asset paths; for a theme it serves the theme's assets.
func (s *PreviewServer) handleAsset(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	if s.bundler != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(deprecatedAssetMessage + file))
		return
	}

	allowOrigin(w, r)
	s.serveFile(w, r, s.theme.Fs(), s.theme.Path("assets"), file)
}

func (s *PreviewServer) handleGuideStyle(w http.ResponseWriter, r *http.Request) {
	if s.theme == nil {
		http.NotFound(w, r)
		return
	}

	css, err := s.theme.Stylesheet()
	if err != nil {
		if zerrors.IsNotFound(err) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error(r.Context(), err, "Rendering style.css failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(css))
}

func (s *PreviewServer) handleGuideFile(w http.ResponseWriter, r *http.Request) {
	if s.theme == nil {
		http.NotFound(w, r)
		return
	}
	s.serveFile(w, r, s.theme.Fs(), s.theme.Root(), r.PathValue("path"))
}

// serveFile serves the regular file rel below root, or 404.
func (s *PreviewServer) serveFile(w http.ResponseWriter, r *http.Request, fsys afero.Fs, root, rel string) {
	name, ok := validation.ContainedPath(root, rel)
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, err := fsys.Open(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(r.Context(), err, "Opening asset failed", "path", name)
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
