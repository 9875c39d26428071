// Package internal contains the implementation packages of the zat CLI.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - app: app packages on disk, their manifests and compiled app.js entries
//   - bundle: the multi-app bundler behind /app.js and local app ids
//   - settings: cached settings.yml / settings.json values per app
//   - theme: Help Center theme packages, payloads and the zass stylesheet
//   - upload: the client for the account's local theme preview endpoint
//   - watcher: filesystem monitoring with debouncing and change classification
//   - build: the upload/rebuild pipeline that runs after each change
//   - livereload: the reload hub and the LiveReload websocket sessions
//   - server: the preview HTTP server tying everything together
//   - config, logging, errors, monitoring, middleware, validation, version:
//     the ambient stack shared by all of the above
//
// # Data Flow
//
// The watcher reports batches of changes to the build pipeline. The
// pipeline decides whether the change needs a theme upload, runs it, and
// then tells the livereload hub which path to reload. The hub fans the
// reload out to every connected browser session. Apps are compiled on each
// /app.js request, so apps mode never uploads.
//
// # Testing Strategy
//
//   - Unit tests run against afero's in-memory filesystem where possible
//   - httptest servers stand in for the account's preview endpoint
//   - Property tests use gopter and are built with the "property" tag
//   - Fuzz tests cover configuration loading and request path handling
package internal
