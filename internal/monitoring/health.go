package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
	"github.com/pchhetri/zendesk-apps-tools/internal/version"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// HealthCheck is the outcome of one check.
type HealthCheck struct {
	Name     string       `json:"name"`
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Critical bool         `json:"critical"`
}

// HealthChecker defines the interface for health check functions
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
	Name() string
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc struct {
	name    string
	checkFn func(ctx context.Context) HealthCheck
}

func NewHealthCheckFunc(name string, checkFn func(ctx context.Context) HealthCheck) *HealthCheckFunc {
	return &HealthCheckFunc{name: name, checkFn: checkFn}
}

func (h *HealthCheckFunc) Check(ctx context.Context) HealthCheck {
	return h.checkFn(ctx)
}

func (h *HealthCheckFunc) Name() string {
	return h.name
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Version   string        `json:"version"`
	GoVersion string        `json:"go_version"`
	Uptime    string        `json:"uptime"`
	Sessions  int           `json:"sessions"`
	Checks    []HealthCheck `json:"checks"`
}

// HealthMonitor runs its checks on demand, once per /health request.
type HealthMonitor struct {
	checks   map[string]HealthChecker
	sessions func() int
	started  time.Time
	timeout  time.Duration
	mutex    sync.RWMutex
	logger   logging.Logger
}

// NewHealthMonitor creates a monitor reporting sessions() as the number of
// connected livereload sessions. sessions may be nil.
func NewHealthMonitor(sessions func() int, logger logging.Logger) *HealthMonitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HealthMonitor{
		checks:   make(map[string]HealthChecker),
		sessions: sessions,
		started:  time.Now(),
		timeout:  5 * time.Second,
		logger:   logger.WithComponent("health"),
	}
}

// RegisterCheck registers a health check, replacing one with the same name.
func (hm *HealthMonitor) RegisterCheck(checker HealthChecker) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	hm.checks[checker.Name()] = checker
}

// GetHealth runs every check and folds the results into one status: a
// failing critical check makes the server unhealthy, any other failure
// degraded.
func (hm *HealthMonitor) GetHealth(ctx context.Context) HealthResponse {
	hm.mutex.RLock()
	checkers := make([]HealthChecker, 0, len(hm.checks))
	for _, checker := range hm.checks {
		checkers = append(checkers, checker)
	}
	hm.mutex.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Version:   version.GetVersion(),
		GoVersion: runtime.Version(),
		Uptime:    time.Since(hm.started).Round(time.Second).String(),
		Checks:    make([]HealthCheck, 0, len(checkers)),
	}
	if hm.sessions != nil {
		resp.Sessions = hm.sessions()
	}

	for _, checker := range checkers {
		result := checker.Check(ctx)
		if result.Name == "" {
			result.Name = checker.Name()
		}
		resp.Checks = append(resp.Checks, result)

		switch {
		case result.Status == HealthStatusHealthy:
		case result.Critical:
			resp.Status = HealthStatusUnhealthy
		case resp.Status == HealthStatusHealthy:
			resp.Status = HealthStatusDegraded
		}

		if result.Status != HealthStatusHealthy {
			hm.logger.Warn(ctx, nil, "Health check failed",
				"name", result.Name, "status", string(result.Status), "message", result.Message)
		}
	}
	sort.Slice(resp.Checks, func(i, j int) bool {
		return resp.Checks[i].Name < resp.Checks[j].Name
	})

	return resp
}

// HTTPHandler serves GetHealth as JSON. Unhealthy answers 503.
func (hm *HealthMonitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.GetHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(health); err != nil {
			hm.logger.Error(r.Context(), err, "Failed to encode health response")
		}
	}
}

// PathHealthChecker reports whether root is still a readable directory.
// Editors that replace a directory on save can briefly remove it.
func PathHealthChecker(name string, fs afero.Fs, root string) HealthChecker {
	return NewHealthCheckFunc(name, func(ctx context.Context) HealthCheck {
		check := HealthCheck{Name: name, Status: HealthStatusHealthy, Critical: true}

		info, err := fs.Stat(root)
		switch {
		case err != nil:
			check.Status = HealthStatusUnhealthy
			check.Message = err.Error()
		case !info.IsDir():
			check.Status = HealthStatusUnhealthy
			check.Message = root + " is not a directory"
		}
		return check
	})
}
