// Package livereload implements the LiveReload 2 push channel used by the
// preview: a hub of registered sessions and the websocket session that
// speaks the protocol to the browser.
package livereload

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
	"github.com/pchhetri/zendesk-apps-tools/internal/monitoring"
)

// Handle identifies a registration.
type Handle uuid.UUID

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

// Notifier receives reloads. Returning an error removes it from the hub,
// and a notifier with a Close() error method is closed so the browser
// behind it reconnects.
type Notifier interface {
	Notify(path string) error
}

type closer interface {
	Close() error
}

type entry struct {
	handle   Handle
	notifier Notifier
}

// Hub fans reload notifications out to every registered notifier.
// Broadcasts are serialised, so every notifier sees them in the same order.
type Hub struct {
	mutex   sync.Mutex
	entries []entry
	logger  logging.Logger
	metrics *monitoring.Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(logger logging.Logger, metrics *monitoring.Metrics) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{
		logger:  logger.WithComponent("livereload"),
		metrics: metrics,
	}
}

// Register adds n and returns its handle.
func (h *Hub) Register(n Notifier) Handle {
	handle := Handle(uuid.New())
	h.add(handle, n)
	return handle
}

func (h *Hub) add(handle Handle, n Notifier) {
	h.mutex.Lock()
	h.entries = append(h.entries, entry{handle: handle, notifier: n})
	count := len(h.entries)
	h.mutex.Unlock()

	h.observe(count)
	h.logger.Debug(context.Background(), "Session registered", "session", handle.String(), "sessions", count)
}

// Unregister removes the registration for handle. Unknown handles are
// ignored.
func (h *Hub) Unregister(handle Handle) {
	h.mutex.Lock()
	removed := h.remove(handle)
	count := len(h.entries)
	h.mutex.Unlock()

	if removed {
		h.observe(count)
		h.logger.Debug(context.Background(), "Session unregistered", "session", handle.String(), "sessions", count)
	}
}

// Broadcast notifies every registered notifier of path, or of a full page
// reload when path is empty. Notifiers that fail are dropped.
func (h *Hub) Broadcast(path string) {
	h.mutex.Lock()
	var failed []entry
	for _, e := range h.entries {
		if err := e.notifier.Notify(path); err != nil {
			h.logger.Debug(context.Background(), "Dropping session", "session", e.handle.String(), "error", err)
			failed = append(failed, e)
		}
	}
	for _, e := range failed {
		h.remove(e.handle)
	}
	count := len(h.entries)
	h.mutex.Unlock()

	// Closing waits for the peer's close frame, so it must not hold up
	// the broadcast.
	for _, e := range failed {
		if c, ok := e.notifier.(closer); ok {
			go func() { _ = c.Close() }()
		}
	}

	if h.metrics != nil {
		h.metrics.Broadcasts.Inc()
	}
	if len(failed) > 0 {
		h.observe(count)
	}
	h.logger.Info(context.Background(), "Reload", "path", path, "sessions", count)
}

// Len returns the number of registered notifiers.
func (h *Hub) Len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.entries)
}

// Close unregisters everything and closes the notifiers that can be closed.
func (h *Hub) Close() {
	h.mutex.Lock()
	entries := h.entries
	h.entries = nil
	h.mutex.Unlock()

	for _, e := range entries {
		if c, ok := e.notifier.(closer); ok {
			_ = c.Close()
		}
	}
	h.observe(0)
}

// remove must be called with the mutex held.
func (h *Hub) remove(handle Handle) bool {
	for i, e := range h.entries {
		if e.handle == handle {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (h *Hub) observe(count int) {
	if h.metrics != nil {
		h.metrics.Sessions.Set(float64(count))
	}
}
