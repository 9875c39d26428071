package livereload

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
)

const (
	// ServerName is announced in the hello reply.
	ServerName = "ZAT LiveReload 2"

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10

	defaultQueueSize = 64
)

// Protocols are the LiveReload protocols the server speaks.
var Protocols = []string{
	"http://livereload.com/protocols/official-7",
	"http://livereload.com/protocols/official-8",
	"http://livereload.com/protocols/official-9",
	"http://livereload.com/protocols/2.x-origin-version-negotiation",
	"http://livereload.com/protocols/2.x-remote-control",
}

var (
	// ErrSessionClosed is returned when sending to a closed session.
	ErrSessionClosed = errors.New("livereload: session closed")
	// ErrQueueFull is returned when a session is not draining its queue.
	// Notify never returns it; reloads that do not fit are folded into one
	// full page reload.
	ErrQueueFull = errors.New("livereload: session queue full")
)

// State is the protocol state of a session.
type State int32

const (
	StateHandshakePending State = iota
	StateNegotiated
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshakePending:
		return "handshake_pending"
	case StateNegotiated:
		return "negotiated"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reload tells the browser to reload path. An empty path reloads the page.
type Reload struct {
	Command string `json:"command"`
	Path    string `json:"path"`
	LiveCSS bool   `json:"liveCSS"`
	LiveImg bool   `json:"liveImg"`
}

// Hello is the handshake reply.
type Hello struct {
	Command    string   `json:"command"`
	Protocols  []string `json:"protocols"`
	ServerName string   `json:"serverName"`
}

type command struct {
	Command string `json:"command"`
}

// Session is one browser connection. Outbound messages are queued and
// written by a single goroutine, so they reach the browser in the order
// they were queued.
type Session struct {
	conn   *websocket.Conn
	hub    *Hub
	handle Handle
	queue  chan []byte
	state  atomic.Int32
	done   chan struct{}
	once   sync.Once
	logger logging.Logger

	// stale is set when a reload did not fit in queue. The write pump
	// answers it with a full page reload once the queue has drained.
	stale atomic.Bool
	wake  chan struct{}
}

func newSession(conn *websocket.Conn, hub *Hub, queueSize int, logger logging.Logger) *Session {
	return &Session{
		conn:   conn,
		hub:    hub,
		queue:  make(chan []byte, queueSize),
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
		logger: logger,
	}
}

// State returns the session's current protocol state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Notify queues a reload of path. When the queue is full the session is
// marked stale instead, and the browser gets a full page reload after the
// queued messages.
func (s *Session) Notify(path string) error {
	msg, err := reloadMessage(path)
	if err != nil {
		return err
	}
	err = s.send(msg)
	if !errors.Is(err, ErrQueueFull) {
		return err
	}

	s.stale.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func reloadMessage(path string) ([]byte, error) {
	return json.Marshal(Reload{Command: "reload", Path: path, LiveCSS: true, LiveImg: true})
}

// Close closes the session and removes it from the hub. It is safe to call
// more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		s.hub.Unregister(s.handle)
		err = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}

func (s *Session) send(msg []byte) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.queue <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrQueueFull
	}
}

// run registers the session, serves it until either side closes, and
// cleans up.
func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.handle = Handle(uuid.New())
	s.hub.add(s.handle, s)
	defer s.Close()

	go s.writePump(ctx)
	s.readPump(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				s.logger.Debug(ctx, "Session read ended", "session", s.handle.String(), "error", err)
			}
			return
		}

		if err := s.handleMessage(data); err != nil {
			return
		}
	}
}

// handleMessage answers hello and echoes everything else, malformed JSON
// included.
func (s *Session) handleMessage(data []byte) error {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil || cmd.Command != "hello" {
		return s.send(data)
	}

	s.state.CompareAndSwap(int32(StateHandshakePending), int32(StateNegotiated))
	reply, err := json.Marshal(Hello{Command: "hello", Protocols: Protocols, ServerName: ServerName})
	if err != nil {
		return err
	}
	if err := s.send(reply); err != nil {
		return err
	}
	s.state.CompareAndSwap(int32(StateNegotiated), int32(StateOpen))
	return nil
}

func (s *Session) writePump(ctx context.Context) {
	for {
		select {
		case msg := <-s.queue:
			if !s.write(ctx, msg) {
				return
			}
		case <-s.wake:
			if !s.flushStale(ctx) {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// flushStale writes whatever is queued and then, if a reload was folded
// away, one full page reload.
func (s *Session) flushStale(ctx context.Context) bool {
	for drained := false; !drained; {
		select {
		case msg := <-s.queue:
			if !s.write(ctx, msg) {
				return false
			}
		default:
			drained = true
		}
	}

	if !s.stale.Swap(false) {
		return true
	}
	msg, err := reloadMessage("")
	if err != nil {
		return false
	}
	return s.write(ctx, msg)
}

func (s *Session) write(ctx context.Context, msg []byte) bool {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	err := s.conn.Write(writeCtx, websocket.MessageText, msg)
	cancel()
	if err != nil {
		s.logger.Debug(ctx, "Session write failed", "session", s.handle.String(), "error", err)
		_ = s.Close()
		return false
	}
	return true
}

// Handler upgrades /livereload requests into sessions on hub.
type Handler struct {
	hub       *Hub
	enabled   bool
	queueSize int
	logger    logging.Logger
}

// NewHandler returns the /livereload handler. A disabled handler answers
// every request with 500.
func NewHandler(hub *Hub, enabled bool, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Handler{
		hub:       hub,
		enabled:   enabled,
		queueSize: defaultQueueSize,
		logger:    logger.WithComponent("livereload"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.enabled {
		http.Error(w, "LiveReload is disabled", http.StatusInternalServerError)
		return
	}
	if !isUpgrade(r) {
		http.Error(w, "LiveReload requires a websocket connection", http.StatusInternalServerError)
		return
	}

	// The preview page lives on the account's domain, never on ours.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	session := newSession(conn, h.hub, h.queueSize, h.logger)
	session.run(r.Context())
}

func isUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, value := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(value), "upgrade") {
			return true
		}
	}
	return false
}
