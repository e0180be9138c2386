package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultMirrorBuffer = 256
	defaultClientBuffer = 32
	mirrorWriteTimeout  = 5 * time.Second
)

// WithMirrorLogger sets the logger for the mirror
func WithMirrorLogger(logger *slog.Logger) func(*Mirror) {
	return func(m *Mirror) {
		m.logger = logger
	}
}

// WithClientBuffer sets the number of frames queued per websocket client
// before frames are dropped for that client
func WithClientBuffer(size int) func(*Mirror) {
	return func(m *Mirror) {
		if size > 0 {
			m.clientBuf = size
		}
	}
}

// Mirror fans telemetry frames out to websocket clients as JSON. Slow clients
// lose frames rather than slowing the broadcasters down.
type Mirror struct {
	broadcast  chan Frame
	register   chan chan Frame
	unregister chan chan Frame
	clients    map[chan Frame]struct{}
	clientBuf  int
	done       chan struct{}

	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewMirror creates a Mirror, Run must be called for frames to flow
func NewMirror(options ...func(*Mirror)) *Mirror {
	m := Mirror{
		broadcast:  make(chan Frame, defaultMirrorBuffer),
		register:   make(chan chan Frame),
		unregister: make(chan chan Frame),
		clients:    make(map[chan Frame]struct{}),
		clientBuf:  defaultClientBuffer,
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&m)
	}

	return &m
}

// Run dispatches frames to subscribers until ctx is cancelled
func (m *Mirror) Run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			for ch := range m.clients {
				close(ch)
			}
			clear(m.clients)
			return
		case ch := <-m.register:
			m.clients[ch] = struct{}{}
		case ch := <-m.unregister:
			if _, ok := m.clients[ch]; ok {
				delete(m.clients, ch)
				close(ch)
			}
		case f := <-m.broadcast:
			for ch := range m.clients {
				select {
				case ch <- f:
				default:
				}
			}
		}
	}
}

// Consume implements Sink. It never blocks, frames are dropped when the
// mirror is backed up or stopped.
func (m *Mirror) Consume(f Frame) {
	select {
	case m.broadcast <- f:
	default:
	}
}

// Subscribe registers a new frame consumer. It returns nil once the mirror has stopped.
func (m *Mirror) Subscribe() chan Frame {
	ch := make(chan Frame, m.clientBuf)
	select {
	case m.register <- ch:
		return ch
	case <-m.done:
		return nil
	}
}

// Unsubscribe removes a consumer registered with Subscribe
func (m *Mirror) Unsubscribe(ch chan Frame) {
	select {
	case m.unregister <- ch:
	case <-m.done:
	}
}

// ServeHTTP upgrades the request to a websocket and streams frames to it
func (m *Mirror) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	frames := m.Subscribe()
	if frames == nil {
		return
	}

	logger := m.logger.With(slog.String("remote", r.RemoteAddr))
	logger.Info("mirror client connected")
	defer logger.Info("mirror client disconnected")

	// the reader only detects the peer going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			m.Unsubscribe(frames)
			return
		case f, ok := <-frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(mirrorWriteTimeout))
			if err := conn.WriteJSON(f); err != nil {
				logger.Debug("writing frame failed", slog.String("error", err.Error()))
				m.Unsubscribe(frames)
				return
			}
		}
	}
}
