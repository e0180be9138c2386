package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/roman-kulish/mock-drone/internal/drone"
	"github.com/roman-kulish/mock-drone/internal/flight"
	"github.com/roman-kulish/mock-drone/internal/session"
	"github.com/roman-kulish/mock-drone/internal/telemetry"
)

const (
	// DefaultAddr is the control address the drone listens on
	DefaultAddr = "127.0.0.1:8890"

	// DefaultReapInterval is how often idle sessions are looked for
	DefaultReapInterval = 30 * time.Second

	// maxDatagramSize is large enough for any text command
	maxDatagramSize = 2048
)

// Recorder receives the session events of the server. Errors are logged and
// never interrupt command handling.
type Recorder interface {
	RecordSession(ctx context.Context, s *session.Session) error
	RecordCommand(ctx context.Context, s *session.Session, c *flight.Command) error
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStatePort sets the UDP port telemetry is pushed to on the client host
func WithStatePort(port int) func(*Server) {
	return func(s *Server) {
		s.statePort = port
	}
}

// WithTelemetryInterval sets the period between two telemetry datagrams
func WithTelemetryInterval(d time.Duration) func(*Server) {
	return func(s *Server) {
		s.interval = d
	}
}

// WithFormat sets the wire format of telemetry
func WithFormat(f drone.Format) func(*Server) {
	return func(s *Server) {
		s.format = f
	}
}

// WithSinks adds consumers of every telemetry frame of every session
func WithSinks(sinks ...telemetry.Sink) func(*Server) {
	return func(s *Server) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithRecorder sets the recorder notified of new sessions and handled commands
func WithRecorder(r Recorder) func(*Server) {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithIdleTimeout enables the expiry of sessions that have not sent a command
// for longer than idle. The sessions are checked every interval.
func WithIdleTimeout(idle, interval time.Duration) func(*Server) {
	return func(s *Server) {
		s.idleTimeout = idle
		if interval > 0 {
			s.reapInterval = interval
		}
	}
}

// Server is the command server of the simulated drone. It receives text
// commands over UDP, runs them against the session of the sender and replies
// to it. Every session gets a single telemetry broadcaster.
type Server struct {
	addr     string
	registry *session.Registry
	executor session.Executor

	statePort    int
	interval     time.Duration
	format       drone.Format
	sinks        []telemetry.Sink
	recorder     Recorder
	idleTimeout  time.Duration
	reapInterval time.Duration
	logger       *slog.Logger

	handled  atomic.Int64
	rejected atomic.Int64

	wg sync.WaitGroup
}

// New creates a Server listening on addr. Sessions are kept in registry and
// commands are run by executor.
func New(addr string, registry *session.Registry, executor session.Executor, options ...func(*Server)) *Server {
	s := Server{
		addr:         addr,
		registry:     registry,
		executor:     executor,
		statePort:    telemetry.DefaultStatePort,
		interval:     telemetry.DefaultInterval,
		format:       drone.FormatNamed,
		reapInterval: DefaultReapInterval,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Serve binds the control address and serves it until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolving address %s: %w", s.addr, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.addr, err)
	}

	return s.ServeConn(ctx, conn)
}

// ServeConn serves commands received on conn until ctx is cancelled. The
// connection is closed on return. ServeConn returns only once every command
// handler and telemetry broadcaster has exited.
func (s *Server) ServeConn(ctx context.Context, conn *net.UDPConn) error {
	stateConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("opening telemetry socket: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info("drone listening",
		slog.String("addr", conn.LocalAddr().String()),
		slog.Int("statePort", s.statePort),
		slog.String("format", s.format.String()))

	// unblocks ReadFromUDP on shutdown
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if s.idleTimeout > 0 {
		s.wg.Add(1)
		go s.reap(ctx)
	}

	err = s.receive(ctx, conn, stateConn)

	cancel()
	s.wg.Wait()

	s.logger.Info("drone stopped",
		slog.String("sessions", humanize.Comma(int64(s.registry.Len()))),
		slog.String("commands", humanize.Comma(s.handled.Load())),
		slog.String("rejected", humanize.Comma(s.rejected.Load())))

	return errors.Join(err, stateConn.Close())
}

func (s *Server) receive(ctx context.Context, conn, stateConn *net.UDPConn) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("reading command: %w", err)
			}
			s.logger.Warn("reading command failed", slog.String("error", err.Error()))
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		s.wg.Add(1)
		go s.handle(ctx, conn, stateConn, addr, payload)
	}
}

func (s *Server) handle(ctx context.Context, conn, stateConn *net.UDPConn, addr *net.UDPAddr, payload []byte) {
	defer s.wg.Done()

	sess, created := s.registry.GetOrCreate(addr)
	logger := s.logger.With(slog.String("session", sess.ID.String()), slog.String("client", sess.Key()))

	if created {
		logger.Info("session created")
		if s.recorder != nil {
			if err := s.recorder.RecordSession(context.WithoutCancel(ctx), sess); err != nil {
				logger.Error("recording session failed", slog.String("error", err.Error()))
			}
		}
	}

	received := time.Now()
	resp, err := sess.Execute(ctx, s.executor, payload)
	latency := time.Since(received)

	var parseErr *drone.ParseError
	switch {
	case err == nil:
	case errors.As(err, &parseErr):
		s.rejected.Add(1)
		logger.Warn("command rejected", slog.String("command", parseErr.Command), slog.String("error", err.Error()))
	case ctx.Err() != nil:
		logger.Debug("command abandoned", slog.String("command", string(payload)))
	default:
		logger.Error("command failed", slog.String("error", err.Error()))
	}

	if resp != "" {
		s.handled.Add(1)
		if _, wErr := conn.WriteToUDP([]byte(resp), sess.Addr); wErr != nil {
			logger.Warn("sending response failed", slog.String("error", wErr.Error()))
		} else {
			logger.Debug("command handled",
				slog.String("command", string(payload)),
				slog.String("response", resp),
				slog.Duration("latency", latency))
		}
	}

	if s.recorder != nil {
		s.recordCommand(context.WithoutCancel(ctx), logger, sess, payload, resp, received, latency, err)
	}

	s.ensureTelemetry(ctx, stateConn, sess, logger)
}

func (s *Server) recordCommand(ctx context.Context, logger *slog.Logger, sess *session.Session, payload []byte, resp string,
	received time.Time, latency time.Duration, cmdErr error,
) {
	state := sess.Snapshot()
	c := flight.Command{
		Timestamp: received,
		Command:   string(payload),
		Response:  resp,
		Latency:   latency,
		Battery:   state.Battery,
		Height:    state.Height,
	}
	if cmdErr != nil {
		msg := cmdErr.Error()
		c.Error = &msg
	}

	if err := s.recorder.RecordCommand(ctx, sess, &c); err != nil {
		logger.Error("recording command failed", slog.String("error", err.Error()))
	}
}

// ensureTelemetry starts the broadcaster of sess unless it is already running
func (s *Server) ensureTelemetry(ctx context.Context, sender telemetry.Sender, sess *session.Session, logger *slog.Logger) {
	tctx, ok := sess.BeginTelemetry(ctx)
	if !ok {
		return
	}

	b := telemetry.NewBroadcaster(sess.ID, sess.Addr, s.statePort, sess, sender,
		telemetry.WithInterval(s.interval),
		telemetry.WithFormat(s.format),
		telemetry.WithSinks(s.sinks...),
		telemetry.WithLogger(logger))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		b.Run(tctx)
	}()
}

func (s *Server) reap(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, sess := range s.registry.Expire(s.idleTimeout, now) {
				sess.StopTelemetry()
				s.logger.Info("session expired",
					slog.String("session", sess.ID.String()),
					slog.String("client", sess.Key()),
					slog.String("lastSeen", humanize.Time(sess.LastSeen())))
			}
		}
	}
}
