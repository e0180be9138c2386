package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/roman-kulish/mock-drone/internal/drone"
)

// WithInterval sets the period between two telemetry datagrams
func WithInterval(d time.Duration) func(*Broadcaster) {
	return func(b *Broadcaster) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithFormat sets the wire format of the telemetry line
func WithFormat(f drone.Format) func(*Broadcaster) {
	return func(b *Broadcaster) {
		b.format = f
	}
}

// WithSinks adds consumers notified of every emitted frame
func WithSinks(sinks ...Sink) func(*Broadcaster) {
	return func(b *Broadcaster) {
		for _, s := range sinks {
			if s != nil {
				b.sinks = append(b.sinks, s)
			}
		}
	}
}

// WithLogger sets the logger for the broadcaster
func WithLogger(logger *slog.Logger) func(*Broadcaster) {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// Broadcaster periodically pushes the state of one session to the state port
// of the client host
type Broadcaster struct {
	sessionID uuid.UUID
	client    string
	provider  Provider
	sender    Sender
	dest      *net.UDPAddr

	interval time.Duration
	format   drone.Format
	sinks    []Sink
	logger   *slog.Logger
}

// NewBroadcaster creates a Broadcaster sending the state of provider to
// client's IP on statePort
func NewBroadcaster(sessionID uuid.UUID, client *net.UDPAddr, statePort int, provider Provider, sender Sender, options ...func(*Broadcaster)) *Broadcaster {
	b := Broadcaster{
		sessionID: sessionID,
		client:    client.String(),
		provider:  provider,
		sender:    sender,
		dest:      &net.UDPAddr{IP: client.IP, Port: statePort, Zone: client.Zone},
		interval:  DefaultInterval,
		format:    drone.FormatNamed,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&b)
	}

	return &b
}

// Destination returns the address telemetry is sent to
func (b *Broadcaster) Destination() *net.UDPAddr {
	return b.dest
}

// Run emits a frame immediately and then on every tick until ctx is cancelled.
// Send failures are logged and the loop carries on.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Debug("telemetry started", slog.String("destination", b.dest.String()))
	defer b.logger.Debug("telemetry stopped")

	for {
		// a tick and a cancellation may be ready together
		if ctx.Err() != nil {
			return
		}

		b.emit(time.Now())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Broadcaster) emit(now time.Time) {
	state := b.provider.Snapshot()
	payload := state.Encode(b.format)

	if _, err := b.sender.WriteToUDP(payload, b.dest); err != nil {
		b.logger.Warn("sending telemetry failed", slog.String("destination", b.dest.String()), slog.String("error", err.Error()))
	} else {
		b.logger.Debug("telemetry sent", slog.Int("height", state.Height), slog.Int("battery", state.Battery))
	}

	if len(b.sinks) == 0 {
		return
	}

	frame := Frame{
		SessionID: b.sessionID,
		Client:    b.client,
		Timestamp: now,
		State:     state,
		Payload:   payload,
	}
	for _, sink := range b.sinks {
		sink.Consume(frame)
	}
}
