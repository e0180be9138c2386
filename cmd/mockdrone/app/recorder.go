package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/roman-kulish/mock-drone/internal/flight"
	"github.com/roman-kulish/mock-drone/internal/server"
	"github.com/roman-kulish/mock-drone/internal/session"
	"github.com/roman-kulish/mock-drone/internal/storage"
	"github.com/roman-kulish/mock-drone/internal/telemetry"
)

const maxPendingFrames = 256

var (
	_ server.Recorder = (*Recorder)(nil)
	_ telemetry.Sink  = (*Recorder)(nil)
)

// Recorder writes the sessions, commands and telemetry of the drone to the
// store. Telemetry frames are queued and stored by a background goroutine so
// broadcasters never wait on the database.
type Recorder struct {
	store  storage.Store
	config any
	logger *slog.Logger

	frames  chan telemetry.Frame
	stored  atomic.Int64
	dropped atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRecorder creates a Recorder and starts storing telemetry. config is
// saved alongside every session.
func NewRecorder(store storage.Store, config any, logger *slog.Logger) *Recorder {
	r := Recorder{
		store:  store,
		config: config,
		logger: logger,
		frames: make(chan telemetry.Frame, maxPendingFrames),
	}

	r.wg.Add(1)
	go r.handleFrames()

	return &r
}

func (r *Recorder) RecordSession(ctx context.Context, s *session.Session) error {
	if err := r.store.CreateSession(ctx, s.ID, s.Key(), r.config); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

func (r *Recorder) RecordCommand(ctx context.Context, s *session.Session, c *flight.Command) error {
	if _, err := r.store.StoreCommand(ctx, s.ID, c); err != nil {
		return fmt.Errorf("storing command: %w", err)
	}
	return nil
}

// Consume queues a telemetry frame, dropping it when the queue is full
func (r *Recorder) Consume(f telemetry.Frame) {
	select {
	case r.frames <- f:
	default:
		r.dropped.Add(1)
	}
}

// Close stops accepting frames and waits until the queued ones are stored.
// No frame may be consumed after Close.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.frames)
		r.wg.Wait()

		r.logger.Info("recording finished",
			slog.String("frames", humanize.Comma(r.stored.Load())),
			slog.String("dropped", humanize.Comma(r.dropped.Load())))
	})
}

func (r *Recorder) handleFrames() {
	defer r.wg.Done()

	for f := range r.frames {
		if err := r.storeFrame(f); err != nil {
			r.logger.Error(err.Error(), slog.String("session", f.SessionID.String()))
			continue
		}
		r.stored.Add(1)
	}
}

func (r *Recorder) storeFrame(f telemetry.Frame) error {
	sample := flight.Sample{
		Timestamp: f.Timestamp,
		State:     f.State,
	}
	if _, err := r.store.StoreTelemetry(context.Background(), f.SessionID, &sample); err != nil {
		return fmt.Errorf("storing telemetry: %w", err)
	}
	return nil
}
