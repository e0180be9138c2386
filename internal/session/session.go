package session

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/roman-kulish/mock-drone/internal/drone"
)

// Executor applies a raw command to a drone state
type Executor interface {
	Execute(ctx context.Context, raw []byte, st *drone.State) (string, error)
}

// Session is the simulated drone bound to a single client address
type Session struct {
	ID      uuid.UUID
	Addr    *net.UDPAddr
	Created time.Time

	cmdMu sync.Mutex   // serializes commands of this client
	busy  atomic.Int32 // commands queued or running

	stateMu  sync.RWMutex // this mutex protects the state fields
	state    drone.State
	lastSeen time.Time

	telemetryMu     sync.Mutex
	telemetryCancel context.CancelFunc
}

func newSession(addr *net.UDPAddr, state drone.State, now time.Time) *Session {
	return &Session{
		ID:       uuid.New(),
		Addr:     addr,
		Created:  now,
		state:    state,
		lastSeen: now,
	}
}

// Key returns the registry key of the session
func (s *Session) Key() string {
	return s.Addr.String()
}

// Snapshot returns a copy of the current drone state
func (s *Session) Snapshot() drone.State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// LastSeen returns the time the last command was received
func (s *Session) LastSeen() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastSeen
}

// Execute runs a command against the session state. Commands of the same
// session never overlap. The executor works on a private copy which is
// committed only once the command completes, so readers never observe a
// half-applied command. A command abandoned without a response leaves the
// state untouched. The session counts as seen until the command completes.
func (s *Session) Execute(ctx context.Context, ex Executor, raw []byte) (string, error) {
	s.busy.Add(1)
	defer s.busy.Add(-1)

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.touch(time.Now())
	defer func() { s.touch(time.Now()) }()

	work := s.Snapshot()
	resp, err := ex.Execute(ctx, raw, &work)
	if resp == "" {
		return resp, err
	}

	s.stateMu.Lock()
	s.state = work
	s.stateMu.Unlock()

	return resp, err
}

// Busy reports whether a command of the session is queued or running
func (s *Session) Busy() bool {
	return s.busy.Load() > 0
}

func (s *Session) touch(now time.Time) {
	s.stateMu.Lock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
	s.stateMu.Unlock()
}

// BeginTelemetry derives the context of the session telemetry task from
// parent. It returns false if the task has already been started, in which
// case the caller must not start another one.
func (s *Session) BeginTelemetry(parent context.Context) (context.Context, bool) {
	s.telemetryMu.Lock()
	defer s.telemetryMu.Unlock()

	if s.telemetryCancel != nil {
		return nil, false
	}

	ctx, cancel := context.WithCancel(parent)
	s.telemetryCancel = cancel
	return ctx, true
}

// StopTelemetry cancels the session telemetry task, if any. A stopped
// session cannot start telemetry again.
func (s *Session) StopTelemetry() {
	s.telemetryMu.Lock()
	defer s.telemetryMu.Unlock()

	if s.telemetryCancel != nil {
		s.telemetryCancel()
	}
	s.telemetryCancel = func() {}
}
