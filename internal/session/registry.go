package session

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/roman-kulish/mock-drone/internal/drone"
)

// WithInitialState sets the factory of the state assigned to new sessions
func WithInitialState(fn func() drone.State) func(*Registry) {
	return func(r *Registry) {
		r.newState = fn
	}
}

// WithClock replaces time.Now, used for session creation times
func WithClock(now func() time.Time) func(*Registry) {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry maps client addresses to their sessions. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	newState func() drone.State
	now      func() time.Time
}

// NewRegistry creates an empty Registry
func NewRegistry(options ...func(*Registry)) *Registry {
	r := Registry{
		sessions: make(map[string]*Session),
		newState: drone.NewState,
		now:      time.Now,
	}

	for _, option := range options {
		option(&r)
	}

	return &r
}

// GetOrCreate returns the session of addr, creating it on first contact, and
// marks it as seen. The boolean reports whether the session has just been
// created.
func (r *Registry) GetOrCreate(addr *net.UDPAddr) (*Session, bool) {
	key := addr.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		s.touch(r.now())
		return s, false
	}

	// copy the address, the caller may reuse its buffer
	own := &net.UDPAddr{
		IP:   append(net.IP(nil), addr.IP...),
		Port: addr.Port,
		Zone: addr.Zone,
	}

	s := newSession(own, r.newState(), r.now())
	r.sessions[key] = s
	return s, true
}

// Get returns the session registered under key, the client "ip:port"
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	return s, ok
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns all live sessions ordered by creation time
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Created.Before(list[j].Created)
	})
	return list
}

// Expire removes and returns the sessions not seen for longer than idle.
// Sessions with a command in flight are kept. The caller is responsible for
// stopping their telemetry.
func (r *Registry) Expire(idle time.Duration, now time.Time) []*Session {
	if idle <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*Session
	for key, s := range r.sessions {
		if !s.Busy() && now.Sub(s.LastSeen()) > idle {
			delete(r.sessions, key)
			expired = append(expired, s)
		}
	}

	return expired
}
