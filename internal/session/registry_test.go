package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/mock-drone/internal/drone"
)

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		t.Fatalf("resolving %s: %v", s, err)
	}
	return addr
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()
	addr := udpAddr(t, "127.0.0.1:40000")

	first, created := r.GetOrCreate(addr)
	if !created {
		t.Error("expected session to be created on first contact")
	}
	if first.Snapshot() != drone.NewState() {
		t.Errorf("unexpected initial state: %+v", first.Snapshot())
	}

	second, created := r.GetOrCreate(udpAddr(t, "127.0.0.1:40000"))
	if created {
		t.Error("expected existing session to be returned")
	}
	if first != second {
		t.Error("expected the same session for the same address")
	}

	other, created := r.GetOrCreate(udpAddr(t, "127.0.0.1:40001"))
	if !created || other == first {
		t.Error("expected a distinct session for a different port")
	}
	if other.ID == first.ID {
		t.Error("expected distinct session IDs")
	}

	if r.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", r.Len())
	}
	if s, ok := r.Get("127.0.0.1:40001"); !ok || s != other {
		t.Error("Get did not return the registered session")
	}
}

func TestRegistry_ConcurrentFirstContact(t *testing.T) {
	r := NewRegistry()
	addr := udpAddr(t, "127.0.0.1:40000")

	const workers = 64

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[*Session]struct{})
	created := 0

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			s, ok := r.GetOrCreate(addr)

			mu.Lock()
			seen[s] = struct{}{}
			if ok {
				created++
			}
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	if len(seen) != 1 {
		t.Errorf("expected exactly one session, got %d", len(seen))
	}
	if created != 1 {
		t.Errorf("expected exactly one creation, got %d", created)
	}
	if r.Len() != 1 {
		t.Errorf("expected registry size 1, got %d", r.Len())
	}
}

func TestRegistry_Expire(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(WithClock(func() time.Time { return base }))

	stale, _ := r.GetOrCreate(udpAddr(t, "127.0.0.1:40000"))
	fresh, _ := r.GetOrCreate(udpAddr(t, "127.0.0.1:40001"))
	fresh.touch(base.Add(time.Minute))

	if got := r.Expire(0, base.Add(time.Hour)); got != nil {
		t.Errorf("zero idle timeout must not expire sessions, got %d", len(got))
	}

	expired := r.Expire(90*time.Second, base.Add(2*time.Minute))
	if len(expired) != 1 || expired[0] != stale {
		t.Fatalf("expected only the stale session to expire, got %v", expired)
	}
	if _, ok := r.Get(stale.Key()); ok {
		t.Error("expired session is still registered")
	}
	if _, ok := r.Get(fresh.Key()); !ok {
		t.Error("fresh session was removed")
	}
}

func TestRegistry_SessionsOrdered(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))

	a, _ := r.GetOrCreate(udpAddr(t, "127.0.0.1:1"))
	b, _ := r.GetOrCreate(udpAddr(t, "127.0.0.1:2"))
	c, _ := r.GetOrCreate(udpAddr(t, "127.0.0.1:3"))

	got := r.Sessions()
	if len(got) != 3 || got[0] != a || got[1] != b || got[2] != c {
		t.Errorf("unexpected session order")
	}
}

type recordingExecutor struct {
	mu      sync.Mutex
	active  int
	overlap bool
}

func (e *recordingExecutor) Execute(ctx context.Context, raw []byte, st *drone.State) (string, error) {
	e.mu.Lock()
	e.active++
	if e.active > 1 {
		e.overlap = true
	}
	e.mu.Unlock()

	time.Sleep(time.Millisecond)
	st.Yaw++

	e.mu.Lock()
	e.active--
	e.mu.Unlock()

	return drone.ResponseOK, nil
}

func TestSession_ExecuteSerialized(t *testing.T) {
	r := NewRegistry()
	s, _ := r.GetOrCreate(udpAddr(t, "127.0.0.1:40000"))
	ex := &recordingExecutor{}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Execute(context.Background(), ex, []byte("left 1")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if ex.overlap {
		t.Error("commands of the same session overlapped")
	}
	if yaw := s.Snapshot().Yaw; yaw != 20 {
		t.Errorf("expected 20 committed updates, got %d", yaw)
	}
}

type abandoningExecutor struct{}

func (abandoningExecutor) Execute(ctx context.Context, raw []byte, st *drone.State) (string, error) {
	st.Height = 500
	return "", context.Canceled
}

func TestSession_ExecuteAbandoned(t *testing.T) {
	r := NewRegistry()
	s, _ := r.GetOrCreate(udpAddr(t, "127.0.0.1:40000"))

	if _, err := s.Execute(context.Background(), abandoningExecutor{}, []byte("takeoff")); err == nil {
		t.Fatal("expected error")
	}
	if h := s.Snapshot().Height; h != 0 {
		t.Errorf("abandoned command leaked into state: height %d", h)
	}
}

func TestSession_BeginTelemetryOnce(t *testing.T) {
	r := NewRegistry()
	s, _ := r.GetOrCreate(udpAddr(t, "127.0.0.1:40000"))

	ctx, ok := s.BeginTelemetry(context.Background())
	if !ok || ctx == nil {
		t.Fatal("expected first BeginTelemetry to succeed")
	}
	if _, ok := s.BeginTelemetry(context.Background()); ok {
		t.Error("expected second BeginTelemetry to be refused")
	}

	s.StopTelemetry()
	select {
	case <-ctx.Done():
	default:
		t.Error("StopTelemetry did not cancel the telemetry context")
	}

	if _, ok := s.BeginTelemetry(context.Background()); ok {
		t.Error("stopped session must not restart telemetry")
	}
}

type blockingExecutor struct {
	started chan struct{}
	release chan struct{}
}

func (e *blockingExecutor) Execute(_ context.Context, _ []byte, st *drone.State) (string, error) {
	close(e.started)
	<-e.release
	st.Height += 100
	return drone.ResponseOK, nil
}

func TestRegistry_ExpireKeepsBusySessions(t *testing.T) {
	r := NewRegistry()
	s, _ := r.GetOrCreate(udpAddr(t, "127.0.0.1:40000"))

	ex := blockingExecutor{started: make(chan struct{}), release: make(chan struct{})}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Execute(context.Background(), &ex, []byte("takeoff"))
	}()
	<-ex.started

	// far beyond the idle timeout while the command is still running
	if expired := r.Expire(time.Millisecond, time.Now().Add(time.Hour)); len(expired) != 0 {
		t.Fatalf("session with a running command expired")
	}

	close(ex.release)
	<-done

	if s.Busy() {
		t.Error("session still busy after the command completed")
	}
	got, ok := r.Get(s.Key())
	if !ok || got != s {
		t.Fatal("session was removed from the registry")
	}
	if h := got.Snapshot().Height; h != 100 {
		t.Errorf("expected height 100, got %d", h)
	}
}

func TestRegistry_GetOrCreateMarksSeen(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(WithClock(func() time.Time { return now }))
	addr := udpAddr(t, "127.0.0.1:40000")

	s, _ := r.GetOrCreate(addr)
	now = now.Add(time.Minute)
	r.GetOrCreate(addr)

	if !s.LastSeen().Equal(now) {
		t.Errorf("expected last seen %v, got %v", now, s.LastSeen())
	}
	if expired := r.Expire(30*time.Second, now.Add(10*time.Second)); len(expired) != 0 {
		t.Error("session expired right after contact")
	}
}
