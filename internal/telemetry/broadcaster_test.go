package telemetry

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/roman-kulish/mock-drone/internal/drone"
)

type staticProvider struct {
	mu    sync.Mutex
	state drone.State
}

func (p *staticProvider) Snapshot() drone.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *staticProvider) set(s drone.State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// failingSender fails the first n sends
type failingSender struct {
	failures int32
	calls    atomic.Int32
	sent     chan []byte
}

func (s *failingSender) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	if s.calls.Add(1) <= s.failures {
		return 0, errors.New("destination unreachable")
	}
	select {
	case s.sent <- append([]byte(nil), b...):
	default:
	}
	return len(b), nil
}

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readDatagram(t *testing.T, conn *net.UDPConn, timeout time.Duration) (string, bool) {
	t.Helper()
	buf := make([]byte, 1024)
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return "", false
		}
		t.Fatalf("read failed: %v", err)
	}
	return string(buf[:n]), true
}

func TestBroadcaster_SendsToStatePort(t *testing.T) {
	listener := listenUDP(t)
	sender := listenUDP(t)
	statePort := listener.LocalAddr().(*net.UDPAddr).Port

	client := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
	provider := &staticProvider{state: drone.NewState()}

	b := NewBroadcaster(uuid.New(), client, statePort, provider, sender, WithInterval(10*time.Millisecond))
	if got := b.Destination().Port; got != statePort {
		t.Fatalf("expected destination port %d, got %d", statePort, got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()

	line, ok := readDatagram(t, listener, time.Second)
	if !ok {
		t.Fatal("no telemetry received")
	}
	if line != drone.NewState().String() {
		t.Errorf("unexpected telemetry %q", line)
	}

	st := drone.NewState()
	st.Height = 100
	provider.set(st)

	deadline := time.Now().Add(time.Second)
	for {
		line, ok := readDatagram(t, listener, time.Second)
		if ok && strings.Contains(line, "height:100;") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("state update never reached the telemetry stream")
		}
	}

	cancel()
	<-done

	// drain whatever was in flight before Run returned
	for {
		if _, ok := readDatagram(t, listener, 20*time.Millisecond); !ok {
			break
		}
	}
	if line, ok := readDatagram(t, listener, 50*time.Millisecond); ok {
		t.Errorf("telemetry sent after cancellation: %q", line)
	}
}

func TestBroadcaster_ContinuesAfterSendFailure(t *testing.T) {
	sender := &failingSender{failures: 2, sent: make(chan []byte, 16)}
	provider := &staticProvider{state: drone.NewState()}

	var frames atomic.Int32
	sink := SinkFunc(func(f Frame) {
		frames.Add(1)
	})

	client := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
	b := NewBroadcaster(uuid.New(), client, DefaultStatePort, provider, sender,
		WithInterval(5*time.Millisecond),
		WithSinks(sink),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	select {
	case <-sender.sent:
	case <-time.After(time.Second):
		t.Fatal("broadcaster stopped after send failures")
	}

	if calls := sender.calls.Load(); calls < 3 {
		t.Errorf("expected at least 3 send attempts, got %d", calls)
	}
	// failed sends still reach the sinks
	if frames.Load() < 2 {
		t.Errorf("expected sinks to see every tick, got %d frames", frames.Load())
	}
}

func TestBroadcaster_FrameAndFormat(t *testing.T) {
	sender := &failingSender{sent: make(chan []byte, 16)}
	st := drone.NewState()
	st.Height = 100
	provider := &staticProvider{state: st}

	id := uuid.New()
	client := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}

	got := make(chan Frame, 1)
	b := NewBroadcaster(id, client, DefaultStatePort, provider, sender,
		WithFormat(drone.FormatTello),
		WithSinks(SinkFunc(func(f Frame) {
			select {
			case got <- f:
			default:
			}
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	select {
	case f := <-got:
		if f.SessionID != id {
			t.Errorf("unexpected session id %s", f.SessionID)
		}
		if f.Client != "127.0.0.1:50000" {
			t.Errorf("unexpected client %q", f.Client)
		}
		if f.State != st {
			t.Errorf("unexpected state %+v", f.State)
		}
		if !strings.Contains(string(f.Payload), ";h:100;") {
			t.Errorf("expected Tello format payload, got %q", f.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame emitted")
	}
}
