package telemetry

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/roman-kulish/mock-drone/internal/drone"
)

// DefaultStatePort is the UDP port telemetry is pushed to on the client host
const DefaultStatePort = 8990

// DefaultInterval is the period between two telemetry datagrams of a session
const DefaultInterval = 3 * time.Second

// Provider gives access to the current state of a simulated drone
type Provider interface {
	Snapshot() drone.State
}

// Sender delivers a datagram to a remote address. *net.UDPConn implements it.
type Sender interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Frame is a single telemetry emission of a session
type Frame struct {
	SessionID uuid.UUID   `json:"session"`   // Session the state belongs to
	Client    string      `json:"client"`    // Client address, "ip:port"
	Timestamp time.Time   `json:"timestamp"` // Wall clock time of the emission
	State     drone.State `json:"state"`     // Snapshot of the drone state
	Payload   []byte      `json:"-"`         // Datagram sent to the state port
}

// Sink receives every frame emitted by a broadcaster. Implementations must
// not block for long, they run on the broadcaster goroutine.
type Sink interface {
	Consume(f Frame)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(f Frame)

func (fn SinkFunc) Consume(f Frame) {
	fn(f)
}
