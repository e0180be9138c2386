package flight

import (
	"time"

	"github.com/google/uuid"
	"github.com/roman-kulish/mock-drone/internal/drone"
)

// Session represents one simulated drone as seen by the flight recorder.
// A session starts on the first datagram received from a client address.
type Session struct {
	ID        uuid.UUID `json:"id"`                      // Unique identifier for the session
	Client    string    `json:"client"`                  // Client address, "ip:port"
	StartTime time.Time `json:"startTime"`               // When the first command was received
	Config    *string   `json:"config,string,omitempty"` // Optional simulator configuration in JSON format
}

// Command is a single command handled for a session, with its outcome
type Command struct {
	Timestamp time.Time     `json:"timestamp"`       // When the command was received
	Command   string        `json:"command"`         // Raw command text
	Response  string        `json:"response"`        // Response sent back, empty if none was sent
	Latency   time.Duration `json:"latency"`         // Time spent handling the command
	Battery   int           `json:"battery"`         // Battery after the command
	Height    int           `json:"height"`          // Height after the command
	Error     *string       `json:"error,omitempty"` // Handling error, if any
}

// Sample is a telemetry snapshot emitted for a session
type Sample struct {
	Timestamp time.Time   `json:"timestamp"` // When the snapshot was sent
	State     drone.State `json:"state"`     // Drone state at that time
}

// CommandStats summarizes the commands of a session
type CommandStats struct {
	Total    int64 // Number of commands received
	Rejected int64 // Number of commands answered with an error
}
