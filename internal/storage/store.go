package storage

import (
	"context"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/roman-kulish/mock-drone/internal/flight"
)

// Store provides an interface for the flight recorder. It records the sessions
// of the simulator, the commands they received and the telemetry they emitted.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateSession records a new simulator session.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - id: Unique identifier of the session
	//   - client: Client address the session is bound to
	//   - config: Optional simulator configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, id uuid.UUID, client string, config any) error

	// Session retrieves a specific session by its ID.
	//
	// Returns:
	//   - session: Pointer to session data
	//   - error: If retrieval fails, the session does not exist or context is cancelled
	Session(ctx context.Context, id uuid.UUID) (*flight.Session, error)

	// Sessions returns all sessions stored in the database, ordered by start time.
	Sessions(ctx context.Context) ([]*flight.Session, error)

	// StoreCommand saves a handled command of a session.
	//
	// Returns:
	//   - commandID: Unique identifier for the stored command record
	//   - error: If storage fails or context is cancelled
	StoreCommand(ctx context.Context, sessionID uuid.UUID, c *flight.Command) (commandID int64, err error)

	// StoreTelemetry saves a telemetry snapshot of a session.
	//
	// Returns:
	//   - telemetryID: Unique identifier for the stored telemetry record
	//   - error: If storage fails or context is cancelled
	StoreTelemetry(ctx context.Context, sessionID uuid.UUID, s *flight.Sample) (telemetryID int64, err error)

	// CommandStats summarizes the commands recorded for a session.
	CommandStats(ctx context.Context, sessionID uuid.UUID) (flight.CommandStats, error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}
