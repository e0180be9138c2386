package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/roman-kulish/mock-drone/internal/flight"
)

var _ Store = (*SqliteStore)(nil)

// ErrSessionNotFound is returned when the requested session has not been recorded
var ErrSessionNotFound = errors.New("session not found")

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteStore creates a new store backed by the Sqlite database at dbPath.
// Connections are opened lazily, the schema is created on first write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		// sqlite allows a single writer, queue them in the pool instead of failing with SQLITE_BUSY
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateSession(ctx context.Context, id uuid.UUID, client string, config any) (err error) {
	configData, err := toConfigData(config)
	if err != nil {
		return err
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if _, err = stmt.ExecContext(ctx, id.String(), client, nowUTC(), configData); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

func (s *SqliteStore) Session(ctx context.Context, id uuid.UUID) (session *flight.Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	session, err = scanSession(stmt.QueryRowContext(ctx, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return
}

func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*flight.Session, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess *flight.Session
		if sess, err = scanSession(rows); err != nil {
			return
		}
		sessions = append(sessions, sess)
	}
	err = rows.Err()
	return
}

func scanSession(row interface{ Scan(...any) error }) (*flight.Session, error) {
	var sess flight.Session
	var id string
	var config sql.NullString
	if err := row.Scan(&id, &sess.Client, &sess.StartTime, &config); err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	var err error
	if sess.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing session ID: %w", err)
	}
	if config.Valid {
		sess.Config = &config.String
	}

	return &sess, nil
}

func (s *SqliteStore) StoreCommand(ctx context.Context, sessionID uuid.UUID, c *flight.Command) (commandID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertCommandSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	data := toCommandData(sessionID, c)

	result, err := stmt.ExecContext(
		ctx,
		data.SessionID,
		data.Timestamp,
		data.Command,
		data.Response,
		data.LatencyMS,
		data.Battery,
		data.Height,
		data.Error,
	)
	if err != nil {
		err = fmt.Errorf("inserting command: %w", err)
		return
	}

	commandID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting command ID: %w", err)
	}
	return
}

func (s *SqliteStore) StoreTelemetry(ctx context.Context, sessionID uuid.UUID, sample *flight.Sample) (telemetryID int64, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertTelemetrySQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	data := toTelemetryData(sessionID, sample)

	result, err := stmt.ExecContext(
		ctx,
		data.SessionID,
		data.Timestamp,
		data.Pitch,
		data.Roll,
		data.Yaw,
		data.VGX,
		data.VGY,
		data.VGZ,
		data.TempLow,
		data.TempHigh,
		data.TOF,
		data.Height,
		data.Battery,
		data.Barometer,
		data.SimTime,
		data.AGX,
		data.AGY,
		data.AGZ,
	)
	if err != nil {
		err = fmt.Errorf("inserting telemetry: %w", err)
		return
	}

	telemetryID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting telemetry ID: %w", err)
	}
	return
}

func (s *SqliteStore) CommandStats(ctx context.Context, sessionID uuid.UUID) (stats flight.CommandStats, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	if err = db.QueryRowContext(ctx, selectCommandStatsSQL, sessionID.String()).Scan(&stats.Total, &stats.Rejected); err != nil {
		err = fmt.Errorf("scanning command stats: %w", err)
	}
	return
}

// ReadTelemetry creates a new TelemetryReader iterating over the telemetry
// recorded for a session, in chronological order.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - sessionID: Unique identifier of the session to read from
//   - opts: Optional configuration parameters for the reader (WithStartTime,
//     WithEndTime, WithTimeRange)
//
// The returned reader must be closed after use to release database resources.
//
// Returns error if reader creation fails or session doesn't exist.
func (s *SqliteStore) ReadTelemetry(ctx context.Context, sessionID uuid.UUID, opts ...ReaderOption) (*SqliteTelemetryReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteTelemetryReader(ctx, db, sessionID, opts...)
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
