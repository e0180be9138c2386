package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/roman-kulish/mock-drone/internal/flight"
)

// latest time the reader considers when no end time is given
var endOfTime = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// TelemetryReader provides an iterator-based interface for reading the telemetry
// recorded for a session, with optional time filtering.
type TelemetryReader interface {
	// Session returns metadata about the session this reader is accessing.
	Session() *flight.Session

	// Next advances the iterator and returns true if there is another sample
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current sample in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() *flight.Sample

	// Error returns any error that occurred during iteration.
	// If Next() returns false, Error() should be checked to distinguish between
	// end of data and an error condition.
	Error() error

	// Close releases any resources associated with the reader.
	// After Close is called, the reader should not be used.
	Close() error
}

var _ TelemetryReader = (*SqliteTelemetryReader)(nil)

// ReaderOption configures a TelemetryReader with specific filtering criteria.
type ReaderOption func(*SqliteTelemetryReader)

// WithStartTime sets the start time filter for the telemetry reader.
// Samples with timestamps before this time will be excluded.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteTelemetryReader) {
		t = t.UTC()
		r.startTime = &t
	}
}

// WithEndTime sets the end time filter for the telemetry reader.
// Samples with timestamps after this time will be excluded.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteTelemetryReader) {
		t = t.UTC()
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteTelemetryReader) {
		WithStartTime(startTime)(r)
		WithEndTime(endTime)(r)
	}
}

func newSqliteTelemetryReader(ctx context.Context, db *sql.DB, sessionID uuid.UUID, opts ...ReaderOption) (*SqliteTelemetryReader, error) {
	tr := &SqliteTelemetryReader{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(tr)
	}
	if err := tr.init(ctx); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return tr, nil
}

// SqliteTelemetryReader implements TelemetryReader for SQLite database backend.
type SqliteTelemetryReader struct {
	db *sql.DB

	sessionID uuid.UUID
	session   *flight.Session

	startTime *time.Time // Optional start of time range filter
	endTime   *time.Time // Optional end of time range filter

	current *flight.Sample
	rows    *sql.Rows
	err     error
}

func (tr *SqliteTelemetryReader) init(ctx context.Context) error {
	if tr.db == nil {
		return errors.New("database connection required")
	}
	if tr.sessionID == uuid.Nil {
		return errors.New("session ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: tr.loadSession},
		{msg: "initializing filters", fn: tr.initFilters},
		{msg: "initializing query", fn: tr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (tr *SqliteTelemetryReader) loadSession(ctx context.Context) (err error) {
	stmt, err := tr.db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	tr.session, err = scanSession(stmt.QueryRowContext(ctx, tr.sessionID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: %s", ErrSessionNotFound, tr.sessionID)
	}
	return
}

func (tr *SqliteTelemetryReader) initFilters(context.Context) error {
	if tr.startTime != nil && tr.endTime != nil && tr.startTime.After(*tr.endTime) {
		return fmt.Errorf("start time %s is after end time %s", tr.startTime, tr.endTime)
	}
	if tr.startTime == nil {
		tr.startTime = &time.Time{}
	}
	if tr.endTime == nil {
		tr.endTime = &endOfTime
	}
	return nil
}

func (tr *SqliteTelemetryReader) initQuery(ctx context.Context) (err error) {
	stmt, err := tr.db.PrepareContext(ctx, selectTelemetrySQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if tr.rows, err = stmt.QueryContext(ctx, tr.sessionID.String(), *tr.startTime, *tr.endTime); err != nil {
		return err
	}
	return nil
}

func (tr *SqliteTelemetryReader) scanSample() (*flight.Sample, error) {
	var data telemetryData
	err := tr.rows.Scan(
		&data.Timestamp,
		&data.Pitch,
		&data.Roll,
		&data.Yaw,
		&data.VGX,
		&data.VGY,
		&data.VGZ,
		&data.TempLow,
		&data.TempHigh,
		&data.TOF,
		&data.Height,
		&data.Battery,
		&data.Barometer,
		&data.SimTime,
		&data.AGX,
		&data.AGY,
		&data.AGZ,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning sample: %w", err)
	}
	return data.toSample(), nil
}

func (tr *SqliteTelemetryReader) Session() *flight.Session {
	return tr.session
}

func (tr *SqliteTelemetryReader) Next(ctx context.Context) bool {
	if tr.err != nil || tr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		tr.err = ctx.Err()
		return false
	default:
	}

	if !tr.rows.Next() {
		tr.current = nil
		return false
	}

	tr.current, tr.err = tr.scanSample()
	return tr.err == nil
}

func (tr *SqliteTelemetryReader) Current() *flight.Sample {
	return tr.current
}

func (tr *SqliteTelemetryReader) Error() error {
	if tr.err != nil {
		return tr.err
	}
	if tr.rows != nil {
		return tr.rows.Err()
	}
	return nil
}

func (tr *SqliteTelemetryReader) Close() error {
	if tr.rows != nil {
		err := tr.rows.Close()
		tr.current = nil
		tr.rows = nil
		return err
	}
	return nil
}
