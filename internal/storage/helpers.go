package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/roman-kulish/mock-drone/internal/drone"
	"github.com/roman-kulish/mock-drone/internal/flight"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func toConfigData(config any) (sql.NullString, error) {
	var configData sql.NullString

	switch c := config.(type) {
	case nil:
	case string:
		configData.Valid = true
		configData.String = c

	case []byte:
		configData.Valid = true
		configData.String = string(c)

	default:
		p, err := json.Marshal(config)
		if err != nil {
			return configData, fmt.Errorf("marshaling config: %w", err)
		}

		configData.Valid = true
		configData.String = string(p)
	}

	return configData, nil
}

func toCommandData(sessionID uuid.UUID, c *flight.Command) *commandData {
	var errData sql.NullString
	if c.Error != nil {
		errData.String = *c.Error
		errData.Valid = true
	}

	return &commandData{
		SessionID: sessionID.String(),
		Timestamp: c.Timestamp.UTC(),
		Command:   c.Command,
		Response:  c.Response,
		LatencyMS: c.Latency.Milliseconds(),
		Battery:   c.Battery,
		Height:    c.Height,
		Error:     errData,
	}
}

func toTelemetryData(sessionID uuid.UUID, s *flight.Sample) *telemetryData {
	return &telemetryData{
		SessionID: sessionID.String(),
		Timestamp: s.Timestamp.UTC(),
		Pitch:     s.State.Pitch,
		Roll:      s.State.Roll,
		Yaw:       s.State.Yaw,
		VGX:       s.State.VGX,
		VGY:       s.State.VGY,
		VGZ:       s.State.VGZ,
		TempLow:   s.State.TempLow,
		TempHigh:  s.State.TempHigh,
		TOF:       s.State.TOF,
		Height:    s.State.Height,
		Battery:   s.State.Battery,
		Barometer: s.State.Barometer,
		SimTime:   s.State.Timestamp,
		AGX:       s.State.AGX,
		AGY:       s.State.AGY,
		AGZ:       s.State.AGZ,
	}
}

func (t *telemetryData) toSample() *flight.Sample {
	return &flight.Sample{
		Timestamp: t.Timestamp,
		State: drone.State{
			Pitch:     t.Pitch,
			Roll:      t.Roll,
			Yaw:       t.Yaw,
			VGX:       t.VGX,
			VGY:       t.VGY,
			VGZ:       t.VGZ,
			TempLow:   t.TempLow,
			TempHigh:  t.TempHigh,
			TOF:       t.TOF,
			Height:    t.Height,
			Battery:   t.Battery,
			Barometer: t.Barometer,
			Timestamp: t.SimTime,
			AGX:       t.AGX,
			AGY:       t.AGY,
			AGZ:       t.AGZ,
		},
	}
}

// all timestamps are stored in UTC, so they compare correctly as text
func nowUTC() time.Time {
	return time.Now().UTC()
}
