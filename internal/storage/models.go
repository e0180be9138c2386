package storage

import (
	"database/sql"
	"time"
)

type commandData struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Command   string
	Response  string
	LatencyMS int64
	Battery   int
	Height    int
	Error     sql.NullString
}

type telemetryData struct {
	ID        int64
	SessionID string
	Timestamp time.Time
	Pitch     int
	Roll      int
	Yaw       int
	VGX       int
	VGY       int
	VGZ       int
	TempLow   int
	TempHigh  int
	TOF       int
	Height    int
	Battery   int
	Barometer float64
	SimTime   int
	AGX       float64
	AGY       float64
	AGZ       float64
}
