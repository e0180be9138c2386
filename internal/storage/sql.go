package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_commands_session ON commands (session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_telemetry_session ON telemetry (session_id, timestamp);`

const (
	insertSessionSQL = `
INSERT INTO sessions (id,
                      client,
                      start_time,
                      config)
VALUES (?, ?, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    client,
    start_time,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    client,
    start_time,
    config
FROM sessions
ORDER BY start_time`

	insertCommandSQL = `
INSERT INTO commands (session_id,
                      timestamp,
                      command,
                      response,
                      latency_ms,
                      battery,
                      height,
                      error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectCommandStatsSQL = `
SELECT
    COUNT(*),
    COALESCE(SUM(CASE WHEN response = 'error' THEN 1 ELSE 0 END), 0)
FROM commands
WHERE
    session_id = ?`

	insertTelemetrySQL = `
INSERT INTO telemetry (session_id,
                       timestamp,
                       pitch,
                       roll,
                       yaw,
                       vgx,
                       vgy,
                       vgz,
                       templ,
                       temph,
                       tof,
                       height,
                       battery,
                       barometer,
                       sim_time,
                       agx,
                       agy,
                       agz)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectTelemetrySQL = `
SELECT
    timestamp,
    pitch,
    roll,
    yaw,
    vgx,
    vgy,
    vgz,
    templ,
    temph,
    tof,
    height,
    battery,
    barometer,
    sim_time,
    agx,
    agy,
    agz
FROM telemetry
WHERE
    session_id = ?
    AND timestamp >= ?
    AND timestamp <= ?
ORDER BY timestamp, id`
)
