package app

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/roman-kulish/mock-drone/internal/drone"
	"github.com/roman-kulish/mock-drone/internal/server"
	"github.com/roman-kulish/mock-drone/internal/telemetry"
	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration
type Config struct {
	Settings   Settings         `yaml:"settings" json:"-"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
	Sessions   SessionsConfig   `yaml:"sessions" json:"sessions"`
	Storage    StorageConfig    `yaml:"storage" json:"-"`
	Mirror     MirrorConfig     `yaml:"mirror" json:"-"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// ServerConfig is the control socket of the drone
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// TelemetryConfig represents telemetry settings
type TelemetryConfig struct {
	Port     int      `yaml:"port" json:"port"`         // State port on the client host
	Interval Duration `yaml:"interval" json:"interval"` // Period between two telemetry datagrams
	Format   string   `yaml:"format" json:"format"`     // Wire format: named or tello
}

// SimulationConfig tunes the simulated drone. Delays are in time units.
type SimulationConfig struct {
	TimeUnit         Duration `yaml:"timeUnit" json:"timeUnit"`
	MaxResponseDelay int      `yaml:"maxResponseDelay" json:"maxResponseDelay"`
	TakeoffDelay     int      `yaml:"takeoffDelay" json:"takeoffDelay"`
	LandDelay        int      `yaml:"landDelay" json:"landDelay"`
	MaxBatteryDrain  int      `yaml:"maxBatteryDrain" json:"maxBatteryDrain"` // Percent per command
	Climb            int      `yaml:"climb" json:"climb"`                     // Height gained on takeoff, cm
}

// SessionsConfig controls the expiry of idle sessions. A zero idle timeout
// keeps sessions for the lifetime of the process.
type SessionsConfig struct {
	IdleTimeout  Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ReapInterval Duration `yaml:"reapInterval" json:"reapInterval"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DataDirectory string `yaml:"dataDirectory"`
}

// MirrorConfig is the websocket telemetry mirror. Empty address disables it.
type MirrorConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Settings: Settings{
			LogLevel: slog.LevelInfo.String(),
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8890,
		},
		Telemetry: TelemetryConfig{
			Port:     telemetry.DefaultStatePort,
			Interval: Duration(telemetry.DefaultInterval),
			Format:   drone.FormatNamed.String(),
		},
		Simulation: SimulationConfig{
			TimeUnit:         Duration(drone.DefaultTimeUnit),
			MaxResponseDelay: drone.DefaultMaxResponseDelay,
			TakeoffDelay:     drone.DefaultTakeoffDelay,
			LandDelay:        drone.DefaultLandDelay,
			MaxBatteryDrain:  drone.DefaultMaxBatteryDrain,
			Climb:            drone.DefaultClimb,
		},
		Sessions: SessionsConfig{
			ReapInterval: Duration(server.DefaultReapInterval),
		},
		Storage: StorageConfig{
			DataDirectory: storageDir,
		},
	}
}

// LoadConfig reads the configuration file at path on top of the defaults
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening configuration: %w", err)
	}
	defer f.Close()

	if err = yaml.NewDecoder(f).Decode(config); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if err = config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Addr returns the control address, "host:port"
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Timing returns the interpreter latency
func (c *Config) Timing() drone.Timing {
	return drone.Timing{
		Unit:             time.Duration(c.Simulation.TimeUnit),
		MaxResponseDelay: c.Simulation.MaxResponseDelay,
		TakeoffDelay:     c.Simulation.TakeoffDelay,
		LandDelay:        c.Simulation.LandDelay,
	}
}

func (c *Config) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
		return fmt.Errorf("app.Config: invalid log level: %s", c.Settings.LogLevel)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("app.Config: invalid server port: %d", c.Server.Port)
	}
	if c.Telemetry.Port <= 0 || c.Telemetry.Port > 65535 {
		return fmt.Errorf("app.Config: invalid telemetry port: %d", c.Telemetry.Port)
	}
	if c.Telemetry.Interval <= 0 {
		return fmt.Errorf("app.Config: telemetry interval must be positive: %s", c.Telemetry.Interval)
	}
	if _, ok := drone.ParseFormat(c.Telemetry.Format); !ok {
		return fmt.Errorf("app.Config: invalid telemetry format: %s", c.Telemetry.Format)
	}

	if err := c.Simulation.TimeUnit.Validate(); err != nil {
		return fmt.Errorf("app.Config: invalid time unit: %w", err)
	}
	for name, v := range map[string]int{
		"max response delay": c.Simulation.MaxResponseDelay,
		"takeoff delay":      c.Simulation.TakeoffDelay,
		"land delay":         c.Simulation.LandDelay,
		"climb":              c.Simulation.Climb,
	} {
		if v < 0 {
			return fmt.Errorf("app.Config: %s must not be negative: %d", name, v)
		}
	}
	if c.Simulation.MaxBatteryDrain < 0 || c.Simulation.MaxBatteryDrain > 100 {
		return fmt.Errorf("app.Config: max battery drain must be between 0 and 100: %d given", c.Simulation.MaxBatteryDrain)
	}

	if err := c.Sessions.IdleTimeout.Validate(); err != nil {
		return fmt.Errorf("app.Config: invalid idle timeout: %w", err)
	}
	if c.Sessions.IdleTimeout > 0 && c.Sessions.ReapInterval <= 0 {
		return fmt.Errorf("app.Config: reap interval must be positive: %s", c.Sessions.ReapInterval)
	}

	if c.Storage.Enabled && c.Storage.DataDirectory == "" {
		return fmt.Errorf("app.Config: storage data directory is required")
	}

	return nil
}
