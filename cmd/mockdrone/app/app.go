package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/roman-kulish/mock-drone/internal/drone"
	"github.com/roman-kulish/mock-drone/internal/server"
	"github.com/roman-kulish/mock-drone/internal/session"
	"github.com/roman-kulish/mock-drone/internal/storage"
	"github.com/roman-kulish/mock-drone/internal/telemetry"
)

const (
	storageDir = "data"

	mirrorPath            = "/telemetry"
	mirrorShutdownTimeout = 5 * time.Second
)

// Run starts the simulated drone and blocks until ctx is cancelled
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	format, _ := drone.ParseFormat(config.Telemetry.Format)

	interpreter := drone.NewInterpreter(
		drone.WithTiming(config.Timing()),
		drone.WithMaxBatteryDrain(config.Simulation.MaxBatteryDrain),
		drone.WithClimb(config.Simulation.Climb),
		drone.WithLogger(logger))

	options := []func(*server.Server){
		server.WithLogger(logger),
		server.WithStatePort(config.Telemetry.Port),
		server.WithTelemetryInterval(time.Duration(config.Telemetry.Interval)),
		server.WithFormat(format),
		server.WithIdleTimeout(time.Duration(config.Sessions.IdleTimeout), time.Duration(config.Sessions.ReapInterval)),
	}

	if config.Storage.Enabled {
		store, dbPath, err := createStorage(&config.Storage)
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		recorder := NewRecorder(store, config, logger)
		defer func() {
			recorder.Close()
			if err := store.Close(); err != nil {
				logger.Error("closing storage failed", slog.String("error", err.Error()))
			}
			logStorageSize(logger, dbPath)
		}()

		logger.Info("recording flights", slog.String("path", dbPath))
		options = append(options, server.WithRecorder(recorder), server.WithSinks(recorder))
	}

	if config.Mirror.Addr != "" {
		mirror := telemetry.NewMirror(telemetry.WithMirrorLogger(logger))
		stop, err := startMirror(ctx, config.Mirror.Addr, mirror, logger)
		if err != nil {
			return fmt.Errorf("failed to start telemetry mirror: %w", err)
		}
		defer stop()

		options = append(options, server.WithSinks(mirror))
	}

	srv := server.New(config.Addr(), session.NewRegistry(), interpreter, options...)
	return srv.Serve(ctx)
}

// startMirror serves the websocket mirror on addr. The returned function
// stops the HTTP server.
func startMirror(ctx context.Context, addr string, mirror *telemetry.Mirror, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(mirrorPath, mirror)
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	mirrorCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		mirror.Run(mirrorCtx)
	}()

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("telemetry mirror failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("telemetry mirror listening", slog.String("url", fmt.Sprintf("ws://%s%s", ln.Addr(), mirrorPath)))

	return func() {
		cancel()
		<-done

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), mirrorShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("stopping telemetry mirror failed", slog.String("error", err.Error()))
		}
	}, nil
}

func createStorage(config *StorageConfig) (*storage.SqliteStore, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current working directory: %w", err)
	}

	dir := config.DataDirectory
	if dir == "" {
		dir = storageDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", fmt.Errorf("creating storage directory '%s': %w", dir, err)
		}
	case err != nil:
		return nil, "", fmt.Errorf("checking storage directory '%s': %w", dir, err)
	case !stat.IsDir():
		return nil, "", fmt.Errorf("invalid storage directory '%s'", dir)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("mockdrone_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), dbPath, nil
}

func logStorageSize(logger *slog.Logger, dbPath string) {
	stat, err := os.Stat(dbPath)
	if err != nil {
		return
	}
	logger.Info("flights recorded", slog.String("path", dbPath), slog.String("size", humanize.Bytes(uint64(stat.Size()))))
}
