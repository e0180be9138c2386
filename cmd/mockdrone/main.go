package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/roman-kulish/mock-drone/cmd/mockdrone/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	var configPath, host string
	var port int
	flag.StringVar(&configPath, "c", "", "Path to the configuration file (optional)")
	flag.StringVar(&host, "host", "", "Override the control host")
	flag.IntVar(&port, "port", 0, "Override the control port")
	flag.Parse()

	config := app.DefaultConfig()
	if configPath != "" {
		var err error
		if config, err = app.LoadConfig(configPath); err != nil {
			logger.Error(fmt.Sprintf("failed to load configuration file: %s", err.Error()), slog.String("path", configPath))
			os.Exit(1)
		}
	}
	if host != "" {
		config.Server.Host = host
	}
	if port > 0 {
		config.Server.Port = port
	}
	if err := config.Validate(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	_ = logLevel.UnmarshalText([]byte(config.Settings.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, config, logger); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}
