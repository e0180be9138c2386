package app

import (
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/roman-kulish/mock-drone/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	data, err := readFlight(ctx, store, config, logger)
	if err != nil {
		return err
	}

	return renderFlight(data, config, logger)
}

func readFlight(ctx context.Context, store *storage.SqliteStore, config *Config, logger *slog.Logger) (*FlightData, error) {
	var opts []storage.ReaderOption
	var filters []any
	switch {
	case config.StartTime != nil && config.EndTime != nil:
		opts = append(opts, storage.WithTimeRange(*config.StartTime, *config.EndTime))

		filters = append(filters,
			slog.String("minTimestamp", config.StartTime.UTC().Format(time.DateTime)),
			slog.String("maxTimestamp", config.EndTime.UTC().Format(time.DateTime)))

	case config.StartTime != nil:
		opts = append(opts, storage.WithStartTime(*config.StartTime))
		filters = append(filters, slog.String("minTimestamp", config.StartTime.UTC().Format(time.DateTime)))

	case config.EndTime != nil:
		opts = append(opts, storage.WithEndTime(*config.EndTime))
		filters = append(filters, slog.String("maxTimestamp", config.EndTime.UTC().Format(time.DateTime)))
	}

	logger.Info("iterator configuration", filters...)

	iter, err := store.ReadTelemetry(ctx, config.SessionID, opts...)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	data := NewFlightData(iter.Session())
	for iter.Next(ctx) {
		data.Update(iter.Current())
	}
	if err = iter.Error(); err != nil {
		return nil, err
	}

	if data.Stats, err = store.CommandStats(ctx, config.SessionID); err != nil {
		return nil, err
	}

	logger.Info("finished reading telemetry",
		slog.Group("stats",
			slog.String("client", data.Session.Client),
			slog.String("started", humanize.Time(data.Session.StartTime)),
			slog.String("samples", humanize.Comma(int64(data.Len()))),
			slog.String("commands", humanize.Comma(data.Stats.Total)),
			slog.String("rejected", humanize.Comma(data.Stats.Rejected)),
		))

	return data, nil
}

func renderFlight(data *FlightData, config *Config, logger *slog.Logger) (err error) {
	renderer, err := NewFlightRenderer(RenderConfig{
		Width:       config.Width,
		PanelHeight: config.PanelHeight,
		Location:    config.TimeZone,
	})
	if err != nil {
		return fmt.Errorf("creating flight renderer: %w", err)
	}

	logger.Info("rendering flight",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.Int("width", config.Width),
			slog.Int("panelHeight", config.PanelHeight),
		))

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering flight: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	return err
}
