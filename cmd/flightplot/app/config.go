package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"

	defaultWidth       = 1200
	defaultPanelHeight = 200
)

type ImageFormat string

type Config struct {
	DBPath      string
	SessionID   uuid.UUID
	OutputFile  string
	Format      ImageFormat
	Width       int // Plot area width in pixels
	PanelHeight int // Height of every series panel in pixels
	StartTime   *time.Time
	EndTime     *time.Time
	TimeZone    *time.Location
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Format:      ImagePNG,
		Width:       defaultWidth,
		PanelHeight: defaultPanelHeight,
		TimeZone:    time.Local,
	}
}

func NewConfigFromCLI() (*Config, error) {
	return parseConfig(flag.CommandLine, os.Args[1:])
}

func parseConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var sessionID, imageFormat, startTime, endTime, timeZone string
	fs.StringVar(&c.DBPath, "db", "", "Path to the flight recording")
	fs.StringVar(&sessionID, "s", "", "Session ID")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.IntVar(&c.Width, "w", defaultWidth, "Plot width in pixels")
	fs.IntVar(&c.PanelHeight, "h", defaultPanelHeight, "Height of every panel in pixels")
	fs.StringVar(&startTime, "from", "", "Plot telemetry from this time (RFC 3339)")
	fs.StringVar(&endTime, "to", "", "Plot telemetry up to this time (RFC 3339)")
	fs.StringVar(&timeZone, "tz", "", "Time zone of the time scale, defaults to local")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)

	var err error
	if c.DBPath == "" {
		err = errors.New("db path is required")
	} else if sessionID == "" {
		err = errors.New("session id is required")
	} else if c.OutputFile == "" {
		err = errors.New("output file is required")
	} else if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
		err = fmt.Errorf("invalid image format: %s", imageFormat)
	} else if c.Width < minPlotWidth || c.PanelHeight < minPanelHeight {
		err = fmt.Errorf("plot must be at least %dx%d pixels", minPlotWidth, minPanelHeight)
	}

	if err == nil {
		if c.SessionID, err = uuid.Parse(sessionID); err != nil {
			err = fmt.Errorf("invalid session id: %w", err)
		}
	}
	if err == nil && startTime != "" {
		c.StartTime, err = parseTime(startTime)
	}
	if err == nil && endTime != "" {
		c.EndTime, err = parseTime(endTime)
	}
	if err == nil && timeZone != "" {
		if c.TimeZone, err = time.LoadLocation(timeZone); err != nil {
			err = fmt.Errorf("invalid time zone: %w", err)
		}
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

func parseTime(s string) (*time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return &t, nil
}
