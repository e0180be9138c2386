package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	minPlotWidth   = 200
	minPanelHeight = 60

	panelGap = 30

	// Default border sizes in pixels
	defaultTopBorder    = 40
	defaultLeftBorder   = 110
	defaultBottomBorder = 70
	defaultRightBorder  = 40
)

var (
	gridColor  = colorful.Color{R: 0.9, G: 0.9, B: 0.9}
	frameColor = colorful.Color{R: 0.6, G: 0.6, B: 0.6}
)

// BorderConfig defines the sizes of white space around the panels
type BorderConfig struct {
	Top    int // Space for the title
	Left   int // Space for series names and value scale
	Bottom int // Space for time scale and information bar
	Right  int // Right padding
}

// RenderConfig holds all configuration options for flight visualization
type RenderConfig struct {
	Width       int // Plot area width
	PanelHeight int // Height of a single series panel

	TimeFormat     string
	DatetimeFormat string
	Location       *time.Location
	FontSize       float64

	BorderConfig BorderConfig
}

// FlightRenderer draws the telemetry of a session as stacked time series
type FlightRenderer struct {
	config RenderConfig
}

// NewFlightRenderer creates a new renderer with the given configuration
func NewFlightRenderer(config RenderConfig) (*FlightRenderer, error) {
	if config.Width == 0 {
		config.Width = defaultWidth
	}
	if config.PanelHeight == 0 {
		config.PanelHeight = defaultPanelHeight
	}
	if config.Width < minPlotWidth || config.PanelHeight < minPanelHeight {
		return nil, fmt.Errorf("plot must be at least %dx%d pixels", minPlotWidth, minPanelHeight)
	}
	if config.TimeFormat == "" {
		config.TimeFormat = defaultTimeFormat
	}
	if config.DatetimeFormat == "" {
		config.DatetimeFormat = defaultDatetimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.BorderConfig == (BorderConfig{}) {
		config.BorderConfig = BorderConfig{
			Top:    defaultTopBorder,
			Left:   defaultLeftBorder,
			Bottom: defaultBottomBorder,
			Right:  defaultRightBorder,
		}
	}

	return &FlightRenderer{config: config}, nil
}

// Render creates an image of the flight data with annotations
func (r *FlightRenderer) Render(data *FlightData) (*image.RGBA, error) {
	if data.Len() == 0 {
		return nil, errors.New("no telemetry to render")
	}

	borders := r.config.BorderConfig
	panels := r.panels(len(data.Series))

	fullWidth := borders.Left + r.config.Width + borders.Right
	fullHeight := panels[len(panels)-1].Max.Y + borders.Bottom
	img := image.NewRGBA(image.Rect(0, 0, fullWidth, fullHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	ann, err := newAnnotator(annotatorConfig{
		TimeFormat:     r.config.TimeFormat,
		DatetimeFormat: r.config.DatetimeFormat,
		Location:       r.config.Location,
		FontSize:       r.config.FontSize,
		Borders:        borders,
	})
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	colors := seriesColors(len(data.Series))

	for _, p := range panels {
		drawFrame(img, p)
	}
	if err = ann.annotate(img, panels, data, colors); err != nil {
		return nil, fmt.Errorf("drawing annotations: %w", err)
	}
	for i, s := range data.Series {
		r.renderSeries(img, panels[i], data, s, colors[i])
	}

	return img, nil
}

// panels returns the plot area of every series, top to bottom
func (r *FlightRenderer) panels(n int) []image.Rectangle {
	rects := make([]image.Rectangle, n)
	y := r.config.BorderConfig.Top
	for i := range rects {
		rects[i] = image.Rect(r.config.BorderConfig.Left, y, r.config.BorderConfig.Left+r.config.Width, y+r.config.PanelHeight)
		y += r.config.PanelHeight + panelGap
	}
	return rects
}

func (r *FlightRenderer) renderSeries(img *image.RGBA, area image.Rectangle, data *FlightData, s *Series, c color.Color) {
	prevX, prevY := -1, -1
	for i, v := range s.Values {
		x := timeToX(area, data.TimestampStart, data.TimestampEnd, data.Timestamps[i])
		y := valueToY(area, s.Min, s.Max, v)
		if prevX >= 0 {
			drawLine(img, prevX, prevY, x, y, c)
		} else {
			img.Set(x, y, c)
		}
		prevX, prevY = x, y
	}
}

// seriesColors picks n evenly spaced hues of the same lightness
func seriesColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		hue := 240 + float64(i)*360/float64(n)
		for hue >= 360 {
			hue -= 360
		}
		colors[i] = colorful.Hcl(hue, 0.8, 0.5).Clamped()
	}
	return colors
}

func timeToX(area image.Rectangle, start, end, t time.Time) int {
	span := end.Sub(start)
	if span <= 0 {
		return area.Min.X
	}
	ratio := float64(t.Sub(start)) / float64(span)
	return area.Min.X + int(ratio*float64(area.Dx()-1))
}

func valueToY(area image.Rectangle, minValue, maxValue, v float64) int {
	if maxValue <= minValue {
		return area.Min.Y + area.Dy()/2
	}
	ratio := (v - minValue) / (maxValue - minValue)
	return area.Max.Y - 1 - int(ratio*float64(area.Dy()-1))
}

func drawFrame(img *image.RGBA, area image.Rectangle) {
	for x := area.Min.X; x < area.Max.X; x++ {
		img.Set(x, area.Min.Y, frameColor)
		img.Set(x, area.Max.Y-1, frameColor)
	}
	for y := area.Min.Y; y < area.Max.Y; y++ {
		img.Set(area.Min.X, y, frameColor)
		img.Set(area.Max.X-1, y, frameColor)
	}
}

// drawLine draws a straight line with Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}

	e := dx + dy
	for {
		img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
