package app

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            = 120.0
	fontSize       = 9.0
	tickMarkHeight = 5
	pixelsPerLabel = 150.0

	defaultTimeFormat     = "15:04:05"
	defaultDatetimeFormat = time.DateTime
)

type annotatorConfig struct {
	TimeFormat     string
	DatetimeFormat string
	Location       *time.Location
	FontSize       float64
	Borders        BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) annotate(img *image.RGBA, panels []image.Rectangle, data *FlightData, colors []color.Color) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing title", func() error { return a.drawTitle(data) }},
		{"drawing time scale", func() error { return a.drawTimeScale(img, panels, data) }},
		{"drawing value scales", func() error { return a.drawValueScales(img, panels, data, colors) }},
		{"drawing info bar", func() error { return a.drawInfoBar(img, data) }},
	}
	for _, op := range ops {
		if err := op.fn(); err != nil {
			return fmt.Errorf("%s: %w", op.msg, err)
		}
	}
	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawString(s string, x, y int, c color.Color) error {
	a.context.SetSrc(image.NewUniform(c))
	_, err := a.context.DrawString(s, freetype.Pt(x, y))
	return err
}

func (a *annotator) drawTitle(data *FlightData) error {
	title := fmt.Sprintf("Session %s, client %s", data.Session.ID, data.Session.Client)
	textY := a.config.Borders.Top/2 + a.fontHeight()/2
	return a.drawString(title, a.config.Borders.Left, textY, color.Black)
}

func (a *annotator) drawTimeScale(img *image.RGBA, panels []image.Rectangle, data *FlightData) error {
	last := panels[len(panels)-1]
	duration := data.TimestampEnd.Sub(data.TimestampStart)
	timeStep := calculateNiceTimeStep(duration, last.Dx())

	textY := last.Max.Y + tickMarkHeight + a.fontHeight()

	for t := data.TimestampStart; !t.After(data.TimestampEnd); t = t.Add(timeStep) {
		x := timeToX(last, data.TimestampStart, data.TimestampEnd, t)

		// guideline through every panel
		for _, p := range panels {
			for y := p.Min.Y + 1; y < p.Max.Y-1; y++ {
				img.Set(x, y, gridColor)
			}
		}
		for y := last.Max.Y; y < last.Max.Y+tickMarkHeight; y++ {
			img.Set(x, y, color.Black)
		}

		label := t.In(a.config.Location).Format(a.config.TimeFormat)
		width := font.MeasureString(a.fontFace, label).Round()
		if err := a.drawString(label, x-width/2, textY, color.Black); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}

		if duration <= 0 {
			break
		}
	}
	return nil
}

func (a *annotator) drawValueScales(img *image.RGBA, panels []image.Rectangle, data *FlightData, colors []color.Color) error {
	fontHeight := a.fontHeight()

	for i, s := range data.Series {
		p := panels[i]

		name := fmt.Sprintf("%s, %s", s.Name, s.Unit)
		if err := a.drawString(name, 10, p.Min.Y+p.Dy()/2+fontHeight/2, colors[i]); err != nil {
			return fmt.Errorf("drawing series name: %w", err)
		}

		for _, v := range []float64{s.Min, s.Max} {
			y := valueToY(p, s.Min, s.Max, v)
			for x := p.Min.X - tickMarkHeight; x < p.Min.X; x++ {
				img.Set(x, y, color.Black)
			}

			label := humanize.Ftoa(v)
			width := font.MeasureString(a.fontFace, label).Round()
			if err := a.drawString(label, p.Min.X-tickMarkHeight-3-width, y+fontHeight/3, color.Black); err != nil {
				return fmt.Errorf("drawing value label: %w", err)
			}
			if s.Min == s.Max {
				break
			}
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, data *FlightData) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Time: %s - %s (%s)",
		data.TimestampStart.In(a.config.Location).Format(a.config.DatetimeFormat),
		data.TimestampEnd.In(a.config.Location).Format(a.config.DatetimeFormat),
		data.TimestampEnd.Sub(data.TimestampStart).Round(time.Second)))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Samples: %s", humanize.Comma(int64(data.Len()))))
	sb.WriteString("; ")
	sb.WriteString(fmt.Sprintf("Commands: %s, rejected %s", humanize.Comma(data.Stats.Total), humanize.Comma(data.Stats.Rejected)))

	metrics := a.fontFace.Metrics()
	textY := img.Bounds().Max.Y - metrics.Descent.Round() - 8

	if err := a.drawString(sb.String(), a.config.Borders.Left, textY, color.Black); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

// calculateNiceTimeStep picks a round interval giving about one label per
// pixelsPerLabel pixels
func calculateNiceTimeStep(duration time.Duration, width int) time.Duration {
	desiredSteps := max(float64(width)/pixelsPerLabel, 1)
	roughStep := duration.Seconds() / desiredSteps

	niceIntervals := []float64{
		1, 2, 5, 10, 15, 30, // seconds
		60, 120, 300, 600, 900, 1800, // minutes
		3600, 7200, 14400, // hours
	}

	for _, interval := range niceIntervals {
		if roughStep <= interval {
			return time.Duration(interval) * time.Second
		}
	}

	return time.Hour * 6
}
