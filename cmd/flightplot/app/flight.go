package app

import (
	"math"
	"time"

	"github.com/roman-kulish/mock-drone/internal/drone"
	"github.com/roman-kulish/mock-drone/internal/flight"
)

// Series is a single plotted state field
type Series struct {
	Name     string
	Unit     string
	Min, Max float64
	Values   []float64
	extract  func(*drone.State) float64
}

func newSeries(name, unit string, extract func(*drone.State) float64) *Series {
	return &Series{
		Name:    name,
		Unit:    unit,
		Min:     math.MaxFloat64,
		Max:     -math.MaxFloat64,
		extract: extract,
	}
}

func (s *Series) update(st *drone.State) {
	v := s.extract(st)
	s.Min = min(s.Min, v)
	s.Max = max(s.Max, v)
	s.Values = append(s.Values, v)
}

// FlightData collects the telemetry of a session
type FlightData struct {
	Session                      *flight.Session
	Stats                        flight.CommandStats
	TimestampStart, TimestampEnd time.Time
	Timestamps                   []time.Time
	Series                       []*Series
}

func NewFlightData(session *flight.Session) *FlightData {
	return &FlightData{
		Session: session,
		Series: []*Series{
			newSeries("Height", "cm", func(st *drone.State) float64 { return float64(st.Height) }),
			newSeries("Battery", "%", func(st *drone.State) float64 { return float64(st.Battery) }),
			newSeries("Yaw", "deg", func(st *drone.State) float64 { return float64(st.Yaw) }),
		},
	}
}

func (f *FlightData) Update(sample *flight.Sample) {
	if f.TimestampStart.IsZero() || f.TimestampStart.After(sample.Timestamp) {
		f.TimestampStart = sample.Timestamp
	}
	if f.TimestampEnd.IsZero() || f.TimestampEnd.Before(sample.Timestamp) {
		f.TimestampEnd = sample.Timestamp
	}

	f.Timestamps = append(f.Timestamps, sample.Timestamp)
	for _, s := range f.Series {
		s.update(&sample.State)
	}
}

// Len returns the number of samples collected
func (f *FlightData) Len() int {
	return len(f.Timestamps)
}
