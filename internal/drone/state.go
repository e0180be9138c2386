package drone

import (
	"strconv"
	"strings"
)

// Terminator ends every serialized state line
const Terminator = "\r\n"

const (
	// FormatNamed uses descriptive field names separated by spaces:
	// "pitch:0; roll:0; ... height:100; battery:97; ... agz:0.0;\r\n"
	FormatNamed Format = iota

	// FormatTello mimics the state string of the Tello SDK, with short
	// names and no separators: "pitch:0;roll:0;...;h:100;bat:97;...;agz:0.0;\r\n"
	FormatTello
)

// Format selects the wire dialect of the serialized state
type Format int

// ParseFormat converts a configuration value into a Format
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "", "named":
		return FormatNamed, true
	case "tello":
		return FormatTello, true
	}
	return FormatNamed, false
}

func (f Format) String() string {
	if f == FormatTello {
		return "tello"
	}
	return "named"
}

// State is the simulated telemetry of a single drone
type State struct {
	Pitch     int     `json:"pitch"`     // Attitude pitch in degrees
	Roll      int     `json:"roll"`      // Attitude roll in degrees
	Yaw       int     `json:"yaw"`       // Attitude yaw in degrees, not wrapped
	VGX       int     `json:"vgx"`       // Speed on the X axis
	VGY       int     `json:"vgy"`       // Speed on the Y axis
	VGZ       int     `json:"vgz"`       // Speed on the Z axis
	TempLow   int     `json:"templ"`     // Lowest temperature in degree Celsius
	TempHigh  int     `json:"temph"`     // Highest temperature in degree Celsius
	TOF       int     `json:"tof"`       // Time of flight distance in cm
	Height    int     `json:"height"`    // Height in cm, never negative
	Battery   int     `json:"battery"`   // Battery percentage, 0-100
	Barometer float64 `json:"barometer"` // Barometer measurement
	Timestamp int     `json:"timestamp"` // Simulated elapsed time in time units
	AGX       float64 `json:"agx"`       // Acceleration on the X axis
	AGY       float64 `json:"agy"`       // Acceleration on the Y axis
	AGZ       float64 `json:"agz"`       // Acceleration on the Z axis
}

// NewState returns the state of a freshly powered drone: on the ground with a full battery
func NewState() State {
	return State{Battery: 100}
}

type field struct {
	named, tello string
	value        string
}

// fields lists the telemetry in wire order. The order and names are part of
// the protocol, clients parse the line by name.
func (s *State) fields() []field {
	return []field{
		{"pitch", "pitch", strconv.Itoa(s.Pitch)},
		{"roll", "roll", strconv.Itoa(s.Roll)},
		{"yaw", "yaw", strconv.Itoa(s.Yaw)},
		{"vgx", "vgx", strconv.Itoa(s.VGX)},
		{"vgy", "vgy", strconv.Itoa(s.VGY)},
		{"vgz", "vgz", strconv.Itoa(s.VGZ)},
		{"templ", "templ", strconv.Itoa(s.TempLow)},
		{"temph", "temph", strconv.Itoa(s.TempHigh)},
		{"tof", "tof", strconv.Itoa(s.TOF)},
		{"height", "h", strconv.Itoa(s.Height)},
		{"battery", "bat", strconv.Itoa(s.Battery)},
		{"barometer", "baro", formatFloat(s.Barometer)},
		{"timestamp", "time", strconv.Itoa(s.Timestamp)},
		{"agx", "agx", formatFloat(s.AGX)},
		{"agy", "agy", formatFloat(s.AGY)},
		{"agz", "agz", formatFloat(s.AGZ)},
	}
}

// Encode renders the state as a single telemetry line in the given format
func (s State) Encode(f Format) []byte {
	sep := " "
	if f == FormatTello {
		sep = ""
	}

	var sb strings.Builder
	for i, fd := range s.fields() {
		if i > 0 {
			sb.WriteString(sep)
		}
		if f == FormatTello {
			sb.WriteString(fd.tello)
		} else {
			sb.WriteString(fd.named)
		}
		sb.WriteByte(':')
		sb.WriteString(fd.value)
		sb.WriteByte(';')
	}
	sb.WriteString(Terminator)

	return []byte(sb.String())
}

// String returns the state in the default named format
func (s State) String() string {
	return string(s.Encode(FormatNamed))
}

// formatFloat always keeps a fractional part, so 0 renders as "0.0"
func formatFloat(v float64) string {
	str := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(str, ".eEnN") {
		str += ".0"
	}
	return str
}
