package drone

import (
	"fmt"
	"strings"
	"testing"
)

func TestState_EncodeNamed(t *testing.T) {
	s := NewState()
	s.Yaw = -45
	s.Height = 100
	s.Battery = 97
	s.Barometer = 12.25
	s.Timestamp = 7
	s.AGZ = -1000

	got := string(s.Encode(FormatNamed))
	want := "pitch:0; roll:0; yaw:-45; vgx:0; vgy:0; vgz:0; templ:0; temph:0; tof:0; height:100; " +
		"battery:97; barometer:12.25; timestamp:7; agx:0.0; agy:0.0; agz:-1000.0;\r\n"

	if got != want {
		t.Errorf("unexpected encoding\n got: %q\nwant: %q", got, want)
	}
}

func TestState_EncodeDeterministic(t *testing.T) {
	s := NewState()
	s.Height = 100
	s.Yaw = 30

	first := s.String()
	for i := 0; i < 10; i++ {
		if got := s.String(); got != first {
			t.Fatalf("encoding %d differs: %q != %q", i, got, first)
		}
	}

	if n := strings.Count(first, Terminator); n != 1 {
		t.Errorf("expected exactly one terminator, found %d", n)
	}
	if !strings.HasSuffix(first, ";"+Terminator) {
		t.Errorf("expected line to end with the last field and the terminator: %q", first)
	}
	if strings.HasSuffix(first, " "+Terminator) {
		t.Errorf("unexpected trailing separator: %q", first)
	}
}

func TestState_EncodeFieldOrder(t *testing.T) {
	order := []string{
		"pitch", "roll", "yaw", "vgx", "vgy", "vgz", "templ", "temph", "tof",
		"height", "battery", "barometer", "timestamp", "agx", "agy", "agz",
	}

	line := strings.TrimSuffix(NewState().String(), Terminator)
	entries := strings.Split(line, " ")
	if len(entries) != len(order) {
		t.Fatalf("expected %d fields, got %d: %q", len(order), len(entries), line)
	}

	for i, entry := range entries {
		name, _, ok := strings.Cut(entry, ":")
		if !ok || !strings.HasSuffix(entry, ";") {
			t.Fatalf("malformed entry %q", entry)
		}
		if name != order[i] {
			t.Errorf("field %d: expected %q, got %q", i, order[i], name)
		}
	}
}

func TestState_EncodeTello(t *testing.T) {
	s := NewState()
	s.Pitch = 1
	s.Roll = -2
	s.Yaw = 90
	s.Height = 100
	s.Battery = 88
	s.Barometer = 1.5
	s.Timestamp = 12
	s.AGX = 3.5

	line := string(s.Encode(FormatTello))

	// the same pattern off-the-shelf Tello SDK clients use to parse the state
	var got State
	n, err := fmt.Sscanf(line,
		"pitch:%d;roll:%d;yaw:%d;vgx:%d;vgy:%d;vgz:%d;templ:%d;temph:%d;tof:%d;h:%d;bat:%d;baro:%f;time:%d;agx:%f;agy:%f;agz:%f;",
		&got.Pitch, &got.Roll, &got.Yaw, &got.VGX, &got.VGY, &got.VGZ, &got.TempLow, &got.TempHigh, &got.TOF,
		&got.Height, &got.Battery, &got.Barometer, &got.Timestamp, &got.AGX, &got.AGY, &got.AGZ)
	if err != nil {
		t.Fatalf("scanning %q: %v", line, err)
	}
	if n != 16 {
		t.Fatalf("expected 16 fields, scanned %d", n)
	}
	if got != s {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, s)
	}
	if !strings.HasSuffix(line, Terminator) {
		t.Errorf("missing terminator: %q", line)
	}
}

func TestParseFormat(t *testing.T) {
	testCases := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"", FormatNamed, true},
		{"named", FormatNamed, true},
		{"Tello", FormatTello, true},
		{"xml", FormatNamed, false},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseFormat(tc.in)
			if got != tc.want || ok != tc.ok {
				t.Errorf("ParseFormat(%q) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}
