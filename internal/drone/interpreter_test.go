package drone

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// fastTiming keeps the random delays but shrinks the time unit
var fastTiming = Timing{
	Unit:             time.Microsecond,
	MaxResponseDelay: DefaultMaxResponseDelay,
	TakeoffDelay:     DefaultTakeoffDelay,
	LandDelay:        DefaultLandDelay,
}

func fixedRandom(v int) func(int) int {
	return func(n int) int {
		return min(v, n-1)
	}
}

func TestInterpreter_BatteryDrain(t *testing.T) {
	interp := NewInterpreter(WithTiming(fastTiming))
	ctx := context.Background()

	st := NewState()
	for i := 0; i < 200; i++ {
		before := st.Battery

		if _, err := interp.Execute(ctx, []byte("command"), &st); err != nil {
			t.Fatalf("command %d: %v", i, err)
		}

		drained := before - st.Battery
		if st.Battery < 0 {
			t.Fatalf("battery went negative: %d", st.Battery)
		}
		if drained < 0 || drained > DefaultMaxBatteryDrain {
			t.Fatalf("battery drained by %d, expected [0,%d]", drained, DefaultMaxBatteryDrain)
		}
	}

	if st.Battery != 0 {
		t.Errorf("expected battery to be empty after 200 commands, got %d", st.Battery)
	}
}

func TestInterpreter_BatteryClampedAtZero(t *testing.T) {
	interp := NewInterpreter(WithTiming(fastTiming), WithRandom(fixedRandom(5)))

	st := NewState()
	st.Battery = 3

	if _, err := interp.Execute(context.Background(), []byte("command"), &st); err != nil {
		t.Fatal(err)
	}
	if st.Battery != 0 {
		t.Errorf("expected battery 0, got %d", st.Battery)
	}
}

func TestInterpreter_Commands(t *testing.T) {
	testCases := []struct {
		name     string
		commands []string
		height   int
		yaw      int
	}{
		{"handshake", []string{"command"}, 0, 0},
		{"takeoff", []string{"takeoff"}, 100, 0},
		{"double takeoff", []string{"takeoff", "takeoff"}, 200, 0},
		{"takeoff and land", []string{"takeoff", "land"}, 0, 0},
		{"left then cw", []string{"left 30", "cw 10"}, 0, 20},
		{"no wraparound", []string{"left 170", "left 170", "left 170"}, 0, 510},
		{"negative wraparound", []string{"cw 400"}, 0, -400},
		{"whitespace", []string{"  left   45 \r\n"}, 0, 45},
		{"unknown command", []string{"flip f"}, 0, 0},
		{"wrong arity", []string{"left", "cw 1 2"}, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			interp := NewInterpreter(WithTiming(fastTiming))
			st := NewState()

			for _, cmd := range tc.commands {
				resp, err := interp.Execute(context.Background(), []byte(cmd), &st)
				if err != nil {
					t.Fatalf("%q: unexpected error: %v", cmd, err)
				}
				if resp != ResponseOK {
					t.Fatalf("%q: expected %q, got %q", cmd, ResponseOK, resp)
				}
			}

			if st.Height != tc.height {
				t.Errorf("expected height %d, got %d", tc.height, st.Height)
			}
			if st.Yaw != tc.yaw {
				t.Errorf("expected yaw %d, got %d", tc.yaw, st.Yaw)
			}
		})
	}
}

func TestInterpreter_ParseError(t *testing.T) {
	interp := NewInterpreter(WithTiming(fastTiming), WithRandom(fixedRandom(1)))

	st := NewState()
	st.Yaw = 10

	resp, err := interp.Execute(context.Background(), []byte("left abc"), &st)
	if resp != ResponseError {
		t.Errorf("expected response %q, got %q", ResponseError, resp)
	}

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T (%v)", err, err)
	}
	if pe.Command != "left" || pe.Argument != "abc" {
		t.Errorf("unexpected parse error fields: %+v", pe)
	}
	if !errors.Is(err, strconv.ErrSyntax) {
		t.Errorf("expected wrapped strconv.ErrSyntax, got %v", pe.Err)
	}
	if st.Yaw != 10 {
		t.Errorf("yaw must be unchanged, got %d", st.Yaw)
	}
	if st.Battery != 99 {
		t.Errorf("battery drain must still apply, got %d", st.Battery)
	}
}

func TestInterpreter_SimulatedClock(t *testing.T) {
	interp := NewInterpreter(WithTiming(fastTiming), WithRandom(fixedRandom(2)))
	st := NewState()

	if _, err := interp.Execute(context.Background(), []byte("takeoff"), &st); err != nil {
		t.Fatal(err)
	}
	// random response delay (2) + takeoff delay (3)
	if st.Timestamp != 5 {
		t.Errorf("expected timestamp 5, got %d", st.Timestamp)
	}

	if _, err := interp.Execute(context.Background(), []byte("land"), &st); err != nil {
		t.Fatal(err)
	}
	if st.Timestamp != 9 {
		t.Errorf("expected timestamp 9, got %d", st.Timestamp)
	}
}

func TestInterpreter_Cancellation(t *testing.T) {
	interp := NewInterpreter(
		WithTiming(Timing{Unit: time.Hour, MaxResponseDelay: 4, TakeoffDelay: 3, LandDelay: 2}),
		WithRandom(fixedRandom(4)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	st := NewState()
	start := time.Now()
	resp, err := interp.Execute(ctx, []byte("takeoff"), &st)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if resp != "" {
		t.Errorf("expected no response, got %q", resp)
	}
	if st.Height != 0 {
		t.Errorf("cancelled takeoff must not change height, got %d", st.Height)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took too long: %s", elapsed)
	}
}
