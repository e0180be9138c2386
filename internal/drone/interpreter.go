package drone

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	// ResponseOK acknowledges a command
	ResponseOK = "ok"

	// ResponseError rejects a command whose arguments could not be parsed
	ResponseError = "error"
)

const (
	DefaultTimeUnit         = time.Second
	DefaultMaxResponseDelay = 4
	DefaultTakeoffDelay     = 3
	DefaultLandDelay        = 2
	DefaultMaxBatteryDrain  = 5
	DefaultClimb            = 100
)

// ParseError reports a command argument that could not be interpreted
type ParseError struct {
	Command  string
	Argument string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing argument %q of command %q: %s", e.Argument, e.Command, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Timing controls the artificial latency of the interpreter. Delays are
// expressed as a number of time units.
type Timing struct {
	Unit             time.Duration
	MaxResponseDelay int // upper bound of the random delay applied to every command
	TakeoffDelay     int
	LandDelay        int
}

// DefaultTiming returns the stock latencies of the simulated drone
func DefaultTiming() Timing {
	return Timing{
		Unit:             DefaultTimeUnit,
		MaxResponseDelay: DefaultMaxResponseDelay,
		TakeoffDelay:     DefaultTakeoffDelay,
		LandDelay:        DefaultLandDelay,
	}
}

// WithTiming sets the interpreter latency
func WithTiming(t Timing) func(*Interpreter) {
	return func(i *Interpreter) {
		i.timing = t
	}
}

// WithMaxBatteryDrain sets the upper bound of the battery drained by every command
func WithMaxBatteryDrain(percent int) func(*Interpreter) {
	return func(i *Interpreter) {
		i.maxDrain = max(percent, 0)
	}
}

// WithClimb sets the height gained on takeoff, in cm
func WithClimb(cm int) func(*Interpreter) {
	return func(i *Interpreter) {
		i.climb = cm
	}
}

// WithRandom replaces the source of random numbers. intn must return a value
// in [0, n) and be safe for concurrent use.
func WithRandom(intn func(n int) int) func(*Interpreter) {
	return func(i *Interpreter) {
		i.intn = intn
	}
}

// WithLogger sets the logger for the interpreter
func WithLogger(logger *slog.Logger) func(*Interpreter) {
	return func(i *Interpreter) {
		i.logger = logger
	}
}

// Interpreter applies text commands to a drone State
type Interpreter struct {
	timing   Timing
	maxDrain int
	climb    int
	intn     func(n int) int
	logger   *slog.Logger
}

// NewInterpreter creates a new Interpreter with the default timing and a discard logger
func NewInterpreter(options ...func(*Interpreter)) *Interpreter {
	i := Interpreter{
		timing:   DefaultTiming(),
		maxDrain: DefaultMaxBatteryDrain,
		climb:    DefaultClimb,
		intn:     rand.IntN,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&i)
	}

	return &i
}

// Execute applies a single command to st and returns the response to send
// back. Every command drains the battery and blocks for a random delay first.
// A malformed argument yields ResponseError together with a *ParseError.
// If ctx is cancelled while waiting the command is abandoned and ctx.Err()
// is returned with an empty response.
//
// The caller must serialize calls on the same State.
func (i *Interpreter) Execute(ctx context.Context, raw []byte, st *State) (string, error) {
	command := strings.TrimSpace(string(raw))
	i.logger.Debug("executing command", slog.String("command", command))

	st.Battery = max(st.Battery-i.random(i.maxDrain), 0)

	if err := i.wait(ctx, st, i.random(i.timing.MaxResponseDelay)); err != nil {
		return "", err
	}

	switch tokens := strings.Fields(command); {
	case len(tokens) == 1 && tokens[0] == "command":
		return ResponseOK, nil

	case len(tokens) == 1 && tokens[0] == "takeoff":
		if err := i.wait(ctx, st, i.timing.TakeoffDelay); err != nil {
			return "", err
		}
		st.Height += i.climb
		i.logger.Debug("taking off", slog.Int("height", st.Height))
		return ResponseOK, nil

	case len(tokens) == 1 && tokens[0] == "land":
		if err := i.wait(ctx, st, i.timing.LandDelay); err != nil {
			return "", err
		}
		st.Height = 0
		i.logger.Debug("landed")
		return ResponseOK, nil

	case len(tokens) == 2 && (tokens[0] == "left" || tokens[0] == "cw"):
		amount, err := strconv.Atoi(tokens[1])
		if err != nil {
			return ResponseError, &ParseError{Command: tokens[0], Argument: tokens[1], Err: err}
		}
		if tokens[0] == "left" {
			st.Yaw += amount
		} else {
			st.Yaw -= amount
		}
		i.logger.Debug("turning", slog.String("direction", tokens[0]), slog.Int("amount", amount), slog.Int("yaw", st.Yaw))
		return ResponseOK, nil

	default:
		i.logger.Debug("other command", slog.String("command", command))
		return ResponseOK, nil
	}
}

// random returns a value in [0, n]
func (i *Interpreter) random(n int) int {
	if n <= 0 {
		return 0
	}
	return i.intn(n + 1)
}

// wait blocks for the given number of time units and advances the simulated clock
func (i *Interpreter) wait(ctx context.Context, st *State, units int) error {
	if units <= 0 {
		return ctx.Err()
	}

	if d := time.Duration(units) * i.timing.Unit; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	st.Timestamp += units
	return nil
}
