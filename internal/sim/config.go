package sim

import (
	"fmt"
	"time"

	"github.com/driftlab/driftlab/internal/domain"
)

// Default simulation parameters.
const (
	DefaultProcesses    = 3
	DefaultDuration     = 30 * time.Second
	DefaultMaxClockRate = 6
	DefaultEventUpper   = 10
	DefaultSendOneCut   = 1
	DefaultSendAllCut   = 2
	DefaultSettle       = 150 * time.Millisecond
)

// Config holds the parameters of one simulation run.
type Config struct {
	// Processes is the number of simulated machines.
	Processes int

	// Duration is the wall-clock length of the run.
	Duration time.Duration

	// MaxClockRate bounds the per-process tick rate draw: each process runs
	// at a rate drawn uniformly from [1, MaxClockRate] ticks per second.
	MaxClockRate int

	// EventUpper is the upper bound of the idle-tick event draw.
	EventUpper int

	// SendOneCut and SendAllCut partition the draw: v <= SendOneCut is
	// send-one, v <= SendAllCut is send-all, the rest is internal.
	// A cut of 0 disables that send kind.
	SendOneCut int
	SendAllCut int

	// Seed drives every random draw of the run. It must be the resolved
	// value (never 0 meaning "pick one"); resolution happens at the facade
	// so the seed can be recorded for replay.
	Seed int64

	// Settle is the gap between construction and the common nominal start,
	// giving every process goroutine time to reach its first tick.
	Settle time.Duration
}

// DefaultConfig returns a Config with default values and an unresolved seed.
func DefaultConfig() Config {
	return Config{
		Processes:    DefaultProcesses,
		Duration:     DefaultDuration,
		MaxClockRate: DefaultMaxClockRate,
		EventUpper:   DefaultEventUpper,
		SendOneCut:   DefaultSendOneCut,
		SendAllCut:   DefaultSendAllCut,
		Settle:       DefaultSettle,
	}
}

// Validate checks the configuration. All violations wrap
// domain.ErrInvalidConfig; nothing starts on a config that fails here.
func (c Config) Validate() error {
	if c.Processes < 1 {
		return fmt.Errorf("%w: processes must be at least 1, got %d", domain.ErrInvalidConfig, c.Processes)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %s", domain.ErrInvalidConfig, c.Duration)
	}
	if c.MaxClockRate < 1 {
		return fmt.Errorf("%w: max clock rate must be at least 1, got %d", domain.ErrInvalidConfig, c.MaxClockRate)
	}
	if c.EventUpper < 1 {
		return fmt.Errorf("%w: event upper must be at least 1, got %d", domain.ErrInvalidConfig, c.EventUpper)
	}
	if c.SendOneCut < 0 {
		return fmt.Errorf("%w: send-one cut must not be negative, got %d", domain.ErrInvalidConfig, c.SendOneCut)
	}
	if c.SendAllCut < c.SendOneCut {
		return fmt.Errorf("%w: send-all cut %d below send-one cut %d", domain.ErrInvalidConfig, c.SendAllCut, c.SendOneCut)
	}
	if c.SendAllCut > c.EventUpper {
		return fmt.Errorf("%w: send-all cut %d above event upper %d", domain.ErrInvalidConfig, c.SendAllCut, c.EventUpper)
	}
	if c.Seed == 0 {
		return fmt.Errorf("%w: seed must be resolved before the run", domain.ErrInvalidConfig)
	}
	if c.Settle < 0 {
		return fmt.Errorf("%w: settle must not be negative, got %s", domain.ErrInvalidConfig, c.Settle)
	}
	return nil
}
