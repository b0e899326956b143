// Package cliconfig resolves the driftlab CLI configuration from flags,
// environment variables, a TOML file, and defaults, in that order of
// precedence. Flags only win when explicitly set; the caller passes the
// changed-flag map collected from cobra.
package cliconfig

import (
	"fmt"
	"strconv"
	"time"

	"github.com/driftlab/driftlab/internal/domain"
	"github.com/driftlab/driftlab/internal/sim"
)

// Defaults for the non-simulation knobs. Simulation defaults live in
// internal/sim and are shared here so both surfaces agree.
const (
	DefaultRuns       = 1
	DefaultResultsDir = "results"
	DefaultDB         = "results/driftlab.db"
	DefaultServeAddr  = ":8080"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "console"
)

// Config holds the full CLI configuration surface.
type Config struct {
	// Simulation knobs.
	Processes    int
	Duration     time.Duration
	MaxClockRate int
	EventUpper   int
	SendOneCut   int
	SendAllCut   int
	Seed         int64
	Settle       time.Duration

	// Runs is how many simulations `driftlab run` executes back to back.
	Runs int

	// ResultsDir receives per-run jsonl record files; empty disables them.
	ResultsDir string

	// DB is the sqlite store path; empty disables persistence.
	DB string

	// ServeAddr is the HTTP observer listen address.
	ServeAddr string

	LogLevel  string
	LogFormat string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Processes:    sim.DefaultProcesses,
		Duration:     sim.DefaultDuration,
		MaxClockRate: sim.DefaultMaxClockRate,
		EventUpper:   sim.DefaultEventUpper,
		SendOneCut:   sim.DefaultSendOneCut,
		SendAllCut:   sim.DefaultSendAllCut,
		Seed:         0,
		Settle:       sim.DefaultSettle,
		Runs:         DefaultRuns,
		ResultsDir:   DefaultResultsDir,
		DB:           DefaultDB,
		ServeAddr:    DefaultServeAddr,
		LogLevel:     DefaultLogLevel,
		LogFormat:    DefaultLogFormat,
	}
}

// Validate checks every field and fails fast before any process starts.
// Seed 0 is legal here; it means "draw from time" and is resolved per run.
func (c *Config) Validate() error {
	if c.Processes < 1 {
		return fmt.Errorf("%w: processes must be at least 1, got %d", domain.ErrInvalidConfig, c.Processes)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %s", domain.ErrInvalidConfig, c.Duration)
	}
	if c.MaxClockRate < 1 {
		return fmt.Errorf("%w: max-clock-rate must be at least 1, got %d", domain.ErrInvalidConfig, c.MaxClockRate)
	}
	if c.EventUpper < 1 {
		return fmt.Errorf("%w: event-upper must be at least 1, got %d", domain.ErrInvalidConfig, c.EventUpper)
	}
	if c.SendOneCut < 0 {
		return fmt.Errorf("%w: send-one-cut must not be negative, got %d", domain.ErrInvalidConfig, c.SendOneCut)
	}
	if c.SendAllCut < c.SendOneCut {
		return fmt.Errorf("%w: send-all-cut %d below send-one-cut %d", domain.ErrInvalidConfig, c.SendAllCut, c.SendOneCut)
	}
	if c.SendAllCut > c.EventUpper {
		return fmt.Errorf("%w: send-all-cut %d exceeds event-upper %d", domain.ErrInvalidConfig, c.SendAllCut, c.EventUpper)
	}
	if c.Settle < 0 {
		return fmt.Errorf("%w: settle must not be negative, got %s", domain.ErrInvalidConfig, c.Settle)
	}
	if c.Runs < 1 {
		return fmt.Errorf("%w: runs must be at least 1, got %d", domain.ErrInvalidConfig, c.Runs)
	}
	if c.ServeAddr == "" {
		return fmt.Errorf("%w: serve addr must not be empty", domain.ErrInvalidConfig)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidConfig, c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", domain.ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// configSetter applies configuration values while respecting flag
// precedence: a value is skipped when its flag was explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int from an optional value. Zero is meaningful for the
// cut fields (it disables an event kind), so absence is a nil pointer
// rather than a zero.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || *value < 0 || s.changed[flag] {
		return
	}
	*dst = *value
}

// setInt64 sets an int64 if non-zero and flag not changed.
func (s *configSetter) setInt64(flag string, value int64, dst *int64) {
	if value == 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not
// changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a positive int from an environment string.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setNonNegIntFromString parses an int from an environment string,
// accepting zero.
func (s *configSetter) setNonNegIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i < 0 {
		return nil
	}
	*dst = i
	return nil
}

// setInt64FromString parses an int64 from an environment string.
func (s *configSetter) setInt64FromString(flag, value string, dst *int64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = i
	return nil
}
