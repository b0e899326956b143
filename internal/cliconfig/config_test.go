package cliconfig

import (
	"errors"
	"testing"
	"time"

	"github.com/driftlab/driftlab/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Processes != 3 {
		t.Errorf("Processes = %d, want 3", cfg.Processes)
	}
	if cfg.Duration != 30*time.Second {
		t.Errorf("Duration = %s, want 30s", cfg.Duration)
	}
	if cfg.MaxClockRate != 6 {
		t.Errorf("MaxClockRate = %d, want 6", cfg.MaxClockRate)
	}
	if cfg.EventUpper != 10 {
		t.Errorf("EventUpper = %d, want 10", cfg.EventUpper)
	}
	if cfg.SendOneCut != 1 {
		t.Errorf("SendOneCut = %d, want 1", cfg.SendOneCut)
	}
	if cfg.SendAllCut != 2 {
		t.Errorf("SendAllCut = %d, want 2", cfg.SendAllCut)
	}
	if cfg.Seed != 0 {
		t.Errorf("Seed = %d, want 0", cfg.Seed)
	}
	if cfg.Runs != 1 {
		t.Errorf("Runs = %d, want 1", cfg.Runs)
	}
	if cfg.DB != "results/driftlab.db" {
		t.Errorf("DB = %q, want results/driftlab.db", cfg.DB)
	}
	if cfg.ServeAddr != ":8080" {
		t.Errorf("ServeAddr = %q, want :8080", cfg.ServeAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults pass",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "zero processes",
			mutate:  func(c *Config) { c.Processes = 0 },
			wantErr: true,
		},
		{
			name:    "negative duration",
			mutate:  func(c *Config) { c.Duration = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero duration",
			mutate:  func(c *Config) { c.Duration = 0 },
			wantErr: true,
		},
		{
			name:    "zero max clock rate",
			mutate:  func(c *Config) { c.MaxClockRate = 0 },
			wantErr: true,
		},
		{
			name:    "zero event upper",
			mutate:  func(c *Config) { c.EventUpper = 0 },
			wantErr: true,
		},
		{
			name:    "negative send one cut",
			mutate:  func(c *Config) { c.SendOneCut = -1 },
			wantErr: true,
		},
		{
			name: "send all below send one",
			mutate: func(c *Config) {
				c.SendOneCut = 5
				c.SendAllCut = 3
			},
			wantErr: true,
		},
		{
			name: "send all above event upper",
			mutate: func(c *Config) {
				c.SendAllCut = 11
				c.SendOneCut = 11
			},
			wantErr: true,
		},
		{
			name: "cuts disabled",
			mutate: func(c *Config) {
				c.SendOneCut = 0
				c.SendAllCut = 0
			},
			wantErr: false,
		},
		{
			name:    "negative settle",
			mutate:  func(c *Config) { c.Settle = -time.Millisecond },
			wantErr: true,
		},
		{
			name:    "zero runs",
			mutate:  func(c *Config) { c.Runs = 0 },
			wantErr: true,
		},
		{
			name:    "empty serve addr",
			mutate:  func(c *Config) { c.ServeAddr = "" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: true,
		},
		{
			name:    "seed zero allowed",
			mutate:  func(c *Config) { c.Seed = 0 },
			wantErr: false,
		},
		{
			name:    "negative seed allowed",
			mutate:  func(c *Config) { c.Seed = -42 },
			wantErr: false,
		},
		{
			name:    "empty results dir allowed",
			mutate:  func(c *Config) { c.ResultsDir = "" },
			wantErr: false,
		},
		{
			name:    "empty db allowed",
			mutate:  func(c *Config) { c.DB = "" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, domain.ErrInvalidConfig) {
					t.Errorf("error %v is not ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigSetterRespectsChangedFlags(t *testing.T) {
	s := newConfigSetter(map[string]bool{"processes": true, "duration": true})

	procs := 3
	s.setInt("processes", 8, &procs)
	if procs != 3 {
		t.Errorf("changed flag overwritten: got %d, want 3", procs)
	}

	d := 30 * time.Second
	if err := s.setDuration("duration", "5s", &d); err != nil {
		t.Fatalf("setDuration: %v", err)
	}
	if d != 30*time.Second {
		t.Errorf("changed flag overwritten: got %s, want 30s", d)
	}

	upper := 10
	s.setInt("event-upper", 20, &upper)
	if upper != 20 {
		t.Errorf("unchanged flag not applied: got %d, want 20", upper)
	}
}

func TestConfigSetterSkipsZeroValues(t *testing.T) {
	s := newConfigSetter(nil)

	procs := 3
	s.setInt("processes", 0, &procs)
	if procs != 3 {
		t.Errorf("zero int applied: got %d, want 3", procs)
	}

	dir := "results"
	s.setString("results-dir", "", &dir)
	if dir != "results" {
		t.Errorf("empty string applied: got %q, want results", dir)
	}

	seed := int64(7)
	s.setInt64("seed", 0, &seed)
	if seed != 7 {
		t.Errorf("zero seed applied: got %d, want 7", seed)
	}
}

func TestConfigSetterIntPtr(t *testing.T) {
	s := newConfigSetter(nil)

	cut := 1
	s.setIntPtr("send-one-cut", nil, &cut)
	if cut != 1 {
		t.Errorf("nil pointer applied: got %d, want 1", cut)
	}

	zero := 0
	s.setIntPtr("send-one-cut", &zero, &cut)
	if cut != 0 {
		t.Errorf("explicit zero not applied: got %d, want 0", cut)
	}

	neg := -3
	cut = 1
	s.setIntPtr("send-one-cut", &neg, &cut)
	if cut != 1 {
		t.Errorf("negative value applied: got %d, want 1", cut)
	}
}

func TestConfigSetterParseErrors(t *testing.T) {
	s := newConfigSetter(nil)

	var d time.Duration
	if err := s.setDuration("duration", "not-a-duration", &d); err == nil {
		t.Error("expected parse error for bad duration")
	}

	var i int
	if err := s.setIntFromString("runs", "many", &i); err == nil {
		t.Error("expected parse error for bad int")
	}

	var n int
	if err := s.setNonNegIntFromString("send-one-cut", "x", &n); err == nil {
		t.Error("expected parse error for bad non-negative int")
	}

	var seed int64
	if err := s.setInt64FromString("seed", "abc", &seed); err == nil {
		t.Error("expected parse error for bad int64")
	}
}
