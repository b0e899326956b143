package cliconfig

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFile is looked up in the working directory when --config is
// not given. A missing default file is not an error.
const DefaultConfigFile = "driftlab.toml"

// FileConfig mirrors Config for TOML decoding. Durations are strings so the
// file can say "45s" rather than nanosecond counts, and the cut fields are
// pointers because zero is a meaningful value for them.
type FileConfig struct {
	Processes    int    `toml:"processes"`
	Duration     string `toml:"duration"`
	MaxClockRate int    `toml:"max_clock_rate"`
	EventUpper   int    `toml:"event_upper"`
	SendOneCut   *int   `toml:"send_one_cut"`
	SendAllCut   *int   `toml:"send_all_cut"`
	Seed         int64  `toml:"seed"`
	Settle       string `toml:"settle"`
	Runs         int    `toml:"runs"`
	ResultsDir   string `toml:"results_dir"`
	DB           string `toml:"db"`
	ServeAddr    string `toml:"serve_addr"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`
}

// LoadFileConfig reads and parses a TOML configuration file.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &fc, nil
}

// ApplyFileConfig overlays file values onto cfg. Values from flags that
// were explicitly changed take precedence and are not overwritten.
func ApplyFileConfig(cfg *Config, fc *FileConfig, changed map[string]bool) error {
	if fc == nil {
		return nil
	}
	s := newConfigSetter(changed)

	s.setInt("processes", fc.Processes, &cfg.Processes)
	if err := s.setDuration("duration", fc.Duration, &cfg.Duration); err != nil {
		return err
	}
	s.setInt("max-clock-rate", fc.MaxClockRate, &cfg.MaxClockRate)
	s.setInt("event-upper", fc.EventUpper, &cfg.EventUpper)
	s.setIntPtr("send-one-cut", fc.SendOneCut, &cfg.SendOneCut)
	s.setIntPtr("send-all-cut", fc.SendAllCut, &cfg.SendAllCut)
	s.setInt64("seed", fc.Seed, &cfg.Seed)
	if err := s.setDuration("settle", fc.Settle, &cfg.Settle); err != nil {
		return err
	}
	s.setInt("runs", fc.Runs, &cfg.Runs)
	s.setString("results-dir", fc.ResultsDir, &cfg.ResultsDir)
	s.setString("db", fc.DB, &cfg.DB)
	s.setString("addr", fc.ServeAddr, &cfg.ServeAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)

	return nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
