package cliconfig

import "os"

// Environment variable names. Each maps to one Config field and loses to an
// explicitly set flag of the same name.
const (
	EnvProcesses    = "DRIFTLAB_PROCESSES"
	EnvDuration     = "DRIFTLAB_DURATION"
	EnvMaxClockRate = "DRIFTLAB_MAX_CLOCK_RATE"
	EnvEventUpper   = "DRIFTLAB_EVENT_UPPER"
	EnvSendOneCut   = "DRIFTLAB_SEND_ONE_CUT"
	EnvSendAllCut   = "DRIFTLAB_SEND_ALL_CUT"
	EnvSeed         = "DRIFTLAB_SEED"
	EnvSettle       = "DRIFTLAB_SETTLE"
	EnvRuns         = "DRIFTLAB_RUNS"
	EnvResultsDir   = "DRIFTLAB_RESULTS_DIR"
	EnvDB           = "DRIFTLAB_DB"
	EnvServeAddr    = "DRIFTLAB_ADDR"
	EnvLogLevel     = "DRIFTLAB_LOG_LEVEL"
	EnvLogFormat    = "DRIFTLAB_LOG_FORMAT"
)

// ApplyEnvConfig overlays DRIFTLAB_* environment variables onto cfg.
// Values from flags that were explicitly changed take precedence.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	if err := s.setIntFromString("processes", os.Getenv(EnvProcesses), &cfg.Processes); err != nil {
		return err
	}
	if err := s.setDuration("duration", os.Getenv(EnvDuration), &cfg.Duration); err != nil {
		return err
	}
	if err := s.setIntFromString("max-clock-rate", os.Getenv(EnvMaxClockRate), &cfg.MaxClockRate); err != nil {
		return err
	}
	if err := s.setIntFromString("event-upper", os.Getenv(EnvEventUpper), &cfg.EventUpper); err != nil {
		return err
	}
	if err := s.setNonNegIntFromString("send-one-cut", os.Getenv(EnvSendOneCut), &cfg.SendOneCut); err != nil {
		return err
	}
	if err := s.setNonNegIntFromString("send-all-cut", os.Getenv(EnvSendAllCut), &cfg.SendAllCut); err != nil {
		return err
	}
	if err := s.setInt64FromString("seed", os.Getenv(EnvSeed), &cfg.Seed); err != nil {
		return err
	}
	if err := s.setDuration("settle", os.Getenv(EnvSettle), &cfg.Settle); err != nil {
		return err
	}
	if err := s.setIntFromString("runs", os.Getenv(EnvRuns), &cfg.Runs); err != nil {
		return err
	}
	s.setString("results-dir", os.Getenv(EnvResultsDir), &cfg.ResultsDir)
	s.setString("db", os.Getenv(EnvDB), &cfg.DB)
	s.setString("addr", os.Getenv(EnvServeAddr), &cfg.ServeAddr)
	s.setString("log-level", os.Getenv(EnvLogLevel), &cfg.LogLevel)
	s.setString("log-format", os.Getenv(EnvLogFormat), &cfg.LogFormat)

	return nil
}
