package domain

import "time"

// RunStatus is the lifecycle state of a persisted run.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// RunMeta identifies one simulation run and carries everything needed to
// reproduce or interpret it. Seed is the resolved value actually used, so a
// run started with seed 0 (draw from time) remains replayable.
type RunMeta struct {
	ID           string        `json:"id"`
	Seed         int64         `json:"seed"`
	Processes    int           `json:"processes"`
	Duration     time.Duration `json:"duration"`
	MaxClockRate int           `json:"max_clock_rate"`
	EventUpper   int           `json:"event_upper"`
	SendOneCut   int           `json:"send_one_cut"`
	SendAllCut   int           `json:"send_all_cut"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at,omitzero"`
	Status       RunStatus     `json:"status"`
	Error        string        `json:"error,omitempty"`
}

// ProcessMeta records one process's drawn parameters and final outcome.
type ProcessMeta struct {
	Run        string    `json:"run"`
	Process    ProcessID `json:"process"`
	TickRate   int       `json:"tick_rate"`
	Ticks      int64     `json:"ticks"`
	FinalClock int64     `json:"final_clock"`
}
