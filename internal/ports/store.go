package ports

import (
	"context"
	"time"

	"github.com/driftlab/driftlab/internal/domain"
)

// RunStore persists runs, per-process parameters, and records across multiple
// runs, and serves them back to analysis and the HTTP observer.
//
// Write methods are called while a run is in flight, potentially from several
// process goroutines through a shared sink; implementations must serialize
// internally. Read methods return domain.ErrRunNotFound for unknown run ids.
type RunStore interface {
	// CreateRun inserts a new run row with status running.
	CreateRun(ctx context.Context, meta domain.RunMeta) error

	// FinishRun finalizes a run's status, finish time, and error text.
	FinishRun(ctx context.Context, id string, status domain.RunStatus, finishedAt time.Time, runErr string) error

	// AddProcess records one process's drawn parameters and outcome.
	AddProcess(ctx context.Context, meta domain.ProcessMeta) error

	// AppendRecords persists a batch of records for the given run.
	AppendRecords(ctx context.Context, runID string, recs []domain.Record) error

	// Runs lists all runs, most recent first.
	Runs(ctx context.Context) ([]domain.RunMeta, error)

	// Run returns one run by id.
	Run(ctx context.Context, id string) (domain.RunMeta, error)

	// LatestRun returns the most recently started run.
	LatestRun(ctx context.Context) (domain.RunMeta, error)

	// Processes returns a run's process rows ordered by process id.
	Processes(ctx context.Context, runID string) ([]domain.ProcessMeta, error)

	// Records returns a run's records ordered by (process, tick). Passing
	// domain.NoProcess selects every process.
	Records(ctx context.Context, runID string, process domain.ProcessID) ([]domain.Record, error)

	// Close releases the underlying storage.
	Close() error
}
