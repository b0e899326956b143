package ports

import "github.com/driftlab/driftlab/internal/domain"

// RecordSink receives the records a process emits, one per tick, in emission
// order. Append is called from the emitting process's goroutine; a sink shared
// across processes must serialize internally. A non-nil error from Append
// fails the emitting process and with it the run.
type RecordSink interface {
	// Append accepts one record.
	Append(rec domain.Record) error

	// Close flushes buffered records and releases resources. Called once,
	// after the owning loop has stopped.
	Close() error
}
