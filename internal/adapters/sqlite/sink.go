package sqlite

import (
	"context"

	"github.com/driftlab/driftlab/internal/domain"
	"github.com/driftlab/driftlab/internal/ports"
)

// sinkFlushSize is the number of buffered records that triggers a flush.
const sinkFlushSize = 256

// Sink buffers the records of a single process and writes them to the store
// in batches. It implements ports.RecordSink. Append runs on the owning
// process's goroutine only, so no locking is needed; concurrency across
// processes is handled by the store itself.
type Sink struct {
	store ports.RunStore
	runID string
	buf   []domain.Record
}

// NewSink returns a buffering sink that appends records for runID.
func NewSink(store ports.RunStore, runID string) *Sink {
	return &Sink{
		store: store,
		runID: runID,
		buf:   make([]domain.Record, 0, sinkFlushSize),
	}
}

// Append buffers one record, flushing when the buffer fills.
func (s *Sink) Append(rec domain.Record) error {
	s.buf = append(s.buf, rec)
	if len(s.buf) >= sinkFlushSize {
		return s.flush()
	}
	return nil
}

// Close flushes any buffered records. The store stays open; it is shared
// across sinks and closed by its owner.
func (s *Sink) Close() error {
	return s.flush()
}

func (s *Sink) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	if err := s.store.AppendRecords(context.Background(), s.runID, s.buf); err != nil {
		return err
	}
	s.buf = s.buf[:0]
	return nil
}
