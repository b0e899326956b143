package domain

import "time"

// ProcessID identifies one simulated process (virtual machine) within a run.
// IDs are assigned 0..N-1 by the coordinator and are stable for the run's lifetime.
type ProcessID int

// NoProcess marks the absence of a process reference, e.g. the Peer field of a
// record whose event did not target anyone.
const NoProcess ProcessID = -1

// MaxLogicalClock is the guard ceiling for logical clock values. A clock at or
// above it aborts the run with ErrInvariant; int64 leaves ample headroom for any
// realistic run length.
const MaxLogicalClock int64 = 1 << 62

// Message is a timestamped message exchanged between processes.
// It is immutable once created: owned by the channel until delivered, then by
// the receiver's inbound queue until consumed.
type Message struct {
	// Sender is the process that sent the message.
	Sender ProcessID

	// Clock is the sender's logical clock value at send time.
	Clock int64

	// SentAt is the sender's wall-clock time at send time.
	SentAt time.Time
}
