package domain

import "time"

// EventKind is the action a process took on one tick.
type EventKind string

// The four event kinds of the simulation.
const (
	// EventReceive drains exactly one message from the inbound queue.
	EventReceive EventKind = "receive"

	// EventSendOne sends to a single peer chosen uniformly at random.
	EventSendOne EventKind = "send-one"

	// EventSendAll sends an identically-stamped message to every peer.
	EventSendAll EventKind = "send-all"

	// EventInternal advances the clock without any message traffic.
	EventInternal EventKind = "internal"
)

// Valid reports whether k is one of the four defined kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventReceive, EventSendOne, EventSendAll, EventInternal:
		return true
	}
	return false
}

// Record is the observation a process emits once per tick. Records are
// append-only; the per-process sequence ordered by Tick is the sole
// observable output of the simulation core.
type Record struct {
	// Process is the emitting process.
	Process ProcessID `json:"process"`

	// Tick is the 0-based tick index within the emitting process.
	Tick int64 `json:"tick"`

	// Wall is the wall-clock time the event was applied.
	Wall time.Time `json:"wall"`

	// Kind is the event applied on this tick.
	Kind EventKind `json:"kind"`

	// Clock is the logical clock value after the event.
	Clock int64 `json:"clock"`

	// Queue is the inbound queue length after the event.
	Queue int `json:"queue"`

	// Peer is the target of a send-one event, else NoProcess.
	Peer ProcessID `json:"peer"`

	// Sender is the source of a received message, else NoProcess.
	Sender ProcessID `json:"sender"`

	// SentClock is the clock carried by the received message, else -1.
	// Kept on the record so receive gaps can be analyzed without re-joining
	// messages to records.
	SentClock int64 `json:"sent_clock"`
}
