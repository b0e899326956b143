package ports

import "github.com/driftlab/driftlab/internal/domain"

// Channel is one process's inbound message endpoint. Peers send into it; only
// the owning process loop drains it.
//
// Concurrency contract: Send is safe for any number of concurrent producers;
// TryReceive and Pending are called only by the single consumer. No message is
// lost or duplicated. Messages from the same sender arrive in send order; no
// ordering is guaranteed across senders.
type Channel interface {
	// Send enqueues a message for the owning process. It never blocks the
	// sender. In-process delivery cannot fail, but the signature is fallible
	// so transports with a real boundary stay honest; a non-nil error is
	// retryable at the caller.
	Send(msg domain.Message) error

	// TryReceive dequeues the oldest pending message, if any. It never blocks;
	// the second return is false when the queue is empty.
	TryReceive() (domain.Message, bool)

	// Pending returns the current queue length.
	Pending() int
}

// Transport wires N processes into a fully-connected mesh and hands out
// endpoints. Implementations decide what a channel is (in-memory queue,
// network socket); the core only relies on the Channel contract.
type Transport interface {
	// Endpoint returns the inbound channel owned by the given process.
	Endpoint(id domain.ProcessID) Channel

	// Peers returns every other process id, in stable order, for the given
	// process. The slice is owned by the caller.
	Peers(id domain.ProcessID) []domain.ProcessID
}
