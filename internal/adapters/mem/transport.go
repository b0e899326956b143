// Package mem provides the in-process transport: one FIFO queue per process,
// wired into a fully-connected mesh.
//
// Every queue is multi-producer single-consumer: any peer may send
// concurrently, only the owning process loop drains. Delivery is reliable and
// immediate, so Send never returns an error here; the fallible signature
// exists for transports with a real boundary.
package mem

import (
	"sync"

	"github.com/driftlab/driftlab/internal/domain"
	"github.com/driftlab/driftlab/internal/ports"
)

// Queue implements ports.Channel with a mutex-guarded FIFO.
type Queue struct {
	mu   sync.Mutex
	msgs []domain.Message
}

// Send enqueues a message. Safe for concurrent producers; never blocks.
func (q *Queue) Send(m domain.Message) error {
	q.mu.Lock()
	q.msgs = append(q.msgs, m)
	q.mu.Unlock()
	return nil
}

// TryReceive dequeues the oldest message, if any, without blocking.
func (q *Queue) TryReceive() (domain.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return domain.Message{}, false
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	if len(q.msgs) == 0 {
		// Let the drained backing array go.
		q.msgs = nil
	}
	return m, true
}

// Pending returns the current queue length.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Mesh implements ports.Transport for n processes with ids 0..n-1.
type Mesh struct {
	queues []*Queue
}

// NewMesh builds the full mesh for n processes.
func NewMesh(n int) *Mesh {
	queues := make([]*Queue, n)
	for i := range queues {
		queues[i] = &Queue{}
	}
	return &Mesh{queues: queues}
}

// Size returns the number of processes in the mesh.
func (m *Mesh) Size() int { return len(m.queues) }

// Endpoint returns the inbound queue owned by the given process.
func (m *Mesh) Endpoint(id domain.ProcessID) ports.Channel {
	return m.queues[id]
}

// Peers returns every other process id in ascending order.
func (m *Mesh) Peers(id domain.ProcessID) []domain.ProcessID {
	peers := make([]domain.ProcessID, 0, len(m.queues)-1)
	for i := range m.queues {
		if p := domain.ProcessID(i); p != id {
			peers = append(peers, p)
		}
	}
	return peers
}
