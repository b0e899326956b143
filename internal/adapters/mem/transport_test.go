package mem

import (
	"sync"
	"testing"
	"time"

	"github.com/driftlab/driftlab/internal/domain"
)

func TestQueueFIFO(t *testing.T) {
	var q Queue

	for i := int64(1); i <= 5; i++ {
		if err := q.Send(domain.Message{Sender: 1, Clock: i}); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}
	if q.Pending() != 5 {
		t.Fatalf("Pending() = %d, want 5", q.Pending())
	}

	for i := int64(1); i <= 5; i++ {
		m, ok := q.TryReceive()
		if !ok {
			t.Fatalf("TryReceive() empty at %d", i)
		}
		if m.Clock != i {
			t.Errorf("message clock = %d, want %d", m.Clock, i)
		}
	}

	if _, ok := q.TryReceive(); ok {
		t.Error("TryReceive() on empty queue returned a message")
	}
	if q.Pending() != 0 {
		t.Errorf("Pending() = %d after drain, want 0", q.Pending())
	}
}

func TestQueueConcurrentProducersSingleConsumer(t *testing.T) {
	const (
		producers = 4
		perSender = 500
	)
	var q Queue

	var wg sync.WaitGroup
	for s := 0; s < producers; s++ {
		wg.Add(1)
		go func(sender domain.ProcessID) {
			defer wg.Done()
			for i := 1; i <= perSender; i++ {
				_ = q.Send(domain.Message{Sender: sender, Clock: int64(i)})
			}
		}(domain.ProcessID(s))
	}

	// Drain concurrently with the producers; per-sender order must hold even
	// under interleaving.
	lastSeen := map[domain.ProcessID]int64{}
	total := 0
	deadline := time.Now().Add(5 * time.Second)
	for total < producers*perSender {
		if time.Now().After(deadline) {
			t.Fatalf("drained %d of %d messages before timeout", total, producers*perSender)
		}
		m, ok := q.TryReceive()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		if m.Clock != lastSeen[m.Sender]+1 {
			t.Fatalf("sender %d: clock %d after %d, want consecutive", m.Sender, m.Clock, lastSeen[m.Sender])
		}
		lastSeen[m.Sender] = m.Clock
		total++
	}
	wg.Wait()

	if q.Pending() != 0 {
		t.Errorf("Pending() = %d after full drain, want 0", q.Pending())
	}
	for s := domain.ProcessID(0); s < producers; s++ {
		if lastSeen[s] != perSender {
			t.Errorf("sender %d: drained up to %d, want %d", s, lastSeen[s], perSender)
		}
	}
}

func TestMeshPeersExcludeSelf(t *testing.T) {
	m := NewMesh(4)

	if m.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", m.Size())
	}

	tests := []struct {
		id   domain.ProcessID
		want []domain.ProcessID
	}{
		{0, []domain.ProcessID{1, 2, 3}},
		{1, []domain.ProcessID{0, 2, 3}},
		{3, []domain.ProcessID{0, 1, 2}},
	}

	for _, tt := range tests {
		got := m.Peers(tt.id)
		if len(got) != len(tt.want) {
			t.Fatalf("Peers(%d) = %v, want %v", tt.id, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Peers(%d)[%d] = %d, want %d", tt.id, i, got[i], tt.want[i])
			}
		}
	}
}

func TestMeshEndpointsAreDistinct(t *testing.T) {
	m := NewMesh(3)

	_ = m.Endpoint(0).Send(domain.Message{Sender: 1, Clock: 1})

	if got := m.Endpoint(0).Pending(); got != 1 {
		t.Errorf("endpoint 0 pending = %d, want 1", got)
	}
	for _, id := range []domain.ProcessID{1, 2} {
		if got := m.Endpoint(id).Pending(); got != 0 {
			t.Errorf("endpoint %d pending = %d, want 0", id, got)
		}
	}
}

func TestMeshSingleProcessHasNoPeers(t *testing.T) {
	m := NewMesh(1)
	if peers := m.Peers(0); len(peers) != 0 {
		t.Errorf("Peers(0) = %v, want empty", peers)
	}
}
