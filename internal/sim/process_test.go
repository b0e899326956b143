package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/driftlab/driftlab/internal/domain"
	"github.com/driftlab/driftlab/internal/ports"
)

// testChannel implements ports.Channel with a mutex-guarded FIFO.
type testChannel struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (c *testChannel) Send(m domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *testChannel) TryReceive() (domain.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return domain.Message{}, false
	}
	m := c.msgs[0]
	c.msgs = c.msgs[1:]
	return m, true
}

func (c *testChannel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

// flakyChannel fails a fixed number of sends before delivering.
type flakyChannel struct {
	inner    *testChannel
	mu       sync.Mutex
	failures int
	attempts int
}

func (c *flakyChannel) Send(m domain.Message) error {
	c.mu.Lock()
	c.attempts++
	fail := c.attempts <= c.failures
	c.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: synthetic outage", domain.ErrDelivery)
	}
	return c.inner.Send(m)
}

func (c *flakyChannel) TryReceive() (domain.Message, bool) { return c.inner.TryReceive() }
func (c *flakyChannel) Pending() int                       { return c.inner.Pending() }

func (c *flakyChannel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// testMesh implements ports.Transport over testChannels.
type testMesh struct {
	chans map[domain.ProcessID]ports.Channel
}

func newTestMesh(n int) *testMesh {
	m := &testMesh{chans: make(map[domain.ProcessID]ports.Channel, n)}
	for i := 0; i < n; i++ {
		m.chans[domain.ProcessID(i)] = &testChannel{}
	}
	return m
}

func (m *testMesh) Endpoint(id domain.ProcessID) ports.Channel { return m.chans[id] }

func (m *testMesh) Peers(id domain.ProcessID) []domain.ProcessID {
	peers := make([]domain.ProcessID, 0, len(m.chans)-1)
	for i := 0; i < len(m.chans); i++ {
		if p := domain.ProcessID(i); p != id {
			peers = append(peers, p)
		}
	}
	return peers
}

// captureSink collects appended records.
type captureSink struct {
	mu     sync.Mutex
	recs   []domain.Record
	closed bool
}

func (s *captureSink) Append(r domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, r)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *captureSink) Records() []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Record{}, s.recs...)
}

// failingSink rejects appends once a threshold is reached.
type failingSink struct {
	mu        sync.Mutex
	recs      []domain.Record
	failAfter int
}

func (s *failingSink) Append(r domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recs) >= s.failAfter {
		return errors.New("sink rejected record")
	}
	s.recs = append(s.recs, r)
	return nil
}

func (s *failingSink) Close() error { return nil }

func newTestProcess(id domain.ProcessID, rate int, mesh *testMesh, upper, oneCut, allCut int, sink ports.RecordSink) *Process {
	rng := rand.New(rand.NewSource(int64(id) + 1))
	sel := NewSelector(upper, oneCut, allCut, mesh.Peers(id), rng)
	return NewProcess(id, rate, mesh, sel, sink, nil)
}

func TestProcessInternalTicksFollowBudget(t *testing.T) {
	const (
		rate     = 20
		duration = 500 * time.Millisecond
	)
	mesh := newTestMesh(1)
	sink := &captureSink{}
	// No peers, so every tick is internal regardless of the draw.
	p := newTestProcess(0, rate, mesh, 10, 1, 2, sink)

	start := time.Now()
	if err := p.Run(context.Background(), start, start.Add(duration)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	recs := sink.Records()
	want := int(duration.Seconds() * rate)
	if len(recs) < want-1 || len(recs) > want+1 {
		t.Errorf("got %d records, want %d±1", len(recs), want)
	}
	if p.Ticks() != int64(len(recs)) {
		t.Errorf("Ticks() = %d, records = %d", p.Ticks(), len(recs))
	}

	for i, r := range recs {
		if r.Kind != domain.EventInternal {
			t.Errorf("record %d: kind = %v, want internal", i, r.Kind)
		}
		if r.Clock != int64(i)+1 {
			t.Errorf("record %d: clock = %d, want %d", i, r.Clock, i+1)
		}
		if r.Tick != int64(i) {
			t.Errorf("record %d: tick = %d, want %d", i, r.Tick, i)
		}
	}
	if p.State() != StateStopped {
		t.Errorf("state = %v, want Stopped", p.State())
	}
	if p.FinalClock() != int64(len(recs)) {
		t.Errorf("FinalClock() = %d, want %d", p.FinalClock(), len(recs))
	}
}

func TestProcessReceiveObservesCarriedClock(t *testing.T) {
	mesh := newTestMesh(2)
	sink := &captureSink{}
	p := newTestProcess(0, 50, mesh, 10, 0, 0, sink)

	// A message waiting before the first tick forces a receive.
	if err := mesh.Endpoint(0).Send(domain.Message{Sender: 1, Clock: 3, SentAt: time.Now()}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	start := time.Now()
	if err := p.Run(context.Background(), start, start.Add(60*time.Millisecond)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	recs := sink.Records()
	if len(recs) == 0 {
		t.Fatal("no records emitted")
	}
	first := recs[0]
	if first.Kind != domain.EventReceive {
		t.Fatalf("first record kind = %v, want receive", first.Kind)
	}
	if first.Clock != 4 {
		t.Errorf("post-receive clock = %d, want max(0,3)+1 = 4", first.Clock)
	}
	if first.Sender != 1 || first.SentClock != 3 {
		t.Errorf("sender/sent_clock = %d/%d, want 1/3", first.Sender, first.SentClock)
	}
	if first.Queue != 0 {
		t.Errorf("post-receive queue = %d, want 0", first.Queue)
	}
}

func TestProcessDrainsExactlyOnePerTick(t *testing.T) {
	mesh := newTestMesh(2)
	sink := &captureSink{}
	p := newTestProcess(0, 50, mesh, 10, 0, 0, sink)

	for i := 0; i < 3; i++ {
		if err := mesh.Endpoint(0).Send(domain.Message{Sender: 1, Clock: int64(10 * (i + 1)), SentAt: time.Now()}); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := p.Run(context.Background(), start, start.Add(110*time.Millisecond)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	recs := sink.Records()
	if len(recs) < 4 {
		t.Fatalf("got %d records, want at least 4", len(recs))
	}
	// Draining beats generating, one message per tick, FIFO.
	for i := 0; i < 3; i++ {
		if recs[i].Kind != domain.EventReceive {
			t.Errorf("record %d: kind = %v, want receive", i, recs[i].Kind)
		}
		if recs[i].SentClock != int64(10*(i+1)) {
			t.Errorf("record %d: sent_clock = %d, want %d", i, recs[i].SentClock, 10*(i+1))
		}
		if recs[i].Queue != 2-i {
			t.Errorf("record %d: queue = %d, want %d", i, recs[i].Queue, 2-i)
		}
	}
	if recs[3].Kind != domain.EventInternal {
		t.Errorf("record 3: kind = %v, want internal after queue drained", recs[3].Kind)
	}
	// Receive gaps respect causality.
	for i, r := range recs[:3] {
		if r.Clock < r.SentClock+1 {
			t.Errorf("record %d: clock %d < sent clock %d + 1", i, r.Clock, r.SentClock)
		}
	}
}

func TestProcessSendOneTargetsPeerWithNewClock(t *testing.T) {
	mesh := newTestMesh(2)
	sink := &captureSink{}
	// upper 1 with cuts 1,1 makes every idle tick a send-one.
	p := newTestProcess(0, 20, mesh, 1, 1, 1, sink)

	start := time.Now()
	if err := p.Run(context.Background(), start, start.Add(260*time.Millisecond)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	recs := sink.Records()
	if len(recs) == 0 {
		t.Fatal("no records emitted")
	}
	for i, r := range recs {
		if r.Kind != domain.EventSendOne {
			t.Fatalf("record %d: kind = %v, want send-one", i, r.Kind)
		}
		if r.Peer != 1 {
			t.Errorf("record %d: peer = %d, want 1", i, r.Peer)
		}
	}

	// The peer's queue holds every message in send order with the sender's
	// post-increment clocks.
	in := mesh.Endpoint(1)
	if in.Pending() != len(recs) {
		t.Fatalf("peer pending = %d, want %d", in.Pending(), len(recs))
	}
	for i := 0; i < len(recs); i++ {
		m, ok := in.TryReceive()
		if !ok {
			t.Fatalf("message %d missing", i)
		}
		if m.Sender != 0 {
			t.Errorf("message %d: sender = %d, want 0", i, m.Sender)
		}
		if m.Clock != int64(i)+1 {
			t.Errorf("message %d: clock = %d, want %d", i, m.Clock, i+1)
		}
	}
}

func TestProcessSendAllReachesEveryPeer(t *testing.T) {
	mesh := newTestMesh(3)
	sink := &captureSink{}
	// oneCut 0 disables send-one; upper 2 with allCut 2 forces send-all.
	p := newTestProcess(0, 20, mesh, 2, 0, 2, sink)

	start := time.Now()
	if err := p.Run(context.Background(), start, start.Add(160*time.Millisecond)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	recs := sink.Records()
	if len(recs) == 0 {
		t.Fatal("no records emitted")
	}
	for i, r := range recs {
		if r.Kind != domain.EventSendAll {
			t.Fatalf("record %d: kind = %v, want send-all", i, r.Kind)
		}
	}

	// Both peers got identically-stamped copies in the same order.
	for _, peer := range []domain.ProcessID{1, 2} {
		in := mesh.Endpoint(peer)
		if in.Pending() != len(recs) {
			t.Fatalf("peer %d pending = %d, want %d", peer, in.Pending(), len(recs))
		}
		for i := 0; i < len(recs); i++ {
			m, _ := in.TryReceive()
			if m.Clock != recs[i].Clock {
				t.Errorf("peer %d message %d: clock = %d, want %d", peer, i, m.Clock, recs[i].Clock)
			}
		}
	}
}

func TestProcessRetryExhaustionFailsProcess(t *testing.T) {
	mesh := newTestMesh(2)
	flaky := &flakyChannel{inner: &testChannel{}, failures: 1 << 30}
	mesh.chans[1] = flaky
	sink := &captureSink{}
	p := newTestProcess(0, 20, mesh, 1, 1, 1, sink)

	start := time.Now()
	err := p.Run(context.Background(), start, start.Add(time.Second))
	if err == nil {
		t.Fatal("Run() = nil, want communication failure")
	}
	if !errors.Is(err, domain.ErrCommunication) {
		t.Errorf("error = %v, want ErrCommunication", err)
	}
	if got := flaky.Attempts(); got != deliveryAttempts {
		t.Errorf("attempts = %d, want %d", got, deliveryAttempts)
	}
	if p.State() != StateCrashed {
		t.Errorf("state = %v, want Crashed", p.State())
	}
	if len(sink.Records()) != 0 {
		t.Errorf("failed tick emitted %d records, want 0", len(sink.Records()))
	}
}

func TestProcessRetryRecovers(t *testing.T) {
	mesh := newTestMesh(2)
	flaky := &flakyChannel{inner: &testChannel{}, failures: 2}
	mesh.chans[1] = flaky
	sink := &captureSink{}
	p := newTestProcess(0, 20, mesh, 1, 1, 1, sink)

	start := time.Now()
	if err := p.Run(context.Background(), start, start.Add(60*time.Millisecond)); err != nil {
		t.Fatalf("Run() error = %v, want recovery", err)
	}
	if got := flaky.Attempts(); got < 3 {
		t.Errorf("attempts = %d, want at least 3 (two failures then success)", got)
	}
	if len(sink.Records()) == 0 {
		t.Error("no records emitted after recovery")
	}
	if flaky.Pending() == 0 {
		t.Error("no message delivered after recovery")
	}
}

func TestProcessSinkFailureFailsProcess(t *testing.T) {
	mesh := newTestMesh(1)
	sink := &failingSink{failAfter: 2}
	p := newTestProcess(0, 50, mesh, 10, 1, 2, sink)

	start := time.Now()
	err := p.Run(context.Background(), start, start.Add(time.Second))
	if err == nil {
		t.Fatal("Run() = nil, want sink failure")
	}
	if p.State() != StateCrashed {
		t.Errorf("state = %v, want Crashed", p.State())
	}
	if p.Ticks() != 2 {
		t.Errorf("Ticks() = %d, want 2 completed before failure", p.Ticks())
	}
}

func TestProcessCancelBeforeStart(t *testing.T) {
	mesh := newTestMesh(1)
	sink := &captureSink{}
	p := newTestProcess(0, 10, mesh, 10, 1, 2, sink)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now().Add(time.Hour)
	if err := p.Run(ctx, start, start.Add(time.Second)); err != nil {
		t.Fatalf("Run() error = %v, want nil on cancellation", err)
	}
	if p.Ticks() != 0 {
		t.Errorf("Ticks() = %d, want 0", p.Ticks())
	}
	if p.State() != StateStopped {
		t.Errorf("state = %v, want Stopped", p.State())
	}
}

func TestProcessCancelMidRun(t *testing.T) {
	mesh := newTestMesh(1)
	sink := &captureSink{}
	p := newTestProcess(0, 20, mesh, 10, 1, 2, sink)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(120 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	began := time.Now()
	if err := p.Run(ctx, start, start.Add(10*time.Second)); err != nil {
		t.Fatalf("Run() error = %v, want nil on cancellation", err)
	}
	if elapsed := time.Since(began); elapsed > 2*time.Second {
		t.Errorf("run took %s after cancel, want prompt stop", elapsed)
	}
	if p.State() != StateStopped {
		t.Errorf("state = %v, want Stopped", p.State())
	}
	if p.Ticks() == 0 {
		t.Error("expected at least one tick before cancel")
	}
}

func TestProcessClockCeilingAborts(t *testing.T) {
	mesh := newTestMesh(2)
	sink := &captureSink{}
	p := newTestProcess(0, 50, mesh, 10, 0, 0, sink)

	// A received timestamp at the ceiling pushes the clock past it.
	if err := mesh.Endpoint(0).Send(domain.Message{Sender: 1, Clock: domain.MaxLogicalClock, SentAt: time.Now()}); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	start := time.Now()
	err := p.Run(context.Background(), start, start.Add(time.Second))
	if err == nil {
		t.Fatal("Run() = nil, want invariant violation")
	}
	if !errors.Is(err, domain.ErrInvariant) {
		t.Errorf("error = %v, want ErrInvariant", err)
	}
	if p.State() != StateCrashed {
		t.Errorf("state = %v, want Crashed", p.State())
	}
}
