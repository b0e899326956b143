package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/driftlab/driftlab/internal/domain"
	"github.com/driftlab/driftlab/internal/ports"
	"github.com/driftlab/driftlab/pkg/log"
)

// Process drives one simulated machine: a tick loop at a fixed wall-clock
// rate that drains its inbound queue, applies the event policy, advances its
// Lamport clock, sends into peer channels, and emits one record per tick.
//
// A process owns its Clock, Selector, and tick counter exclusively; the only
// shared resource it touches is the inbound queue (as sole consumer) and peer
// endpoints (as one of many producers).
type Process struct {
	id        domain.ProcessID
	rate      int
	period    time.Duration
	transport ports.Transport
	inbound   ports.Channel
	peers     []domain.ProcessID
	selector  *Selector
	sink      ports.RecordSink
	logger    log.Logger
	lc        *Lifecycle

	clock Clock
	ticks int64
}

// NewProcess creates a process with the given identity, tick rate, and
// collaborators. The peer set comes from the transport so the loop and the
// selector agree on it.
func NewProcess(
	id domain.ProcessID,
	rate int,
	transport ports.Transport,
	selector *Selector,
	sink ports.RecordSink,
	logger log.Logger,
) *Process {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Process{
		id:        id,
		rate:      rate,
		period:    time.Second / time.Duration(rate),
		transport: transport,
		inbound:   transport.Endpoint(id),
		peers:     transport.Peers(id),
		selector:  selector,
		sink:      sink,
		logger:    logger,
		lc:        NewLifecycle(logger, nil),
	}
}

// ID returns the process identity.
func (p *Process) ID() domain.ProcessID { return p.id }

// TickRate returns the drawn tick rate in ticks per second.
func (p *Process) TickRate() int { return p.rate }

// State returns the loop's lifecycle state.
func (p *Process) State() State { return p.lc.State() }

// Ticks returns the number of completed ticks. Valid once Run has returned.
func (p *Process) Ticks() int64 { return p.ticks }

// FinalClock returns the clock value after the last event. Valid once Run
// has returned.
func (p *Process) FinalClock() int64 { return p.clock.Value() }

// Run executes the tick loop from the common nominal start until the
// deadline. Cancellation stops the loop cooperatively at the next tick
// boundary and is not an error of this process; a delivery failure after
// retries, a sink failure, or a clock past the ceiling aborts with an error.
func (p *Process) Run(ctx context.Context, startAt, deadline time.Time) error {
	if err := p.lc.TransitionTo(StateStarting, "scheduled"); err != nil {
		return err
	}

	// Hold until the common start so tick schedules are comparable across
	// processes regardless of construction order.
	if wait := time.Until(startAt); wait > 0 {
		select {
		case <-ctx.Done():
			p.stop("canceled before start")
			return nil
		case <-time.After(wait):
		}
	}

	_ = p.lc.TransitionTo(StateRunning, "first tick")
	p.logger.Debug("process running",
		log.Int("process", int(p.id)),
		log.Int("rate", p.rate),
		log.Duration("period", p.period),
	)

	for {
		select {
		case <-ctx.Done():
			p.stop("canceled")
			return nil
		default:
		}

		if !time.Now().Before(deadline) {
			p.stop("duration elapsed")
			return nil
		}

		if err := p.tick(ctx, startAt); err != nil {
			_ = p.lc.TransitionTo(StateCrashed, err.Error())
			return err
		}

		// Sleep to the scheduled boundary of the next tick, not for a full
		// period from now; event and sink overhead must not accumulate.
		next := startAt.Add(time.Duration(p.ticks) * p.period)
		if wait := time.Until(next); wait > 0 {
			select {
			case <-ctx.Done():
				// Loop top handles the cancellation.
			case <-time.After(wait):
			}
		}
	}
}

// tick applies exactly one event and emits its record.
func (p *Process) tick(ctx context.Context, startAt time.Time) error {
	idx := p.ticks
	pending := p.inbound.Pending()
	kind := p.selector.Choose(pending > 0)
	now := time.Now()

	rec := domain.Record{
		Process:   p.id,
		Tick:      idx,
		Wall:      now,
		Kind:      kind,
		Peer:      domain.NoProcess,
		Sender:    domain.NoProcess,
		SentClock: -1,
	}

	var clock int64
	switch kind {
	case domain.EventReceive:
		m, ok := p.inbound.TryReceive()
		if !ok {
			// Single consumer: a pending message cannot vanish.
			return fmt.Errorf("tick %d: receive chosen but queue empty: %w", idx, domain.ErrInvariant)
		}
		clock = p.clock.Observe(m.Clock)
		rec.Sender = m.Sender
		rec.SentClock = m.Clock

	case domain.EventSendOne:
		clock = p.clock.Tick()
		target := p.selector.PickPeer()
		if err := p.send(ctx, target, clock, now); err != nil {
			return err
		}
		rec.Peer = target

	case domain.EventSendAll:
		clock = p.clock.Tick()
		for _, peer := range p.peers {
			if err := p.send(ctx, peer, clock, now); err != nil {
				return err
			}
		}

	default:
		clock = p.clock.Tick()
	}

	if clock >= domain.MaxLogicalClock {
		return fmt.Errorf("tick %d: clock %d at ceiling: %w", idx, clock, domain.ErrInvariant)
	}

	rec.Clock = clock
	rec.Queue = p.inbound.Pending()

	if err := p.sink.Append(rec); err != nil {
		return fmt.Errorf("append record at tick %d: %w", idx, err)
	}

	p.ticks++
	return nil
}

// send delivers one message with bounded, jittered exponential retry.
// Exhaustion is a communication failure: the message is surfaced, never
// dropped, because a silent loss would break the causal order downstream.
func (p *Process) send(ctx context.Context, target domain.ProcessID, clock int64, at time.Time) error {
	msg := domain.Message{Sender: p.id, Clock: clock, SentAt: at}
	endpoint := p.transport.Endpoint(target)
	bo := newBackoff(deliveryBackoffInitial, deliveryBackoffMax)

	var lastErr error
	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		lastErr = endpoint.Send(msg)
		if lastErr == nil {
			return nil
		}
		p.logger.Warn("delivery failed",
			log.Int("process", int(p.id)),
			log.Int("target", int(target)),
			log.Int("attempt", attempt),
			log.Err(lastErr),
		)
		if ctx.Err() != nil || attempt == deliveryAttempts {
			break
		}
		bo.Sleep()
	}

	return fmt.Errorf("send from %d to %d gave up after %d attempts (%v): %w",
		p.id, target, deliveryAttempts, lastErr, domain.ErrCommunication)
}

// stop walks the lifecycle through Stopping to Stopped.
func (p *Process) stop(reason string) {
	_ = p.lc.TransitionTo(StateStopping, reason)
	_ = p.lc.TransitionTo(StateStopped, reason)
}
