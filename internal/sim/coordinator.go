package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/driftlab/driftlab/internal/domain"
	"github.com/driftlab/driftlab/internal/ports"
	"github.com/driftlab/driftlab/pkg/log"
)

// shutdownGrace bounds how long the coordinator waits for loops past the
// nominal deadline before declaring the shutdown stuck.
const shutdownGrace = 10 * time.Second

// SinkFactory builds the record sink for one process. The coordinator calls
// it once per process at construction and closes each sink when that
// process's loop ends.
type SinkFactory func(id domain.ProcessID) (ports.RecordSink, error)

// Coordinator owns one run: it draws per-process tick rates from the seeded
// master source, builds every process over the shared transport mesh, starts
// them at a common nominal time, and waits for all of them. A coordinator is
// single-use; build a fresh one per run.
type Coordinator struct {
	cfg       Config
	transport ports.Transport
	logger    log.Logger
	lc        *Lifecycle

	procs []*Process
	sinks []ports.RecordSink
	rates []int

	mu  sync.Mutex
	ran bool
}

// NewCoordinator validates the configuration and constructs the full mesh of
// processes. Nothing starts here; Run does.
//
// The master source (seeded with cfg.Seed) draws the tick rates in process
// order. Each process then gets its own source seeded cfg.Seed+id+1, so the
// whole run replays from the single recorded seed.
func NewCoordinator(
	cfg Config,
	transport ports.Transport,
	sinks SinkFactory,
	logger log.Logger,
	emitter EventEmitter,
) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", domain.ErrInvalidConfig)
	}
	if sinks == nil {
		return nil, fmt.Errorf("%w: sink factory is required", domain.ErrInvalidConfig)
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	c := &Coordinator{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		lc:        NewLifecycle(logger, emitter),
		procs:     make([]*Process, cfg.Processes),
		sinks:     make([]ports.RecordSink, cfg.Processes),
		rates:     make([]int, cfg.Processes),
	}

	master := rand.New(rand.NewSource(cfg.Seed))
	for i := 0; i < cfg.Processes; i++ {
		c.rates[i] = master.Intn(cfg.MaxClockRate) + 1
	}

	for i := 0; i < cfg.Processes; i++ {
		id := domain.ProcessID(i)
		rng := rand.New(rand.NewSource(cfg.Seed + int64(i) + 1))
		selector := NewSelector(cfg.EventUpper, cfg.SendOneCut, cfg.SendAllCut, transport.Peers(id), rng)

		sink, err := sinks(id)
		if err != nil {
			c.closeSinks(i)
			return nil, fmt.Errorf("build sink for process %d: %w", id, err)
		}
		c.sinks[i] = sink
		c.procs[i] = NewProcess(id, c.rates[i], transport, selector, sink, logger)
	}

	return c, nil
}

// Rates returns the drawn tick rate per process, indexed by process id.
func (c *Coordinator) Rates() []int {
	out := make([]int, len(c.rates))
	copy(out, c.rates)
	return out
}

// State returns the coordinator's lifecycle state.
func (c *Coordinator) State() State { return c.lc.State() }

// Stop requests a cooperative stop of an in-flight run.
func (c *Coordinator) Stop() {
	c.lc.Cancel()
}

// Run starts every process at a common nominal time, blocks until all loops
// have stopped, and returns the per-process outcomes. The first process error
// cancels the rest and fails the run as a whole; a canceled parent context
// fails it with ErrContextCanceled. Comparative analysis assumes every
// process ran the full duration, so there is no partial success; metas are
// still returned alongside the error when the loops exited cleanly, so the
// caller can record how far each process got.
func (c *Coordinator) Run(parent context.Context) ([]domain.ProcessMeta, error) {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return nil, domain.ErrAlreadyRunning
	}
	c.ran = true
	c.mu.Unlock()

	if err := c.lc.TransitionTo(StateStarting, "run requested"); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	c.lc.SetCancel(cancel)

	startAt := time.Now().Add(c.cfg.Settle)
	deadline := startAt.Add(c.cfg.Duration)

	c.logger.Info("run starting",
		log.Int("processes", c.cfg.Processes),
		log.Duration("duration", c.cfg.Duration),
		log.Int64("seed", c.cfg.Seed),
		log.Any("rates", c.Rates()),
		log.Time("start_at", startAt),
	)

	errCh := make(chan error, len(c.procs))
	for i, p := range c.procs {
		c.lc.AddWorker()
		go func(p *Process, sink ports.RecordSink) {
			defer c.lc.WorkerDone()

			runErr := p.Run(ctx, startAt, deadline)
			if cerr := sink.Close(); cerr != nil && runErr == nil {
				runErr = fmt.Errorf("close sink: %w", cerr)
			}
			if runErr != nil {
				errCh <- fmt.Errorf("process %d: %w", p.ID(), runErr)
				// The whole run fails on the first process failure.
				c.lc.Cancel()
			}
		}(p, c.sinks[i])
	}

	_ = c.lc.TransitionTo(StateRunning, "all processes started")

	waitBudget := c.cfg.Settle + c.cfg.Duration + shutdownGrace
	waitErr := c.lc.WaitWithTimeout(waitBudget)

	_ = c.lc.TransitionTo(StateStopping, "all processes done")

	var firstErr error
	select {
	case firstErr = <-errCh:
	default:
	}
	if firstErr == nil && waitErr != nil {
		firstErr = waitErr
	}
	if firstErr == nil && parent.Err() != nil {
		firstErr = domain.ErrContextCanceled
	}

	if firstErr != nil {
		_ = c.lc.TransitionTo(StateCrashed, firstErr.Error())
		c.logger.Error("run failed", log.Err(firstErr))
		if waitErr != nil {
			// Loops past the grace window may still be running, so their
			// counters are not safe to read.
			return nil, firstErr
		}
		return c.metas(), firstErr
	}

	metas := c.metas()
	_ = c.lc.TransitionTo(StateStopped, "run complete")
	c.logger.Info("run complete",
		log.Int("processes", len(metas)),
		log.Duration("duration", c.cfg.Duration),
	)

	return metas, nil
}

// metas snapshots the per-process outcomes. Only call after every loop has
// returned.
func (c *Coordinator) metas() []domain.ProcessMeta {
	out := make([]domain.ProcessMeta, len(c.procs))
	for i, p := range c.procs {
		out[i] = domain.ProcessMeta{
			Process:    p.ID(),
			TickRate:   p.TickRate(),
			Ticks:      p.Ticks(),
			FinalClock: p.FinalClock(),
		}
	}
	return out
}

// closeSinks closes the first n sinks after a construction failure.
func (c *Coordinator) closeSinks(n int) {
	for i := 0; i < n; i++ {
		if c.sinks[i] != nil {
			_ = c.sinks[i].Close()
		}
	}
}
