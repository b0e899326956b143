// Package driftlab runs fleets of simulated machines whose clocks tick at
// different drawn rates, exchanging timestamped messages and keeping causal
// order with logical clocks.
//
// Example usage:
//
//	cfg := driftlab.DefaultConfig()
//	cfg.Duration = 10 * time.Second
//	cfg.DB = "results/driftlab.db"
//	lab, err := driftlab.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lab.Close()
//	if err := lab.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
package driftlab

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftlab/driftlab/internal/adapters/jsonl"
	"github.com/driftlab/driftlab/internal/adapters/mem"
	"github.com/driftlab/driftlab/internal/adapters/sqlite"
	"github.com/driftlab/driftlab/internal/domain"
	"github.com/driftlab/driftlab/internal/ports"
	"github.com/driftlab/driftlab/internal/sim"
	"github.com/driftlab/driftlab/pkg/log"
)

// Core vocabulary, re-exported so embedding applications never import
// internal packages directly.
type (
	// RunMeta identifies one run and carries everything needed to reproduce it.
	RunMeta = domain.RunMeta

	// ProcessMeta records one process's drawn parameters and final outcome.
	ProcessMeta = domain.ProcessMeta

	// Record is one event of one process.
	Record = domain.Record

	// RunStatus is the lifecycle state of a persisted run.
	RunStatus = domain.RunStatus

	// EventKind classifies a record.
	EventKind = domain.EventKind

	// ProcessID identifies a process within a run.
	ProcessID = domain.ProcessID

	// Message is a timestamped message in flight between processes.
	Message = domain.Message

	// RunStore persists runs, process outcomes, and records.
	RunStore = ports.RunStore

	// RecordSink receives records as they are produced.
	RecordSink = ports.RecordSink

	// Transport delivers messages between processes.
	Transport = ports.Transport
)

// Run statuses.
const (
	RunRunning = domain.RunRunning
	RunDone    = domain.RunDone
	RunFailed  = domain.RunFailed
)

// The four event kinds of the simulation.
const (
	EventReceive  = domain.EventReceive
	EventSendOne  = domain.EventSendOne
	EventSendAll  = domain.EventSendAll
	EventInternal = domain.EventInternal
)

// NoProcess marks an absent process reference on a record.
const NoProcess = domain.NoProcess

// Errors returned by the public API; check with errors.Is.
var (
	ErrInvalidConfig   = domain.ErrInvalidConfig
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrNotRunning      = domain.ErrNotRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
	ErrContextCanceled = domain.ErrContextCanceled
	ErrRunNotFound     = domain.ErrRunNotFound
)

// ShutdownTimeout bounds how long Stop waits for an in-flight run to wind
// down before giving up.
const ShutdownTimeout = 30 * time.Second

// Config holds the configuration for a Lab.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config struct {
	// Processes is the number of simulated machines per run.
	Processes int

	// Duration is the wall-clock length of one run.
	Duration time.Duration

	// MaxClockRate bounds the tick rate draw: each process runs at a rate
	// drawn uniformly from [1, MaxClockRate] ticks per second.
	MaxClockRate int

	// EventUpper, SendOneCut, and SendAllCut shape the idle-tick event draw:
	// v <= SendOneCut is send-one, v <= SendAllCut is send-all, the rest of
	// [1, EventUpper] is internal work. A cut of 0 disables that send kind.
	EventUpper int
	SendOneCut int
	SendAllCut int

	// Seed drives every random draw. Zero draws a fresh seed per run; a
	// fixed seed is offset by the run index so a sequence of runs stays
	// reproducible without replaying identical draws. The resolved value is
	// recorded on each run.
	Seed int64

	// Runs is how many simulations Run executes back to back.
	Runs int

	// Settle is the gap between building a run and its common nominal
	// start, giving every process goroutine time to reach its first tick.
	Settle time.Duration

	// ResultsDir receives per-process record files under one directory per
	// run. Empty disables file output.
	ResultsDir string

	// DB is the path of a bundled sqlite store the Lab opens and owns.
	// Empty disables it; WithStore overrides it.
	DB string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Processes:    sim.DefaultProcesses,
		Duration:     sim.DefaultDuration,
		MaxClockRate: sim.DefaultMaxClockRate,
		EventUpper:   sim.DefaultEventUpper,
		SendOneCut:   sim.DefaultSendOneCut,
		SendAllCut:   sim.DefaultSendAllCut,
		Runs:         1,
		Settle:       sim.DefaultSettle,
	}
}

// SetDefaults fills missing required values. The send cuts and Settle are
// left alone: zero is meaningful for them.
func (c *Config) SetDefaults() {
	if c.Processes <= 0 {
		c.Processes = sim.DefaultProcesses
	}
	if c.Duration <= 0 {
		c.Duration = sim.DefaultDuration
	}
	if c.MaxClockRate <= 0 {
		c.MaxClockRate = sim.DefaultMaxClockRate
	}
	if c.EventUpper <= 0 {
		c.EventUpper = sim.DefaultEventUpper
	}
	if c.Runs <= 0 {
		c.Runs = 1
	}
}

// Validate checks the configuration. Seed is exempt: zero means one is
// drawn per run, and the resolved value is validated by the run itself.
func (c Config) Validate() error {
	if c.Runs < 1 {
		return fmt.Errorf("%w: runs must be at least 1, got %d", ErrInvalidConfig, c.Runs)
	}
	return c.simConfig(1).Validate()
}

// simConfig maps the lab-level knobs onto one run's configuration.
func (c Config) simConfig(seed int64) sim.Config {
	return sim.Config{
		Processes:    c.Processes,
		Duration:     c.Duration,
		MaxClockRate: c.MaxClockRate,
		EventUpper:   c.EventUpper,
		SendOneCut:   c.SendOneCut,
		SendAllCut:   c.SendAllCut,
		Seed:         seed,
		Settle:       c.Settle,
	}
}

// Lab owns the simulation runs: it resolves seeds, builds one coordinator
// per run over the configured transport, fans records out to the configured
// sinks, and persists outcomes to the run store.
// Use New() to create an instance.
type Lab struct {
	cfg     Config
	opts    options
	logger  log.Logger
	store   ports.RunStore
	ownDB   bool
	emitter eventEmitterWrapper

	mu            sync.Mutex
	running       bool
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}
	active        *sim.Coordinator
	runCount      int
}

// New creates a new Lab with the given configuration.
// Returns an error if the configuration is invalid or the bundled store
// cannot be opened.
func New(cfg Config, opts ...Option) (*Lab, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	store := o.store
	ownDB := false
	if store == nil && cfg.DB != "" {
		s, err := sqlite.New(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("open run store: %w", err)
		}
		store = s
		ownDB = true
	}

	if o.transport == nil {
		o.transport = func(n int) ports.Transport { return mem.NewMesh(n) }
	}

	return &Lab{
		cfg:     cfg,
		opts:    o,
		logger:  logger,
		store:   store,
		ownDB:   ownDB,
		emitter: eventEmitterWrapper{handler: o.eventHandler},
	}, nil
}

// Store returns the run store the Lab writes to, or nil when persistence is
// disabled. Useful for querying outcomes after Run.
func (l *Lab) Store() ports.RunStore { return l.store }

// Run executes the configured number of runs back to back and blocks until
// they finish. The first failing run stops the sequence; Stop between runs
// ends the sequence cleanly.
func (l *Lab) Run(ctx context.Context) error {
	if err := l.begin(); err != nil {
		return err
	}
	defer l.end()

	for i := 0; i < l.cfg.Runs; i++ {
		if ctx.Err() != nil {
			return domain.ErrContextCanceled
		}
		if l.stopRequestedNow() {
			return nil
		}
		rs, err := l.prepare(ctx)
		if err != nil {
			return err
		}
		if err := l.execute(ctx, rs); err != nil {
			return err
		}
	}
	return nil
}

// StartRun launches a single run in the background and returns its id.
// The context covers only the launch; the run itself is bounded by its
// configured duration and can be cut short with Stop. The outcome lands on
// the run's store row.
func (l *Lab) StartRun(ctx context.Context) (string, error) {
	if err := l.begin(); err != nil {
		return "", err
	}

	rs, err := l.prepare(ctx)
	if err != nil {
		l.end()
		return "", err
	}

	go func() {
		defer l.end()
		_ = l.execute(context.Background(), rs)
	}()

	return rs.meta.ID, nil
}

// Stop requests a cooperative stop of the in-flight run and waits for it.
// A stopped run keeps everything recorded up to the stop and finishes as
// done; during a sequence, Stop also prevents the next run from starting.
// Returns ErrShutdownTimeout if the run does not wind down in time.
func (l *Lab) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return domain.ErrNotRunning
	}
	if !l.stopRequested {
		l.stopRequested = true
		close(l.stopCh)
	}
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-time.After(ShutdownTimeout):
		return domain.ErrShutdownTimeout
	}
}

// Status returns the lab's current lifecycle state.
// Safe to call concurrently from any goroutine.
func (l *Lab) Status() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case !l.running:
		return StateStopped
	case l.active != nil:
		return convertState(l.active.State())
	case l.stopRequested:
		return StateStopping
	default:
		return StateStarting
	}
}

// Close releases the bundled store if the Lab opened one. Injected stores
// are closed by their owner. Close does not stop a run; call Stop first.
func (l *Lab) Close() error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return domain.ErrAlreadyRunning
	}
	l.mu.Unlock()

	if l.ownDB && l.store != nil {
		return l.store.Close()
	}
	return nil
}

// runState carries one prepared run from prepare to execute.
type runState struct {
	meta  domain.RunMeta
	coord *sim.Coordinator
}

// prepare resolves the seed, persists the run row, and builds the
// coordinator with its transport and sinks.
func (l *Lab) prepare(ctx context.Context) (*runState, error) {
	seed := resolveSeed(l.cfg.Seed, l.nextRunIndex())
	sc := l.cfg.simConfig(seed)

	meta := domain.RunMeta{
		ID:           uuid.NewString(),
		Seed:         seed,
		Processes:    sc.Processes,
		Duration:     sc.Duration,
		MaxClockRate: sc.MaxClockRate,
		EventUpper:   sc.EventUpper,
		SendOneCut:   sc.SendOneCut,
		SendAllCut:   sc.SendAllCut,
		StartedAt:    time.Now().UTC(),
		Status:       domain.RunRunning,
	}

	if l.store != nil {
		if err := l.store.CreateRun(ctx, meta); err != nil {
			return nil, fmt.Errorf("create run: %w", err)
		}
	}

	coord, err := sim.NewCoordinator(sc, l.opts.transport(sc.Processes), l.sinkFactory(meta.ID), l.logger, &l.emitter)
	if err != nil {
		l.finishRun(&meta, err)
		return nil, err
	}

	return &runState{meta: meta, coord: coord}, nil
}

// execute runs one prepared simulation and persists its outcome. An
// operator stop surfaces from the coordinator as a context cancellation and
// is translated back into a clean early finish.
func (l *Lab) execute(ctx context.Context, rs *runState) error {
	l.setActive(rs.coord)
	defer l.setActive(nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.stopChNow():
			cancel()
		case <-runCtx.Done():
		}
	}()

	l.emitRunStarted(rs.meta)
	metas, runErr := rs.coord.Run(runCtx)
	if runErr != nil && errors.Is(runErr, domain.ErrContextCanceled) && l.stopRequestedNow() {
		runErr = nil
	}
	for i := range metas {
		metas[i].Run = rs.meta.ID
	}

	if l.store != nil {
		sctx := context.Background()
		for _, m := range metas {
			if err := l.store.AddProcess(sctx, m); err != nil && runErr == nil {
				runErr = fmt.Errorf("record process outcome: %w", err)
			}
		}
	}

	l.finishRun(&rs.meta, runErr)

	if l.cfg.ResultsDir != "" {
		dir := filepath.Join(l.cfg.ResultsDir, rs.meta.ID)
		if err := jsonl.WriteMeta(dir, jsonl.RunInfo{Run: rs.meta, Processes: metas}); err != nil {
			l.logger.Error("write run metadata", log.String("run", rs.meta.ID), log.Err(err))
		}
	}
	return runErr
}

// finishRun stamps the outcome onto the run row and emits the finish event.
func (l *Lab) finishRun(meta *domain.RunMeta, runErr error) {
	meta.FinishedAt = time.Now().UTC()
	if runErr != nil {
		meta.Status = domain.RunFailed
		meta.Error = runErr.Error()
	} else {
		meta.Status = domain.RunDone
	}

	if l.store != nil {
		if err := l.store.FinishRun(context.Background(), meta.ID, meta.Status, meta.FinishedAt, meta.Error); err != nil {
			l.logger.Error("finish run", log.String("run", meta.ID), log.Err(err))
		}
	}

	l.emitRunFinished(*meta)
}

// sinkFactory builds each process's record sink: the per-process file, the
// batching store sink, and any shared sink, fanned out together.
func (l *Lab) sinkFactory(runID string) sim.SinkFactory {
	return func(id domain.ProcessID) (ports.RecordSink, error) {
		var sinks []ports.RecordSink
		if l.cfg.ResultsDir != "" {
			js, err := jsonl.NewSink(filepath.Join(l.cfg.ResultsDir, runID), id)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, js)
		}
		if l.store != nil {
			sinks = append(sinks, sqlite.NewSink(l.store, runID))
		}
		if l.opts.extraSink != nil {
			sinks = append(sinks, keepOpen{l.opts.extraSink})
		}
		return &multiSink{sinks: sinks}, nil
	}
}

func (l *Lab) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return domain.ErrAlreadyRunning
	}
	l.running = true
	l.stopRequested = false
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	return nil
}

func (l *Lab) end() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	l.active = nil
	close(l.done)
}

func (l *Lab) stopRequestedNow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopRequested
}

func (l *Lab) stopChNow() chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopCh
}

func (l *Lab) setActive(c *sim.Coordinator) {
	l.mu.Lock()
	l.active = c
	l.mu.Unlock()
}

func (l *Lab) nextRunIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.runCount
	l.runCount++
	return idx
}

func (l *Lab) emitRunStarted(meta domain.RunMeta) {
	if l.emitter.handler != nil {
		l.emitter.handler.OnRunStarted(RunStartedEvent{Run: meta})
	}
}

func (l *Lab) emitRunFinished(meta domain.RunMeta) {
	if l.emitter.handler != nil {
		l.emitter.handler.OnRunFinished(RunFinishedEvent{Run: meta})
	}
}

// resolveSeed turns the configured seed into one run's seed. Zero draws
// from the clock; a fixed base is offset by the run index. Zero is reserved
// for "unset", so a colliding offset steps over it.
func resolveSeed(base int64, runIndex int) int64 {
	if base == 0 {
		return time.Now().UnixNano()
	}
	s := base + int64(runIndex)
	if s == 0 {
		s = 1
	}
	return s
}

// multiSink fans every record out to each child sink.
type multiSink struct {
	sinks []ports.RecordSink
}

func (m *multiSink) Append(rec domain.Record) error {
	for _, s := range m.sinks {
		if err := s.Append(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// keepOpen shields a shared sink from the per-process Close.
type keepOpen struct {
	ports.RecordSink
}

func (keepOpen) Close() error { return nil }
