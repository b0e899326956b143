package driftlab

import "github.com/driftlab/driftlab/internal/sim"

// State represents the lifecycle state of a Lab.
type State int

// Lifecycle states.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// StateChangeEvent reports a lifecycle transition of the running simulation.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// RunStartedEvent reports that a run's processes are about to start.
type RunStartedEvent struct {
	Run RunMeta
}

// RunFinishedEvent reports a run's final outcome, including its status and
// any error.
type RunFinishedEvent struct {
	Run RunMeta
}

// EventHandler receives lab events. Events are called synchronously from
// the run goroutine; implementations should return quickly to avoid
// stalling the simulation.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnRunStarted(event RunStartedEvent)
	OnRunFinished(event RunFinishedEvent)
}

// BaseEventHandler provides no-op implementations of every event. Embed it
// to implement only the events you care about.
type BaseEventHandler struct{}

// OnStateChange does nothing.
func (BaseEventHandler) OnStateChange(StateChangeEvent) {}

// OnRunStarted does nothing.
func (BaseEventHandler) OnRunStarted(RunStartedEvent) {}

// OnRunFinished does nothing.
func (BaseEventHandler) OnRunFinished(RunFinishedEvent) {}

// eventEmitterWrapper adapts EventHandler to the internal emitter interface.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current sim.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}

func convertState(s sim.State) State {
	switch s {
	case sim.StateStopped:
		return StateStopped
	case sim.StateStarting:
		return StateStarting
	case sim.StateRunning:
		return StateRunning
	case sim.StateStopping:
		return StateStopping
	case sim.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}
