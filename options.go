package driftlab

import (
	"github.com/driftlab/driftlab/internal/ports"
	"github.com/driftlab/driftlab/pkg/log"
)

// TransportFactory builds the message transport for n processes.
type TransportFactory func(n int) ports.Transport

// Option configures optional behavior of a Lab.
type Option func(*options)

// options holds the optional configuration for a Lab instance.
type options struct {
	logger       log.Logger
	store        ports.RunStore
	transport    TransportFactory
	extraSink    ports.RecordSink
	eventHandler EventHandler
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() options {
	return options{}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStore sets the run store used for persistence. The caller keeps
// ownership and closes it; Config.DB is ignored when a store is injected.
func WithStore(store RunStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithTransport sets the factory building the message transport of each
// run. If not provided, the in-process mesh is used.
func WithTransport(factory TransportFactory) Option {
	return func(o *options) {
		o.transport = factory
	}
}

// WithRecordSink adds a sink receiving every record of every process, such
// as a live stream. Appends happen concurrently from all process loops, so
// the sink must tolerate that; its Close is never called by the Lab.
func WithRecordSink(sink RecordSink) Option {
	return func(o *options) {
		o.extraSink = sink
	}
}

// WithEventHandler sets a handler for lab events.
// Events are called synchronously from the run goroutine.
// If not provided, no events are emitted.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}
