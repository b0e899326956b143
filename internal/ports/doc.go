// Package ports defines the interfaces (ports) that connect the simulation
// core to infrastructure adapters.
//
// In Hexagonal Architecture, ports are the boundaries between the application
// core and the outside world. They define what the simulation needs from
// external systems without specifying how those needs are fulfilled.
//
// # Port Interfaces
//
//   - [Channel]: One process's inbound message endpoint (MPSC queue semantics)
//   - [Transport]: Builds the process mesh and hands out channel endpoints
//   - [RecordSink]: Receives the per-tick records a process emits
//   - [RunStore]: Persists runs, process parameters, and records for analysis
//
// # Usage
//
// The simulation core (internal/sim) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with concrete
// implementations (in-memory mesh, JSON-lines files, sqlite).
//
// This separation enables:
//   - Testing the core with fake channels and capture sinks
//   - Swapping the transport without touching the tick loop
//   - Clear boundaries and dependency direction
package ports
