// Package sim is the simulation core: the Lamport clock, the per-tick event
// policy, the process loop, and the coordinator that runs N processes
// concurrently over a transport mesh.
//
// The package depends only on internal/domain, internal/ports, and pkg/log.
// Concrete transports and sinks are injected; see internal/adapters.
package sim
