// Package domain contains the core domain entities and value objects for driftlab.
//
// This package represents the innermost layer of the architecture. It has no
// dependencies on infrastructure concerns (transport, storage, logging) and
// contains only the vocabulary of the simulation.
//
// # Entities
//
//   - [Message]: A timestamped message exchanged between simulated processes
//   - [Record]: The per-tick observation a process emits (event kind, clock, queue)
//   - [RunMeta]: Identity and parameters of one simulation run
//   - [ProcessMeta]: Per-process parameters and outcome within a run
//
// # Design Principles
//
// Domain entities are:
//   - Immutable after construction (where practical)
//   - Free of infrastructure dependencies
//   - Testable without mocks or external systems
package domain
