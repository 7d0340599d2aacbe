// Package conductor provides a concurrency-safe job orchestration and
// event-streaming core for Go. It tracks long-running, multi-phase jobs,
// coordinates concurrent access to job state, pauses jobs for human input,
// and fans out live progress events to subscribers.
//
// Conductor is designed as a library, not a service. Import it, configure
// a store, register phase logic, and drive jobs through the engine.
//
// # Quick Start
//
//	c, err := conductor.New(
//	    conductor.WithStore(memory.New()),
//	    conductor.WithHeartbeatInterval(10*time.Second),
//	)
//
// # Architecture
//
// Conductor follows a composable store pattern: the job subsystem defines
// its own store interface and a single backend implements it (memory,
// sqlite, redis, postgres, bun, mongo). A write-through TTL cache fronts
// the store, a per-job event queue registry streams progress, a supervisor
// drives each job's phase sequence, and a background sweeper reclaims
// cache entries and event queues once their job is terminal.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package conductor
