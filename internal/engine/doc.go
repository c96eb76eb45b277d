// Package engine implements the timeline scheduling core.
//
// The engine separates the specification of timing relationships ("B follows
// A after 3 seconds") from their realization (concrete instants on a clock).
// Behaviour is expressed as Actions composed with the combinators in this
// package; the Scheduler turns a periodic driver signal into sweeps that run
// those Actions ahead of real time.
//
// ARCHITECTURE:
//
// Continuation-Passing Actions:
// An Action receives the scheduler, a Clock and a continuation. It either
// finishes synchronously and invokes the continuation, re-queues itself for a
// later sweep (yielding), or parks itself until an external release (Gate,
// SyncPoint). Nothing else conveys control flow.
//
// Single-Writer Sweep Loop:
// Every Action runs on the goroutine that calls Scheduler.Tick. There is no
// preemption and no parallel execution. Fork and Spawn interleave branches,
// each owning its own Clock copy.
//
// Tick Processing Flow:
//  1. Update the low-pass estimate of the driver interval.
//  2. Compute the lookahead horizon t + clockDt.
//  3. Fast-forward the master clock if real time ran away (drift correction).
//  4. Sweep until the master clock reaches the horizon: drain updates, run a
//     snapshot of the tick queue, advance the master clock.
//  5. Drain the frame queue once.
//  6. Notify the tick observer.
//
// CRITICAL PATTERNS:
//
// Snapshot Discipline:
// Only elements present at the start of a pass are processed in that pass.
// Work enqueued during a pass waits for the next one, so a self-requeueing
// Action cannot starve the driver.
//
// Rate-Integrated Time:
// Clocks carry an absolute interval and a rate-integrated one. Drift
// correction moves only the absolute interval so logical progress survives
// stalls.
//
// Thread-safety: Update, Gate state changes and SyncPoint registration are
// safe from any goroutine. Everything else belongs to the driver goroutine.
package engine
