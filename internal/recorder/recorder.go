// Package recorder turns scheduler activity into an ordered trace.
//
// A Recorder is both the engine.Monitor of a scheduler and the
// compiler.Emitter of the programs it runs. Every event gets the next
// sequence number, so the trace order is the order in which things
// happened on the scheduler goroutine.
//
// Persisting is decoupled from recording: Flush writes the events not yet
// stored in one transaction, keeping SQLite I/O off the tick path.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/timeline/internal/engine"
	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/store"
)

// Recorder collects trace events.
//
// Thread-safety: all methods are safe for concurrent use. Emit and the
// Monitor methods normally run on the driver goroutine while Events, Flush
// and Digest are called from elsewhere.
type Recorder struct {
	mu      sync.Mutex
	now     func() float64
	events  []ir.Event
	flushed int

	store     *store.Store
	sessionID string
	logger    *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithStore persists events to sessionID in st on Flush.
// The session row must exist before the first Flush.
func WithStore(st *store.Store, sessionID string) Option {
	return func(r *Recorder) {
		r.store = st
		r.sessionID = sessionID
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = l
	}
}

// New creates an empty recorder. Until Attach is called the real time of
// every event is 0.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		now:    func() float64 { return 0 },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach reads real time from s for every later event.
// The recorder is usually passed to engine.WithMonitor before the scheduler
// exists, so attaching is a separate step.
func (r *Recorder) Attach(s *engine.Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = s.Time
}

// Emit records a program event at the clock's current position.
func (r *Recorder) Emit(kind ir.EventKind, name string, c *engine.Clock) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt := ir.Micros(r.now())
	abs := ir.Micros(c.T1)
	r.appendLocked(ir.Event{
		Kind:   kind,
		Name:   name,
		AbsUs:  abs,
		RelUs:  ir.Micros(c.T1r),
		RealUs: rt,
		LateUs: max(0, rt-abs),
	})
}

// Note records an out-of-band event such as a gate toggle or a param write,
// stamped with the current real time.
func (r *Recorder) Note(kind ir.EventKind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt := ir.Micros(r.now())
	r.appendLocked(ir.Event{
		Kind:   kind,
		Name:   name,
		AbsUs:  rt,
		RealUs: rt,
	})
}

// Late implements engine.Monitor.
func (r *Recorder) Late(kind string, scheduled, now float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	abs, rt := ir.Micros(scheduled), ir.Micros(now)
	r.appendLocked(ir.Event{
		Kind:   ir.KindLate,
		Name:   kind,
		AbsUs:  abs,
		RealUs: rt,
		LateUs: max(0, rt-abs),
	})
}

// Drift implements engine.Monitor. LateUs carries the correction applied.
func (r *Recorder) Drift(now, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := ir.Micros(now)
	r.appendLocked(ir.Event{
		Kind:   ir.KindDrift,
		Name:   "master",
		AbsUs:  t,
		RealUs: t,
		LateUs: ir.Micros(delta),
	})
}

// Aborted implements engine.Monitor.
func (r *Recorder) Aborted(err *engine.SweepError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := ir.Micros(err.Time)
	name := "unknown"
	if err.Cause != nil {
		name = err.Cause.Error()
	}
	r.appendLocked(ir.Event{
		Kind:   ir.KindAbort,
		Name:   name,
		AbsUs:  t,
		RealUs: t,
	})
}

func (r *Recorder) appendLocked(e ir.Event) {
	e.Seq = int64(len(r.events)) + 1
	r.events = append(r.events, e)
	r.logger.Debug("trace event",
		"seq", e.Seq,
		"kind", e.Kind,
		"name", e.Name,
		"abs_us", e.AbsUs,
	)
}

// Events returns a copy of the trace so far.
func (r *Recorder) Events() []ir.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ir.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Digest returns the trace digest of the events so far.
func (r *Recorder) Digest() (string, error) {
	return ir.TraceDigest(r.Events())
}

// Flush writes every event recorded since the previous Flush.
// Without a store it is a no-op. On error nothing is marked as flushed, so
// the next Flush retries the same batch.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	r.mu.Lock()
	pending := make([]ir.Event, len(r.events)-r.flushed)
	copy(pending, r.events[r.flushed:])
	r.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	if err := r.store.WriteEvents(ctx, r.sessionID, pending); err != nil {
		return fmt.Errorf("flush %d events: %w", len(pending), err)
	}

	r.mu.Lock()
	r.flushed += len(pending)
	r.mu.Unlock()
	return nil
}

// Finish flushes the remaining events and stores the trace digest on the
// session.
func (r *Recorder) Finish(ctx context.Context) (string, error) {
	if err := r.Flush(ctx); err != nil {
		return "", err
	}
	digest, err := r.Digest()
	if err != nil {
		return "", err
	}
	if r.store != nil {
		if err := r.store.FinishSession(ctx, r.sessionID, digest); err != nil {
			return "", err
		}
	}
	return digest, nil
}
