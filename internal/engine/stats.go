package engine

import (
	"math"
	"sync/atomic"
)

// Stats is a snapshot of the scheduler's diagnostic counters.
type Stats struct {
	Ticks            uint64  `json:"ticks"`
	Sweeps           uint64  `json:"sweeps"`
	Actions          uint64  `json:"actions"`
	FrameCallbacks   uint64  `json:"frame_callbacks"`
	Updates          uint64  `json:"updates"`
	DriftCorrections uint64  `json:"drift_corrections"`
	LateEvents       uint64  `json:"late_events"`
	Failures         uint64  `json:"failures"`
	TickQueueLen     int     `json:"tick_queue_len"`
	FrameQueueLen    int     `json:"frame_queue_len"`
	FrameInterval    float64 `json:"frame_interval"`
	ClockTime        float64 `json:"clock_time"`
}

// schedulerStats holds the live counters.
//
// Thread-safety: counters are atomics so Stats may be read from a metrics
// goroutine while the driver goroutine ticks.
type schedulerStats struct {
	ticks    atomic.Uint64
	sweeps   atomic.Uint64
	actions  atomic.Uint64
	frames   atomic.Uint64
	updates  atomic.Uint64
	drifts   atomic.Uint64
	late     atomic.Uint64
	failures atomic.Uint64

	tickQueueLen  atomic.Int64
	frameQueueLen atomic.Int64
	clockT1       atomicFloat
}

type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

func (f *atomicFloat) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

// Stats returns a snapshot of the diagnostic counters.
// Thread-safe: may be called from any goroutine.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:            s.stats.ticks.Load(),
		Sweeps:           s.stats.sweeps.Load(),
		Actions:          s.stats.actions.Load(),
		FrameCallbacks:   s.stats.frames.Load(),
		Updates:          s.stats.updates.Load(),
		DriftCorrections: s.stats.drifts.Load(),
		LateEvents:       s.stats.late.Load(),
		Failures:         s.stats.failures.Load(),
		TickQueueLen:     int(s.stats.tickQueueLen.Load()),
		FrameQueueLen:    int(s.stats.frameQueueLen.Load()),
		FrameInterval:    s.frameInterval.Value(),
		ClockTime:        s.stats.clockT1.Load(),
	}
}
