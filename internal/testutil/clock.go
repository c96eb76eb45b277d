package testutil

import "sync"

// FakeTime is a deterministic time source for scheduler tests.
//
// Time only moves when Advance or Set is called, so a scenario replays with
// identical tick times on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeTime struct {
	mu sync.Mutex
	t  float64
}

// NewFakeTime creates a fake time source starting at start seconds.
func NewFakeTime(start float64) *FakeTime {
	return &FakeTime{t: start}
}

// Now returns the current fake time. Its method value satisfies
// engine.TimeSource.
func (f *FakeTime) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves time forward by dt and returns the new time.
func (f *FakeTime) Advance(dt float64) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t += dt
	return f.t
}

// Set jumps to t. Used to simulate stalls.
func (f *FakeTime) Set(t float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}
