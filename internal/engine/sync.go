package engine

import "sync"

// SyncPoint is a one-shot rendezvous.
//
// External callers register Actions with Play. When a sequence reaches the
// point, every registered Action is spawned on a copy of that sequence's
// clock and the registration list is cleared.
//
// Thread-safety: Play and Pending are safe from any goroutine.
type SyncPoint struct {
	mu      sync.Mutex
	pending []Action
}

// Sync creates an empty sync point.
func (s *Scheduler) Sync() *SyncPoint {
	return &SyncPoint{}
}

// Play registers a to start at the next rendezvous.
func (p *SyncPoint) Play(a Action) {
	if a == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, a)
}

// Pending returns the number of registered Actions.
func (p *SyncPoint) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Action returns the rendezvous to place in a sequence.
func (p *SyncPoint) Action() Action {
	return func(s *Scheduler, c *Clock, next Action) {
		p.mu.Lock()
		actions := p.pending
		p.pending = nil
		p.mu.Unlock()

		Spawn(actions...)(s, c, next)
	}
}
