package engine

import "sync"

// parked is an Action waiting at a closed gate.
type parked struct {
	c    *Clock
	next Action
}

// gateScope is one saved level of a gate's push/pop stack.
type gateScope struct {
	open  bool
	cache []parked
}

// Gate is a composable pause/resume barrier.
//
// While closed, Actions reaching the gate are cached instead of continuing.
// Opening releases them on the next sweep, each with its clock re-anchored to
// the master clock. Push and Pop save and restore (state, cache) so nested
// pause scopes compose without losing work.
//
// Thread-safety: state changes are safe from any goroutine; released
// continuations always run on the driver goroutine via Scheduler.Update.
type Gate struct {
	sched *Scheduler

	mu    sync.Mutex
	open  bool
	cache []parked
	stack []gateScope
}

// Gate creates an open gate bound to s.
func (s *Scheduler) Gate() *Gate {
	return &Gate{sched: s, open: true}
}

// Action returns the gate point to place in a sequence.
func (g *Gate) Action() Action {
	return func(s *Scheduler, c *Clock, next Action) {
		g.mu.Lock()
		if g.open {
			g.mu.Unlock()
			next(s, c, Stop)
			return
		}
		g.cache = append(g.cache, parked{c: c, next: next})
		g.mu.Unlock()
	}
}

// IsOpen reports the current state.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Pending returns the number of cached Actions in the current scope.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cache)
}

// Open opens the gate and releases every cached Action.
func (g *Gate) Open() {
	g.mu.Lock()
	if g.open {
		g.mu.Unlock()
		return
	}
	g.open = true
	released := g.cache
	g.cache = nil
	g.mu.Unlock()

	g.release(released)
}

// Close closes the gate.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = false
}

// Toggle flips the gate.
func (g *Gate) Toggle() {
	if g.IsOpen() {
		g.Close()
	} else {
		g.Open()
	}
}

// Push saves the current (state, cache) and starts a fresh scope with the
// same state and an empty cache.
func (g *Gate) Push() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stack = append(g.stack, gateScope{open: g.open, cache: g.cache})
	g.cache = nil
}

// Pop restores the saved state. Work cached in the popped scope is merged
// after the saved cache and released if the restored state is open.
// Returns false if there is nothing to pop.
func (g *Gate) Pop() bool {
	g.mu.Lock()
	if len(g.stack) == 0 {
		g.mu.Unlock()
		return false
	}
	top := g.stack[len(g.stack)-1]
	g.stack = g.stack[:len(g.stack)-1]

	merged := append(top.cache, g.cache...)
	g.open = top.open

	var released []parked
	if g.open {
		released = merged
		g.cache = nil
	} else {
		g.cache = merged
	}
	g.mu.Unlock()

	g.release(released)
	return true
}

// Cancel discards the current scope's cached Actions without releasing them.
// Returns the number discarded.
func (g *Gate) Cancel() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.cache)
	g.cache = nil
	return n
}

// release schedules one update per parked Action, in cache order, so a
// failing continuation does not take the others with it.
func (g *Gate) release(ps []parked) {
	s := g.sched
	for _, p := range ps {
		s.Update(func() {
			if s.main.T1 > p.c.T1 {
				p.c.JumpTo(s.main.T1)
			}
			p.c.epoch = s.driftEpoch
			p.next(s, p.c, Stop)
		})
	}
}
