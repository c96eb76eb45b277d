package engine

import (
	"github.com/roach88/timeline/internal/param"
)

// Action is the unit of schedulable behaviour.
//
// Given the scheduler, a clock and a continuation, an Action either runs to
// completion and invokes next with a clock reflecting elapsed time, re-queues
// itself on the scheduler without invoking next, or parks until released by
// a Gate or SyncPoint. The continuation receives Stop as its own follow-up.
//
// A nil Action is treated as Cont by every combinator.
type Action func(s *Scheduler, c *Clock, next Action)

// Stop never invokes its continuation.
func Stop(*Scheduler, *Clock, Action) {}

// Cont immediately invokes the continuation.
func Cont(s *Scheduler, c *Clock, next Action) {
	next(s, c, Stop)
}

// Then runs a followed by b.
func (a Action) Then(b Action) Action {
	return Seq(a, b)
}

func orCont(a Action) Action {
	if a == nil {
		return Cont
	}
	return a
}

// Seq runs a and, on completion, b chained to the outer continuation.
func Seq(a, b Action) Action {
	a, b = orCont(a), orCont(b)
	return func(s *Scheduler, c *Clock, next Action) {
		a(s, c, func(s *Scheduler, c *Clock, _ Action) {
			b(s, c, next)
		})
	}
}

// Track is a sequence of actions played by index.
type Track struct {
	actions []Action
}

// NewTrack creates a track. Nil entries behave as Cont.
func NewTrack(actions ...Action) *Track {
	cp := make([]Action, len(actions))
	for i, a := range actions {
		cp[i] = orCont(a)
	}
	return &Track{actions: cp}
}

// TrackOf is shorthand for NewTrack(actions...).Play.
func TrackOf(actions ...Action) Action {
	return NewTrack(actions...).Play
}

// Len returns the number of actions; valid indices are [0, Len()).
func (t *Track) Len() int {
	return len(t.actions)
}

// Play runs the whole track. It satisfies the Action signature.
func (t *Track) Play(s *Scheduler, c *Clock, next Action) {
	t.run(s, c, next, 0, len(t.actions))
}

// Slice plays the sub-range [start, end), clamped to the track's bounds.
func (t *Track) Slice(start, end int) Action {
	n := len(t.actions)
	start = max(0, min(start, n))
	end = max(start, min(end, n))
	return func(s *Scheduler, c *Clock, next Action) {
		t.run(s, c, next, start, end)
	}
}

func (t *Track) run(s *Scheduler, c *Clock, next Action, start, end int) {
	i := start
	var step Action
	step = func(s *Scheduler, c *Clock, _ Action) {
		if i >= end {
			next(s, c, Stop)
			return
		}
		a := t.actions[i]
		i++
		a(s, c, step)
	}
	step(s, c, Stop)
}

// starvation detects a repeating body that completes synchronously without
// consuming logical time, which would otherwise recurse without bound.
type starvation struct {
	inBody bool
	start  float64
}

func (g *starvation) enter(s *Scheduler, c *Clock) {
	if g.inBody && c.T1r <= g.start {
		s.Fail(NewLoopStarvationError(c.T1r))
	}
	g.start = c.T1r
	g.inBody = true
}

func (g *starvation) leave() {
	g.inBody = false
}

// Loop repeats a forever. The outer continuation is never invoked.
//
// a must consume logical time; a body that completes synchronously at the
// same relative time aborts the sweep with ErrCodeLoopStarvation.
func Loop(a Action) Action {
	a = orCont(a)
	return func(s *Scheduler, c *Clock, _ Action) {
		var guard starvation
		var iterate Action
		iterate = func(s *Scheduler, c *Clock, _ Action) {
			guard.enter(s, c)
			a(s, c, iterate)
			guard.leave()
		}
		iterate(s, c, Stop)
	}
}

// LoopWhile repeats a while pred returns true at each iteration boundary,
// then continues outward.
func LoopWhile(pred func() bool, a Action) Action {
	a = orCont(a)
	return func(s *Scheduler, c *Clock, next Action) {
		var guard starvation
		var iterate Action
		iterate = func(s *Scheduler, c *Clock, _ Action) {
			if !pred() {
				next(s, c, Stop)
				return
			}
			guard.enter(s, c)
			a(s, c, iterate)
			guard.leave()
		}
		iterate(s, c, Stop)
	}
}

// Repeat runs a exactly n times in sequence, then continues.
// n <= 0 continues immediately.
//
// Iterations whose body completes synchronously are run in a loop rather
// than by recursion, so a zero-time body costs constant stack.
func Repeat(n int, a Action) Action {
	a = orCont(a)
	return func(s *Scheduler, c *Clock, next Action) {
		i := 0
		inBody := false
		again := false
		var resumed *Clock

		var step Action
		step = func(s *Scheduler, c *Clock, _ Action) {
			if inBody {
				again = true
				resumed = c
				return
			}
			for {
				if i >= n {
					next(s, c, Stop)
					return
				}
				i++
				inBody, again = true, false
				a(s, c, step)
				inBody = false
				if !again {
					return
				}
				c = resumed
			}
		}
		step(s, c, Stop)
	}
}

// Fork starts every action on its own clock copy, in order, and continues
// exactly once after all of them completed. The continuing clock is synced
// to the last finisher's start times but keeps its own rate.
func Fork(actions ...Action) Action {
	return func(s *Scheduler, c *Clock, next Action) {
		if len(actions) == 0 {
			next(s, c, Stop)
			return
		}

		remaining := len(actions)
		finished := make([]bool, len(actions))
		for i, a := range actions {
			orCont(a)(s, c.Copy(), func(s *Scheduler, bc *Clock, _ Action) {
				if finished[i] {
					return
				}
				finished[i] = true
				remaining--
				if remaining == 0 {
					c.SyncWith(bc)
					next(s, c, Stop)
				}
			})
		}
	}
}

// Spawn starts every action detached on its own clock copy and continues
// immediately.
func Spawn(actions ...Action) Action {
	return func(s *Scheduler, c *Clock, next Action) {
		for _, a := range actions {
			orCont(a)(s, c.Copy(), Stop)
		}
		next(s, c, Stop)
	}
}

// Dynamic defers the choice of action to invocation time.
// A nil selection continues immediately.
func Dynamic(selector func(c *Clock) Action) Action {
	return func(s *Scheduler, c *Clock, next Action) {
		orCont(selector(c))(s, c, next)
	}
}

// Choice picks one action uniformly at random each time it runs.
func Choice(actions ...Action) (Action, error) {
	if len(actions) == 0 {
		return nil, &ConstructionError{
			Code:       ErrCodeEmptyChoice,
			Combinator: "choice",
			Message:    "at least one action is required",
		}
	}
	cp := make([]Action, len(actions))
	for i, a := range actions {
		cp[i] = orCont(a)
	}
	return func(s *Scheduler, c *Clock, next Action) {
		cp[s.rng.IntN(len(cp))](s, c, next)
	}, nil
}

// Rate sets the clock's rate and continues.
//
// A param.Const is held by value, so forks taken afterwards keep the number.
// A *param.Param is shared: later Set calls reach every branch holding it.
func Rate(r param.Source) Action {
	if r == nil {
		r = param.Const(1)
	}
	return func(s *Scheduler, c *Clock, next Action) {
		c.Rate = r
		next(s, c, Stop)
	}
}

// Fire calls fn with the clock and continues. It takes no logical time.
// With diagnostics enabled, a fire running after its scheduled time is
// reported as late.
func Fire(fn func(c *Clock)) Action {
	return func(s *Scheduler, c *Clock, next Action) {
		s.reportLate("fire", c.T1)
		if fn != nil {
			fn(c)
		}
		next(s, c, Stop)
	}
}

// WithData runs a with a clock whose context holds key = v.
// The value is visible to a and everything after it on this branch.
func WithData(key string, v any) Action {
	return func(s *Scheduler, c *Clock, next Action) {
		if c.Data == nil {
			c.Data = NewData()
		} else {
			c.Data = c.Data.Child()
		}
		c.Data.Set(key, v)
		next(s, c, Stop)
	}
}
