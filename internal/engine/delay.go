package engine

import (
	"github.com/roach88/timeline/internal/param"
)

// DelayTickFunc is called by DelayFunc on every poll with the current step
// [t1r, t2r) and the delay's [start, end) in rate-integrated time.
type DelayTickFunc func(c *Clock, t1r, t2r, start, end float64)

// Delay waits dur seconds of rate-integrated time.
// dur is re-read on every poll, so a *param.Param duration can change live.
func Delay(dur param.Source) Action {
	return DelayFunc(dur, nil)
}

// Wait is Delay with a constant duration.
func Wait(seconds float64) Action {
	return Delay(param.Const(seconds))
}

// DelayFunc is Delay with a per-poll callback.
//
// Each poll:
//   - absorbs a pending drift correction once, keeping relative time continuous;
//   - re-queues without advancing while the clock is at or past the horizon;
//   - otherwise calls onTick, advances one step and re-queues while the step
//     ends before the deadline;
//   - on reaching the deadline delivers a final onTick and snaps T1r to the
//     deadline. The continuation runs once the snapped clock is inside the
//     horizon, which may be on a later driver tick.
//
// A non-positive duration completes synchronously.
func DelayFunc(dur param.Source, onTick DelayTickFunc) Action {
	return func(s *Scheduler, c *Clock, next Action) {
		start := c.T1r

		if param.ValueOf(dur, 0) <= 0 {
			if onTick != nil {
				onTick(c, start, start, start, start)
			}
			s.reportLate("delay", c.T1)
			next(s, c, Stop)
			return
		}

		done := false
		var poll Action
		poll = func(s *Scheduler, _ *Clock, _ Action) {
			s.absorbDrift(c)

			if s.beyondHorizon(c) {
				s.Enqueue(poll)
				return
			}
			if done {
				next(s, c, Stop)
				return
			}

			end := start + param.ValueOf(dur, 0)
			if c.T2r < end {
				if onTick != nil {
					onTick(c, c.T1r, c.T2r, start, end)
				}
				c.Tick()
				s.Enqueue(poll)
				return
			}

			if onTick != nil {
				onTick(c, c.T1r, end, start, end)
			}
			if end > c.T1r {
				if err := c.NudgeToRel(end); err != nil {
					s.Fail(err)
				}
			}
			s.reportLate("delay", c.T1)

			if s.beyondHorizon(c) {
				done = true
				s.Enqueue(poll)
				return
			}
			next(s, c, Stop)
		}
		poll(s, c, Stop)
	}
}
