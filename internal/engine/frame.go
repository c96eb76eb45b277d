package engine

import (
	"github.com/roach88/timeline/internal/param"
)

// Display schedules fn on the frame queue and continues immediately.
// fn receives a copy of the clock at the display point and the frame time.
func Display(fn func(c *Clock, t float64)) Action {
	return func(s *Scheduler, c *Clock, next Action) {
		dc := c.Copy()
		s.OnFrame(func(t float64, _ any) {
			fn(dc, t)
		}, nil)
		next(s, c, Stop)
	}
}

// Frame suspends until the next frame drain, then continues with the clock
// snapped forward to the frame time if it lags behind it.
func Frame() Action {
	return func(s *Scheduler, c *Clock, next Action) {
		s.OnFrame(func(t float64, _ any) {
			if t > c.T1 {
				c.JumpTo(t)
			}
			c.epoch = s.driftEpoch
			next(s, c, Stop)
		}, nil)
	}
}

// FramesFunc receives the branch clock, the frame time and the fraction of
// the span elapsed at that time, in [0, 1].
type FramesFunc func(c *Clock, t, frac float64)

// frameSpan maps display time onto the progress of a Frames action.
type frameSpan struct {
	t1, t2 float64
	epoch  uint64
}

func (f *frameSpan) absorbDrift(s *Scheduler) {
	if f.epoch == s.driftEpoch {
		return
	}
	f.t1 += s.tickAdvance
	f.t2 += s.tickAdvance
	f.epoch = s.driftEpoch
}

func (f *frameSpan) fraction(t float64) float64 {
	if f.t2 <= f.t1 {
		return 1
	}
	return max(0, min(1, (t-f.t1)/(f.t2-f.t1)))
}

// Frames couples a Delay of dur with a stream of per-frame callbacks.
//
// onFrame runs once per driver tick until the span's end time is reached,
// finishing with frac == 1. The logical continuation follows the delay, not
// the frames. The span's start is shifted by drift corrections so progress
// stays continuous across stalls.
func Frames(dur param.Source, onFrame FramesFunc) Action {
	return func(s *Scheduler, c *Clock, next Action) {
		span := &frameSpan{
			t1:    c.T1,
			t2:    c.Rel2Abs(c.T1r + param.ValueOf(dur, 0)),
			epoch: s.driftEpoch,
		}
		fc := c.Copy()

		var onTickFrame FrameFunc
		onTickFrame = func(t float64, _ any) {
			span.absorbDrift(s)
			frac := span.fraction(t)
			onFrame(fc, t, frac)
			if frac < 1 {
				s.OnFrame(onTickFrame, span)
			}
		}
		s.OnFrame(onTickFrame, span)

		track := func(dc *Clock, _, _, _, end float64) {
			span.absorbDrift(s)
			span.t2 = dc.Rel2Abs(end)
		}
		DelayFunc(dur, track)(s, c, next)
	}
}
