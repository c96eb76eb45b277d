package engine

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timeline/internal/param"
	"github.com/roach88/timeline/internal/testutil"
)

// testLogger discards output so test runs stay quiet.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestScheduler creates a started scheduler on fake time at 0 with a
// manual driver stepping dt.
func newTestScheduler(t *testing.T, dt float64, opts ...Option) (*Scheduler, *testutil.ManualDriver, *testutil.FakeTime) {
	t.Helper()
	ft := testutil.NewFakeTime(0)
	d := testutil.NewManualDriver(ft, dt)
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	s := New(ft.Now, d, opts...)
	require.NoError(t, s.Start())
	return s, d, ft
}

// stepUntil steps the driver until cond holds, failing after max steps.
func stepUntil(t *testing.T, d *testutil.ManualDriver, max int, cond func() bool) {
	t.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return
		}
		require.NoError(t, d.Step())
	}
	require.True(t, cond(), "condition not reached after %d steps", max)
}

type firing struct {
	name string
	abs  float64
	rel  float64
	now  float64
}

// recordFire returns a Fire action that appends to log.
func recordFire(log *[]firing, name string, ft *testutil.FakeTime) Action {
	return Fire(func(c *Clock) {
		*log = append(*log, firing{name: name, abs: c.T1, rel: c.T1r, now: ft.Now()})
	})
}

func TestScheduler_TrackEndToEnd(t *testing.T) {
	const dt = 0.05
	s, d, ft := newTestScheduler(t, dt)

	var log []firing
	require.NoError(t, s.Play(TrackOf(
		recordFire(&log, "f", ft),
		Wait(1),
		recordFire(&log, "g", ft),
	)))

	require.Len(t, log, 1, "f runs synchronously at play")
	assert.Equal(t, "f", log[0].name)

	stepUntil(t, d, 100, func() bool { return len(log) == 2 })

	g := log[1]
	assert.Equal(t, "g", g.name)
	assert.InDelta(t, 1.0, g.rel, eps, "g runs at logical time 1.0")
	assert.GreaterOrEqual(t, g.abs, 1.0-eps, "g is scheduled at or after 1.0")
	assert.GreaterOrEqual(t, g.now, 1.0, "g runs only once real time reaches 1.0")
	assert.Less(t, g.now, 1.0+dt+eps, "g runs on the first tick that reaches it")
	assert.Less(t, log[0].abs, g.abs)

	require.NoError(t, d.StepN(40))
	assert.Len(t, log, 2, "each fires exactly once")
}

func TestScheduler_DelayStaysInsideHorizon(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	steps := 0
	done := false
	require.NoError(t, s.Play(Seq(
		DelayFunc(param.Const(1), func(c *Clock, _, _, _, _ float64) {
			steps++
			assert.Less(t, c.T1, s.Horizon()-horizonEpsilon, "step %d starts beyond the horizon", steps)
		}),
		Fire(func(c *Clock) {
			done = true
			assert.Less(t, c.T1, s.Horizon()-horizonEpsilon, "continuation starts beyond the horizon")
		}),
	)))

	for i := 0; i < 40 && !done; i++ {
		before := steps
		require.NoError(t, d.Step())
		assert.LessOrEqual(t, steps-before, 1, "one step of lookahead per tick")
	}
	assert.True(t, done)
}

func TestScheduler_DelayLandsOnDeadline(t *testing.T) {
	for _, dt := range []float64{0.01, 0.03, 0.05, 0.07} {
		ft := testutil.NewFakeTime(2)
		d := testutil.NewManualDriver(ft, dt)
		s := New(ft.Now, d, WithLogger(testLogger()))
		require.NoError(t, s.Start())

		var log []firing
		require.NoError(t, s.Play(Seq(Wait(0.33), recordFire(&log, "done", ft))))

		stepUntil(t, d, 200, func() bool { return len(log) == 1 })
		assert.InDelta(t, 2.33, log[0].rel, eps, "dt=%v", dt)
		assert.InDelta(t, 2.33, log[0].abs, dt, "dt=%v", dt)
	}
}

func TestScheduler_FirstTickPrimesInterval(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	require.NoError(t, d.Step())

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Ticks)
	assert.GreaterOrEqual(t, st.Sweeps, uint64(1))
	assert.InDelta(t, 0.05, s.FrameInterval().Value(), eps)
	assert.GreaterOrEqual(t, s.Clock().T1, s.Time(), "master clock catches up to real time")
}

func TestScheduler_FrameIntervalConverges(t *testing.T) {
	s, d, ft := newTestScheduler(t, 0.03, WithTickWidth(0.05))

	require.NoError(t, d.StepN(100))
	assert.InDelta(t, 0.03, s.FrameInterval().Value(), 0.001)

	// A stall is not a plausible sample.
	ft.Set(ft.Now() + 1)
	require.NoError(t, d.Step())
	assert.InDelta(t, 0.03, s.FrameInterval().Value(), 0.001)
}

func TestScheduler_FrameIntervalWatchable(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.03, WithTickWidth(0.05))

	var seen []float64
	cancel := s.FrameInterval().Watch(func(v float64) {
		seen = append(seen, v)
	})
	defer cancel()

	require.NoError(t, d.StepN(3))
	assert.NotEmpty(t, seen)
}

func TestScheduler_DriftCorrection(t *testing.T) {
	const dt = 0.05
	mon := &recordingMonitor{}
	s, d, ft := newTestScheduler(t, dt, WithMonitor(mon))

	var log []firing
	require.NoError(t, s.Play(TrackOf(
		Wait(1),
		recordFire(&log, "a", ft),
		Wait(0.5),
		recordFire(&log, "b", ft),
	)))

	require.NoError(t, d.StepN(4))
	require.Empty(t, log)

	// Stall for ~10 seconds.
	ft.Set(10)
	stepUntil(t, d, 100, func() bool { return len(log) == 2 })

	assert.Equal(t, uint64(1), s.Stats().DriftCorrections)
	require.Len(t, mon.drifts, 1)
	assert.Greater(t, mon.drifts[0], 9.0)

	a, b := log[0], log[1]
	assert.InDelta(t, 1.0, a.rel, eps, "logical time unaffected by the stall")
	assert.Greater(t, a.abs, 10.0, "absolute time moved past the stall")
	assert.InDelta(t, 0.5, b.abs-a.abs, 1e-6, "drift is absorbed once")
	assert.InDelta(t, 1.5, b.rel, eps)
}

func TestScheduler_NoDriftBelowThreshold(t *testing.T) {
	s, d, ft := newTestScheduler(t, 0.05)

	require.NoError(t, d.StepN(3))
	ft.Set(ft.Now() + 0.15)
	require.NoError(t, d.Step())

	assert.Equal(t, uint64(0), s.Stats().DriftCorrections)
}

func TestScheduler_SweepRunsSnapshot(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	count := 0
	var self Action
	self = func(s *Scheduler, _ *Clock, _ Action) {
		count++
		s.Enqueue(self)
	}
	s.Enqueue(self)

	before := s.Stats().Sweeps
	require.NoError(t, d.Step())
	sweeps := int(s.Stats().Sweeps - before)

	assert.Equal(t, sweeps, count, "a self re-enqueueing action runs once per sweep")
	assert.Equal(t, 1, s.Stats().TickQueueLen)
}

func TestScheduler_UpdatesRunBeforeActions(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	v := 0
	seen := -1
	s.Enqueue(func(*Scheduler, *Clock, Action) { seen = v })
	s.Update(func() { v = 42 })

	require.NoError(t, d.Step())
	assert.Equal(t, 42, seen)
}

func TestScheduler_NestedUpdateDeferredToNextPass(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	var order []string
	s.Update(func() {
		order = append(order, "a")
		s.Update(func() { order = append(order, "b") })
	})
	s.Enqueue(func(*Scheduler, *Clock, Action) { order = append(order, "x") })

	require.NoError(t, d.StepN(2))
	assert.Equal(t, []string{"a", "x", "b"}, order)
}

func TestScheduler_UpdateFromOtherGoroutine(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	done := make(chan struct{})
	ran := false
	go func() {
		defer close(done)
		s.Update(func() { ran = true })
	}()
	<-done

	require.NoError(t, d.Step())
	assert.True(t, ran)
}

func TestScheduler_FramesDrainOncePerTick(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05, WithTickWidth(0.01))

	frames := 0
	var onFrame FrameFunc
	onFrame = func(float64, any) {
		frames++
		s.OnFrame(onFrame, nil)
	}
	s.OnFrame(onFrame, nil)

	require.NoError(t, d.StepN(5))

	st := s.Stats()
	assert.Equal(t, 5, frames)
	assert.Greater(t, st.Sweeps, st.Ticks, "narrow tick width needs several sweeps per tick")
	assert.Equal(t, uint64(5), st.FrameCallbacks)
}

func TestScheduler_FrameInfoPassedThrough(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	var got any
	var at float64
	s.OnFrame(func(t float64, info any) {
		at = t
		got = info
	}, "payload")

	require.NoError(t, d.Step())
	assert.Equal(t, "payload", got)
	assert.InDelta(t, 0.05, at, eps)
}

func TestScheduler_Cancel(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	ran := 0
	s.Enqueue(func(*Scheduler, *Clock, Action) { ran++ })
	s.OnFrame(func(float64, any) { ran++ }, nil)
	s.Update(func() { ran++ })

	s.Cancel()
	require.NoError(t, d.StepN(3))

	assert.Equal(t, 0, ran)
	assert.Equal(t, 0, s.Stats().TickQueueLen)
	assert.Equal(t, 0, s.Stats().FrameQueueLen)
}

func TestScheduler_TickObserver(t *testing.T) {
	var ticks []float64
	_, d, _ := newTestScheduler(t, 0.05, WithTickObserver(func(t float64) {
		ticks = append(ticks, t)
	}))

	require.NoError(t, d.StepN(3))

	require.Len(t, ticks, 3)
	assert.InDelta(t, 0.15, ticks[2], eps)
}

func TestScheduler_FailAbortsSweep(t *testing.T) {
	mon := &recordingMonitor{}
	s, d, _ := newTestScheduler(t, 0.05, WithMonitor(mon))

	boom := errors.New("boom")
	ran := 0
	s.Enqueue(func(s *Scheduler, _ *Clock, _ Action) { s.Fail(boom) })
	s.Enqueue(func(*Scheduler, *Clock, Action) { ran++ })

	err := d.Step()
	require.Error(t, err)

	var serr *SweepError
	require.True(t, errors.As(err, &serr))
	assert.InDelta(t, 0.05, serr.Time, eps)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, ran, "sweep stopped at the failure")
	assert.Equal(t, uint64(1), s.Stats().Failures)
	assert.Len(t, mon.aborts, 1)

	require.NoError(t, d.Step())
	assert.Equal(t, 1, ran, "queued work survives for the next tick")
}

func TestScheduler_AbortedUpdateKeepsRest(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	boom := errors.New("boom")
	var order []string
	s.Update(func() { order = append(order, "first"); s.Fail(boom) })
	s.Update(func() { order = append(order, "second") })
	s.Update(func() { order = append(order, "third") })

	err := d.Step()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first"}, order)

	require.NoError(t, d.Step())
	assert.Equal(t, []string{"first", "second", "third"}, order, "remaining updates run once on the next tick")

	require.NoError(t, d.StepN(2))
	assert.Len(t, order, 3)
}

func TestScheduler_AbortedFrameKeepsRest(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	ran := 0
	s.OnFrame(func(float64, any) { panic("bad frame") }, nil)
	s.OnFrame(func(float64, any) { ran++ }, nil)

	err := d.Step()
	require.Error(t, err)
	assert.ErrorContains(t, err, "panic: bad frame")
	assert.Equal(t, 0, ran)
	assert.Equal(t, 1, s.Stats().FrameQueueLen)

	require.NoError(t, d.Step())
	assert.Equal(t, 1, ran)
	assert.Equal(t, 0, s.Stats().FrameQueueLen)
}

func TestScheduler_PanicInCallbackAborts(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	require.NoError(t, s.Play(Seq(Wait(0.1), Fire(func(*Clock) {
		panic("bad callback")
	}))))

	err := d.RunUntil(1)
	require.Error(t, err)
	assert.ErrorContains(t, err, "panic: bad callback")
	assert.Equal(t, uint64(1), s.Stats().Failures)
}

func TestScheduler_PlayReportsStarvation(t *testing.T) {
	s, _, _ := newTestScheduler(t, 0.05)

	err := s.Play(Loop(Fire(nil)))
	require.Error(t, err)

	var serr *SweepError
	assert.True(t, errors.As(err, &serr))
	assert.True(t, IsInvariantError(err, ErrCodeLoopStarvation))
}

func TestScheduler_StarvationInsideTick(t *testing.T) {
	s, d, _ := newTestScheduler(t, 0.05)

	require.NoError(t, s.Play(Seq(Wait(0.1), Loop(nil))))

	err := d.RunUntil(1)
	require.Error(t, err)
	assert.True(t, IsInvariantError(err, ErrCodeLoopStarvation))
}

func TestScheduler_LatenessDiagnostics(t *testing.T) {
	mon := &recordingMonitor{}
	s, d, ft := newTestScheduler(t, 0.05, WithDiagnostics(true), WithMonitor(mon))

	fired := false
	require.NoError(t, s.Play(Seq(Wait(0.1), Fire(func(*Clock) { fired = true }))))

	ft.Set(0.15)
	require.NoError(t, d.Step())

	require.True(t, fired)
	assert.Equal(t, uint64(2), s.Stats().LateEvents)
	assert.Equal(t, []string{"delay", "fire"}, mon.lateKinds)
}

func TestScheduler_LatenessOffByDefault(t *testing.T) {
	s, d, ft := newTestScheduler(t, 0.05)

	require.NoError(t, s.Play(Seq(Wait(0.1), Fire(nil))))
	ft.Set(0.15)
	require.NoError(t, d.Step())

	assert.Equal(t, uint64(0), s.Stats().LateEvents)
	assert.False(t, s.Options().Diagnostics)
}

func TestScheduler_StartHonorsRunning(t *testing.T) {
	ft := testutil.NewFakeTime(0)
	d := testutil.NewManualDriver(ft, 0.05)
	s := New(ft.Now, d, WithLogger(testLogger()), WithRunning(false))

	require.NoError(t, s.Start())
	assert.False(t, s.Running())
	assert.False(t, d.Running())

	require.NoError(t, s.SetRunning(true))
	assert.True(t, s.Running())
	assert.Equal(t, 1, d.Starts())

	require.NoError(t, s.SetRunning(true), "idempotent")
	assert.Equal(t, 1, d.Starts())

	require.NoError(t, s.SetRunning(false))
	assert.False(t, d.Running())
}

func TestScheduler_NewDoesNotStartDriver(t *testing.T) {
	ft := testutil.NewFakeTime(0)
	d := testutil.NewManualDriver(ft, 0.05)
	s := New(ft.Now, d, WithLogger(testLogger()))

	assert.False(t, d.Running())
	assert.True(t, s.Options().Running)
}

func TestScheduler_TickWidthDefaults(t *testing.T) {
	ft := testutil.NewFakeTime(0)

	s := New(ft.Now, nil, WithLogger(testLogger()))
	assert.Equal(t, DefaultTickWidth, s.Clock().Dt)

	s = New(ft.Now, testutil.NewManualDriver(ft, 0.02), WithLogger(testLogger()))
	assert.Equal(t, 0.02, s.Clock().Dt, "driver's compute-ahead")

	s = New(ft.Now, testutil.NewManualDriver(ft, 0.02), WithLogger(testLogger()), WithTickWidth(0.04))
	assert.Equal(t, 0.04, s.Clock().Dt, "explicit option wins")
}

func TestScheduler_OfflineTick(t *testing.T) {
	s := New(func() float64 { return 0 }, nil, WithLogger(testLogger()))

	fired := 0
	require.NoError(t, s.Play(Seq(Wait(0.2), Fire(func(*Clock) { fired++ }))))

	for i := 1; i <= 10; i++ {
		require.NoError(t, s.Tick(float64(i)*0.05))
	}
	assert.Equal(t, 1, fired)
}

func TestScheduler_PlayNil(t *testing.T) {
	s, _, _ := newTestScheduler(t, 0.05)
	assert.NoError(t, s.Play(nil))
}

func TestScheduler_PerformUsesGivenClock(t *testing.T) {
	s, _, _ := newTestScheduler(t, 0.05)

	c := NewClock(3, 0.05, nil)
	var got *Clock
	require.NoError(t, s.Perform(Fire(func(fc *Clock) { got = fc }), c, nil))
	assert.Same(t, c, got)
}

type recordingMonitor struct {
	lateKinds []string
	drifts    []float64
	aborts    []*SweepError
}

func (m *recordingMonitor) Late(kind string, _, _ float64) {
	m.lateKinds = append(m.lateKinds, kind)
}

func (m *recordingMonitor) Drift(_, delta float64) {
	m.drifts = append(m.drifts, delta)
}

func (m *recordingMonitor) Aborted(err *SweepError) {
	m.aborts = append(m.aborts, err)
}
