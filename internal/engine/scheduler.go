package engine

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/roach88/timeline/internal/param"
)

const (
	// DefaultTickWidth is used when neither the driver nor WithTickWidth
	// supplies a positive compute-ahead interval.
	DefaultTickWidth = 0.05

	// DefaultLatenessTolerance is how far behind real time an event may run
	// before diagnostics report it as late.
	DefaultLatenessTolerance = 0.001

	// bigDtFactor scales clockDt into the drift threshold.
	bigDtFactor = 5

	// Plausible inter-tick samples. Anything outside is treated as a glitch
	// (stall, burst) and does not feed the interval estimate.
	minPlausibleInterval = 0.01
	maxPlausibleInterval = 0.07

	// intervalSmoothing is the low-pass filter coefficient.
	intervalSmoothing = 0.1

	// horizonEpsilon absorbs float noise from summed tick widths when a clock
	// lands on the horizon.
	horizonEpsilon = 1e-9
)

// TimeSource returns the current time in seconds. It must be monotonic.
type TimeSource func() float64

// TickFunc is the callback a Driver invokes periodically.
type TickFunc = func(t float64) error

// Driver produces the periodic signal that drives the Scheduler.
type Driver interface {
	// Start begins invoking tick periodically.
	Start(tick TickFunc) error

	// Stop halts the periodic signal. Stop on a stopped driver is a no-op.
	Stop() error

	// ComputeAhead is the advertised interval between ticks, in seconds.
	ComputeAhead() float64
}

// Monitor receives timing anomalies observed by the Scheduler.
type Monitor interface {
	// Late reports an event that ran after its scheduled time.
	Late(kind string, scheduled, now float64)

	// Drift reports a fast-forward of the master clock.
	Drift(now, delta float64)

	// Aborted reports a sweep that was aborted.
	Aborted(err *SweepError)
}

type nopMonitor struct{}

func (nopMonitor) Late(string, float64, float64) {}
func (nopMonitor) Drift(float64, float64)        {}
func (nopMonitor) Aborted(*SweepError)           {}

// Options is the recognized options record.
type Options struct {
	// Running controls whether Start starts the driver. Default: true.
	Running bool

	// Diagnostics enables lateness reporting. Default: false.
	Diagnostics bool
}

// DefaultOptions returns the documented defaults: running, no diagnostics.
func DefaultOptions() Options {
	return Options{Running: true}
}

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	Options
	tickWidth float64
	tolerance float64
	logger    *slog.Logger
	observer  func(t float64)
	monitor   Monitor
	seed      uint64
	seeded    bool
}

// WithOptions replaces the options record.
func WithOptions(o Options) Option {
	return func(c *config) {
		c.Options = o
	}
}

// WithRunning sets whether Start runs the driver.
func WithRunning(running bool) Option {
	return func(c *config) {
		c.Running = running
	}
}

// WithDiagnostics enables lateness reporting for fire and delay.
func WithDiagnostics(on bool) Option {
	return func(c *config) {
		c.Diagnostics = on
	}
}

// WithTickWidth sets the master clock's tick width in seconds.
//
// Default: the driver's ComputeAhead, or DefaultTickWidth.
func WithTickWidth(dt float64) Option {
	return func(c *config) {
		c.tickWidth = dt
	}
}

// WithLatenessTolerance sets the slack before an event counts as late.
func WithLatenessTolerance(sec float64) Option {
	return func(c *config) {
		c.tolerance = sec
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithTickObserver registers a hook invoked at the end of every tick.
func WithTickObserver(fn func(t float64)) Option {
	return func(c *config) {
		c.observer = fn
	}
}

// WithMonitor registers a receiver for timing anomalies.
func WithMonitor(m Monitor) Option {
	return func(c *config) {
		c.monitor = m
	}
}

// WithSeed makes choice deterministic.
func WithSeed(seed uint64) Option {
	return func(c *config) {
		c.seed = seed
		c.seeded = true
	}
}

// frameEntry is a frame queue element: a callback and its opaque info.
type frameEntry struct {
	fn   FrameFunc
	info any
}

// FrameFunc runs once on the frame queue at driver time t.
type FrameFunc func(t float64, info any)

// Scheduler owns the master clock and the tick, frame and update queues.
//
// CRITICAL: Tick, Play, Perform, Enqueue, OnFrame and Cancel must be called
// from the driver goroutine (or before the driver starts). Update is the
// only entry point safe from any goroutine.
type Scheduler struct {
	cfg    config
	now    TimeSource
	driver Driver
	logger *slog.Logger
	rng    *rand.Rand

	main    *Clock
	running bool
	inTick  bool

	tickQ  *Queue[Action]
	frameQ *Queue[frameEntry]

	updateMu sync.Mutex
	updateQ  *Queue[func()]

	// Timing state, owned by the driver goroutine.
	realTime     float64
	lastTick     float64
	haveLastTick bool
	frameDt      float64
	clockDt      float64
	clockBigDt   float64
	computeUpto  float64
	advanceDelta float64
	tickAdvance  float64
	driftEpoch   uint64

	frameInterval *param.Param

	stats schedulerStats
}

// New creates a Scheduler. The driver is not started; call Start.
//
// A nil driver is allowed for offline use where the caller invokes Tick.
func New(now TimeSource, driver Driver, opts ...Option) *Scheduler {
	cfg := config{
		Options:   DefaultOptions(),
		tolerance: DefaultLatenessTolerance,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.tickWidth <= 0 && driver != nil {
		cfg.tickWidth = driver.ComputeAhead()
	}
	if cfg.tickWidth <= 0 {
		cfg.tickWidth = DefaultTickWidth
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.monitor == nil {
		cfg.monitor = nopMonitor{}
	}

	var rng *rand.Rand
	if cfg.seeded {
		rng = rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	t := now()
	s := &Scheduler{
		cfg:           cfg,
		now:           now,
		driver:        driver,
		logger:        cfg.logger,
		rng:           rng,
		main:          NewClock(t, cfg.tickWidth, param.Const(1)),
		tickQ:         NewQueue[Action](),
		frameQ:        NewQueue[frameEntry](),
		updateQ:       NewQueue[func()](),
		realTime:      t,
		frameDt:       cfg.tickWidth,
		frameInterval: param.New("frame_interval", cfg.tickWidth),
	}
	s.setClockDt(cfg.tickWidth)
	s.computeUpto = t + s.clockDt
	return s
}

// Start applies the configured Running flag.
func (s *Scheduler) Start() error {
	return s.SetRunning(s.cfg.Running)
}

// Running reports whether the driver is running.
func (s *Scheduler) Running() bool {
	return s.running
}

// SetRunning starts or stops the driver.
func (s *Scheduler) SetRunning(on bool) error {
	if on == s.running {
		return nil
	}
	if s.driver != nil {
		if on {
			if err := s.driver.Start(s.Tick); err != nil {
				return fmt.Errorf("start driver: %w", err)
			}
		} else if err := s.driver.Stop(); err != nil {
			return fmt.Errorf("stop driver: %w", err)
		}
	}
	s.running = on
	s.logger.Debug("scheduler running state changed", "running", on)
	return nil
}

// Options returns the options record in effect.
func (s *Scheduler) Options() Options {
	return s.cfg.Options
}

// Clock returns the master clock. Callers must not mutate it.
func (s *Scheduler) Clock() *Clock {
	return s.main
}

// Time returns the driver time of the latest tick.
func (s *Scheduler) Time() float64 {
	return s.realTime
}

// Horizon returns the lookahead boundary of the latest tick.
func (s *Scheduler) Horizon() float64 {
	return s.computeUpto
}

// AdvanceDelta returns the drift correction pending for the current sweep,
// or 0 outside the first sweep of a corrected tick.
func (s *Scheduler) AdvanceDelta() float64 {
	return s.advanceDelta
}

// FrameInterval returns the observable estimate of the driver interval.
func (s *Scheduler) FrameInterval() *param.Param {
	return s.frameInterval
}

// Play invokes a with a fresh copy of the master clock and the terminal
// continuation.
//
// Called outside a tick, an invariant violation raised synchronously by a is
// returned as a *SweepError. Inside a tick it aborts the tick instead.
func (s *Scheduler) Play(a Action) error {
	if a == nil {
		return nil
	}
	return s.guard(func() {
		a(s, s.main.Copy(), Stop)
	})
}

// Perform invokes a directly with the given clock and continuation.
// Errors follow the same rules as Play.
func (s *Scheduler) Perform(a Action, c *Clock, next Action) error {
	if next == nil {
		next = Stop
	}
	return s.guard(func() {
		orCont(a)(s, c, next)
	})
}

// guard runs fn, converting an abort into an error when no tick is active.
func (s *Scheduler) guard(fn func()) (err error) {
	if s.inTick {
		fn()
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = s.aborted(s.realTime, r)
		}
	}()
	fn()
	return nil
}

// Enqueue registers a for the next sweep. a is invoked with the master clock.
func (s *Scheduler) Enqueue(a Action) {
	s.tickQ.Add(a)
}

// OnFrame registers fn to run once when the frame queue is next drained.
func (s *Scheduler) OnFrame(fn FrameFunc, info any) {
	s.frameQ.Add(frameEntry{fn: fn, info: info})
}

// Update enqueues a mutation to run before the next sweep.
// Thread-safe: may be called from any goroutine.
func (s *Scheduler) Update(fn func()) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	s.updateQ.Add(fn)
}

// Cancel drops every pending tick, frame and update entry.
// Actions parked in gates or sync points are not affected.
func (s *Scheduler) Cancel() {
	s.tickQ.Clear()
	s.frameQ.Clear()

	s.updateMu.Lock()
	s.updateQ.Clear()
	s.updateMu.Unlock()

	s.publishQueueLens()
	s.logger.Debug("scheduler cancelled")
}

// Fail aborts the current sweep with err. Tick returns a SweepError.
func (s *Scheduler) Fail(err error) {
	panic(sweepAbort{err: err})
}

// Tick runs one driver tick at real time t.
//
// On an aborted sweep the remaining queued work is kept intact for the next
// tick and a *SweepError is returned.
func (s *Scheduler) Tick(t float64) (err error) {
	s.stats.ticks.Add(1)
	s.realTime = t
	s.estimateInterval(t)
	s.computeUpto = t + s.clockDt

	s.tickAdvance = 0
	for t-s.main.T1 > s.clockBigDt {
		s.advanceDelta = t - s.main.T1
		s.main.Advance(s.advanceDelta)
		s.tickAdvance += s.advanceDelta
		s.driftEpoch++
		s.main.epoch = s.driftEpoch
		s.stats.drifts.Add(1)

		s.logger.Debug("drift correction", "now", t, "delta", s.advanceDelta)
		s.cfg.monitor.Drift(t, s.advanceDelta)
	}

	s.inTick = true
	defer func() {
		s.inTick = false
		s.advanceDelta = 0
		s.publishQueueLens()
		if r := recover(); r != nil {
			err = s.aborted(t, r)
		}
	}()

	for first := true; first || s.main.T1 < s.computeUpto; first = false {
		s.sweep()
		if s.main.T1 < s.computeUpto {
			s.main.Tick()
		}
		s.advanceDelta = 0
	}

	s.drainFrames(t)

	if s.cfg.observer != nil {
		s.cfg.observer(t)
	}
	return nil
}

// sweep drains updates and runs a snapshot of the tick queue.
func (s *Scheduler) sweep() {
	s.stats.sweeps.Add(1)
	s.drainUpdates()

	n := s.tickQ.Len()
	for i := 0; i < n; i++ {
		a, err := s.tickQ.Remove()
		if err != nil {
			s.Fail(&InvariantError{Code: ErrCodeEmptyQueue, Message: err.Error()})
		}
		s.stats.actions.Add(1)
		a(s, s.main, Stop)
	}
}

// drainUpdates runs the updates queued before the call. Each one is removed
// just before it runs, so an aborted update leaves the rest queued.
func (s *Scheduler) drainUpdates() {
	s.updateMu.Lock()
	n := s.updateQ.Len()
	s.updateMu.Unlock()

	for i := 0; i < n; i++ {
		s.updateMu.Lock()
		fn, err := s.updateQ.Remove()
		s.updateMu.Unlock()
		if err != nil {
			// Cancel emptied the queue.
			return
		}
		s.stats.updates.Add(1)
		fn()
	}
}

func (s *Scheduler) drainFrames(t float64) {
	n := s.frameQ.Len()
	for i := 0; i < n; i++ {
		e, err := s.frameQ.Remove()
		if err != nil {
			s.Fail(&InvariantError{Code: ErrCodeEmptyQueue, Message: err.Error()})
		}
		s.stats.frames.Add(1)
		e.fn(t, e.info)
	}
}

// estimateInterval low-pass filters plausible inter-tick samples and derives
// the lookahead width and drift threshold from the estimate.
func (s *Scheduler) estimateInterval(t float64) {
	if s.haveLastTick {
		dt := t - s.lastTick
		if dt >= minPlausibleInterval && dt <= maxPlausibleInterval {
			s.frameDt += intervalSmoothing * (dt - s.frameDt)
			s.frameInterval.Set(s.frameDt)
			s.setClockDt(s.frameDt)
		}
	}
	s.lastTick = t
	s.haveLastTick = true
}

func (s *Scheduler) setClockDt(dt float64) {
	s.clockDt = dt
	s.clockBigDt = bigDtFactor * dt
}

// absorbDrift applies the pending drift correction to c at most once.
func (s *Scheduler) absorbDrift(c *Clock) {
	if c.epoch == s.driftEpoch {
		return
	}
	if s.advanceDelta != 0 && c.T1 < s.main.T1 {
		c.Advance(s.advanceDelta)
	}
	c.epoch = s.driftEpoch
}

// beyondHorizon reports whether c starts at or after the lookahead horizon.
// Work on such a clock waits for a later driver tick.
func (s *Scheduler) beyondHorizon(c *Clock) bool {
	return c.T1 >= s.computeUpto-horizonEpsilon
}

// reportLate records an event scheduled at t that ran after real time.
func (s *Scheduler) reportLate(kind string, scheduled float64) {
	if !s.cfg.Diagnostics {
		return
	}
	late := s.realTime - scheduled
	if late <= s.cfg.tolerance {
		return
	}
	s.stats.late.Add(1)
	s.logger.Warn("late event",
		"kind", kind,
		"scheduled", scheduled,
		"now", s.realTime,
		"late_by", late,
	)
	s.cfg.monitor.Late(kind, scheduled, s.realTime)
}

func (s *Scheduler) aborted(t float64, r any) error {
	var cause error
	switch v := r.(type) {
	case sweepAbort:
		cause = v.err
	case error:
		cause = v
	default:
		cause = fmt.Errorf("panic: %v", v)
	}

	serr := &SweepError{Time: t, Cause: cause}
	s.stats.failures.Add(1)
	s.logger.Error("sweep aborted", "now", t, "error", cause)
	s.cfg.monitor.Aborted(serr)
	return serr
}

func (s *Scheduler) publishQueueLens() {
	s.stats.tickQueueLen.Store(int64(s.tickQ.Len()))
	s.stats.frameQueueLen.Store(int64(s.frameQ.Len()))
	s.stats.clockT1.Store(s.main.T1)
}
