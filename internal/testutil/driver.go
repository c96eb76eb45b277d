package testutil

import "errors"

// ManualDriver is a driver that ticks only when a test calls Step.
//
// It satisfies engine.Driver without importing the engine package.
type ManualDriver struct {
	time    *FakeTime
	step    float64
	tick    func(t float64) error
	starts  int
	stops   int
	running bool
}

// NewManualDriver creates a driver that advances ft by step on each Step.
func NewManualDriver(ft *FakeTime, step float64) *ManualDriver {
	return &ManualDriver{time: ft, step: step}
}

// Start records the tick callback.
func (d *ManualDriver) Start(tick func(t float64) error) error {
	if d.running {
		return errors.New("manual driver: already running")
	}
	d.tick = tick
	d.running = true
	d.starts++
	return nil
}

// Stop forgets the tick callback.
func (d *ManualDriver) Stop() error {
	d.running = false
	d.stops++
	return nil
}

// ComputeAhead returns the step width.
func (d *ManualDriver) ComputeAhead() float64 {
	return d.step
}

// Running reports whether Start was called without a matching Stop.
func (d *ManualDriver) Running() bool {
	return d.running
}

// Starts returns how many times Start succeeded.
func (d *ManualDriver) Starts() int {
	return d.starts
}

// Step advances fake time by the step width and ticks once.
// Returns nil without ticking when the driver is stopped.
func (d *ManualDriver) Step() error {
	t := d.time.Advance(d.step)
	if !d.running {
		return nil
	}
	return d.tick(t)
}

// StepN calls Step n times and returns the first error.
func (d *ManualDriver) StepN(n int) error {
	for i := 0; i < n; i++ {
		if err := d.Step(); err != nil {
			return err
		}
	}
	return nil
}

// RunUntil steps until fake time reaches t.
func (d *ManualDriver) RunUntil(t float64) error {
	for d.time.Now()+d.step/2 < t {
		if err := d.Step(); err != nil {
			return err
		}
	}
	return nil
}
