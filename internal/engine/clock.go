package engine

import (
	"math"

	"github.com/roach88/timeline/internal/param"
)

// Clock is the time-accounting value threaded through every Action.
//
// [T1, T2) is the absolute interval in seconds covered by the current step.
// [T1r, T2r) is the same step measured in rate-integrated time, which advances
// at Rate times real time.
//
// Invariant: right after NewClock or Tick, T2 = T1 + Dt and T2r = T1r + rate*Dt.
//
// Each concurrent branch owns its own Clock; Copy hands out a new one.
type Clock struct {
	T1, T2   float64
	T1r, T2r float64
	Dt       float64

	// Rate is either a param.Const (copied by value into forks) or a
	// *param.Param (shared by every branch holding it). Nil means 1.
	Rate param.Source

	// Data is an inherited context slot, copy-on-write across copies.
	Data *Data

	// epoch records the last drift correction this clock has absorbed.
	epoch uint64
}

// NewClock creates a clock starting at absolute and relative time t.
func NewClock(t, dt float64, rate param.Source) *Clock {
	c := &Clock{
		T1:   t,
		T2:   t + dt,
		T1r:  t,
		Dt:   dt,
		Rate: rate,
	}
	c.T2r = t + c.RateValue()*dt
	return c
}

// RateValue reads the current rate.
func (c *Clock) RateValue() float64 {
	return param.ValueOf(c.Rate, 1)
}

// Copy returns an independent clock with the same intervals and rate.
// Data becomes a copy-on-write child of the source's data.
func (c *Clock) Copy() *Clock {
	cp := *c
	if c.Data != nil {
		cp.Data = c.Data.Child()
	}
	return &cp
}

// Advance shifts the absolute interval by dt.
// Rate-integrated time is untouched, preserving logical continuity across stalls.
func (c *Clock) Advance(dt float64) {
	c.T1 += dt
	c.T2 += dt
}

// AdvanceTo moves the absolute interval so that it starts at t.
func (c *Clock) AdvanceTo(t float64) {
	c.Advance(t - c.T1)
}

// Tick performs one discrete scheduling step.
func (c *Clock) Tick() {
	c.T1 = c.T2
	c.T2 += c.Dt
	c.T1r = c.T2r
	c.T2r += c.Dt * c.RateValue()
}

// JumpTo moves both intervals so that the absolute interval starts at t.
// The relative interval moves by the same amount scaled by rate.
func (c *Clock) JumpTo(t float64) {
	dt := t - c.T1
	dtr := dt * c.RateValue()
	c.T1 += dt
	c.T2 += dt
	c.T1r += dtr
	c.T2r += dtr
}

// SyncWith adopts other's start times while keeping this clock's Dt and Rate.
// Drift absorbed by other counts as absorbed by c.
func (c *Clock) SyncWith(other *Clock) {
	c.epoch = other.epoch
	c.T1 = other.T1
	c.T2 = c.T1 + c.Dt
	c.T1r = other.T1r
	c.T2r = c.T1r + c.RateValue()*c.Dt
}

// NudgeToRel sets T1r to max(T1r, tr) and moves T1 proportionally along the
// current [T1,T2) x [T1r,T2r) mapping.
func (c *Clock) NudgeToRel(tr float64) error {
	if !(c.T2r > c.T1r) {
		return NewDegenerateIntervalError(c.T1r, c.T2r)
	}
	tr = math.Max(c.T1r, tr)
	c.T1 += (tr - c.T1r) * (c.T2 - c.T1) / (c.T2r - c.T1r)
	c.T1r = tr
	return nil
}

// Rel2Abs converts a rate-integrated time to absolute time.
func (c *Clock) Rel2Abs(rel float64) float64 {
	r := c.RateValue()
	if r == 0 {
		return math.Inf(1)
	}
	return c.T1 + (rel-c.T1r)/r
}

// Abs2Rel converts an absolute time to rate-integrated time.
func (c *Clock) Abs2Rel(abs float64) float64 {
	return c.T1r + (abs-c.T1)*c.RateValue()
}

// Data is a copy-on-write context map.
//
// Reads fall through to the parent chain. Writes land in the receiver only,
// so siblings never see each other's keys. Values that are themselves
// pointers are shared: mutating the pointee is visible to every copy that
// reached it.
type Data struct {
	parent *Data
	vals   map[string]any
}

// NewData creates an empty root context.
func NewData() *Data {
	return &Data{}
}

// Child returns a copy-on-write child of d.
func (d *Data) Child() *Data {
	return &Data{parent: d}
}

// Get looks key up through the parent chain.
func (d *Data) Get(key string) (any, bool) {
	for cur := d; cur != nil; cur = cur.parent {
		if v, ok := cur.vals[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set writes key in this context only.
func (d *Data) Set(key string, v any) {
	if d.vals == nil {
		d.vals = make(map[string]any)
	}
	d.vals[key] = v
}
