// Package param provides the numeric inputs that timed actions read while
// they run.
//
// Two kinds of values exist and the distinction is deliberate at the type level:
//
//   - Const is a plain number. It is copied by value wherever it is stored,
//     so a forked clock that captured a Const keeps that number forever.
//   - *Param is a shared mutable cell. Every holder of the pointer observes
//     later writes, so a tempo change reaches every branch still using it.
//
// Both satisfy Source, which is what durations and rates are typed as.
package param

import (
	"math"
	"sync"
	"sync/atomic"
)

// Source is a numeric value read at poll time.
type Source interface {
	Value() float64
}

// Sink receives values written by animations.
type Sink interface {
	Set(v float64)
}

// Cell is a Source that can also be written.
type Cell interface {
	Source
	Sink
}

// Const is a by-value number.
type Const float64

// Value returns the constant.
func (c Const) Value() float64 {
	return float64(c)
}

// Param is a shared, observable numeric cell.
//
// Thread-safety: Value and Set are safe for concurrent use (atomic operations).
// Watchers run synchronously on the goroutine that called Set.
type Param struct {
	name string
	bits atomic.Uint64

	mu       sync.Mutex
	watchers map[int]func(float64)
	nextID   int
}

// New creates a named parameter with an initial value.
func New(name string, v float64) *Param {
	p := &Param{name: name}
	p.bits.Store(math.Float64bits(v))
	return p
}

// Name returns the parameter name given at construction.
func (p *Param) Name() string {
	return p.name
}

// Value returns the current value.
func (p *Param) Value() float64 {
	return math.Float64frombits(p.bits.Load())
}

// Set stores v and notifies watchers if the value changed.
func (p *Param) Set(v float64) {
	old := math.Float64frombits(p.bits.Swap(math.Float64bits(v)))
	if old == v {
		return
	}

	p.mu.Lock()
	fns := make([]func(float64), 0, len(p.watchers))
	for _, fn := range p.watchers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Watch registers fn to be called after each change.
// The returned function removes the watcher.
func (p *Param) Watch(fn func(float64)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watchers == nil {
		p.watchers = make(map[int]func(float64))
	}
	id := p.nextID
	p.nextID++
	p.watchers[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watchers, id)
	}
}

// ValueOf reads s, treating a nil source as def.
func ValueOf(s Source, def float64) float64 {
	if s == nil {
		return def
	}
	return s.Value()
}
