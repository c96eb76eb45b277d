package compiler

import (
	"fmt"

	"github.com/roach88/timeline/internal/engine"
	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/param"
)

// Emitter receives the observable events of a running program.
type Emitter interface {
	Emit(kind ir.EventKind, name string, c *engine.Clock)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(kind ir.EventKind, name string, c *engine.Clock)

// Emit calls f.
func (f EmitterFunc) Emit(kind ir.EventKind, name string, c *engine.Clock) {
	f(kind, name, c)
}

type nopEmitter struct{}

func (nopEmitter) Emit(ir.EventKind, string, *engine.Clock) {}

// Program is a score bound to a scheduler.
//
// Params, gates and sync points are created once per Build, so every
// reference to the same name shares one instance.
type Program struct {
	Name   string
	Main   engine.Action
	Params map[string]*param.Param
	Gates  map[string]*engine.Gate
	Syncs  map[string]*engine.SyncPoint
}

// Play starts the program's main track on s.
func (p *Program) Play(s *engine.Scheduler) error {
	return s.Play(p.Main)
}

// Build turns the score into Actions bound to s. A nil emit discards events.
func (sc *Score) Build(s *engine.Scheduler, emit Emitter) (*Program, error) {
	if emit == nil {
		emit = nopEmitter{}
	}

	prog := &Program{
		Name:   sc.Name,
		Params: make(map[string]*param.Param, len(sc.Params)),
		Gates:  map[string]*engine.Gate{},
		Syncs:  map[string]*engine.SyncPoint{},
	}
	for _, name := range sc.ParamNames() {
		prog.Params[name] = param.New(name, sc.Params[name])
	}

	b := &builder{sched: s, emit: emit, prog: prog}
	main, err := b.track(sc.Main)
	if err != nil {
		return nil, fmt.Errorf("build score %q: %w", sc.Name, err)
	}
	prog.Main = main
	return prog, nil
}

type builder struct {
	sched *engine.Scheduler
	emit  Emitter
	prog  *Program
}

func (b *builder) actions(steps []Step) ([]engine.Action, error) {
	out := make([]engine.Action, 0, len(steps))
	for _, st := range steps {
		a, err := b.step(st)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (b *builder) track(steps []Step) (engine.Action, error) {
	actions, err := b.actions(steps)
	if err != nil {
		return nil, err
	}
	return engine.TrackOf(actions...), nil
}

func (b *builder) branches(branches [][]Step) ([]engine.Action, error) {
	out := make([]engine.Action, 0, len(branches))
	for _, br := range branches {
		a, err := b.track(br)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (b *builder) step(st Step) (engine.Action, error) {
	switch st.Kind {
	case StepFire:
		name := st.Name
		return engine.Fire(func(c *engine.Clock) {
			b.emit.Emit(ir.KindFire, name, c)
		}), nil

	case StepDelay:
		return engine.Delay(b.source(st.Amount)), nil

	case StepRate:
		return engine.Rate(b.source(st.Amount)), nil

	case StepTrack:
		return b.track(st.Body)

	case StepSlice:
		actions, err := b.actions(st.Body)
		if err != nil {
			return nil, err
		}
		return engine.NewTrack(actions...).Slice(st.Start, st.End), nil

	case StepRepeat:
		body, err := b.track(st.Body)
		if err != nil {
			return nil, err
		}
		return engine.Repeat(st.N, body), nil

	case StepLoop:
		body, err := b.track(st.Body)
		if err != nil {
			return nil, err
		}
		return engine.Loop(body), nil

	case StepLoopWhile:
		body, err := b.track(st.Body)
		if err != nil {
			return nil, err
		}
		p := b.prog.Params[st.Name]
		return engine.LoopWhile(func() bool { return p.Value() != 0 }, body), nil

	case StepFork:
		branches, err := b.branches(st.Branches)
		if err != nil {
			return nil, err
		}
		return engine.Fork(branches...), nil

	case StepSpawn:
		branches, err := b.branches(st.Branches)
		if err != nil {
			return nil, err
		}
		return engine.Spawn(branches...), nil

	case StepChoice:
		branches, err := b.branches(st.Branches)
		if err != nil {
			return nil, err
		}
		return engine.Choice(branches...)

	case StepGate:
		return b.gate(st.Name).Action(), nil

	case StepSync:
		return b.sync(st.Name).Action(), nil

	case StepAnim:
		return b.anim(st)

	case StepDisplay:
		name := st.Name
		return engine.Display(func(c *engine.Clock, _ float64) {
			b.emit.Emit(ir.KindDisplay, name, c)
		}), nil

	case StepFrame:
		return engine.Seq(engine.Frame(), b.emitAction(ir.KindDisplay, st.Name)), nil

	case StepFrames:
		name := st.Name
		return engine.Frames(b.source(st.Amount), func(c *engine.Clock, _, frac float64) {
			if frac >= 1 {
				b.emit.Emit(ir.KindDisplay, name, c)
			}
		}), nil

	case StepCont:
		return engine.Cont, nil

	case StepStop:
		return engine.Stop, nil
	}
	return nil, fmt.Errorf("unknown step kind %q", st.Kind)
}

func (b *builder) anim(st Step) (engine.Action, error) {
	p := b.prog.Params[st.Name]
	a, err := engine.Anim(engine.AnimSpec{
		Target:   p,
		Duration: b.source(st.Amount),
		From:     st.From,
		To:       st.To,
		Curve:    st.Curve,
	})
	if err != nil {
		return nil, err
	}
	return engine.Seq(a, b.emitAction(ir.KindParam, st.Name)), nil
}

// emitAction emits without lateness reporting; frame-aligned steps run
// after their scheduled time by construction.
func (b *builder) emitAction(kind ir.EventKind, name string) engine.Action {
	return func(s *engine.Scheduler, c *engine.Clock, next engine.Action) {
		b.emit.Emit(kind, name, c)
		next(s, c, engine.Stop)
	}
}

func (b *builder) source(o Operand) param.Source {
	if o.IsParam() {
		return b.prog.Params[o.Param]
	}
	return param.Const(o.Value)
}

func (b *builder) gate(name string) *engine.Gate {
	g, ok := b.prog.Gates[name]
	if !ok {
		g = b.sched.Gate()
		b.prog.Gates[name] = g
	}
	return g
}

func (b *builder) sync(name string) *engine.SyncPoint {
	p, ok := b.prog.Syncs[name]
	if !ok {
		p = b.sched.Sync()
		b.prog.Syncs[name] = p
	}
	return p
}
