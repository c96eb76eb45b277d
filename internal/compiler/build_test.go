package compiler

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timeline/internal/engine"
	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/testutil"
)

const eps = 1e-9

type emitted struct {
	kind ir.EventKind
	name string
	rel  float64
	abs  float64
}

type captureEmitter struct {
	events []emitted
}

func (e *captureEmitter) Emit(kind ir.EventKind, name string, c *engine.Clock) {
	e.events = append(e.events, emitted{kind: kind, name: name, rel: c.T1r, abs: c.T1})
}

func (e *captureEmitter) names() []string {
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.name)
	}
	return out
}

type fixture struct {
	prog  *Program
	em    *captureEmitter
	sched *engine.Scheduler
	d     *testutil.ManualDriver
}

// build compiles src and builds its only score on a fresh fake-time
// scheduler stepping 0.05.
func build(t *testing.T, src string) *fixture {
	t.Helper()

	scores, err := CompileSource(src, "demo.cue")
	require.NoError(t, err)
	require.Len(t, scores, 1)

	ft := testutil.NewFakeTime(0)
	d := testutil.NewManualDriver(ft, 0.05)
	s := engine.New(ft.Now, d, engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, s.Start())

	em := &captureEmitter{}
	prog, err := scores[0].Build(s, em)
	require.NoError(t, err)
	return &fixture{prog: prog, em: em, sched: s, d: d}
}

func buildAndPlay(t *testing.T, src string) (*Program, *captureEmitter, *testutil.ManualDriver) {
	t.Helper()
	f := build(t, src)
	require.NoError(t, f.prog.Play(f.sched))
	return f.prog, f.em, f.d
}

func TestBuildForkJoin(t *testing.T) {
	_, em, d := buildAndPlay(t, `
		score: demo: main: [
			{fire: "a"},
			{delay: 0.5},
			{fire: "b"},
			{fork: [
				[{delay: 0.25}, {fire: "c"}],
				[{delay: 0.5}, {fire: "d"}],
			]},
			{fire: "e"},
		]
	`)

	require.NoError(t, d.RunUntil(2))

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, em.names())
	wantRel := []float64{0, 0.5, 0.75, 1.0, 1.0}
	for i, ev := range em.events {
		assert.Equal(t, ir.KindFire, ev.kind)
		assert.InDelta(t, wantRel[i], ev.rel, eps, "event %s", ev.name)
	}
}

func TestBuildParamRate(t *testing.T) {
	f := build(t, `
		score: demo: {
			params: tempo: 1
			main: [{rate: "tempo"}, {delay: 1}, {fire: "done"}]
		}
	`)
	f.prog.Params["tempo"].Set(2)
	require.NoError(t, f.prog.Play(f.sched))
	em, d := f.em, f.d

	require.NoError(t, d.RunUntil(2))

	require.Len(t, em.events, 1)
	assert.InDelta(t, 1.0, em.events[0].rel, eps)
	assert.InDelta(t, 0.5, em.events[0].abs, 0.05+eps)
}

func TestBuildSharedGate(t *testing.T) {
	f := build(t, `
		score: demo: main: [
			{spawn: [[{gate: "hold"}, {fire: "x"}]]},
			{gate: "hold"},
			{fire: "y"},
		]
	`)

	prog, em, d := f.prog, f.em, f.d
	require.Len(t, prog.Gates, 1)
	g := prog.Gates["hold"]
	assert.Empty(t, prog.Syncs)

	require.NoError(t, prog.Play(f.sched))
	assert.Equal(t, []string{"x", "y"}, em.names(), "open gate passes through")

	g.Close()
	em.events = nil
	require.NoError(t, prog.Play(f.sched))
	require.NoError(t, d.StepN(3))
	assert.Empty(t, em.events)
	assert.Equal(t, 2, g.Pending())

	g.Open()
	require.NoError(t, d.Step())
	assert.ElementsMatch(t, []string{"x", "y"}, em.names())
}

func TestBuildSync(t *testing.T) {
	prog, em, d := buildAndPlay(t, `
		score: demo: main: [{delay: 0.2}, {sync: "cue"}, {fire: "after"}]
	`)

	p := prog.Syncs["cue"]
	require.NotNil(t, p)
	p.Play(engine.Fire(func(c *engine.Clock) {
		em.Emit(ir.KindFire, "cued", c)
	}))

	require.NoError(t, d.RunUntil(1))

	require.Len(t, em.events, 2)
	assert.Equal(t, "cued", em.events[0].name)
	assert.InDelta(t, 0.2, em.events[0].rel, eps)
	assert.Equal(t, "after", em.events[1].name)
	assert.Equal(t, 0, p.Pending())
}

func TestBuildAnimEmitsParam(t *testing.T) {
	prog, em, d := buildAndPlay(t, `
		score: demo: {
			params: level: 0
			main: [{anim: {param: "level", dur: 0.5, to: 1}}]
		}
	`)

	require.NoError(t, d.RunUntil(1))

	require.Len(t, em.events, 1)
	assert.Equal(t, ir.KindParam, em.events[0].kind)
	assert.Equal(t, "level", em.events[0].name)
	assert.InDelta(t, 0.5, em.events[0].rel, eps)
	assert.Equal(t, 1.0, prog.Params["level"].Value())
}

func TestBuildLoopWhile(t *testing.T) {
	prog, em, d := buildAndPlay(t, `
		score: demo: {
			params: running: 1
			main: [
				{loop_while: {param: "running", body: [{delay: 0.1}, {fire: "t"}]}},
				{fire: "end"},
			]
		}
	`)

	require.NoError(t, d.RunUntil(0.5))
	prog.Params["running"].Set(0)
	require.NoError(t, d.RunUntil(1.5))

	names := em.names()
	require.NotEmpty(t, names)
	assert.Equal(t, "end", names[len(names)-1])
	assert.Equal(t, 1, countName(names, "end"))
}

func TestBuildDisplayAndFrames(t *testing.T) {
	_, em, d := buildAndPlay(t, `
		score: demo: main: [
			{display: "show"},
			{frames: {dur: 0.2, name: "fade"}},
			{frame: "snap"},
		]
	`)

	require.NoError(t, d.RunUntil(1))

	kinds := map[string]ir.EventKind{}
	for _, ev := range em.events {
		kinds[ev.name] = ev.kind
	}
	assert.Equal(t, ir.KindDisplay, kinds["show"])
	assert.Equal(t, ir.KindDisplay, kinds["fade"])
	assert.Equal(t, ir.KindDisplay, kinds["snap"])
	assert.Equal(t, 1, countName(em.names(), "fade"), "frames emit once on completion")
}

func TestBuildStopHaltsTrack(t *testing.T) {
	_, em, d := buildAndPlay(t, `
		score: demo: main: [{fire: "a"}, {cont: true}, {stop: true}, {fire: "b"}]
	`)

	require.NoError(t, d.StepN(5))
	assert.Equal(t, []string{"a"}, em.names())
}

func TestBuildNilEmitter(t *testing.T) {
	scores, err := CompileSource(`score: demo: main: [{fire: "a"}]`, "demo.cue")
	require.NoError(t, err)

	s := engine.New(func() float64 { return 0 }, nil, engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	prog, err := scores[0].Build(s, nil)
	require.NoError(t, err)
	assert.NoError(t, prog.Play(s))
}

func countName(names []string, name string) int {
	n := 0
	for _, v := range names {
		if v == name {
			n++
		}
	}
	return n
}
