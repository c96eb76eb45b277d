package harness

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/roach88/timeline/internal/compiler"
	"github.com/roach88/timeline/internal/engine"
	"github.com/roach88/timeline/internal/ir"
	"github.com/roach88/timeline/internal/recorder"
	"github.com/roach88/timeline/internal/testutil"
)

// timeEpsilon absorbs float accumulation when comparing fake time against
// scheduled scenario times.
const timeEpsilon = 1e-9

// Harness holds the state of one scenario run.
type Harness struct {
	scenario *Scenario
	sched    *engine.Scheduler
	driver   *testutil.ManualDriver
	clock    *testutil.FakeTime
	prog     *compiler.Program
	rec      *recorder.Recorder
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Compile the score and build it on a fresh fake-time scheduler
// 2. Play the main track
// 3. Step the driver until Duration, applying due stalls and events first
// 4. Evaluate assertions against the recorded trace
//
// Sweep failures are reported in the result. Errors are returned only when
// the scenario cannot be set up or refers to unknown gates, params or sync
// points.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	if err := h.prog.Play(h.sched); err != nil {
		result.AddError(err.Error())
	}

	if err := h.run(result); err != nil {
		return nil, err
	}

	result.Trace = h.rec.Events()
	result.Stats = h.sched.Stats()
	for name, p := range h.prog.Params {
		result.Params[name] = p.Value()
	}

	for _, msg := range EvaluateAssertions(result.Trace, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	score, err := loadScore(scenario)
	if err != nil {
		return nil, err
	}

	tick := scenario.Tick
	if tick == 0 {
		tick = DefaultTick
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ft := testutil.NewFakeTime(0)
	d := testutil.NewManualDriver(ft, tick)
	rec := recorder.New(recorder.WithLogger(logger))

	s := engine.New(ft.Now, d,
		engine.WithLogger(logger),
		engine.WithMonitor(rec),
		engine.WithDiagnostics(scenario.Diagnostics),
		engine.WithSeed(scenario.Seed),
	)
	rec.Attach(s)
	if err := s.Start(); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}

	prog, err := score.Build(s, rec)
	if err != nil {
		return nil, err
	}

	return &Harness{
		scenario: scenario,
		sched:    s,
		driver:   d,
		clock:    ft,
		prog:     prog,
		rec:      rec,
		logger:   logger,
	}, nil
}

func loadScore(scenario *Scenario) (*compiler.Score, error) {
	src, filename := scenario.Source, scenario.Name+".cue"
	if scenario.Score != "" {
		data, err := os.ReadFile(scenario.Score)
		if err != nil {
			return nil, fmt.Errorf("failed to read score: %w", err)
		}
		src, filename = string(data), scenario.Score
	}

	scores, err := compiler.CompileSource(src, filename)
	if err != nil {
		return nil, fmt.Errorf("compile score: %w", err)
	}

	if scenario.ScoreName == "" {
		if len(scores) != 1 {
			return nil, fmt.Errorf("score_name is required: source declares %d scores", len(scores))
		}
		return scores[0], nil
	}
	for _, sc := range scores {
		if sc.Name == scenario.ScoreName {
			return sc, nil
		}
	}
	return nil, fmt.Errorf("score %q not found", scenario.ScoreName)
}

// run steps the driver to the scenario's duration. Events and stalls due at
// the current fake time are applied before each step.
func (h *Harness) run(result *Result) error {
	events := make([]ScenarioEvent, len(h.scenario.Events))
	copy(events, h.scenario.Events)
	sort.SliceStable(events, func(i, j int) bool { return events[i].At < events[j].At })

	stalls := make([]Stall, len(h.scenario.Stalls))
	copy(stalls, h.scenario.Stalls)
	sort.SliceStable(stalls, func(i, j int) bool { return stalls[i].At < stalls[j].At })

	tick := h.driver.ComputeAhead()
	for h.clock.Now()+tick/2 < h.scenario.Duration {
		now := h.clock.Now()

		for len(events) > 0 && events[0].At <= now+timeEpsilon {
			if err := h.apply(events[0]); err != nil {
				return err
			}
			events = events[1:]
		}

		for len(stalls) > 0 && stalls[0].At <= now+timeEpsilon {
			h.logger.Debug("stall", "at", now, "for", stalls[0].For)
			h.clock.Set(now + stalls[0].For)
			stalls = stalls[1:]
		}

		if err := h.driver.Step(); err != nil {
			result.AddError(err.Error())
		}
	}
	return nil
}

// apply performs one scenario event between ticks.
func (h *Harness) apply(e ScenarioEvent) error {
	switch {
	case e.Open != "":
		g, err := h.gate(e.Open)
		if err != nil {
			return err
		}
		g.Open()
		h.rec.Note(ir.KindGate, e.Open+":open")

	case e.Close != "":
		g, err := h.gate(e.Close)
		if err != nil {
			return err
		}
		g.Close()
		h.rec.Note(ir.KindGate, e.Close+":close")

	case e.Toggle != "":
		g, err := h.gate(e.Toggle)
		if err != nil {
			return err
		}
		g.Toggle()
		state := "close"
		if g.IsOpen() {
			state = "open"
		}
		h.rec.Note(ir.KindGate, e.Toggle+":"+state)

	case e.Set != nil:
		p, ok := h.prog.Params[e.Set.Param]
		if !ok {
			return fmt.Errorf("event at %g: unknown param %q", e.At, e.Set.Param)
		}
		p.Set(e.Set.Value)
		h.rec.Note(ir.KindParam, e.Set.Param)

	case e.Sync != nil:
		sp, ok := h.prog.Syncs[e.Sync.Point]
		if !ok {
			return fmt.Errorf("event at %g: unknown sync point %q", e.At, e.Sync.Point)
		}
		name := e.Sync.Fire
		sp.Play(engine.Fire(func(c *engine.Clock) {
			h.rec.Emit(ir.KindFire, name, c)
		}))
	}
	return nil
}

func (h *Harness) gate(name string) (*engine.Gate, error) {
	g, ok := h.prog.Gates[name]
	if !ok {
		return nil, fmt.Errorf("unknown gate %q", name)
	}
	return g, nil
}
