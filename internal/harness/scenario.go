package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// DefaultTick is the driver interval used when a scenario sets none.
const DefaultTick = 0.05

// Scenario defines a timing scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Score is a path to a CUE score file, relative to the scenario file.
	Score string `yaml:"score,omitempty"`

	// Source is inline CUE, used instead of Score.
	Source string `yaml:"source,omitempty"`

	// ScoreName picks a score when the source declares several.
	ScoreName string `yaml:"score_name,omitempty"`

	// Tick is the driver interval in seconds.
	Tick float64 `yaml:"tick,omitempty"`

	// Duration is how long to run, in fake seconds.
	Duration float64 `yaml:"duration"`

	// Seed seeds choice. Scenarios are always seeded.
	Seed uint64 `yaml:"seed,omitempty"`

	// Diagnostics enables lateness reporting.
	Diagnostics bool `yaml:"diagnostics,omitempty"`

	// Stalls jump the time source forward, simulating a blocked driver.
	Stalls []Stall `yaml:"stalls,omitempty"`

	// Events are applied between ticks once fake time reaches At.
	Events []ScenarioEvent `yaml:"events,omitempty"`

	// Assertions validate the final trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Stall makes the time source skip For seconds once it reaches At.
type Stall struct {
	At  float64 `yaml:"at"`
	For float64 `yaml:"for"`
}

// ScenarioEvent is an external input. Exactly one action field is set.
type ScenarioEvent struct {
	At float64 `yaml:"at"`

	Open   string `yaml:"open,omitempty"`
	Close  string `yaml:"close,omitempty"`
	Toggle string `yaml:"toggle,omitempty"`

	Set  *ParamSet `yaml:"set,omitempty"`
	Sync *SyncFire `yaml:"sync,omitempty"`
}

// ParamSet writes Value to a score param.
type ParamSet struct {
	Param string  `yaml:"param"`
	Value float64 `yaml:"value"`
}

// SyncFire registers a named fire on a sync point.
type SyncFire struct {
	Point string `yaml:"point"`
	Fire  string `yaml:"fire"`
}

func (e ScenarioEvent) actions() int {
	n := 0
	for _, set := range []bool{e.Open != "", e.Close != "", e.Toggle != "", e.Set != nil, e.Sync != nil} {
		if set {
			n++
		}
	}
	return n
}

// Assertion validates the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Names is the expected order (trace_order).
	Names []string `yaml:"names,omitempty"`

	// Name is the event name (trace_count, fired_at_or_after, fired_before).
	Name string `yaml:"name,omitempty"`

	// Kind narrows matching to one event kind. Default: fire.
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// At is the time bound in seconds (fired_at_or_after, fired_before).
	At float64 `yaml:"at,omitempty"`

	// Clock selects the compared time: rel (default), abs or real.
	Clock string `yaml:"clock,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceOrder     = "trace_order"
	AssertTraceCount     = "trace_count"
	AssertFiredAtOrAfter = "fired_at_or_after"
	AssertFiredBefore    = "fired_before"
)

// Clock names for Assertion.Clock.
const (
	ClockRel  = "rel"
	ClockAbs  = "abs"
	ClockReal = "real"
)

// LoadScenario reads and parses a scenario YAML file. A relative Score path
// is resolved against the scenario file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Score != "" && !filepath.IsAbs(scenario.Score) {
		scenario.Score = filepath.Join(filepath.Dir(path), scenario.Score)
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by path.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}

	sort.Strings(paths)

	var scenarios []*Scenario
	var result *multierror.Error
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", p, err))
			continue
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, result.ErrorOrNil()
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Score == "" && s.Source == "" {
		return fmt.Errorf("score or source is required")
	}
	if s.Score != "" && s.Source != "" {
		return fmt.Errorf("score and source are mutually exclusive")
	}
	if s.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if s.Tick < 0 {
		return fmt.Errorf("tick must not be negative")
	}

	for i, st := range s.Stalls {
		if st.At < 0 || st.For <= 0 {
			return fmt.Errorf("stalls[%d]: at must be >= 0 and for > 0", i)
		}
	}

	for i, e := range s.Events {
		if e.At < 0 {
			return fmt.Errorf("events[%d]: at must not be negative", i)
		}
		if n := e.actions(); n != 1 {
			return fmt.Errorf("events[%d]: exactly one of open, close, toggle, set, sync is required, found %d", i, n)
		}
		if e.Set != nil && e.Set.Param == "" {
			return fmt.Errorf("events[%d]: set.param is required", i)
		}
		if e.Sync != nil && (e.Sync.Point == "" || e.Sync.Fire == "") {
			return fmt.Errorf("events[%d]: sync.point and sync.fire are required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Clock {
	case "", ClockRel, ClockAbs, ClockReal:
	default:
		return fmt.Errorf("assertions[%d]: unknown clock %q", index, a.Clock)
	}

	switch a.Type {
	case AssertTraceOrder:
		if len(a.Names) == 0 {
			return fmt.Errorf("assertions[%d]: names list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFiredAtOrAfter, AssertFiredBefore:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
