package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/timeline/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string     // Assertion type for categorization
	Expected string     // Human-readable expected outcome
	Actual   string     // Human-readable actual outcome
	Trace    []ir.Event // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s rel=%s abs=%s real=%s\n",
			ev.Seq, ev.Kind, ev.Name,
			formatUs(ev.RelUs), formatUs(ev.AbsUs), formatUs(ev.RealUs))
	}
	return buf.String()
}

func formatUs(us int64) string {
	return fmt.Sprintf("%.6f", ir.Seconds(us))
}

// EvaluateAssertions runs every assertion and returns the failure messages.
// Does not stop at the first failure.
func EvaluateAssertions(trace []ir.Event, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(trace, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(trace []ir.Event, a Assertion) error {
	switch a.Type {
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertFiredAtOrAfter, AssertFiredBefore:
		return assertFiredTime(trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func matches(ev ir.Event, a Assertion, name string) bool {
	kind := ir.EventKind(a.Kind)
	if kind == "" {
		kind = ir.KindFire
	}
	return ev.Kind == kind && ev.Name == name
}

// first returns the index of the first event matching name, or -1.
func first(trace []ir.Event, a Assertion, name string) int {
	for i, ev := range trace {
		if matches(ev, a, name) {
			return i
		}
	}
	return -1
}

// assertTraceOrder checks that the first occurrences of names appear in
// order. Other events may appear in between.
func assertTraceOrder(trace []ir.Event, a Assertion) error {
	positions := make([]int, len(a.Names))
	for i, name := range a.Names {
		positions[i] = first(trace, a, name)
		if positions[i] < 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all names present: %v", a.Names),
				Actual:   fmt.Sprintf("missing: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(positions); i++ {
		if positions[i-1] >= positions[i] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("names in order: %v", a.Names),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					a.Names[i-1], positions[i-1]+1, a.Names[i], positions[i]+1),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the name appears exactly Count times.
func assertTraceCount(trace []ir.Event, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a, a.Name) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Name),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFiredTime compares the first occurrence of Name against At on the
// selected clock.
func assertFiredTime(trace []ir.Event, a Assertion) error {
	i := first(trace, a, a.Name)
	if i < 0 {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s to occur", a.Name),
			Actual:   "not found in trace",
			Trace:    trace,
		}
	}

	clock := a.Clock
	if clock == "" {
		clock = ClockRel
	}

	var got int64
	switch clock {
	case ClockAbs:
		got = trace[i].AbsUs
	case ClockReal:
		got = trace[i].RealUs
	default:
		got = trace[i].RelUs
	}

	bound := ir.Micros(a.At)
	ok := got >= bound
	op := ">="
	if a.Type == AssertFiredBefore {
		ok = got < bound
		op = "<"
	}
	if ok {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s %s time %s %s", a.Name, clock, op, formatUs(bound)),
		Actual:   fmt.Sprintf("%s time %s", clock, formatUs(got)),
		Trace:    trace,
	}
}
