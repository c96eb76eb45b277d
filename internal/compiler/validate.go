package compiler

import (
	"fmt"
	"regexp"
)

// Validation error codes (E100-E199)
const (
	ErrEmptyMain       = "E101" // main track has no steps
	ErrTimelessLoop    = "E102" // loop body never consumes logical time
	ErrInvalidName     = "E103" // name is not a valid identifier
	ErrUnusedParam     = "E104" // declared param is never read
	ErrUnreachableStep = "E105" // step follows stop or loop in the same track
	ErrEmptySlice      = "E106" // slice range selects nothing
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_.-]*$`)

// ValidationError represents a score validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled score for structural mistakes that parse fine
// but would misbehave at run time.
// Returns all errors found (does not fail-fast).
func Validate(sc *Score) []ValidationError {
	v := &validator{used: map[string]bool{}}

	if len(sc.Main) == 0 {
		v.add("main", "main must contain at least one step", ErrEmptyMain, sc.Pos.Line())
	}

	for _, name := range sc.ParamNames() {
		v.checkName("params."+name, name, 0)
	}

	v.steps(sc.Main, "main")

	for _, name := range sc.ParamNames() {
		if !v.used[name] {
			v.add("params."+name, fmt.Sprintf("param %q is never used", name), ErrUnusedParam, 0)
		}
	}
	return v.errs
}

type validator struct {
	errs []ValidationError
	used map[string]bool
}

func (v *validator) add(field, msg, code string, line int) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: msg, Code: code, Line: line})
}

func (v *validator) checkName(field, name string, line int) {
	if !namePattern.MatchString(name) {
		v.add(field, fmt.Sprintf("invalid name %q: must match %s", name, namePattern), ErrInvalidName, line)
	}
}

func (v *validator) use(o Operand) {
	if o.IsParam() {
		v.used[o.Param] = true
	}
}

func (v *validator) steps(steps []Step, field string) {
	for i, st := range steps {
		f := fmt.Sprintf("%s[%d].%s", field, i, st.Kind)
		line := st.Pos.Line()

		if i > 0 && terminates(steps[i-1]) {
			v.add(f, fmt.Sprintf("step is unreachable after %s", steps[i-1].Kind), ErrUnreachableStep, line)
		}

		switch st.Kind {
		case StepFire, StepGate, StepSync, StepDisplay, StepFrame, StepFrames:
			v.checkName(f, st.Name, line)
		case StepAnim, StepLoopWhile:
			v.used[st.Name] = true
		}
		v.use(st.Amount)

		switch st.Kind {
		case StepLoop, StepLoopWhile:
			if !consumesTime(st.Body) {
				v.add(f, "loop body never consumes logical time", ErrTimelessLoop, line)
			}
		case StepSlice:
			if st.Start >= st.End || st.Start >= len(st.Body) {
				v.add(f, fmt.Sprintf("slice [%d, %d) of %d steps plays nothing", st.Start, st.End, len(st.Body)), ErrEmptySlice, line)
			}
		}

		v.steps(st.Body, f)
		for j, br := range st.Branches {
			v.steps(br, fmt.Sprintf("%s[%d]", f, j))
		}
	}
}

// terminates reports whether nothing after st in the same track can run.
func terminates(st Step) bool {
	return st.Kind == StepStop || st.Kind == StepLoop
}

// consumesTime reports whether playing steps always advances logical time.
// Param-driven delays are assumed to be positive.
func consumesTime(steps []Step) bool {
	for _, st := range steps {
		if stepConsumesTime(st) {
			return true
		}
		if terminates(st) {
			return false
		}
	}
	return false
}

func stepConsumesTime(st Step) bool {
	switch st.Kind {
	case StepDelay, StepAnim, StepFrames:
		return st.Amount.IsParam() || st.Amount.Value > 0
	case StepFrame:
		return true
	case StepTrack, StepLoop:
		return consumesTime(st.Body)
	case StepSlice:
		lo := max(0, min(st.Start, len(st.Body)))
		hi := max(lo, min(st.End, len(st.Body)))
		return consumesTime(st.Body[lo:hi])
	case StepRepeat:
		return st.N > 0 && consumesTime(st.Body)
	case StepFork:
		for _, br := range st.Branches {
			if consumesTime(br) {
				return true
			}
		}
		return false
	case StepChoice:
		for _, br := range st.Branches {
			if !consumesTime(br) {
				return false
			}
		}
		return len(st.Branches) > 0
	}
	return false
}
