package compiler

import (
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/hashicorp/go-multierror"

	"github.com/roach88/timeline/internal/engine"
)

// StepKind names a score step.
type StepKind string

const (
	StepFire      StepKind = "fire"
	StepDelay     StepKind = "delay"
	StepRate      StepKind = "rate"
	StepTrack     StepKind = "track"
	StepSlice     StepKind = "slice"
	StepRepeat    StepKind = "repeat"
	StepLoop      StepKind = "loop"
	StepLoopWhile StepKind = "loop_while"
	StepFork      StepKind = "fork"
	StepSpawn     StepKind = "spawn"
	StepChoice    StepKind = "choice"
	StepGate      StepKind = "gate"
	StepSync      StepKind = "sync"
	StepAnim      StepKind = "anim"
	StepDisplay   StepKind = "display"
	StepFrame     StepKind = "frame"
	StepFrames    StepKind = "frames"
	StepCont      StepKind = "cont"
	StepStop      StepKind = "stop"
)

// Operand is a number or a reference to a declared param.
type Operand struct {
	// Param names a live parameter. Empty means Value is used.
	Param string

	// Value is the constant, when Param is empty.
	Value float64
}

// IsParam reports whether the operand reads a live parameter.
func (o Operand) IsParam() bool {
	return o.Param != ""
}

func (o Operand) String() string {
	if o.IsParam() {
		return o.Param
	}
	return fmt.Sprintf("%g", o.Value)
}

// Step is one parsed score step.
// Which fields are set depends on Kind.
type Step struct {
	Kind StepKind

	// Name is the fire/display/frame/frames label, the gate or sync point
	// name, or the param targeted by anim and loop_while.
	Name string

	// Amount is the delay, rate, anim duration or frames duration.
	Amount Operand

	// N is the repeat count.
	N int

	// Start and End bound a slice.
	Start, End int

	// From, To and Curve configure anim.
	From  *float64
	To    float64
	Curve string

	// Body holds nested steps of track, slice, repeat, loop and loop_while.
	Body []Step

	// Branches holds the branches of fork, spawn and choice.
	Branches [][]Step

	Pos token.Pos
}

// Score is a parsed score document.
type Score struct {
	Name string

	// Params maps declared parameter names to initial values.
	Params map[string]float64

	Main []Step

	Pos token.Pos
}

// ParamNames returns the declared parameter names, sorted.
func (sc *Score) ParamNames() []string {
	names := make([]string, 0, len(sc.Params))
	for name := range sc.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GateNames returns every gate referenced by the score, sorted.
func (sc *Score) GateNames() []string {
	return collectNames(sc.Main, StepGate)
}

// SyncNames returns every sync point referenced by the score, sorted.
func (sc *Score) SyncNames() []string {
	return collectNames(sc.Main, StepSync)
}

func collectNames(steps []Step, kind StepKind) []string {
	seen := map[string]bool{}
	var walk func([]Step)
	walk = func(steps []Step) {
		for _, st := range steps {
			if st.Kind == kind {
				seen[st.Name] = true
			}
			walk(st.Body)
			for _, b := range st.Branches {
				walk(b)
			}
		}
	}
	walk(steps)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CompileSource compiles CUE source text and returns every score it
// declares. filename is used for error positions.
func CompileSource(src, filename string) ([]*Score, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileScores(v)
}

// CompileScores compiles every entry under the top-level "score" field.
// All score errors are collected rather than stopping at the first.
//
// Scores are returned sorted by name.
func CompileScores(root cue.Value) ([]*Score, error) {
	scoresVal := root.LookupPath(cue.ParsePath("score"))
	if !scoresVal.Exists() {
		return nil, &CompileError{
			Field:   "score",
			Message: "no score declared",
			Pos:     root.Pos(),
		}
	}

	iter, err := scoresVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var result *multierror.Error
	var scores []*Score
	for iter.Next() {
		sc, err := CompileScore(iter.Value())
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		scores = append(scores, sc)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Name < scores[j].Name })
	return scores, nil
}

// CompileScore parses a CUE value into a Score.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the score struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`score: intro: { main: [...] }`)
//	sc, err := CompileScore(v.LookupPath(cue.ParsePath("score.intro")))
func CompileScore(v cue.Value) (*Score, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	sc := &Score{
		Params: map[string]float64{},
		Pos:    v.Pos(),
	}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		sc.Name = labels[len(labels)-1].String()
	}

	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if paramsVal.Exists() {
		iter, err := paramsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			f, err := number(iter.Value(), "params."+iter.Label())
			if err != nil {
				return nil, err
			}
			sc.Params[iter.Label()] = f
		}
	}

	mainVal := v.LookupPath(cue.ParsePath("main"))
	if !mainVal.Exists() {
		return nil, &CompileError{
			Field:   "main",
			Message: "main is required",
			Pos:     v.Pos(),
		}
	}

	p := &parser{params: sc.Params}
	steps, err := p.steps(mainVal, "main")
	if err != nil {
		return nil, err
	}
	sc.Main = steps
	return sc, nil
}

// parser carries the declared params so references can be checked
// while parsing.
type parser struct {
	params map[string]float64
}

func (p *parser) steps(v cue.Value, field string) ([]Step, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of steps", Pos: v.Pos()}
	}

	var steps []Step
	for i := 0; iter.Next(); i++ {
		st, err := p.step(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func (p *parser) branches(v cue.Value, field string) ([][]Step, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of step lists", Pos: v.Pos()}
	}

	var out [][]Step
	for i := 0; iter.Next(); i++ {
		b, err := p.steps(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// step parses a single-key struct such as {delay: 0.5}.
func (p *parser) step(v cue.Value, field string) (Step, error) {
	iter, err := v.Fields()
	if err != nil {
		return Step{}, &CompileError{Field: field, Message: "step must be a struct", Pos: v.Pos()}
	}

	var key string
	var arg cue.Value
	n := 0
	for iter.Next() {
		key = iter.Label()
		arg = iter.Value()
		n++
	}
	if n != 1 {
		return Step{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("step must have exactly one key, found %d", n),
			Pos:     v.Pos(),
		}
	}

	st := Step{Kind: StepKind(key), Pos: v.Pos()}
	field = field + "." + key

	switch st.Kind {
	case StepFire, StepGate, StepSync, StepDisplay, StepFrame:
		st.Name, err = str(arg, field)

	case StepDelay, StepRate:
		st.Amount, err = p.operand(arg, field)
		if err == nil && !st.Amount.IsParam() && st.Amount.Value < 0 {
			err = &CompileError{Field: field, Message: "must not be negative", Pos: arg.Pos()}
		}

	case StepTrack, StepLoop:
		st.Body, err = p.steps(arg, field)

	case StepFork, StepSpawn, StepChoice:
		st.Branches, err = p.branches(arg, field)
		if err == nil && st.Kind == StepChoice && len(st.Branches) == 0 {
			err = &CompileError{Field: field, Message: "choice needs at least one branch", Pos: arg.Pos()}
		}

	case StepSlice:
		err = p.slice(&st, arg, field)

	case StepRepeat:
		err = p.repeat(&st, arg, field)

	case StepLoopWhile:
		err = p.loopWhile(&st, arg, field)

	case StepAnim:
		err = p.anim(&st, arg, field)

	case StepFrames:
		err = p.frames(&st, arg, field)

	case StepCont, StepStop:
		var b bool
		b, err = arg.Bool()
		if err != nil || !b {
			err = &CompileError{Field: field, Message: "must be true", Pos: arg.Pos()}
		}

	default:
		return Step{}, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unknown step %q", key),
			Pos:     v.Pos(),
		}
	}

	if err != nil {
		return Step{}, err
	}
	return st, nil
}

func (p *parser) slice(st *Step, v cue.Value, field string) error {
	body, err := required(v, "track", field)
	if err != nil {
		return err
	}
	if st.Body, err = p.steps(body, field+".track"); err != nil {
		return err
	}
	if st.Start, err = optionalInt(v, "start", field, 0); err != nil {
		return err
	}
	st.End, err = optionalInt(v, "end", field, len(st.Body))
	return err
}

func (p *parser) repeat(st *Step, v cue.Value, field string) error {
	nVal, err := required(v, "n", field)
	if err != nil {
		return err
	}
	n, err := nVal.Int64()
	if err != nil {
		return &CompileError{Field: field + ".n", Message: "must be an integer", Pos: nVal.Pos()}
	}
	if n < 0 {
		return &CompileError{Field: field + ".n", Message: "must not be negative", Pos: nVal.Pos()}
	}
	st.N = int(n)

	body, err := required(v, "body", field)
	if err != nil {
		return err
	}
	st.Body, err = p.steps(body, field+".body")
	return err
}

func (p *parser) loopWhile(st *Step, v cue.Value, field string) error {
	nameVal, err := required(v, "param", field)
	if err != nil {
		return err
	}
	if st.Name, err = p.paramRef(nameVal, field+".param"); err != nil {
		return err
	}
	body, err := required(v, "body", field)
	if err != nil {
		return err
	}
	st.Body, err = p.steps(body, field+".body")
	return err
}

func (p *parser) anim(st *Step, v cue.Value, field string) error {
	nameVal, err := required(v, "param", field)
	if err != nil {
		return err
	}
	if st.Name, err = p.paramRef(nameVal, field+".param"); err != nil {
		return err
	}

	durVal, err := required(v, "dur", field)
	if err != nil {
		return err
	}
	if st.Amount, err = p.operand(durVal, field+".dur"); err != nil {
		return err
	}

	toVal, err := required(v, "to", field)
	if err != nil {
		return err
	}
	if st.To, err = number(toVal, field+".to"); err != nil {
		return err
	}

	if fromVal := v.LookupPath(cue.ParsePath("from")); fromVal.Exists() {
		from, err := number(fromVal, field+".from")
		if err != nil {
			return err
		}
		st.From = &from
	}

	st.Curve = "linear"
	if curveVal := v.LookupPath(cue.ParsePath("curve")); curveVal.Exists() {
		if st.Curve, err = str(curveVal, field+".curve"); err != nil {
			return err
		}
	}
	if !knownCurve(st.Curve) {
		return &CompileError{
			Field:   field + ".curve",
			Message: fmt.Sprintf("unknown curve %q: must be one of %v", st.Curve, engine.CurveNames()),
			Pos:     v.Pos(),
		}
	}
	return nil
}

func (p *parser) frames(st *Step, v cue.Value, field string) error {
	durVal, err := required(v, "dur", field)
	if err != nil {
		return err
	}
	if st.Amount, err = p.operand(durVal, field+".dur"); err != nil {
		return err
	}
	nameVal, err := required(v, "name", field)
	if err != nil {
		return err
	}
	st.Name, err = str(nameVal, field+".name")
	return err
}

// operand accepts a number or the name of a declared param.
func (p *parser) operand(v cue.Value, field string) (Operand, error) {
	if v.Kind() == cue.StringKind {
		name, err := p.paramRef(v, field)
		return Operand{Param: name}, err
	}
	f, err := number(v, field)
	return Operand{Value: f}, err
}

func (p *parser) paramRef(v cue.Value, field string) (string, error) {
	name, err := str(v, field)
	if err != nil {
		return "", err
	}
	if _, ok := p.params[name]; !ok {
		return "", &CompileError{
			Field:   field,
			Message: fmt.Sprintf("undeclared param %q", name),
			Pos:     v.Pos(),
		}
	}
	return name, nil
}

func knownCurve(name string) bool {
	for _, c := range engine.CurveNames() {
		if c == name {
			return true
		}
	}
	return false
}

func required(v cue.Value, key, field string) (cue.Value, error) {
	f := v.LookupPath(cue.ParsePath(key))
	if !f.Exists() {
		return f, &CompileError{
			Field:   field + "." + key,
			Message: key + " is required",
			Pos:     v.Pos(),
		}
	}
	return f, nil
}

func optionalInt(v cue.Value, key, field string, def int) (int, error) {
	f := v.LookupPath(cue.ParsePath(key))
	if !f.Exists() {
		return def, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, &CompileError{Field: field + "." + key, Message: "must be an integer", Pos: f.Pos()}
	}
	return int(n), nil
}

func str(v cue.Value, field string) (string, error) {
	s, err := v.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: "must be a string", Pos: v.Pos()}
	}
	if s == "" {
		return "", &CompileError{Field: field, Message: "must not be empty", Pos: v.Pos()}
	}
	return s, nil
}

func number(v cue.Value, field string) (float64, error) {
	switch v.Kind() {
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
	default:
		return 0, &CompileError{Field: field, Message: "must be a number", Pos: v.Pos()}
	}
	f, err := v.Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return f, nil
}

// CompileError reports a malformed score, with its source position when
// known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
