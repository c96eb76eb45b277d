package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/roach88/timeline/internal/param"
)

// MinInstant is the shortest remaining span an animation interpolates over.
// Below it the target jumps straight to the final value.
const MinInstant = 0.001

// Curve maps a fraction in [0, 1] onto [0, 1].
type Curve func(x float64) float64

// CurveExp interpolates geometrically between the endpoints rather than
// through a Curve; both endpoints must be positive.
const CurveExp = "exp"

var curves = map[string]Curve{
	"linear":      func(x float64) float64 { return x },
	"ease-in":     func(x float64) float64 { return x * x },
	"ease-out":    func(x float64) float64 { return 1 - (1-x)*(1-x) },
	"ease-in-out": func(x float64) float64 { return 0.5 - 0.5*math.Cos(math.Pi*x) },
	"step": func(x float64) float64 {
		if x >= 1 {
			return 1
		}
		return 0
	},
}

// CurveNames lists the recognized interpolation names, sorted.
func CurveNames() []string {
	names := make([]string, 0, len(curves)+1)
	for name := range curves {
		names = append(names, name)
	}
	names = append(names, CurveExp)
	sort.Strings(names)
	return names
}

// AnimSpec describes an animation of a parameter sink.
type AnimSpec struct {
	// Target receives interpolated values. Required.
	Target param.Sink

	// Duration in rate-integrated seconds. Required; re-read on each poll.
	Duration param.Source

	// From is the start value. When nil, Target must also be a param.Source
	// and its value at the start of the animation is used.
	From *float64

	// To is the final value.
	To float64

	// Curve names the interpolation. Default: "linear".
	Curve string
}

// Anim builds an animation on top of DelayFunc. Each poll writes the value
// for the end of the current step into Target.
func Anim(spec AnimSpec) (Action, error) {
	if spec.Target == nil {
		return nil, animError(ErrCodeInvalidArgument, "target is required")
	}
	if spec.Duration == nil {
		return nil, animError(ErrCodeInvalidArgument, "duration is required")
	}

	source, readable := spec.Target.(param.Source)
	if spec.From == nil && !readable {
		return nil, animError(ErrCodeInvalidArgument, "from is required when the target cannot be read")
	}

	name := spec.Curve
	if name == "" {
		name = "linear"
	}

	exp := name == CurveExp
	curve, ok := curves[name]
	if !ok && !exp {
		return nil, animError(ErrCodeUnknownCurve, fmt.Sprintf("unknown curve %q: must be one of %v", name, CurveNames()))
	}
	if exp {
		if spec.To <= 0 || (spec.From != nil && *spec.From <= 0) {
			return nil, animError(ErrCodeInvalidArgument, "exp curve needs positive endpoints")
		}
	}

	to := spec.To
	return func(s *Scheduler, c *Clock, next Action) {
		var from float64
		if spec.From != nil {
			from = *spec.From
		} else {
			from = source.Value()
		}

		interp := func(x float64) float64 {
			if exp {
				if from <= 0 {
					return to
				}
				return from * math.Pow(to/from, x)
			}
			return from + (to-from)*curve(x)
		}

		DelayFunc(spec.Duration, func(_ *Clock, t1r, t2r, start, end float64) {
			if end-t1r < MinInstant {
				spec.Target.Set(to)
				return
			}
			frac := max(0, min(1, (t2r-start)/(end-start)))
			spec.Target.Set(interp(frac))
		})(s, c, next)
	}, nil
}

func animError(code ConstructionErrorCode, msg string) *ConstructionError {
	return &ConstructionError{Code: code, Combinator: "anim", Message: msg}
}
