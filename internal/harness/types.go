package harness

import (
	"github.com/roach88/timeline/internal/engine"
	"github.com/roach88/timeline/internal/ir"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if the run completed and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every recorded event in sequence order.
	Trace []ir.Event `json:"trace"`

	// Errors contains sweep failures and assertion messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Params holds the final value of every score param.
	Params map[string]float64 `json:"params,omitempty"`

	// Stats is the scheduler's counters at the end of the run.
	Stats engine.Stats `json:"stats"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []ir.Event{},
		Errors: []string{},
		Params: map[string]float64{},
	}
}

// AddError adds an error message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
