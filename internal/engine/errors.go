package engine

import (
	"errors"
	"fmt"
)

// ConstructionError reports an invalid combinator call.
//
// Construction errors surface synchronously to the caller that built the
// Action and are never deferred into a sweep.
type ConstructionError struct {
	// Code identifies the error category.
	Code ConstructionErrorCode

	// Combinator names the constructor that rejected its arguments.
	Combinator string

	// Message is a human-readable description.
	Message string
}

// ConstructionErrorCode categorizes construction errors.
type ConstructionErrorCode string

const (
	// ErrCodeInvalidArgument indicates a malformed argument value.
	ErrCodeInvalidArgument ConstructionErrorCode = "INVALID_ARGUMENT"

	// ErrCodeUnknownCurve indicates an unrecognized interpolation name.
	ErrCodeUnknownCurve ConstructionErrorCode = "UNKNOWN_CURVE"

	// ErrCodeEmptyChoice indicates choice was given nothing to choose from.
	ErrCodeEmptyChoice ConstructionErrorCode = "EMPTY_CHOICE"

	// ErrCodeNilAction indicates a nil Action was passed to a combinator.
	ErrCodeNilAction ConstructionErrorCode = "NIL_ACTION"
)

// Error implements the error interface.
func (e *ConstructionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Combinator, e.Message)
}

// InvariantError is a programming fault detected while running Actions.
// Invariant errors abort the current sweep.
type InvariantError struct {
	Code    InvariantErrorCode
	Message string
}

// InvariantErrorCode categorizes invariant violations.
type InvariantErrorCode string

const (
	// ErrCodeEmptyQueue indicates a remove from an empty queue.
	ErrCodeEmptyQueue InvariantErrorCode = "EMPTY_QUEUE"

	// ErrCodeDegenerateInterval indicates NudgeToRel on a clock with T2r <= T1r.
	ErrCodeDegenerateInterval InvariantErrorCode = "DEGENERATE_INTERVAL"

	// ErrCodeLoopStarvation indicates a loop body that finished without
	// consuming logical time.
	ErrCodeLoopStarvation InvariantErrorCode = "LOOP_STARVATION"
)

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EmptyQueueError is returned by Queue.Remove on an empty queue.
type EmptyQueueError struct{}

// Error implements the error interface.
func (e *EmptyQueueError) Error() string {
	return "remove from empty queue"
}

// SweepError is returned by Scheduler.Tick when a sweep was aborted.
type SweepError struct {
	// Time is the driver time of the aborted tick.
	Time float64

	// Cause is the invariant violation, or the recovered panic value
	// wrapped as an error.
	Cause error
}

// Error implements the error interface.
func (e *SweepError) Error() string {
	return fmt.Sprintf("sweep aborted at t=%.6f: %v", e.Time, e.Cause)
}

// Unwrap returns the cause.
func (e *SweepError) Unwrap() error {
	return e.Cause
}

// NewDegenerateIntervalError creates an InvariantError for NudgeToRel.
func NewDegenerateIntervalError(t1r, t2r float64) *InvariantError {
	return &InvariantError{
		Code:    ErrCodeDegenerateInterval,
		Message: fmt.Sprintf("rate-integrated interval is empty (t1r=%g, t2r=%g)", t1r, t2r),
	}
}

// NewLoopStarvationError creates an InvariantError for a zero-duration loop body.
func NewLoopStarvationError(t1r float64) *InvariantError {
	return &InvariantError{
		Code:    ErrCodeLoopStarvation,
		Message: fmt.Sprintf("loop body completed without consuming logical time at t1r=%g", t1r),
	}
}

// IsConstructionError returns true if err is a ConstructionError.
// Uses errors.As to handle wrapped errors.
func IsConstructionError(err error) bool {
	var ce *ConstructionError
	return errors.As(err, &ce)
}

// IsInvariantError returns true if err is an InvariantError with the given code.
// Matches EmptyQueueError for ErrCodeEmptyQueue.
func IsInvariantError(err error, code InvariantErrorCode) bool {
	var ie *InvariantError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	if code == ErrCodeEmptyQueue {
		var eq *EmptyQueueError
		return errors.As(err, &eq)
	}
	return false
}

// sweepAbort carries an error out of an Action via panic so the sweep can
// unwind to Tick without every Action returning an error.
type sweepAbort struct {
	err error
}
