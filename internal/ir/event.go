package ir

import (
	"bytes"
	"fmt"
	"math"
)

// EventKind identifies what a trace event records.
type EventKind string

const (
	// KindFire is a named fire step running.
	KindFire EventKind = "fire"

	// KindDisplay is a display callback running on the frame queue.
	KindDisplay EventKind = "display"

	// KindParam is a parameter write from a score step or scenario event.
	KindParam EventKind = "param"

	// KindGate is a gate state change.
	KindGate EventKind = "gate"

	// KindLate is a fire or delay that ran after its scheduled time.
	KindLate EventKind = "late"

	// KindDrift is a master clock fast-forward after a stall.
	KindDrift EventKind = "drift"

	// KindAbort is an aborted sweep.
	KindAbort EventKind = "abort"
)

// Event is one entry of a run trace.
//
// Times are integer microseconds:
//   - AbsUs is the scheduled absolute time
//   - RelUs is the rate-integrated (logical) time
//   - RealUs is the driver time of the tick that ran the event
//   - LateUs is how far RealUs trailed AbsUs, 0 when on time
type Event struct {
	Seq    int64     `json:"seq"`
	Kind   EventKind `json:"kind"`
	Name   string    `json:"name"`
	AbsUs  int64     `json:"abs_us"`
	RelUs  int64     `json:"rel_us"`
	RealUs int64     `json:"real_us"`
	LateUs int64     `json:"late_us"`
}

// Micros converts seconds to integer microseconds, rounding to nearest.
// Infinite and NaN inputs map to 0.
func Micros(sec float64) int64 {
	if math.IsInf(sec, 0) || math.IsNaN(sec) {
		return 0
	}
	return int64(math.Round(sec * 1e6))
}

// Seconds converts integer microseconds back to seconds.
func Seconds(us int64) float64 {
	return float64(us) / 1e6
}

// Object returns e as an IRObject for canonical encoding.
func (e Event) Object() IRObject {
	return IRObject{
		"seq":     IRInt(e.Seq),
		"kind":    IRString(e.Kind),
		"name":    IRString(e.Name),
		"abs_us":  IRInt(e.AbsUs),
		"rel_us":  IRInt(e.RelUs),
		"real_us": IRInt(e.RealUs),
		"late_us": IRInt(e.LateUs),
	}
}

// MarshalTrace encodes events as canonical JSON lines, one event per line.
func MarshalTrace(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	for i, e := range events {
		line, err := MarshalCanonical(e.Object())
		if err != nil {
			return nil, fmt.Errorf("event[%d]: %w", i, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
