// Package harness runs timing scenarios against the real scheduler on fake
// time.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: pulse
//	description: "Two fires half a second apart"
//	score: scores/pulse.cue      # or source: with inline CUE
//	score_name: pulse            # required when the file declares several
//	tick: 0.05                   # driver interval, default 0.05
//	duration: 2                  # run until fake time reaches this
//	seed: 7                      # seeds choice
//	diagnostics: true            # report late fires and delays
//	stalls:
//	  - { at: 0.5, for: 3 }      # time source jumps forward
//	events:
//	  - { at: 0.2, close: hold }
//	  - { at: 0.4, set: { param: tempo, value: 2 } }
//	  - { at: 0.6, sync: { point: cue, fire: hit } }
//	assertions:
//	  - { type: trace_order, names: [a, b] }
//	  - { type: trace_count, name: b, count: 1 }
//	  - { type: fired_at_or_after, name: b, at: 0.5 }
//	  - { type: fired_before, name: b, at: 0.6, clock: real }
//
// # Assertion Types
//
//   - trace_order: the first occurrences of names appear in that order
//   - trace_count: name occurs exactly count times
//   - fired_at_or_after: the first occurrence of name is at or after at
//   - fired_before: the first occurrence of name is before at
//
// Times are compared on the rel (logical) clock unless clock selects abs or
// real. kind narrows matching to one event kind and defaults to fire.
//
// # Deterministic Testing
//
// Every run uses testutil.FakeTime and testutil.ManualDriver, and a seeded
// random source, so the trace of a scenario is identical on every run and can
// be compared byte for byte against a golden file.
package harness
