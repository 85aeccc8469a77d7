// Package harness runs flush scenarios described in YAML.
//
// A scenario lists units of work, registers them with one flush.Controller,
// flushes once and checks assertions about where and whether each unit
// flushed. Units with writes are real store.Batch units against the run's
// store; the rest are recording fakes that can fail or panic on demand.
//
// # Scenario Format
//
//	name: mixed_groups
//	description: async group runs off the caller, sync group on it
//	units:
//	  - name: A
//	    group: One
//	  - name: B
//	    group: Two
//	    sync: true
//	assertions:
//	  - type: off_caller
//	    units: [A]
//	  - type: on_caller
//	    units: [B]
//
// # Determinism
//
// Lanes are assigned on the caller in flush-set order and the operation id
// is fixed, so the plan and per-unit outcomes are stable across runs. Golden
// snapshots (RunWithGolden) capture exactly those; durations and seq values
// are excluded.
package harness
