// Package harness runs conformance scenarios against the execution
// pipeline.
//
// A scenario is a YAML file naming a program (surface source, a source
// file, or a built-in fixture), the host handlers to install, the expected
// outcome and a list of assertions over the finalized trace:
//
//	name: alloc-consume
//	fixture: alloc-consume
//	expect:
//	  value: "42"
//	assertions:
//	  - type: instruction_order
//	    ops: [alloc, consume]
//	  - type: replay_deterministic
//
// Each scenario runs in a fresh in-memory store with reproducible run
// ids, so the same scenario yields byte-identical golden snapshots.
// Failures are data: a scenario expecting ALREADY_CONSUMED passes when the
// run aborts with exactly that code.
package harness
