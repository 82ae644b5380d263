// Package machine implements the Causality register machine.
//
// The machine has exactly five instructions (Transform, Alloc, Consume,
// Compose, Tensor) operating on a register file, a resource heap, an
// effect queue and a constraint list. Programs interleave instructions
// with directives: control operations (perform, handler scopes, forks,
// causal marks, session messages, transactions) that the executor
// interprets. Only instructions touch values directly.
//
// CRITICAL PATTERNS:
//
// CP-1: Linearity at the register. Every read of a linear or affine
// register moves the value and marks the source consumed. Overwriting a
// register whose drop obligation is unmet is a LINEARITY_VIOLATION.
//
// CP-2: No resurrection. Consumed resources leave a tombstone in the heap;
// a second Consume fails with ALREADY_CONSUMED.
//
// CP-3: Determinism. Resource ids derive from the allocation counter and
// the canonical fields; state hashes iterate registers and heap in id order.
//
// CP-4: Bounded execution. Each instruction costs one unit of gas; the call
// stack holds at most MaxCallDepth frames.
package machine
