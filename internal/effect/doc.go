// Package effect implements the effect algebra: pure terms, effect
// expressions, causal proofs, and the lowering of expressions to register
// machine code.
//
// Terms are pure computations over machine values; they lower to the five
// instructions. Effect expressions sequence terms with performs, handler
// scopes, concurrency and causal operations; they lower to instructions
// interleaved with directives interpreted by the executor.
//
// Every term and expression has a canonical encoding and a content id.
package effect
