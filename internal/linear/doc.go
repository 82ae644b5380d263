// Package linear implements the four usage disciplines of Causality values.
//
// The discipline is a closed tag (ir.Linearity). Resource[T, L] carries it
// as a phantom type parameter for host-side code; Usage is the runtime
// bookkeeping shared with the register machine; Tracker performs the same
// checks over named variables at compile time.
//
// Check order:
//   - using a consumed value yields USE_AFTER_DROP
//   - consuming a consumed value yields MULTIPLE_USE
//   - a relevant value that was copied or consumed has met its obligation
//   - dropping an unconsumed linear value yields UNUSED_LINEAR
//   - dropping an unused relevant value yields UNUSED_RELEVANT
package linear
