package executor

// # Replay
//
// Replay is not a special mode. A recorded trace is checked by running
// the same program again under the same options and comparing hashes.
// The run is deterministic because:
//
//   - the scheduler picks tasks in id order (CP-3)
//   - marks are ordered by the logical clock, never wall time (CP-2)
//   - effect ids hash the tag, arguments, task and queue sequence
//   - host handlers are the only input from outside the run
//
// Host handlers must therefore return the same values on replay. A
// divergence is reported at the first entry whose pre or post state hash
// differs.

import (
	"context"
	"fmt"

	"github.com/roach88/causality/internal/machine"
)

// Replay re-executes p and compares the result with a recorded trace.
// It returns the fresh trace; a mismatch is a NON_DETERMINISTIC error.
// A run that fails the same way it failed when recorded is not an error.
func Replay(ctx context.Context, p *machine.Program, recorded *Trace, opts ...Option) (*Trace, error) {
	ex, err := New(p, opts...)
	if err != nil {
		return nil, err
	}
	if ex.Program() != recorded.Program {
		return nil, &Error{
			Code:    ErrCodeNonDeterministic,
			Message: fmt.Sprintf("trace is for program %s, not %s", recorded.Program.Short(), ex.Program().Short()),
		}
	}
	if _, err := ex.Execute(ctx); err != nil && !ex.Done() {
		return nil, err
	}
	fresh := ex.Trace()
	want, err := recorded.Hash()
	if err != nil {
		return nil, err
	}
	got, err := fresh.Hash()
	if err != nil {
		return nil, err
	}
	if want == got {
		return fresh, nil
	}
	return fresh, divergence(recorded, fresh)
}

func divergence(want, got *Trace) *Error {
	n := min(len(want.Entries), len(got.Entries))
	for i := range n {
		w, g := want.Entries[i], got.Entries[i]
		if w.Pre != g.Pre || w.Post != g.Post || w.Task != g.Task || w.PC != g.PC || w.Failure != g.Failure {
			return &Error{
				Code:    ErrCodeNonDeterministic,
				Message: fmt.Sprintf("entry %d diverges: recorded %s, replayed %s", i, w, g),
				Task:    g.Task,
				PC:      g.PC,
			}
		}
	}
	if len(want.Entries) != len(got.Entries) {
		return &Error{
			Code:    ErrCodeNonDeterministic,
			Message: fmt.Sprintf("recorded %d entries, replayed %d", len(want.Entries), len(got.Entries)),
		}
	}
	return &Error{
		Code:    ErrCodeNonDeterministic,
		Message: fmt.Sprintf("final state or events differ (recorded failure %q, replayed %q)", want.Failure, got.Failure),
	}
}
