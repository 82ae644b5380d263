package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/causality/internal/domain"
	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/machine"
	"github.com/roach88/causality/internal/store"
	"github.com/roach88/causality/internal/zk"
)

// AssertionContext carries what assertions inspect beyond the result.
type AssertionContext struct {
	Ctx      context.Context
	Store    *store.Store
	RunID    uuid.UUID
	Program  *machine.Program
	Executor *executor.Executor
	Options  []executor.Option
}

// AssertionError is a failed assertion with the trace for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Entries  []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Entries) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for i, en := range e.Entries {
			fmt.Fprintf(&buf, "  [%d] pc=%d t%d %s", i, en.PC, en.Task, en.Op)
			if en.Failure != "" {
				fmt.Fprintf(&buf, " FAILED %s", en.Failure)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(r *Result, assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string
	for i, a := range assertions {
		if err := evaluate(r, a, actx); err != nil {
			msgs = append(msgs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return msgs
}

func evaluate(r *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceLength:
		return assertTraceLength(r, a)
	case AssertInstructionOrder:
		return assertInstructionOrder(r, a)
	case AssertEventCount:
		return assertEventCount(r, a)
	case AssertGasAtMost:
		if r.Stats.GasUsed > uint64(a.Count) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("at most %d gas", a.Count), Actual: fmt.Sprintf("%d gas", r.Stats.GasUsed)}
		}
		return nil
	}
	if actx == nil || actx.Executor == nil {
		return fmt.Errorf("%s needs a finished run", a.Type)
	}
	switch a.Type {
	case AssertResourceState:
		return assertResourceState(actx, a)
	case AssertHappensBefore:
		if !actx.Executor.Log().HappensBefore(a.Labels[0], a.Labels[1]) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s before %s", a.Labels[0], a.Labels[1]), Actual: "not ordered"}
		}
		return nil
	case AssertConcurrent:
		if !actx.Executor.Log().Concurrent(a.Labels[0], a.Labels[1]) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s concurrent with %s", a.Labels[0], a.Labels[1]), Actual: "ordered"}
		}
		return nil
	case AssertReplayDeterministic:
		_, err := actx.Store.ReplayRun(actx.Ctx, actx.RunID, actx.Program, actx.Options...)
		return err
	case AssertProofVerifies:
		return assertProofVerifies(actx, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertTraceLength(r *Result, a Assertion) error {
	if len(r.Entries) != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d entries", a.Count),
			Actual:   fmt.Sprintf("%d entries", len(r.Entries)),
			Entries:  r.Entries,
		}
	}
	return nil
}

// assertInstructionOrder checks that the ops occur among the successful
// entries in the given order. Other entries may sit in between.
func assertInstructionOrder(r *Result, a Assertion) error {
	next := 0
	for _, en := range r.Entries {
		if next < len(a.Ops) && en.Failure == "" && en.Op == a.Ops[next] {
			next++
		}
	}
	if next < len(a.Ops) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("ops in order: %v", a.Ops),
			Actual:   fmt.Sprintf("matched %v, missing %s", a.Ops[:next], a.Ops[next]),
			Entries:  r.Entries,
		}
	}
	return nil
}

func assertEventCount(r *Result, a Assertion) error {
	n := 0
	for _, ev := range r.Events {
		if ev.Kind == a.Kind {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertResourceState(actx *AssertionContext, a Assertion) error {
	want, err := machine.ParseResourceState(a.State)
	if err != nil {
		return err
	}
	n := 0
	for _, st := range domain.ResourceStates(actx.Executor.Trace()) {
		if st == want {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d resources %s", a.Count, want),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// proofDomain is the domain proofs made by scenarios commit to.
var proofDomain = domain.LocalID("harness")

func assertProofVerifies(actx *AssertionContext, a Assertion) error {
	tr := actx.Executor.Trace()
	schema, err := zk.DefaultSchema(actx.Program)
	if err != nil {
		return err
	}
	w, err := zk.GenerateWitness(tr, schema, nil)
	if err != nil {
		return err
	}
	public, err := zk.CommitRun(proofDomain, tr, actx.Executor.State().Heap)
	if err != nil {
		return err
	}
	var b zk.Backend = zk.NewAttestBackend([]byte("harness"))
	if a.Backend == "groth16" {
		b = zk.NewGroth16Backend()
	}
	proof, err := b.Prove(actx.Ctx, w, schema, public)
	if err != nil {
		return err
	}
	return zk.VerifyProof(actx.Ctx, b, proof, public, tr.Program)
}

// Summary renders failures one per line, for command output.
func (r *Result) Summary() string {
	return strings.Join(r.Errors, "\n")
}
