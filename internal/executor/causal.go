package executor

import (
	"fmt"
	"slices"

	"github.com/roach88/causality/internal/effect"
	"github.com/roach88/causality/internal/machine"
)

// MarkEvent is one phase of a labelled effect as observed by the executor.
type MarkEvent struct {
	Seq   int64
	Task  uint32
	Label string
	Phase machine.Phase
}

// CausalLog records label phases and the causal claims a run made. It
// answers ordering queries for proof verification.
//
// a happens before b when a completed before b first started, or when a
// chain of recorded happens-before claims links them.
type CausalLog struct {
	clock    *Clock
	marks    []MarkEvent
	started  map[string]int64
	complete map[string]int64
	claims   []effect.Claim
}

// NewCausalLog creates an empty log stamped by clock.
func NewCausalLog(clock *Clock) *CausalLog {
	return &CausalLog{
		clock:    clock,
		started:  map[string]int64{},
		complete: map[string]int64{},
	}
}

// Mark records a phase of label. A start is rejected when a recorded claim
// orders an incomplete label before it.
func (l *CausalLog) Mark(task uint32, label string, phase machine.Phase) (MarkEvent, error) {
	if phase == machine.PhaseStart {
		for _, c := range l.claims {
			if c.Kind == effect.ClaimBefore && c.B == label && !l.Completed(c.A) {
				return MarkEvent{}, &effect.Error{
					Code:    effect.ErrCodeUnverified,
					Message: fmt.Sprintf("%s started before %s completed", label, c.A),
				}
			}
		}
	}
	ev := MarkEvent{Seq: l.clock.Next(), Task: task, Label: label, Phase: phase}
	l.marks = append(l.marks, ev)
	switch phase {
	case machine.PhaseStart:
		if _, ok := l.started[label]; !ok {
			l.started[label] = ev.Seq
		}
	case machine.PhaseComplete:
		l.complete[label] = ev.Seq
	}
	return ev, nil
}

// Observed reports whether label has started.
func (l *CausalLog) Observed(label string) bool {
	_, ok := l.started[label]
	return ok
}

// Completed reports whether label has completed.
func (l *CausalLog) Completed(label string) bool {
	_, ok := l.complete[label]
	return ok
}

func (l *CausalLog) observedBefore(a, b string) bool {
	done, okA := l.complete[a]
	start, okB := l.started[b]
	return okA && okB && done < start
}

// HappensBefore implements effect.Relation.
func (l *CausalLog) HappensBefore(a, b string) bool {
	if a == b {
		return false
	}
	seen := map[string]bool{a: true}
	frontier := []string{a}
	for len(frontier) > 0 {
		n := frontier[0]
		frontier = frontier[1:]
		for _, m := range l.successors(n) {
			if m == b {
				return true
			}
			if !seen[m] {
				seen[m] = true
				frontier = append(frontier, m)
			}
		}
	}
	return false
}

// successors lists labels known to follow n, by observation or claim.
func (l *CausalLog) successors(n string) []string {
	var out []string
	for m := range l.started {
		if l.observedBefore(n, m) {
			out = append(out, m)
		}
	}
	for _, c := range l.claims {
		if c.Kind == effect.ClaimBefore && c.A == n {
			out = append(out, c.B)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Concurrent implements effect.Relation. Two labels are concurrent when a
// claim says so, or when both were observed and neither precedes the other.
func (l *CausalLog) Concurrent(a, b string) bool {
	if l.Recorded(effect.ClaimConcurrent, a, b) {
		return true
	}
	if !l.Observed(a) || !l.Observed(b) || a == b {
		return false
	}
	return !l.HappensBefore(a, b) && !l.HappensBefore(b, a)
}

// Record adds a claim after checking it against what has been observed and
// against the claims already recorded.
func (l *CausalLog) Record(c effect.Claim) error {
	switch c.Kind {
	case effect.ClaimBefore:
		if l.Observed(c.B) && !l.HappensBefore(c.A, c.B) {
			return &effect.Error{
				Code:    effect.ErrCodeUnverified,
				Message: fmt.Sprintf("observed order contradicts %s", c),
			}
		}
	case effect.ClaimConcurrent:
		if l.HappensBefore(c.A, c.B) || l.HappensBefore(c.B, c.A) {
			return &effect.Error{
				Code:    effect.ErrCodeCausalConflict,
				Message: fmt.Sprintf("observed order contradicts %s", c),
			}
		}
	}
	if err := effect.VerifyConsistency(append(slices.Clone(l.claims), c)); err != nil {
		return err
	}
	if !l.Recorded(c.Kind, c.A, c.B) {
		l.claims = append(l.claims, c)
	}
	return nil
}

// Recorded reports whether a claim of the given kind was recorded.
// Concurrency claims are symmetric.
func (l *CausalLog) Recorded(kind effect.ClaimKind, a, b string) bool {
	for _, c := range l.claims {
		if c.Kind != kind {
			continue
		}
		if c.A == a && c.B == b {
			return true
		}
		if kind == effect.ClaimConcurrent && c.A == b && c.B == a {
			return true
		}
	}
	return false
}

// Claims returns the recorded claims in recording order.
func (l *CausalLog) Claims() []effect.Claim {
	return slices.Clone(l.claims)
}

// Marks returns every observed phase in clock order.
func (l *CausalLog) Marks() []MarkEvent {
	return slices.Clone(l.marks)
}
