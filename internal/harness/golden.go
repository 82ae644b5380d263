package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/causality/internal/ir"
)

// Snapshot is the part of a result pinned by golden files. Hashes and
// stats are left out so a codec change does not rewrite every fixture.
type Snapshot struct {
	Scenario string
	Value    string
	Failure  string
	Entries  []TraceEvent
	Events   []TraceEvent
}

// toCanonicalMap converts the snapshot for ir.MarshalCanonical, which only
// handles IR types, primitives, slices and maps.
func (s *Snapshot) toCanonicalMap() map[string]any {
	rows := func(evs []TraceEvent) []any {
		out := make([]any, len(evs))
		for i, ev := range evs {
			m := map[string]any{"pc": ev.PC, "task": ev.Task}
			if ev.Op != "" {
				m["op"] = ev.Op
			}
			if ev.Kind != "" {
				m["kind"] = ev.Kind
			}
			if ev.Subject != "" {
				m["subject"] = ev.Subject
			}
			if ev.Failure != "" {
				m["failure"] = ev.Failure
			}
			out[i] = m
		}
		return out
	}
	m := map[string]any{
		"scenario": s.Scenario,
		"entries":  rows(s.Entries),
		"events":   rows(s.Events),
	}
	if s.Value != "" {
		m["value"] = s.Value
	}
	if s.Failure != "" {
		m["failure"] = s.Failure
	}
	return m
}

// Marshal renders the snapshot as canonical JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// SnapshotOf builds the snapshot of a result.
func SnapshotOf(name string, r *Result) *Snapshot {
	return &Snapshot{Scenario: name, Value: r.Value, Failure: r.Failure, Entries: r.Entries, Events: r.Events}
}

// RunWithGolden runs a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()
	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()
	data, err := SnapshotOf(name, result).Marshal()
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
