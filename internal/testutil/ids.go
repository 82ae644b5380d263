package testutil

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/causality/internal/ir"
)

// runNamespace seeds the name-based run ids handed out by RunIDs.
var runNamespace = uuid.MustParse("6f1c0b52-54a4-4c3e-9d0e-6a2f1e3c7b90")

// RunIDs hands out reproducible run ids: the n-th call of every fresh
// generator returns the same UUID.
//
// Thread-safety: Next is safe for concurrent use.
type RunIDs struct {
	mu sync.Mutex
	n  int
}

// NewRunIDs creates a generator starting at the first id.
func NewRunIDs() *RunIDs {
	return &RunIDs{}
}

// Next returns the next id. It matches the signature store.WithRunIDs
// expects.
func (g *RunIDs) Next() (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return uuid.NewSHA1(runNamespace, fmt.Appendf(nil, "run-%d", g.n)), nil
}

// Reset restarts the sequence.
func (g *RunIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}

// ContentID derives a stable content id from a label, for tests that
// need an id without building the entity behind it.
func ContentID(label string) ir.ContentID {
	return ir.SumBytes("causality/testutil/v1", []byte(label))
}

// ProgramID derives a stable program id from a label.
func ProgramID(label string) ir.ProgramID { return ir.ProgramID(ContentID("program:" + label)) }

// ResourceID derives a stable resource id from a label.
func ResourceID(label string) ir.ResourceID { return ir.ResourceID(ContentID("resource:" + label)) }

// DomainID derives a stable domain id from a label.
func DomainID(label string) ir.DomainID { return ir.DomainID(ContentID("domain:" + label)) }
