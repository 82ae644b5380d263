package effect

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/causality/internal/ir"
)

// Relation answers ordering queries over observed effects. The executor's
// causal log implements it.
type Relation interface {
	HappensBefore(a, b string) bool
	Concurrent(a, b string) bool
}

// Proof is a causal chain: each label happens before the next.
type Proof struct {
	Hops []string
}

// DependProof returns the proof that a precedes b.
func DependProof(a, b string) Proof {
	return Proof{Hops: []string{a, b}}
}

// SequenceProofs joins p and q; p must end where q starts.
func SequenceProofs(p, q Proof) (Proof, error) {
	if len(p.Hops) < 2 || len(q.Hops) < 2 {
		return Proof{}, &Error{Code: ErrCodeInvalidProof, Message: "proof needs at least two hops"}
	}
	last := p.Hops[len(p.Hops)-1]
	if last != q.Hops[0] {
		return Proof{}, &Error{
			Code:    ErrCodeBrokenChain,
			Message: fmt.Sprintf("chain ends at %s but next starts at %s", last, q.Hops[0]),
		}
	}
	hops := append(slices.Clone(p.Hops), q.Hops[1:]...)
	return Proof{Hops: hops}, nil
}

// Verify checks every hop against the relation.
func (p Proof) Verify(r Relation) error {
	if len(p.Hops) < 2 {
		return &Error{Code: ErrCodeInvalidProof, Message: "proof needs at least two hops"}
	}
	for i := 1; i < len(p.Hops); i++ {
		a, b := p.Hops[i-1], p.Hops[i]
		if !r.HappensBefore(a, b) {
			return &Error{Code: ErrCodeUnverified, Message: fmt.Sprintf("%s does not happen before %s", a, b)}
		}
	}
	return nil
}

// Claims expands the proof into happens-before claims, one per hop.
func (p Proof) Claims() []Claim {
	var out []Claim
	for i := 1; i < len(p.Hops); i++ {
		out = append(out, Claim{Kind: ClaimBefore, A: p.Hops[i-1], B: p.Hops[i]})
	}
	return out
}

func (p Proof) String() string { return strings.Join(p.Hops, " -> ") }

const (
	symProof      = ir.Symbol("causal-proof")
	symBefore     = ir.Symbol("happens-before")
	symConcurrent = ir.Symbol("concurrent")
)

// Value encodes the proof as a machine value.
func (p Proof) Value() ir.Value {
	var list ir.Value = ir.Unit{}
	for i := len(p.Hops) - 1; i >= 0; i-- {
		list = ir.Pair{Left: ir.Symbol(p.Hops[i]), Right: list}
	}
	return ir.Pair{Left: symProof, Right: list}
}

// ProofFromValue decodes a value produced by Proof.Value.
func ProofFromValue(v ir.Value) (Proof, error) {
	head, ok := v.(ir.Pair)
	if !ok || !ir.ValuesEqual(head.Left, symProof) {
		return Proof{}, &Error{Code: ErrCodeInvalidProof, Message: "value is not a causal proof: " + ir.KindName(v)}
	}
	var hops []string
	cur := head.Right
	for {
		switch c := cur.(type) {
		case ir.Unit:
			if len(hops) < 2 {
				return Proof{}, &Error{Code: ErrCodeInvalidProof, Message: "proof needs at least two hops"}
			}
			return Proof{Hops: hops}, nil
		case ir.Pair:
			s, ok := c.Left.(ir.Symbol)
			if !ok {
				return Proof{}, &Error{Code: ErrCodeInvalidProof, Message: "proof hop is not a symbol"}
			}
			hops = append(hops, string(s))
			cur = c.Right
		default:
			return Proof{}, &Error{Code: ErrCodeInvalidProof, Message: "malformed proof list"}
		}
	}
}

// ClaimKind is the relation asserted by a Claim.
type ClaimKind uint8

const (
	ClaimBefore ClaimKind = iota + 1
	ClaimConcurrent
)

// Claim asserts an ordering between two labels.
type Claim struct {
	Kind ClaimKind
	A, B string
}

func (c Claim) String() string {
	if c.Kind == ClaimConcurrent {
		return fmt.Sprintf("%s || %s", c.A, c.B)
	}
	return fmt.Sprintf("%s < %s", c.A, c.B)
}

// Value encodes the claim as a machine value.
func (c Claim) Value() ir.Value {
	kind := symBefore
	if c.Kind == ClaimConcurrent {
		kind = symConcurrent
	}
	return ir.Pair{Left: kind, Right: ir.Pair{Left: ir.Symbol(c.A), Right: ir.Symbol(c.B)}}
}

// ClaimsFromValue decodes a claim or a proof value into claims.
func ClaimsFromValue(v ir.Value) ([]Claim, error) {
	p, ok := v.(ir.Pair)
	if !ok {
		return nil, &Error{Code: ErrCodeInvalidProof, Message: "value is not a causal claim: " + ir.KindName(v)}
	}
	if ir.ValuesEqual(p.Left, symProof) {
		proof, err := ProofFromValue(v)
		if err != nil {
			return nil, err
		}
		return proof.Claims(), nil
	}
	var kind ClaimKind
	switch {
	case ir.ValuesEqual(p.Left, symBefore):
		kind = ClaimBefore
	case ir.ValuesEqual(p.Left, symConcurrent):
		kind = ClaimConcurrent
	default:
		return nil, &Error{Code: ErrCodeInvalidProof, Message: "unknown claim " + p.Left.String()}
	}
	ends, ok := p.Right.(ir.Pair)
	if !ok {
		return nil, &Error{Code: ErrCodeInvalidProof, Message: "malformed claim"}
	}
	a, okA := ends.Left.(ir.Symbol)
	b, okB := ends.Right.(ir.Symbol)
	if !okA || !okB {
		return nil, &Error{Code: ErrCodeInvalidProof, Message: "claim endpoints must be symbols"}
	}
	return []Claim{{Kind: kind, A: string(a), B: string(b)}}, nil
}

// VerifyConsistency rejects a claim set whose happens-before relation has
// a cycle, or where a concurrency claim contradicts happens-before under
// transitive closure.
func VerifyConsistency(claims []Claim) error {
	succ := map[string][]string{}
	var nodes []string
	addNode := func(n string) {
		if _, ok := succ[n]; !ok {
			succ[n] = nil
			nodes = append(nodes, n)
		}
	}
	for _, c := range claims {
		addNode(c.A)
		addNode(c.B)
		if c.Kind == ClaimBefore {
			succ[c.A] = append(succ[c.A], c.B)
		}
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		slices.Sort(succ[n])
	}

	const (
		white = iota
		grey
		black
	)
	color := map[string]int{}
	var path []string
	var visit func(string) []string
	visit = func(n string) []string {
		color[n] = grey
		path = append(path, n)
		for _, m := range succ[n] {
			switch color[m] {
			case grey:
				i := slices.Index(path, m)
				return append(slices.Clone(path[i:]), m)
			case white:
				if cyc := visit(m); cyc != nil {
					return cyc
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return nil
	}
	for _, n := range nodes {
		if color[n] == white {
			if cyc := visit(n); cyc != nil {
				return &Error{Code: ErrCodeCausalCycle, Message: strings.Join(cyc, " -> ")}
			}
		}
	}

	reach := func(from, to string) bool {
		seen := map[string]bool{from: true}
		stack := []string{from}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, m := range succ[n] {
				if m == to {
					return true
				}
				if !seen[m] {
					seen[m] = true
					stack = append(stack, m)
				}
			}
		}
		return false
	}
	for _, c := range claims {
		if c.Kind != ClaimConcurrent {
			continue
		}
		if c.A == c.B || reach(c.A, c.B) || reach(c.B, c.A) {
			return &Error{Code: ErrCodeCausalConflict, Message: fmt.Sprintf("%s contradicts happens-before", c)}
		}
	}
	return nil
}
