package effect

import (
	"fmt"
	"strings"

	"github.com/roach88/causality/internal/ir"
)

// Expr is an effect expression. The set is closed.
type Expr interface {
	ir.Canonical
	String() string
	expr()
}

// Pure produces the value of a term with no observation.
type Pure struct{ Term Term }

// Bind runs Effect, binds its result to Var and continues with Body.
type Bind struct {
	Effect Expr
	Var    string
	Body   Expr
}

// Perform suspends and yields to the handler registered for Tag.
type Perform struct {
	Tag  string
	Args []Term
}

// Handler is one clause of a Handle. Params bind the performed arguments;
// the value of Body resumes the performer.
type Handler struct {
	Tag    string
	Params []string
	Body   Expr
}

// Handle installs handlers scoped to Body. Handlers are sorted by tag.
type Handle struct {
	Body     Expr
	Handlers []Handler
}

// Parallel runs both branches concurrently and pairs their results.
type Parallel struct{ Left, Right Expr }

// Race runs both branches; the first to finish wins and the other is
// cancelled. The result is inl or inr of the winner's value.
type Race struct{ Left, Right Expr }

// Transact runs Effects all-or-nothing. The result is inl of the last
// effect's value on commit or inr of the failure code on rollback.
type Transact struct{ Effects []Expr }

// Label names an effect for causal tracking.
type Label struct {
	Name string
	Body Expr
}

// Depend produces a proof that A causally precedes B.
type Depend struct{ A, B string }

// Sequence joins two proofs whose endpoints meet.
type Sequence struct{ First, Second Expr }

// Verify checks a proof against the execution's causal log.
type Verify struct{ Proof Expr }

// HappensBefore queries whether A completed before B started.
type HappensBefore struct{ A, B string }

// Concurrent queries whether A and B are unordered.
type Concurrent struct{ A, B string }

// Barrier waits until every labelled effect has completed.
type Barrier struct{ Labels []string }

// VerifyCausal checks that a set of causal claims is consistent.
type VerifyCausal struct{ Claims []Expr }

// WithSession opens a channel following Protocol, bound to Channel in Body.
type WithSession struct {
	Protocol string
	Channel  string
	Body     Expr
}

// Send writes a value to a channel.
type Send struct {
	Channel string
	Value   Term
}

// Receive reads the next value from a channel.
type Receive struct{ Channel string }

// Select chooses a branch of the peer's Case.
type Select struct {
	Channel string
	Label   string
}

// CaseBranch is one arm of a session Case.
type CaseBranch struct {
	Label string
	Body  Expr
}

// Case offers branches on a channel and continues with the one the peer
// selects. Branches are sorted by label.
type Case struct {
	Channel  string
	Branches []CaseBranch
}

func (Pure) expr()          {}
func (Bind) expr()          {}
func (Perform) expr()       {}
func (Handle) expr()        {}
func (Parallel) expr()      {}
func (Race) expr()          {}
func (Transact) expr()      {}
func (Label) expr()         {}
func (Depend) expr()        {}
func (Sequence) expr()      {}
func (Verify) expr()        {}
func (HappensBefore) expr() {}
func (Concurrent) expr()    {}
func (Barrier) expr()       {}
func (VerifyCausal) expr()  {}
func (WithSession) expr()   {}
func (Send) expr()          {}
func (Receive) expr()       {}
func (Select) expr()        {}
func (Case) expr()          {}

// Expression wire tags.
const (
	tagPure byte = iota + 0x40
	tagBind
	tagPerform
	tagHandle
	tagParallel
	tagRace
	tagTransact
	tagLabel
	tagDepend
	tagSequence
	tagVerify
	tagHappensBefore
	tagConcurrent
	tagBarrier
	tagVerifyCausal
	tagWithSession
	tagSend
	tagReceive
	tagSelect
	tagCase
)

func encodeExprs(e *ir.Encoder, xs []Expr) {
	e.Len(len(xs))
	for _, x := range xs {
		x.EncodeTo(e)
	}
}

func (x Pure) EncodeTo(e *ir.Encoder) {
	e.Tag(tagPure)
	x.Term.EncodeTo(e)
}

func (x Bind) EncodeTo(e *ir.Encoder) {
	e.Tag(tagBind)
	x.Effect.EncodeTo(e)
	e.String(x.Var)
	x.Body.EncodeTo(e)
}

func (x Perform) EncodeTo(e *ir.Encoder) {
	e.Tag(tagPerform)
	e.String(x.Tag)
	e.Len(len(x.Args))
	for _, a := range x.Args {
		a.EncodeTo(e)
	}
}

func (x Handle) EncodeTo(e *ir.Encoder) {
	e.Tag(tagHandle)
	x.Body.EncodeTo(e)
	e.Len(len(x.Handlers))
	var prev []byte
	for _, h := range x.Handlers {
		e.Ascending(prev, []byte(h.Tag))
		prev = []byte(h.Tag)
		e.String(h.Tag)
		e.Len(len(h.Params))
		for _, p := range h.Params {
			e.String(p)
		}
		h.Body.EncodeTo(e)
	}
}

func (x Parallel) EncodeTo(e *ir.Encoder) {
	e.Tag(tagParallel)
	x.Left.EncodeTo(e)
	x.Right.EncodeTo(e)
}

func (x Race) EncodeTo(e *ir.Encoder) {
	e.Tag(tagRace)
	x.Left.EncodeTo(e)
	x.Right.EncodeTo(e)
}

func (x Transact) EncodeTo(e *ir.Encoder) {
	e.Tag(tagTransact)
	encodeExprs(e, x.Effects)
}

func (x Label) EncodeTo(e *ir.Encoder) {
	e.Tag(tagLabel)
	e.String(x.Name)
	x.Body.EncodeTo(e)
}

func (x Depend) EncodeTo(e *ir.Encoder) {
	e.Tag(tagDepend)
	e.String(x.A)
	e.String(x.B)
}

func (x Sequence) EncodeTo(e *ir.Encoder) {
	e.Tag(tagSequence)
	x.First.EncodeTo(e)
	x.Second.EncodeTo(e)
}

func (x Verify) EncodeTo(e *ir.Encoder) {
	e.Tag(tagVerify)
	x.Proof.EncodeTo(e)
}

func (x HappensBefore) EncodeTo(e *ir.Encoder) {
	e.Tag(tagHappensBefore)
	e.String(x.A)
	e.String(x.B)
}

func (x Concurrent) EncodeTo(e *ir.Encoder) {
	e.Tag(tagConcurrent)
	e.String(x.A)
	e.String(x.B)
}

func (x Barrier) EncodeTo(e *ir.Encoder) {
	e.Tag(tagBarrier)
	e.StringSet(x.Labels)
}

func (x VerifyCausal) EncodeTo(e *ir.Encoder) {
	e.Tag(tagVerifyCausal)
	encodeExprs(e, x.Claims)
}

func (x WithSession) EncodeTo(e *ir.Encoder) {
	e.Tag(tagWithSession)
	e.String(x.Protocol)
	e.String(x.Channel)
	x.Body.EncodeTo(e)
}

func (x Send) EncodeTo(e *ir.Encoder) {
	e.Tag(tagSend)
	e.String(x.Channel)
	x.Value.EncodeTo(e)
}

func (x Receive) EncodeTo(e *ir.Encoder) {
	e.Tag(tagReceive)
	e.String(x.Channel)
}

func (x Select) EncodeTo(e *ir.Encoder) {
	e.Tag(tagSelect)
	e.String(x.Channel)
	e.String(x.Label)
}

func (x Case) EncodeTo(e *ir.Encoder) {
	e.Tag(tagCase)
	e.String(x.Channel)
	e.Len(len(x.Branches))
	var prev []byte
	for _, b := range x.Branches {
		e.Ascending(prev, []byte(b.Label))
		prev = []byte(b.Label)
		e.String(b.Label)
		b.Body.EncodeTo(e)
	}
}

func joinExprs(xs []Expr) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = x.String()
	}
	return strings.Join(parts, " ")
}

func (x Pure) String() string { return fmt.Sprintf("(pure %s)", x.Term) }
func (x Bind) String() string { return fmt.Sprintf("(bind %s %s %s)", x.Effect, x.Var, x.Body) }

func (x Perform) String() string {
	parts := []string{"perform", x.Tag}
	for _, a := range x.Args {
		parts = append(parts, a.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (x Handle) String() string {
	parts := []string{"handle", x.Body.String()}
	for _, h := range x.Handlers {
		parts = append(parts, fmt.Sprintf("(%s (%s) %s)", h.Tag, strings.Join(h.Params, " "), h.Body))
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (x Parallel) String() string      { return fmt.Sprintf("(parallel %s %s)", x.Left, x.Right) }
func (x Race) String() string          { return fmt.Sprintf("(race %s %s)", x.Left, x.Right) }
func (x Transact) String() string      { return "(transact " + joinExprs(x.Effects) + ")" }
func (x Label) String() string         { return fmt.Sprintf("(label %s %s)", x.Name, x.Body) }
func (x Depend) String() string        { return fmt.Sprintf("(depend %s %s)", x.A, x.B) }
func (x Sequence) String() string      { return fmt.Sprintf("(sequence %s %s)", x.First, x.Second) }
func (x Verify) String() string        { return fmt.Sprintf("(verify %s)", x.Proof) }
func (x HappensBefore) String() string { return fmt.Sprintf("(happens-before %s %s)", x.A, x.B) }
func (x Concurrent) String() string    { return fmt.Sprintf("(concurrent %s %s)", x.A, x.B) }
func (x Barrier) String() string       { return "(barrier " + strings.Join(x.Labels, " ") + ")" }
func (x VerifyCausal) String() string  { return "(verify-causal " + joinExprs(x.Claims) + ")" }

func (x WithSession) String() string {
	return fmt.Sprintf("(with-session %s (%s) %s)", x.Protocol, x.Channel, x.Body)
}
func (x Send) String() string    { return fmt.Sprintf("(send %s %s)", x.Channel, x.Value) }
func (x Receive) String() string { return fmt.Sprintf("(receive %s)", x.Channel) }
func (x Select) String() string  { return fmt.Sprintf("(select %s %s)", x.Channel, x.Label) }

func (x Case) String() string {
	parts := []string{"offer", x.Channel}
	for _, b := range x.Branches {
		parts = append(parts, fmt.Sprintf("(%s %s)", b.Label, b.Body))
	}
	return "(" + strings.Join(parts, " ") + ")"
}

type exprEntity struct{ Expr }

func (exprEntity) HashDomain() string { return ir.DomainExpr }

// ID returns the content id of an expression.
func ID(x Expr) (ir.ExprID, error) {
	id, err := ir.Hash(exprEntity{x})
	return ir.ExprID(id), err
}

// Bytes returns the canonical encoding of an expression.
func Bytes(x Expr) ([]byte, error) {
	return ir.Encode(x)
}

// DecodeExpr reads an expression written by EncodeTo.
func DecodeExpr(d *ir.Decoder) Expr {
	return decodeExpr(d, 0)
}

// ParseExpr decodes a complete expression encoding.
func ParseExpr(data []byte) (Expr, error) {
	d := ir.NewDecoder(data)
	x := DecodeExpr(d)
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return x, nil
}

func decodeExpr(d *ir.Decoder, depth int) Expr {
	if depth > maxDepth {
		d.Fail("expression nesting exceeds %d", maxDepth)
		return nil
	}
	sub := func() Expr { return decodeExpr(d, depth+1) }
	subs := func() []Expr {
		n := d.Len()
		var xs []Expr
		for i := 0; i < n && d.Err() == nil; i++ {
			xs = append(xs, sub())
		}
		return xs
	}
	tag := d.Tag()
	if d.Err() != nil {
		return nil
	}
	switch tag {
	case tagPure:
		return Pure{Term: decodeTerm(d, depth+1)}
	case tagBind:
		return Bind{Effect: sub(), Var: d.String(), Body: sub()}
	case tagPerform:
		x := Perform{Tag: d.String()}
		n := d.Len()
		for i := 0; i < n && d.Err() == nil; i++ {
			x.Args = append(x.Args, decodeTerm(d, depth+1))
		}
		return x
	case tagHandle:
		x := Handle{Body: sub()}
		n := d.Len()
		var prev []byte
		for i := 0; i < n && d.Err() == nil; i++ {
			h := Handler{Tag: d.String()}
			d.Ascending(prev, []byte(h.Tag))
			prev = []byte(h.Tag)
			np := d.Len()
			for j := 0; j < np && d.Err() == nil; j++ {
				h.Params = append(h.Params, d.String())
			}
			h.Body = sub()
			x.Handlers = append(x.Handlers, h)
		}
		return x
	case tagParallel:
		return Parallel{Left: sub(), Right: sub()}
	case tagRace:
		return Race{Left: sub(), Right: sub()}
	case tagTransact:
		return Transact{Effects: subs()}
	case tagLabel:
		return Label{Name: d.String(), Body: sub()}
	case tagDepend:
		return Depend{A: d.String(), B: d.String()}
	case tagSequence:
		return Sequence{First: sub(), Second: sub()}
	case tagVerify:
		return Verify{Proof: sub()}
	case tagHappensBefore:
		return HappensBefore{A: d.String(), B: d.String()}
	case tagConcurrent:
		return Concurrent{A: d.String(), B: d.String()}
	case tagBarrier:
		return Barrier{Labels: d.StringSet()}
	case tagVerifyCausal:
		return VerifyCausal{Claims: subs()}
	case tagWithSession:
		return WithSession{Protocol: d.String(), Channel: d.String(), Body: sub()}
	case tagSend:
		return Send{Channel: d.String(), Value: decodeTerm(d, depth+1)}
	case tagReceive:
		return Receive{Channel: d.String()}
	case tagSelect:
		return Select{Channel: d.String(), Label: d.String()}
	case tagCase:
		x := Case{Channel: d.String()}
		n := d.Len()
		var prev []byte
		for i := 0; i < n && d.Err() == nil; i++ {
			b := CaseBranch{Label: d.String()}
			d.Ascending(prev, []byte(b.Label))
			prev = []byte(b.Label)
			b.Body = sub()
			x.Branches = append(x.Branches, b)
		}
		return x
	}
	d.Fail("unknown expression tag 0x%02x", tag)
	return nil
}

// IsPure reports whether x performs no effects and touches no runtime
// state beyond the register machine.
func IsPure(x Expr) bool {
	switch x := x.(type) {
	case Pure:
		return true
	case Bind:
		return IsPure(x.Effect) && IsPure(x.Body)
	}
	return false
}

// Labels returns every label introduced in x, in source order.
func Labels(x Expr) []string {
	var out []string
	Walk(x, func(x Expr) bool {
		if l, ok := x.(Label); ok {
			out = append(out, l.Name)
		}
		return true
	})
	return out
}

// Walk visits x and its sub-expressions in source order. Returning false
// from fn skips the children of the visited expression.
func Walk(x Expr, fn func(Expr) bool) {
	if x == nil || !fn(x) {
		return
	}
	switch x := x.(type) {
	case Bind:
		Walk(x.Effect, fn)
		Walk(x.Body, fn)
	case Handle:
		Walk(x.Body, fn)
		for _, h := range x.Handlers {
			Walk(h.Body, fn)
		}
	case Parallel:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case Race:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case Transact:
		for _, e := range x.Effects {
			Walk(e, fn)
		}
	case Label:
		Walk(x.Body, fn)
	case Sequence:
		Walk(x.First, fn)
		Walk(x.Second, fn)
	case Verify:
		Walk(x.Proof, fn)
	case VerifyCausal:
		for _, c := range x.Claims {
			Walk(c, fn)
		}
	case WithSession:
		Walk(x.Body, fn)
	case Case:
		for _, b := range x.Branches {
			Walk(b.Body, fn)
		}
	}
}
