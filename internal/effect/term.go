package effect

import (
	"fmt"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

// Term is a pure computation. The set is closed.
type Term interface {
	ir.Canonical
	String() string
	term()
}

// Lit is a literal machine value, including morphism literals.
type Lit struct{ Value ir.Value }

// Var references a bound name.
type Var struct{ Name string }

// Tensor pairs two terms.
type Tensor struct{ Left, Right Term }

// LetTensor destructures a pair into Left and Right within Body.
type LetTensor struct {
	Pair        Term
	Left, Right string
	Body        Term
}

// LetUnit eliminates a unit value before Body.
type LetUnit struct {
	Unit Term
	Body Term
}

// Inl injects into the left of a sum.
type Inl struct{ Term Term }

// Inr injects into the right of a sum.
type Inr struct{ Term Term }

// Match eliminates a sum.
type Match struct {
	Scrutinee Term
	LeftVar   string
	LeftBody  Term
	RightVar  string
	RightBody Term
}

// Alloc allocates a resource.
type Alloc struct {
	Linearity ir.Linearity
	Type      ir.TypeTag
	Init      Term
}

// Consume spends a resource and yields its value.
type Consume struct{ Resource Term }

// Apply applies a morphism to an argument.
type Apply struct{ Morph, Arg Term }

// Compose composes two morphisms sequentially.
type Compose struct{ First, Second Term }

// Transition moves a resource along a lifecycle edge and yields it back.
type Transition struct {
	Resource Term
	To       machine.ResourceState
}

func (Lit) term()        {}
func (Var) term()        {}
func (Tensor) term()     {}
func (LetTensor) term()  {}
func (LetUnit) term()    {}
func (Inl) term()        {}
func (Inr) term()        {}
func (Match) term()      {}
func (Alloc) term()      {}
func (Consume) term()    {}
func (Apply) term()      {}
func (Compose) term()    {}
func (Transition) term() {}

// Term wire tags.
const (
	tagLit byte = iota + 1
	tagVar
	tagTensor
	tagLetTensor
	tagLetUnit
	tagInl
	tagInr
	tagMatch
	tagAlloc
	tagConsume
	tagApply
	tagCompose
	tagTransition
)

func (t Lit) EncodeTo(e *ir.Encoder) {
	e.Tag(tagLit)
	ir.EncodeValue(e, t.Value)
}

func (t Var) EncodeTo(e *ir.Encoder) {
	e.Tag(tagVar)
	e.String(t.Name)
}

func (t Tensor) EncodeTo(e *ir.Encoder) {
	e.Tag(tagTensor)
	t.Left.EncodeTo(e)
	t.Right.EncodeTo(e)
}

func (t LetTensor) EncodeTo(e *ir.Encoder) {
	e.Tag(tagLetTensor)
	t.Pair.EncodeTo(e)
	e.String(t.Left)
	e.String(t.Right)
	t.Body.EncodeTo(e)
}

func (t LetUnit) EncodeTo(e *ir.Encoder) {
	e.Tag(tagLetUnit)
	t.Unit.EncodeTo(e)
	t.Body.EncodeTo(e)
}

func (t Inl) EncodeTo(e *ir.Encoder) {
	e.Tag(tagInl)
	t.Term.EncodeTo(e)
}

func (t Inr) EncodeTo(e *ir.Encoder) {
	e.Tag(tagInr)
	t.Term.EncodeTo(e)
}

func (t Match) EncodeTo(e *ir.Encoder) {
	e.Tag(tagMatch)
	t.Scrutinee.EncodeTo(e)
	e.String(t.LeftVar)
	t.LeftBody.EncodeTo(e)
	e.String(t.RightVar)
	t.RightBody.EncodeTo(e)
}

func (t Alloc) EncodeTo(e *ir.Encoder) {
	e.Tag(tagAlloc)
	e.U8(uint8(t.Linearity))
	t.Type.EncodeTo(e)
	t.Init.EncodeTo(e)
}

func (t Consume) EncodeTo(e *ir.Encoder) {
	e.Tag(tagConsume)
	t.Resource.EncodeTo(e)
}

func (t Apply) EncodeTo(e *ir.Encoder) {
	e.Tag(tagApply)
	t.Morph.EncodeTo(e)
	t.Arg.EncodeTo(e)
}

func (t Compose) EncodeTo(e *ir.Encoder) {
	e.Tag(tagCompose)
	t.First.EncodeTo(e)
	t.Second.EncodeTo(e)
}

func (t Transition) EncodeTo(e *ir.Encoder) {
	e.Tag(tagTransition)
	t.Resource.EncodeTo(e)
	e.U8(uint8(t.To))
}

func (t Lit) String() string    { return t.Value.String() }
func (t Var) String() string    { return t.Name }
func (t Tensor) String() string { return fmt.Sprintf("(tensor %s %s)", t.Left, t.Right) }
func (t LetTensor) String() string {
	return fmt.Sprintf("(let-tensor %s (%s %s) %s)", t.Pair, t.Left, t.Right, t.Body)
}
func (t LetUnit) String() string { return fmt.Sprintf("(let-unit %s %s)", t.Unit, t.Body) }
func (t Inl) String() string     { return fmt.Sprintf("(inl %s)", t.Term) }
func (t Inr) String() string     { return fmt.Sprintf("(inr %s)", t.Term) }
func (t Match) String() string {
	return fmt.Sprintf("(case %s (%s %s) (%s %s))", t.Scrutinee, t.LeftVar, t.LeftBody, t.RightVar, t.RightBody)
}
func (t Alloc) String() string {
	return fmt.Sprintf("(alloc %s %s %s)", t.Linearity, t.Type, t.Init)
}
func (t Consume) String() string { return fmt.Sprintf("(consume %s)", t.Resource) }
func (t Apply) String() string   { return fmt.Sprintf("(apply %s %s)", t.Morph, t.Arg) }
func (t Compose) String() string { return fmt.Sprintf("(compose %s %s)", t.First, t.Second) }
func (t Transition) String() string {
	return fmt.Sprintf("(transition %s %s)", t.Resource, t.To)
}

// DecodeTerm reads a term.
func DecodeTerm(d *ir.Decoder) Term {
	return decodeTerm(d, 0)
}

const maxDepth = 256

func decodeTerm(d *ir.Decoder, depth int) Term {
	if depth > maxDepth {
		d.Fail("term nesting exceeds %d", maxDepth)
		return nil
	}
	sub := func() Term { return decodeTerm(d, depth+1) }
	tag := d.Tag()
	if d.Err() != nil {
		return nil
	}
	switch tag {
	case tagLit:
		return Lit{Value: ir.DecodeValue(d)}
	case tagVar:
		return Var{Name: d.String()}
	case tagTensor:
		return Tensor{Left: sub(), Right: sub()}
	case tagLetTensor:
		return LetTensor{Pair: sub(), Left: d.String(), Right: d.String(), Body: sub()}
	case tagLetUnit:
		return LetUnit{Unit: sub(), Body: sub()}
	case tagInl:
		return Inl{Term: sub()}
	case tagInr:
		return Inr{Term: sub()}
	case tagMatch:
		return Match{Scrutinee: sub(), LeftVar: d.String(), LeftBody: sub(), RightVar: d.String(), RightBody: sub()}
	case tagAlloc:
		lin := ir.Linearity(d.U8())
		if !lin.Valid() {
			d.Fail("invalid linearity %d", lin)
		}
		return Alloc{Linearity: lin, Type: ir.DecodeType(d), Init: sub()}
	case tagConsume:
		return Consume{Resource: sub()}
	case tagApply:
		return Apply{Morph: sub(), Arg: sub()}
	case tagCompose:
		return Compose{First: sub(), Second: sub()}
	case tagTransition:
		return Transition{Resource: sub(), To: machine.ResourceState(d.U8())}
	}
	d.Fail("unknown term tag 0x%02x", tag)
	return nil
}

// FreeVars returns the free variables of t in first-occurrence order.
func FreeVars(t Term) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Term, map[string]bool)
	walk = func(t Term, bound map[string]bool) {
		with := func(names ...string) map[string]bool {
			nb := make(map[string]bool, len(bound)+len(names))
			for k := range bound {
				nb[k] = true
			}
			for _, n := range names {
				nb[n] = true
			}
			return nb
		}
		switch t := t.(type) {
		case Var:
			if !bound[t.Name] && !seen[t.Name] {
				seen[t.Name] = true
				out = append(out, t.Name)
			}
		case Tensor:
			walk(t.Left, bound)
			walk(t.Right, bound)
		case LetTensor:
			walk(t.Pair, bound)
			walk(t.Body, with(t.Left, t.Right))
		case LetUnit:
			walk(t.Unit, bound)
			walk(t.Body, bound)
		case Inl:
			walk(t.Term, bound)
		case Inr:
			walk(t.Term, bound)
		case Match:
			walk(t.Scrutinee, bound)
			walk(t.LeftBody, with(t.LeftVar))
			walk(t.RightBody, with(t.RightVar))
		case Alloc:
			walk(t.Init, bound)
		case Consume:
			walk(t.Resource, bound)
		case Apply:
			walk(t.Morph, bound)
			walk(t.Arg, bound)
		case Compose:
			walk(t.First, bound)
			walk(t.Second, bound)
		case Transition:
			walk(t.Resource, bound)
		}
	}
	walk(t, map[string]bool{})
	return out
}
