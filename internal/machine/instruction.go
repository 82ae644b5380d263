package machine

import (
	"fmt"

	"github.com/roach88/causality/internal/ir"
)

// Opcode is the wire tag of an op. Instructions occupy 1..5; directives
// start at 0x10.
type Opcode uint8

const (
	OpTransform Opcode = iota + 1
	OpAlloc
	OpConsume
	OpCompose
	OpTensor
)

// Op is one element of a program's code stream: an Instruction or a
// Directive.
type Op interface {
	ir.Canonical
	Opcode() Opcode
	String() string
}

// Instruction is one of the five machine instructions. Only instructions
// touch values and only they produce trace entries.
type Instruction interface {
	Op
	// Reads lists registers that must be present and live.
	Reads() []RegisterID
	// Writes lists registers populated by the instruction.
	Writes() []RegisterID
	// IsLinear reports whether the instruction moves linear values.
	IsLinear() bool
	// VerifyCategoryLaws checks the instruction's laws against its
	// current operands without consuming them.
	VerifyCategoryLaws(f *RegisterFile) error
	exec(s *State) ([]ResourceEvent, error)
}

// IsInstruction reports whether op is one of the five instructions.
func IsInstruction(op Op) bool {
	_, ok := op.(Instruction)
	return ok
}

// Transform applies the morphism in Morph to the value in Input.
type Transform struct {
	Morph, Input, Output RegisterID
}

// Alloc allocates a resource described by the TypeDesc in Type, initialized
// from Init, and binds a reference to Output.
type Alloc struct {
	Type, Init, Output RegisterID
}

// Consume removes a resource from the heap and places its value in Output.
type Consume struct {
	Resource, Output RegisterID
}

// Compose sequences two morphisms: First, then Second.
type Compose struct {
	First, Second, Output RegisterID
}

// Tensor pairs two values. Unit on either side is the identity.
type Tensor struct {
	Left, Right, Output RegisterID
}

func (Transform) Opcode() Opcode { return OpTransform }
func (Alloc) Opcode() Opcode     { return OpAlloc }
func (Consume) Opcode() Opcode   { return OpConsume }
func (Compose) Opcode() Opcode   { return OpCompose }
func (Tensor) Opcode() Opcode    { return OpTensor }

func (in Transform) String() string {
	return fmt.Sprintf("transform %s %s -> %s", in.Morph, in.Input, in.Output)
}
func (in Alloc) String() string {
	return fmt.Sprintf("alloc %s %s -> %s", in.Type, in.Init, in.Output)
}
func (in Consume) String() string {
	return fmt.Sprintf("consume %s -> %s", in.Resource, in.Output)
}
func (in Compose) String() string {
	return fmt.Sprintf("compose %s %s -> %s", in.First, in.Second, in.Output)
}
func (in Tensor) String() string {
	return fmt.Sprintf("tensor %s %s -> %s", in.Left, in.Right, in.Output)
}

func (in Transform) Reads() []RegisterID  { return []RegisterID{in.Morph, in.Input} }
func (in Alloc) Reads() []RegisterID      { return []RegisterID{in.Type, in.Init} }
func (in Consume) Reads() []RegisterID    { return []RegisterID{in.Resource} }
func (in Compose) Reads() []RegisterID    { return []RegisterID{in.First, in.Second} }
func (in Tensor) Reads() []RegisterID     { return []RegisterID{in.Left, in.Right} }
func (in Transform) Writes() []RegisterID { return []RegisterID{in.Output} }
func (in Alloc) Writes() []RegisterID     { return []RegisterID{in.Output} }
func (in Consume) Writes() []RegisterID   { return []RegisterID{in.Output} }
func (in Compose) Writes() []RegisterID   { return []RegisterID{in.Output} }
func (in Tensor) Writes() []RegisterID    { return []RegisterID{in.Output} }

func (Transform) IsLinear() bool { return true }
func (Alloc) IsLinear() bool     { return true }
func (Consume) IsLinear() bool   { return true }
func (Compose) IsLinear() bool   { return true }
func (Tensor) IsLinear() bool    { return true }

func (in Transform) EncodeTo(e *ir.Encoder) {
	encodeRegs(e, OpTransform, in.Morph, in.Input, in.Output)
}
func (in Alloc) EncodeTo(e *ir.Encoder)   { encodeRegs(e, OpAlloc, in.Type, in.Init, in.Output) }
func (in Consume) EncodeTo(e *ir.Encoder) { encodeRegs(e, OpConsume, in.Resource, in.Output) }
func (in Compose) EncodeTo(e *ir.Encoder) { encodeRegs(e, OpCompose, in.First, in.Second, in.Output) }
func (in Tensor) EncodeTo(e *ir.Encoder)  { encodeRegs(e, OpTensor, in.Left, in.Right, in.Output) }

func encodeRegs(e *ir.Encoder, op Opcode, regs ...RegisterID) {
	e.Tag(byte(op))
	for _, r := range regs {
		e.U32(uint32(r))
	}
}

func (in Transform) exec(s *State) ([]ResourceEvent, error) {
	mv, _, err := s.Registers.Read(in.Morph)
	if err != nil {
		return nil, err
	}
	m, ok := mv.(ir.Morphism)
	if !ok {
		return nil, TypeMismatch("Morphism", ir.KindName(mv))
	}
	v, lin, err := s.Registers.Read(in.Input)
	if err != nil {
		return nil, err
	}
	out, err := Apply(m, v)
	if err != nil {
		return nil, err
	}
	return nil, s.Registers.Write(in.Output, out, lin)
}

func (in Alloc) exec(s *State) ([]ResourceEvent, error) {
	tv, _, err := s.Registers.Read(in.Type)
	if err != nil {
		return nil, err
	}
	desc, ok := tv.(ir.TypeDesc)
	if !ok {
		return nil, TypeMismatch("Type", ir.KindName(tv))
	}
	v, _, err := s.Registers.Read(in.Init)
	if err != nil {
		return nil, err
	}
	if !ir.Conforms(v, desc.Type) {
		return nil, TypeMismatch(desc.Type.String(), ir.KindName(v))
	}
	r, err := s.Heap.Alloc(desc.Type, desc.Linearity, v)
	if err != nil {
		return nil, err
	}
	if err := s.Registers.Write(in.Output, ir.Ref{ID: r.ID}, desc.Linearity); err != nil {
		return nil, err
	}
	return []ResourceEvent{{Kind: EventAlloc, Resource: r.ID, To: Active}}, nil
}

func (in Consume) exec(s *State) ([]ResourceEvent, error) {
	v, _, err := s.Registers.Take(in.Resource)
	if err != nil {
		return nil, err
	}
	ref, ok := v.(ir.Ref)
	if !ok {
		return nil, TypeMismatch("Resource", ir.KindName(v))
	}
	r, err := s.Heap.Consume(ref.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Registers.Write(in.Output, r.Value, ir.Unrestricted); err != nil {
		return nil, err
	}
	return []ResourceEvent{{Kind: EventConsume, Resource: r.ID, From: Active, To: Consumed}}, nil
}

func (in Compose) exec(s *State) ([]ResourceEvent, error) {
	f, lf, err := readMorphism(s.Registers, in.First)
	if err != nil {
		return nil, err
	}
	g, lg, err := readMorphism(s.Registers, in.Second)
	if err != nil {
		return nil, err
	}
	return nil, s.Registers.Write(in.Output, ir.Then(f, g), Join(lf, lg))
}

func readMorphism(f *RegisterFile, r RegisterID) (ir.Morphism, ir.Linearity, error) {
	v, l, err := f.Read(r)
	if err != nil {
		return ir.Morphism{}, 0, err
	}
	m, ok := v.(ir.Morphism)
	if !ok {
		return ir.Morphism{}, 0, TypeMismatch("Morphism", ir.KindName(v))
	}
	return m, l, nil
}

func (in Tensor) exec(s *State) ([]ResourceEvent, error) {
	l, ll, err := s.Registers.Read(in.Left)
	if err != nil {
		return nil, err
	}
	r, lr, err := s.Registers.Read(in.Right)
	if err != nil {
		return nil, err
	}
	return nil, s.Registers.Write(in.Output, TensorValues(l, r), Join(ll, lr))
}

// TensorValues is the value-level tensor product. Unit is its identity on
// both sides; two morphisms tensor into their parallel composition.
func TensorValues(l, r ir.Value) ir.Value {
	if _, ok := l.(ir.Unit); ok {
		return r
	}
	if _, ok := r.(ir.Unit); ok {
		return l
	}
	fm, okF := l.(ir.Morphism)
	gm, okG := r.(ir.Morphism)
	if okF && okG {
		return ir.Par(fm, gm)
	}
	return ir.Pair{Left: l, Right: r}
}

func (in Transform) VerifyCategoryLaws(f *RegisterFile) error {
	mv, ok1 := f.Peek(in.Morph)
	v, ok2 := f.Peek(in.Input)
	m, ok3 := mv.(ir.Morphism)
	if !ok1 || !ok2 || !ok3 {
		return nil
	}
	return CheckFunctoriality(m, v)
}

func (Alloc) VerifyCategoryLaws(*RegisterFile) error   { return nil }
func (Consume) VerifyCategoryLaws(*RegisterFile) error { return nil }

func (in Compose) VerifyCategoryLaws(f *RegisterFile) error {
	fv, ok1 := f.Peek(in.First)
	gv, ok2 := f.Peek(in.Second)
	fm, ok3 := fv.(ir.Morphism)
	gm, ok4 := gv.(ir.Morphism)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil
	}
	if err := CheckIdentity(fm); err != nil {
		return err
	}
	return CheckAssociativity(fm, gm, ir.Prim(ir.MorphSwap))
}

func (in Tensor) VerifyCategoryLaws(f *RegisterFile) error {
	l, ok1 := f.Peek(in.Left)
	r, ok2 := f.Peek(in.Right)
	if !ok1 || !ok2 {
		return nil
	}
	return CheckBifunctoriality(l, r)
}
