package machine

import (
	"fmt"

	"github.com/roach88/causality/internal/ir"
)

// MaxCallDepth bounds the call stack.
const MaxCallDepth = 256

// DefaultGas is the gas budget used when none is configured.
const DefaultGas uint64 = 1 << 20

// Limits bounds one execution.
type Limits struct {
	Gas          uint64
	MaxCallDepth int
}

// DefaultLimits returns the default gas budget and call depth.
func DefaultLimits() Limits {
	return Limits{Gas: DefaultGas, MaxCallDepth: MaxCallDepth}
}

// Effect is a performed effect waiting in the queue for its handler.
type Effect struct {
	ID   ir.EffectID
	Tag  string
	Args []ir.Value
	Task uint32
	Seq  uint64
}

type effectFields struct{ e *Effect }

func (f effectFields) HashDomain() string { return ir.DomainEffect }

func (f effectFields) EncodeTo(e *ir.Encoder) {
	e.String(f.e.Tag)
	e.Len(len(f.e.Args))
	for _, a := range f.e.Args {
		ir.EncodeValue(e, a)
	}
	e.U32(f.e.Task)
	e.U64(f.e.Seq)
}

// EncodeTo implements ir.Canonical.
func (ef *Effect) EncodeTo(e *ir.Encoder) {
	e.ID(ef.ID.Entity())
	effectFields{ef}.EncodeTo(e)
}

// Constraint is a deferred predicate: Value must conform to Type.
type Constraint struct {
	Register RegisterID
	Value    ir.Value
	Type     ir.TypeTag
}

// Check evaluates the constraint.
func (c Constraint) Check() error {
	if ir.Conforms(c.Value, c.Type) {
		return nil
	}
	return &Error{
		Code:     ErrCodeConstraint,
		Message:  fmt.Sprintf("%s does not conform to %s", ir.KindName(c.Value), c.Type),
		Register: regPtr(c.Register),
		Expected: c.Type.String(),
		Actual:   ir.KindName(c.Value),
	}
}

// State is the complete machine state.
type State struct {
	Registers   *RegisterFile
	Heap        *Heap
	Effects     []*Effect
	Constraints []Constraint
	PC          int
	CallStack   []int
	Gas         uint64
	Terminated  bool

	maxDepth  int
	effectSeq uint64
}

// NewState creates a state with the program's constants loaded and an
// empty heap.
func NewState(p *Program, lim Limits) (*State, error) {
	return NewStateWithHeap(p, lim, nil)
}

// NewStateWithHeap creates a state over an initial heap. The heap is
// cloned; the caller's copy is not modified.
func NewStateWithHeap(p *Program, lim Limits, heap *Heap) (*State, error) {
	if lim.MaxCallDepth <= 0 {
		lim.MaxCallDepth = MaxCallDepth
	}
	s := &State{
		Registers: NewRegisterFile(),
		Heap:      NewHeap(),
		Gas:       lim.Gas,
		maxDepth:  lim.MaxCallDepth,
	}
	if heap != nil {
		s.Heap = heap.Clone()
	}
	for _, c := range p.Constants {
		if err := s.Registers.Write(c.Register, c.Value, ir.Unrestricted); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *State) charge() error {
	if s.Gas == 0 {
		return &Error{Code: ErrCodeOutOfGas, Message: "gas exhausted", PC: s.PC}
	}
	s.Gas--
	return nil
}

func (s *State) at(err error) error {
	if me, ok := err.(*Error); ok && me.PC == 0 {
		me.PC = s.PC
	}
	return err
}

// Exec runs one instruction at the current pc. It charges one unit of gas
// and does not move pc.
func (s *State) Exec(in Instruction) ([]ResourceEvent, error) {
	if s.Terminated {
		return nil, &Error{Code: ErrCodeInvalidProgram, Message: "machine already terminated", PC: s.PC}
	}
	if err := s.charge(); err != nil {
		return nil, err
	}
	events, err := in.exec(s)
	if err != nil {
		return nil, s.at(err)
	}
	return events, nil
}

// PushCall pushes a return address.
func (s *State) PushCall(ret int) error {
	if len(s.CallStack) >= s.maxDepth {
		return &Error{
			Code:    ErrCodeCallStackOverflow,
			Message: fmt.Sprintf("call depth exceeds %d", s.maxDepth),
			PC:      s.PC,
		}
	}
	s.CallStack = append(s.CallStack, ret)
	return nil
}

// PopCall pops a return address.
func (s *State) PopCall() (int, error) {
	n := len(s.CallStack)
	if n == 0 {
		return 0, &Error{Code: ErrCodeCallStackUnderflow, Message: "return with empty call stack", PC: s.PC}
	}
	ret := s.CallStack[n-1]
	s.CallStack = s.CallStack[:n-1]
	return ret, nil
}

// Control executes a machine-level directive and moves pc. It reports
// false for directives that need the effect runtime.
func (s *State) Control(op Op) ([]ResourceEvent, bool, error) {
	switch o := op.(type) {
	case Jump:
		s.PC = o.Target
	case Call:
		if err := s.charge(); err != nil {
			return nil, true, err
		}
		if err := s.PushCall(s.PC + 1); err != nil {
			return nil, true, err
		}
		s.PC = o.Target
	case Return:
		ret, err := s.PopCall()
		if err != nil {
			return nil, true, err
		}
		s.PC = ret
	case Match:
		v, lin, err := s.Registers.Read(o.Scrutinee)
		if err != nil {
			return nil, true, s.at(err)
		}
		switch sum := v.(type) {
		case ir.Inl:
			if err := s.Registers.Write(o.Left, sum.V, lin); err != nil {
				return nil, true, s.at(err)
			}
			s.PC++
		case ir.Inr:
			if err := s.Registers.Write(o.Right, sum.V, lin); err != nil {
				return nil, true, s.at(err)
			}
			s.PC = o.Else
		default:
			return nil, true, s.at(TypeMismatch("Sum", ir.KindName(v)))
		}
	case Split:
		v, lin, err := s.Registers.Read(o.Pair)
		if err != nil {
			return nil, true, s.at(err)
		}
		pair, ok := v.(ir.Pair)
		if !ok {
			return nil, true, s.at(TypeMismatch("Product", ir.KindName(v)))
		}
		if err := s.Registers.Write(o.Left, pair.Left, lin); err != nil {
			return nil, true, s.at(err)
		}
		if err := s.Registers.Write(o.Right, pair.Right, lin); err != nil {
			return nil, true, s.at(err)
		}
		s.PC++
	case Assert:
		v, ok := s.Registers.Peek(o.Register)
		if !ok {
			return nil, true, s.at(invalidRegister(o.Register, "assert on empty register"))
		}
		s.Constraints = append(s.Constraints, Constraint{Register: o.Register, Value: v, Type: o.Type})
		s.PC++
	case Transition:
		v, lin, err := s.Registers.Take(o.Resource)
		if err != nil {
			return nil, true, s.at(err)
		}
		ref, ok := v.(ir.Ref)
		if !ok {
			return nil, true, s.at(TypeMismatch("Resource", ir.KindName(v)))
		}
		ev, err := s.Heap.Transition(ref.ID, o.To)
		if err != nil {
			return nil, true, s.at(err)
		}
		if err := s.Registers.Write(o.Output, ref, lin); err != nil {
			return nil, true, s.at(err)
		}
		s.PC++
		return []ResourceEvent{ev}, true, nil
	default:
		return nil, false, nil
	}
	return nil, true, nil
}

// Enqueue appends a performed effect and assigns its id.
func (s *State) Enqueue(tag string, args []ir.Value, task uint32) (*Effect, error) {
	ef := &Effect{Tag: tag, Args: args, Task: task, Seq: s.effectSeq}
	id, err := ir.Hash(effectFields{ef})
	if err != nil {
		return nil, fmt.Errorf("hash effect %s: %w", tag, err)
	}
	ef.ID = ir.EffectID(id)
	s.effectSeq++
	s.Effects = append(s.Effects, ef)
	return ef, nil
}

// Dequeue removes the effect with the given id.
func (s *State) Dequeue(id ir.EffectID) *Effect {
	for i, ef := range s.Effects {
		if ef.ID == id {
			s.Effects = append(s.Effects[:i:i], s.Effects[i+1:]...)
			return ef
		}
	}
	return nil
}

// DropTask removes every queued effect performed by task.
func (s *State) DropTask(task uint32) []*Effect {
	var kept, dropped []*Effect
	for _, ef := range s.Effects {
		if ef.Task == task {
			dropped = append(dropped, ef)
		} else {
			kept = append(kept, ef)
		}
	}
	s.Effects = kept
	return dropped
}

// Finish checks termination obligations and returns the value in r0.
// An unconsumed linear register or an unused relevant one aborts with
// LINEARITY_VIOLATION; the offending slot is left in place.
func (s *State) Finish() (ir.Value, error) {
	if id, err := s.Registers.Unmet(); err != nil {
		return nil, linearityViolation(id, err)
	}
	for _, c := range s.Constraints {
		if err := c.Check(); err != nil {
			return nil, err
		}
	}
	s.Terminated = true
	if r := s.Registers.Get(ResultRegister); r != nil {
		return r.Value, nil
	}
	return ir.Unit{}, nil
}

// Snapshot captures the registers, heap and queues for rollback.
type Snapshot struct {
	registers   *RegisterFile
	heap        *Heap
	effects     []*Effect
	constraints int
}

// Snapshot captures the current state.
func (s *State) Snapshot() *Snapshot {
	return &Snapshot{
		registers:   s.Registers.Clone(),
		heap:        s.Heap.Clone(),
		effects:     append([]*Effect(nil), s.Effects...),
		constraints: len(s.Constraints),
	}
}

// Restore rolls the state back to sn. Gas and pc are not restored.
func (s *State) Restore(sn *Snapshot) {
	s.Registers = sn.registers.Clone()
	s.Heap = sn.heap.Clone()
	s.Effects = append([]*Effect(nil), sn.effects...)
	s.Constraints = s.Constraints[:sn.constraints]
}

// HashDomain implements ir.Entity.
func (s *State) HashDomain() string { return ir.DomainState }

// EncodeTo implements ir.Canonical.
func (s *State) EncodeTo(e *ir.Encoder) {
	s.Registers.EncodeTo(e)
	s.Heap.EncodeTo(e)
	e.Len(len(s.Effects))
	for _, ef := range s.Effects {
		ef.EncodeTo(e)
	}
	e.Len(len(s.Constraints))
	for _, c := range s.Constraints {
		e.U32(uint32(c.Register))
		ir.EncodeValue(e, c.Value)
		c.Type.EncodeTo(e)
	}
	e.Index(s.PC)
	e.Len(len(s.CallStack))
	for _, ret := range s.CallStack {
		e.Index(ret)
	}
	e.U64(s.Gas)
	e.Bool(s.Terminated)
}

// Hash returns the canonical state hash.
func (s *State) Hash() (ir.ContentID, error) {
	return ir.Hash(s)
}

// Run executes a program that uses only instructions and machine-level
// directives. Programs with effects need the executor.
func Run(p *Program, lim Limits) (ir.Value, *State, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	s, err := NewState(p, lim)
	if err != nil {
		return nil, nil, err
	}
	for s.PC < len(p.Code) {
		op := p.Code[s.PC]
		if in, ok := op.(Instruction); ok {
			if _, err := s.Exec(in); err != nil {
				return nil, s, err
			}
			s.PC++
			continue
		}
		if _, ok := op.(Halt); ok {
			break
		}
		_, handled, err := s.Control(op)
		if err != nil {
			return nil, s, err
		}
		if !handled {
			return nil, s, &Error{Code: ErrCodeInvalidProgram, PC: s.PC, Message: op.Opcode().String() + " requires the effect runtime"}
		}
	}
	v, err := s.Finish()
	return v, s, err
}
