package machine

import (
	"fmt"
	"strings"

	"github.com/roach88/causality/internal/ir"
)

// Constant preloads a register before execution. Constants are
// unrestricted unless the value is a TypeDesc, which is still copied.
type Constant struct {
	Register RegisterID
	Value    ir.Value
}

// Program is an immutable, content-addressed register program. Constants
// are sorted by register; the result is read from r0.
type Program struct {
	Code      []Op
	Constants []Constant
}

// HashDomain implements ir.Entity.
func (p *Program) HashDomain() string { return ir.DomainProgram }

// EncodeTo implements ir.Canonical.
func (p *Program) EncodeTo(e *ir.Encoder) {
	e.Len(len(p.Constants))
	for i, c := range p.Constants {
		if i > 0 && p.Constants[i-1].Register >= c.Register {
			e.Fail("constants out of register order at r%d", c.Register)
		}
		e.U32(uint32(c.Register))
		ir.EncodeValue(e, c.Value)
	}
	e.Len(len(p.Code))
	for _, op := range p.Code {
		op.EncodeTo(e)
	}
}

// ID returns the program's content id.
func (p *Program) ID() (ir.ProgramID, error) {
	id, err := ir.Hash(p)
	return ir.ProgramID(id), err
}

// MustID is ID for programs known to encode.
func (p *Program) MustID() ir.ProgramID {
	return ir.ProgramID(ir.MustHash(p))
}

// Bytes returns the canonical encoding.
func (p *Program) Bytes() ([]byte, error) {
	return ir.Encode(p)
}

// DecodeProgram reads a program written by EncodeTo.
func DecodeProgram(data []byte) (*Program, error) {
	d := ir.NewDecoder(data)
	p := ReadProgram(d)
	if err := d.Finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadProgram reads a program from a decoder positioned at one.
func ReadProgram(d *ir.Decoder) *Program {
	p := &Program{}
	n := d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		c := Constant{Register: reg(d), Value: ir.DecodeValue(d)}
		if i > 0 && p.Constants[i-1].Register >= c.Register {
			d.Fail("constants out of register order")
		}
		p.Constants = append(p.Constants, c)
	}
	n = d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		if op := DecodeOp(d); op != nil {
			p.Code = append(p.Code, op)
		}
	}
	return p
}

// InstructionCount returns the number of instructions, excluding
// directives.
func (p *Program) InstructionCount() int {
	n := 0
	for _, op := range p.Code {
		if IsInstruction(op) {
			n++
		}
	}
	return n
}

// Instructions returns the instructions in code order.
func (p *Program) Instructions() []Instruction {
	var out []Instruction
	for _, op := range p.Code {
		if in, ok := op.(Instruction); ok {
			out = append(out, in)
		}
	}
	return out
}

// Listing renders the program one op per line.
func (p *Program) Listing() string {
	var b strings.Builder
	for _, c := range p.Constants {
		fmt.Fprintf(&b, "const %s = %s\n", c.Register, c.Value)
	}
	for pc, op := range p.Code {
		fmt.Fprintf(&b, "%4d  %s\n", pc, op)
	}
	return b.String()
}

// Validate checks static well-formedness: register bounds, jump targets
// within the code, forward-only jumps, sorted constants and tables.
func (p *Program) Validate() error {
	n := len(p.Code)
	bad := func(pc int, format string, args ...any) error {
		return &Error{Code: ErrCodeInvalidProgram, PC: pc, Message: fmt.Sprintf(format, args...)}
	}
	checkReg := func(pc int, rs ...RegisterID) error {
		for _, r := range rs {
			if r >= MaxRegisters {
				return bad(pc, "register %s out of range", r)
			}
		}
		return nil
	}
	target := func(pc, t int) error {
		if t < 0 || t > n {
			return bad(pc, "target %d outside code of length %d", t, n)
		}
		return nil
	}
	for i, c := range p.Constants {
		if err := checkReg(-1, c.Register); err != nil {
			return err
		}
		if i > 0 && p.Constants[i-1].Register >= c.Register {
			return bad(-1, "constants out of register order at %s", c.Register)
		}
		if c.Value == nil {
			return bad(-1, "constant %s has no value", c.Register)
		}
	}
	for pc, op := range p.Code {
		var err error
		switch o := op.(type) {
		case Instruction:
			err = checkReg(pc, append(o.Reads(), o.Writes()...)...)
		case Perform:
			err = checkReg(pc, append([]RegisterID{o.Output}, o.Args...)...)
		case PushHandlers:
			for i, h := range o.Handlers {
				if i > 0 && o.Handlers[i-1].Tag >= h.Tag {
					return bad(pc, "handler tags out of order at %q", h.Tag)
				}
				if err = target(pc, h.Entry); err != nil {
					return err
				}
				if err = checkReg(pc, h.Params...); err != nil {
					return err
				}
			}
		case Jump:
			if o.Target <= pc {
				return bad(pc, "jump to %d is not forward", o.Target)
			}
			err = target(pc, o.Target)
		case Call:
			err = target(pc, o.Target)
		case Resume:
			err = checkReg(pc, o.Result)
		case Fork:
			for _, b := range []Block{o.Left, o.Right} {
				if b.Start > b.End || b.Start <= pc || b.End > n {
					return bad(pc, "fork block [%d,%d) invalid", b.Start, b.End)
				}
			}
			if o.Continue <= pc {
				return bad(pc, "fork continuation %d is not forward", o.Continue)
			}
			if err = target(pc, o.Continue); err != nil {
				return err
			}
			err = checkReg(pc, o.LeftOut, o.RightOut, o.Output)
		case Causal:
			err = checkReg(pc, append([]RegisterID{o.Output}, o.Proofs...)...)
		case Send:
			err = checkReg(pc, o.Value)
		case Recv:
			err = checkReg(pc, o.Output)
		case Offer:
			for i, b := range o.Branches {
				if i > 0 && o.Branches[i-1].Label >= b.Label {
					return bad(pc, "offer labels out of order at %q", b.Label)
				}
				if b.Target <= pc {
					return bad(pc, "offer branch %q is not forward", b.Label)
				}
				if err = target(pc, b.Target); err != nil {
					return err
				}
			}
		case Match:
			if o.Else <= pc {
				return bad(pc, "match else %d is not forward", o.Else)
			}
			if err = target(pc, o.Else); err != nil {
				return err
			}
			err = checkReg(pc, o.Scrutinee, o.Left, o.Right)
		case Begin:
			if o.Abort <= pc {
				return bad(pc, "abort target %d is not forward", o.Abort)
			}
			if err = target(pc, o.Abort); err != nil {
				return err
			}
			err = checkReg(pc, o.Output)
		case Commit:
			err = checkReg(pc, o.Result, o.Output)
		case Assert:
			err = checkReg(pc, o.Register)
		case Split:
			err = checkReg(pc, o.Pair, o.Left, o.Right)
		case Transition:
			if o.To < Active || o.To >= Consumed {
				return bad(pc, "transition target %s not allowed", o.To)
			}
			err = checkReg(pc, o.Resource, o.Output)
		case Barrier:
			for i := 1; i < len(o.Labels); i++ {
				if o.Labels[i-1] >= o.Labels[i] {
					return bad(pc, "barrier labels out of order")
				}
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}
