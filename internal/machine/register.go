package machine

import (
	"fmt"
	"slices"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/linear"
)

// RegisterID indexes the register file.
type RegisterID uint32

// ResultRegister holds the program result at termination.
const ResultRegister RegisterID = 0

// MaxRegisters bounds the register file.
const MaxRegisters = 1024

func (r RegisterID) String() string { return fmt.Sprintf("r%d", uint32(r)) }

// Register holds a value or a resource reference plus its usage state.
type Register struct {
	Value     ir.Value
	Linearity ir.Linearity
	Usage     linear.Usage
}

// RegisterFile maps register ids to registers.
type RegisterFile struct {
	regs map[RegisterID]*Register
}

// NewRegisterFile creates an empty register file.
func NewRegisterFile() *RegisterFile {
	return &RegisterFile{regs: make(map[RegisterID]*Register)}
}

// Get returns the register or nil.
func (f *RegisterFile) Get(id RegisterID) *Register {
	return f.regs[id]
}

// Len returns the number of populated registers.
func (f *RegisterFile) Len() int { return len(f.regs) }

// IDs returns populated register ids in ascending order.
func (f *RegisterFile) IDs() []RegisterID {
	ids := make([]RegisterID, 0, len(f.regs))
	for id := range f.regs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Peek returns the value in a live register without recording a use.
func (f *RegisterFile) Peek(id RegisterID) (ir.Value, bool) {
	r := f.regs[id]
	if r == nil || r.Usage.Consumed {
		return nil, false
	}
	return r.Value, true
}

// Read returns the value of a live register and records the use under the
// register's discipline: linear and affine reads move the value.
func (f *RegisterFile) Read(id RegisterID) (ir.Value, ir.Linearity, error) {
	if id >= MaxRegisters {
		return nil, 0, invalidRegister(id, "register out of range")
	}
	r := f.regs[id]
	if r == nil {
		return nil, 0, invalidRegister(id, "register is empty")
	}
	if r.Usage.Consumed {
		return nil, 0, alreadyConsumed(id)
	}
	var err error
	if r.Linearity.CanCopy() {
		err = r.Usage.Copy(r.Linearity)
	} else {
		err = r.Usage.Consume(r.Linearity)
	}
	if err != nil {
		return nil, 0, linearityViolation(id, err)
	}
	return r.Value, r.Linearity, nil
}

// Take moves the value out regardless of discipline. Consume uses it:
// consuming a resource always spends the reference.
func (f *RegisterFile) Take(id RegisterID) (ir.Value, ir.Linearity, error) {
	if id >= MaxRegisters {
		return nil, 0, invalidRegister(id, "register out of range")
	}
	r := f.regs[id]
	if r == nil {
		return nil, 0, invalidRegister(id, "register is empty")
	}
	if r.Usage.Consumed {
		return nil, 0, alreadyConsumed(id)
	}
	r.Usage.Consumed = true
	r.Usage.Used = true
	return r.Value, r.Linearity, nil
}

// Write stores v in id. Overwriting a register whose drop obligation is
// unmet would lose a linear or relevant value and is rejected.
func (f *RegisterFile) Write(id RegisterID, v ir.Value, l ir.Linearity) error {
	if id >= MaxRegisters {
		return invalidRegister(id, "register out of range")
	}
	if old := f.regs[id]; old != nil {
		if err := old.Usage.Drop(old.Linearity); err != nil {
			return linearityViolation(id, err)
		}
	}
	f.regs[id] = &Register{Value: v, Linearity: l}
	return nil
}

// Release marks a register consumed without checking its discipline.
// Cancellation uses it to hand linear values back.
func (f *RegisterFile) Release(id RegisterID) {
	if r := f.regs[id]; r != nil {
		r.Usage.Consumed = true
		r.Usage.Used = true
	}
}

// Unmet returns the first register (in id order) whose drop obligation is
// unmet, skipping the result register, together with the violation.
func (f *RegisterFile) Unmet() (RegisterID, error) {
	for _, id := range f.IDs() {
		if id == ResultRegister {
			continue
		}
		r := f.regs[id]
		if err := r.Usage.Drop(r.Linearity); err != nil {
			if le, ok := err.(*linear.Error); ok {
				le.Subject = id.String()
			}
			return id, err
		}
	}
	return 0, nil
}

// Clone deep-copies the register file. Values are immutable and shared.
func (f *RegisterFile) Clone() *RegisterFile {
	out := &RegisterFile{regs: make(map[RegisterID]*Register, len(f.regs))}
	for id, r := range f.regs {
		cp := *r
		out.regs[id] = &cp
	}
	return out
}

// EncodeTo writes registers in id order.
func (f *RegisterFile) EncodeTo(e *ir.Encoder) {
	ids := f.IDs()
	e.Len(len(ids))
	for _, id := range ids {
		r := f.regs[id]
		e.U32(uint32(id))
		ir.EncodeValue(e, r.Value)
		e.U8(uint8(r.Linearity))
		e.Bool(r.Usage.Consumed)
		e.Bool(r.Usage.Used)
	}
}

// Join returns the discipline of a value built from parts with
// disciplines a and b. Obligations of both parts carry over.
func Join(a, b ir.Linearity) ir.Linearity {
	switch {
	case a == b:
		return a
	case a == ir.Unrestricted:
		return b
	case b == ir.Unrestricted:
		return a
	}
	// Any mix of linear, affine and relevant keeps both constraints.
	return ir.Linear
}
