package zk

import (
	"fmt"
	"slices"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

// RuleKind selects a witness validation rule.
type RuleKind uint8

const (
	RuleRange RuleKind = iota + 1
	RuleNonZero
	RuleBoolean
	RuleCustom
)

func (k RuleKind) String() string {
	switch k {
	case RuleRange:
		return "range"
	case RuleNonZero:
		return "nonzero"
	case RuleBoolean:
		return "boolean"
	case RuleCustom:
		return "custom"
	}
	return fmt.Sprintf("rule(%d)", uint8(k))
}

// Rule constrains one private input.
type Rule struct {
	Kind RuleKind `json:"kind"`
	Min  int64    `json:"min,omitempty"`
	Max  int64    `json:"max,omitempty"`
	// Custom names a validator in the Customs passed to GenerateWitness.
	Custom string `json:"custom,omitempty"`
}

// Range requires an integer in [min, max].
func Range(lo, hi int64) Rule { return Rule{Kind: RuleRange, Min: lo, Max: hi} }

// NonZero requires a value other than zero or false.
func NonZero() Rule { return Rule{Kind: RuleNonZero} }

// Boolean requires a bool, or an integer 0 or 1.
func Boolean() Rule { return Rule{Kind: RuleBoolean} }

// Custom requires the named validator to accept the value.
func Custom(id string) Rule { return Rule{Kind: RuleCustom, Custom: id} }

func (r Rule) String() string {
	switch r.Kind {
	case RuleRange:
		return fmt.Sprintf("range[%d,%d]", r.Min, r.Max)
	case RuleCustom:
		return "custom:" + r.Custom
	}
	return r.Kind.String()
}

func (r Rule) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(r.Kind))
	switch r.Kind {
	case RuleRange:
		e.I64(r.Min)
		e.I64(r.Max)
	case RuleCustom:
		e.String(r.Custom)
	}
}

func readRule(d *ir.Decoder) Rule {
	r := Rule{Kind: RuleKind(d.Tag())}
	switch r.Kind {
	case RuleRange:
		r.Min, r.Max = d.I64(), d.I64()
	case RuleNonZero, RuleBoolean:
	case RuleCustom:
		r.Custom = d.String()
	default:
		d.Fail("unknown rule kind %d", r.Kind)
	}
	return r
}

// Customs maps custom rule ids to validators.
type Customs map[string]func(ir.Value) error

// Check validates v against r. Custom rules missing from customs fail.
func (r Rule) Check(v ir.Value, customs Customs) error {
	switch r.Kind {
	case RuleRange:
		if r.Min > r.Max {
			return fmt.Errorf("empty range [%d,%d]", r.Min, r.Max)
		}
		n, ok := v.(ir.Int)
		if !ok {
			return fmt.Errorf("range rule needs Int, got %s", ir.KindName(v))
		}
		if int64(n) < r.Min || int64(n) > r.Max {
			return fmt.Errorf("%d outside [%d,%d]", n, r.Min, r.Max)
		}
	case RuleNonZero:
		switch x := v.(type) {
		case ir.Int:
			if x == 0 {
				return fmt.Errorf("value is zero")
			}
		case ir.Bool:
			if !x {
				return fmt.Errorf("value is false")
			}
		case ir.Unit:
			return fmt.Errorf("unit is zero")
		}
	case RuleBoolean:
		switch x := v.(type) {
		case ir.Bool:
		case ir.Int:
			if x != 0 && x != 1 {
				return fmt.Errorf("%d is not boolean", x)
			}
		default:
			return fmt.Errorf("boolean rule needs Bool, got %s", ir.KindName(v))
		}
	case RuleCustom:
		fn, ok := customs[r.Custom]
		if !ok {
			return fmt.Errorf("custom rule %q not registered", r.Custom)
		}
		return fn(v)
	default:
		return fmt.Errorf("unknown rule kind %d", r.Kind)
	}
	return nil
}

// InputSpec lists the rules one private input must satisfy.
type InputSpec struct {
	Rules []Rule `json:"rules,omitempty"`
}

// Step declares the private inputs of the instruction at PC.
type Step struct {
	PC     int         `json:"pc"`
	Inputs []InputSpec `json:"inputs"`
}

// Schema is a witness schema for one program. Steps are sorted by PC and
// each instruction appears at most once; instructions without a step take
// no private inputs.
type Schema struct {
	Program ir.ProgramID `json:"program"`
	Steps   []Step       `json:"steps"`
}

// NewSchema builds a schema from steps. It rejects duplicate or negative
// pcs.
func NewSchema(program ir.ProgramID, steps ...Step) (*Schema, error) {
	s := &Schema{Program: program, Steps: slices.Clone(steps)}
	slices.SortFunc(s.Steps, func(a, b Step) int { return a.PC - b.PC })
	for i, st := range s.Steps {
		if st.PC < 0 {
			return nil, witnessError(i, -1, "negative pc %d", st.PC)
		}
		if i > 0 && s.Steps[i-1].PC == st.PC {
			return nil, witnessError(i, -1, "duplicate step for pc %d", st.PC)
		}
	}
	return s, nil
}

// DefaultSchema declares every instruction of p with one unconstrained
// input per register it reads.
func DefaultSchema(p *machine.Program) (*Schema, error) {
	id, err := p.ID()
	if err != nil {
		return nil, err
	}
	s := &Schema{Program: id}
	for pc, op := range p.Code {
		in, ok := op.(machine.Instruction)
		if !ok {
			continue
		}
		s.Steps = append(s.Steps, Step{PC: pc, Inputs: make([]InputSpec, len(in.Reads()))})
	}
	return s, nil
}

// Step returns the step declared for pc.
func (s *Schema) Step(pc int) (Step, bool) {
	i, ok := slices.BinarySearchFunc(s.Steps, pc, func(st Step, pc int) int { return st.PC - pc })
	if !ok {
		return Step{}, false
	}
	return s.Steps[i], true
}

// Arity returns the total number of private inputs.
func (s *Schema) Arity() int {
	n := 0
	for _, st := range s.Steps {
		n += len(st.Inputs)
	}
	return n
}

// Rules returns the rules of every input in step order.
func (s *Schema) Rules() [][]Rule {
	var out [][]Rule
	for _, st := range s.Steps {
		for _, in := range st.Inputs {
			out = append(out, in.Rules)
		}
	}
	return out
}

// HashDomain implements ir.Entity.
func (*Schema) HashDomain() string { return ir.DomainSchema }

// EncodeTo implements ir.Canonical.
func (s *Schema) EncodeTo(e *ir.Encoder) {
	e.ID(ir.EntityID(s.Program))
	e.Len(len(s.Steps))
	for i, st := range s.Steps {
		if i > 0 && s.Steps[i-1].PC >= st.PC {
			e.Fail("schema steps not strictly ordered at pc %d", st.PC)
			return
		}
		e.Index(st.PC)
		e.Len(len(st.Inputs))
		for _, in := range st.Inputs {
			e.Len(len(in.Rules))
			for _, r := range in.Rules {
				r.EncodeTo(e)
			}
		}
	}
}

// ID returns the schema's content id.
func (s *Schema) ID() (ir.ContentID, error) { return ir.Hash(s) }

// Bytes returns the canonical encoding.
func (s *Schema) Bytes() ([]byte, error) { return ir.Encode(s) }

// DecodeSchema reads a schema written by Bytes.
func DecodeSchema(data []byte) (*Schema, error) {
	d := ir.NewDecoder(data)
	s := &Schema{Program: ir.ProgramID(d.ID())}
	n := d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		st := Step{PC: d.Index()}
		if i > 0 && d.Err() == nil && s.Steps[i-1].PC >= st.PC {
			d.Fail("schema steps not strictly ordered at pc %d", st.PC)
			break
		}
		m := d.Len()
		for j := 0; j < m && d.Err() == nil; j++ {
			var in InputSpec
			k := d.Len()
			for r := 0; r < k && d.Err() == nil; r++ {
				in.Rules = append(in.Rules, readRule(d))
			}
			st.Inputs = append(st.Inputs, in)
		}
		s.Steps = append(s.Steps, st)
	}
	if err := d.Finish(); err != nil {
		return nil, newError(ErrCodeInvalidProofData, err, "decode schema")
	}
	return s, nil
}
