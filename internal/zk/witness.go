package zk

import (
	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
)

// WitnessStep holds the private inputs extracted for one schema step.
type WitnessStep struct {
	PC     int        `json:"pc"`
	Values []ir.Value `json:"values"`
}

// Witness is the private input to a proof. It is bound to a program, the
// schema it was validated against and, when built from a run, the trace.
type Witness struct {
	Program ir.ProgramID  `json:"program"`
	Schema  ir.ContentID  `json:"schema"`
	Trace   ir.ContentID  `json:"trace"`
	Steps   []WitnessStep `json:"steps"`
}

// GenerateWitness extracts the private inputs named by schema from trace
// and validates them. Each step takes its values from the first successful
// entry at that pc.
func GenerateWitness(trace *executor.Trace, schema *Schema, customs Customs) (*Witness, error) {
	if trace.Program != schema.Program {
		return nil, witnessError(-1, -1, "trace is for program %s, schema for %s", trace.Program.Short(), schema.Program.Short())
	}
	sid, err := schema.ID()
	if err != nil {
		return nil, newError(ErrCodeWitnessValidation, err, "hash schema")
	}
	tid, err := trace.Hash()
	if err != nil {
		return nil, newError(ErrCodeWitnessValidation, err, "hash trace")
	}
	first := make(map[int]executor.TraceEntry, len(trace.Entries))
	for _, en := range trace.Entries {
		if en.Failed() {
			continue
		}
		if _, seen := first[en.PC]; !seen {
			first[en.PC] = en
		}
	}
	w := &Witness{Program: schema.Program, Schema: sid, Trace: tid}
	for i, st := range schema.Steps {
		en, ok := first[st.PC]
		if !ok {
			return nil, witnessError(i, -1, "no executed instruction at pc %d", st.PC)
		}
		w.Steps = append(w.Steps, WitnessStep{PC: st.PC, Values: en.Inputs})
	}
	if err := w.Validate(schema, customs); err != nil {
		return nil, err
	}
	return w, nil
}

// NewWitness builds a witness from values supplied directly, one slice per
// schema step, and validates it.
func NewWitness(schema *Schema, customs Customs, values ...[]ir.Value) (*Witness, error) {
	if len(values) != len(schema.Steps) {
		return nil, witnessError(-1, -1, "schema has %d steps, got %d", len(schema.Steps), len(values))
	}
	sid, err := schema.ID()
	if err != nil {
		return nil, newError(ErrCodeWitnessValidation, err, "hash schema")
	}
	w := &Witness{Program: schema.Program, Schema: sid}
	for i, st := range schema.Steps {
		w.Steps = append(w.Steps, WitnessStep{PC: st.PC, Values: values[i]})
	}
	if err := w.Validate(schema, customs); err != nil {
		return nil, err
	}
	return w, nil
}

// Validate checks that w matches schema step for step and that every value
// satisfies its rules.
func (w *Witness) Validate(schema *Schema, customs Customs) error {
	return w.check(schema, customs, true)
}

// check is Validate; with custom false it skips Custom rules, which
// backends cannot evaluate (CP-3).
func (w *Witness) check(schema *Schema, customs Customs, custom bool) error {
	if w.Program != schema.Program {
		return witnessError(-1, -1, "witness is for program %s, schema for %s", w.Program.Short(), schema.Program.Short())
	}
	if sid, err := schema.ID(); err != nil || sid != w.Schema {
		return witnessError(-1, -1, "witness was built for schema %s", w.Schema.Short())
	}
	if len(w.Steps) != len(schema.Steps) {
		return witnessError(-1, -1, "schema has %d steps, witness %d", len(schema.Steps), len(w.Steps))
	}
	for i, st := range schema.Steps {
		ws := w.Steps[i]
		if ws.PC != st.PC {
			return witnessError(i, -1, "witness step at pc %d, schema at pc %d", ws.PC, st.PC)
		}
		if len(ws.Values) != len(st.Inputs) {
			return witnessError(i, -1, "expected %d inputs, got %d", len(st.Inputs), len(ws.Values))
		}
		for j, in := range st.Inputs {
			for _, r := range in.Rules {
				if r.Kind == RuleCustom && !custom {
					continue
				}
				if err := r.Check(ws.Values[j], customs); err != nil {
					e := witnessError(i, j, "%s: %v", r, err)
					e.Cause = err
					return e
				}
			}
		}
	}
	return nil
}

// Values returns every private input in step order.
func (w *Witness) Values() []ir.Value {
	var out []ir.Value
	for _, st := range w.Steps {
		out = append(out, st.Values...)
	}
	return out
}

// HashDomain implements ir.Entity.
func (*Witness) HashDomain() string { return ir.DomainWitness }

// EncodeTo implements ir.Canonical.
func (w *Witness) EncodeTo(e *ir.Encoder) {
	e.ID(ir.EntityID(w.Program))
	e.ID(w.Schema)
	e.ID(w.Trace)
	e.Len(len(w.Steps))
	for _, st := range w.Steps {
		e.Index(st.PC)
		e.Len(len(st.Values))
		for _, v := range st.Values {
			ir.EncodeValue(e, v)
		}
	}
}

// ID returns the witness's content id.
func (w *Witness) ID() (ir.ContentID, error) { return ir.Hash(w) }

// Bytes returns the canonical encoding.
func (w *Witness) Bytes() ([]byte, error) { return ir.Encode(w) }

// DecodeWitness reads a witness written by Bytes.
func DecodeWitness(data []byte) (*Witness, error) {
	d := ir.NewDecoder(data)
	w := &Witness{Program: ir.ProgramID(d.ID()), Schema: d.ID(), Trace: d.ID()}
	n := d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		st := WitnessStep{PC: d.Index()}
		m := d.Len()
		for j := 0; j < m && d.Err() == nil; j++ {
			st.Values = append(st.Values, ir.DecodeValue(d))
		}
		w.Steps = append(w.Steps, st)
	}
	if err := d.Finish(); err != nil {
		return nil, newError(ErrCodeInvalidProofData, err, "decode witness")
	}
	return w, nil
}
