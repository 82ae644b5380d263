package machine

import (
	"github.com/roach88/causality/internal/ir"
)

func encodeRegList(e *ir.Encoder, rs []RegisterID) {
	e.Len(len(rs))
	for _, r := range rs {
		e.U32(uint32(r))
	}
}

func decodeRegList(d *ir.Decoder) []RegisterID {
	n := d.Len()
	if n == 0 {
		return nil
	}
	out := make([]RegisterID, 0, n)
	for i := 0; i < n && d.Err() == nil; i++ {
		out = append(out, RegisterID(d.U32()))
	}
	return out
}

func reg(d *ir.Decoder) RegisterID { return RegisterID(d.U32()) }

func (o Perform) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpPerform))
	e.String(o.Tag)
	encodeRegList(e, o.Args)
	e.U32(uint32(o.Output))
}

func (o PushHandlers) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpPushHandlers))
	e.Len(len(o.Handlers))
	var prev []byte
	for _, h := range o.Handlers {
		e.Ascending(prev, []byte(h.Tag))
		prev = []byte(h.Tag)
		e.String(h.Tag)
		e.Index(h.Entry)
		encodeRegList(e, h.Params)
	}
}

func (PopHandlers) EncodeTo(e *ir.Encoder) { e.Tag(byte(OpPopHandlers)) }

func (o Jump) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpJump))
	e.Index(o.Target)
}

func (o Call) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpCall))
	e.Index(o.Target)
}

func (Return) EncodeTo(e *ir.Encoder) { e.Tag(byte(OpReturn)) }

func (o Resume) EncodeTo(e *ir.Encoder) { encodeRegs(e, OpResume, o.Result) }

func (o Fork) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpFork))
	e.U8(uint8(o.Mode))
	e.Index(o.Left.Start)
	e.Index(o.Left.End)
	e.Index(o.Right.Start)
	e.Index(o.Right.End)
	e.U32(uint32(o.LeftOut))
	e.U32(uint32(o.RightOut))
	e.U32(uint32(o.Output))
	e.Index(o.Continue)
}

func (Yield) EncodeTo(e *ir.Encoder) { e.Tag(byte(OpYield)) }

func (o Mark) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpMark))
	e.String(o.Label)
	e.U8(uint8(o.Phase))
}

func (o Causal) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpCausal))
	e.U8(uint8(o.Kind))
	e.String(o.A)
	e.String(o.B)
	encodeRegList(e, o.Proofs)
	e.U32(uint32(o.Output))
}

func (o Barrier) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpBarrier))
	e.StringSet(o.Labels)
}

func (o Send) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpSend))
	e.String(o.Channel)
	e.U32(uint32(o.Value))
}

func (o Recv) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpRecv))
	e.String(o.Channel)
	e.U32(uint32(o.Output))
}

func (o Select) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpSelect))
	e.String(o.Channel)
	e.String(o.Label)
}

func (o Offer) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(OpOffer))
	e.String(o.Channel)
	e.Len(len(o.Branches))
	var prev []byte
	for _, b := range o.Branches {
		e.Ascending(prev, []byte(b.Label))
		prev = []byte(b.Label)
		e.String(b.Label)
		e.Index(b.Target)
	}
}

func (o Match) EncodeTo(e *ir.Encoder) {
	encodeRegs(e, OpMatch, o.Scrutinee, o.Left, o.Right)
	e.Index(o.Else)
}

func (o Begin) EncodeTo(e *ir.Encoder) {
	encodeRegs(e, OpBegin, o.Output)
	e.Index(o.Abort)
}

func (o Commit) EncodeTo(e *ir.Encoder) { encodeRegs(e, OpCommit, o.Result, o.Output) }

func (Halt) EncodeTo(e *ir.Encoder) { e.Tag(byte(OpHalt)) }

func (o Assert) EncodeTo(e *ir.Encoder) {
	encodeRegs(e, OpAssert, o.Register)
	o.Type.EncodeTo(e)
}

func (o Transition) EncodeTo(e *ir.Encoder) {
	encodeRegs(e, OpTransition, o.Resource, o.Output)
	e.U8(uint8(o.To))
}

func (o Split) EncodeTo(e *ir.Encoder) { encodeRegs(e, OpSplit, o.Pair, o.Left, o.Right) }

// DecodeOp reads one op written by its EncodeTo.
func DecodeOp(d *ir.Decoder) Op {
	tag := Opcode(d.Tag())
	if d.Err() != nil {
		return nil
	}
	switch tag {
	case OpTransform:
		return Transform{Morph: reg(d), Input: reg(d), Output: reg(d)}
	case OpAlloc:
		return Alloc{Type: reg(d), Init: reg(d), Output: reg(d)}
	case OpConsume:
		return Consume{Resource: reg(d), Output: reg(d)}
	case OpCompose:
		return Compose{First: reg(d), Second: reg(d), Output: reg(d)}
	case OpTensor:
		return Tensor{Left: reg(d), Right: reg(d), Output: reg(d)}
	case OpPerform:
		return Perform{Tag: d.String(), Args: decodeRegList(d), Output: reg(d)}
	case OpPushHandlers:
		n := d.Len()
		var hs []HandlerEntry
		var prev []byte
		for i := 0; i < n && d.Err() == nil; i++ {
			h := HandlerEntry{Tag: d.String()}
			d.Ascending(prev, []byte(h.Tag))
			prev = []byte(h.Tag)
			h.Entry = d.Index()
			h.Params = decodeRegList(d)
			hs = append(hs, h)
		}
		return PushHandlers{Handlers: hs}
	case OpPopHandlers:
		return PopHandlers{}
	case OpJump:
		return Jump{Target: d.Index()}
	case OpCall:
		return Call{Target: d.Index()}
	case OpReturn:
		return Return{}
	case OpResume:
		return Resume{Result: reg(d)}
	case OpFork:
		f := Fork{Mode: ForkMode(d.U8())}
		f.Left = Block{Start: d.Index(), End: d.Index()}
		f.Right = Block{Start: d.Index(), End: d.Index()}
		f.LeftOut, f.RightOut, f.Output = reg(d), reg(d), reg(d)
		f.Continue = d.Index()
		if f.Mode != ForkParallel && f.Mode != ForkRace {
			d.Fail("unknown fork mode %d", f.Mode)
		}
		return f
	case OpYield:
		return Yield{}
	case OpMark:
		m := Mark{Label: d.String(), Phase: Phase(d.U8())}
		if m.Phase != PhaseStart && m.Phase != PhaseComplete {
			d.Fail("unknown phase %d", m.Phase)
		}
		return m
	case OpCausal:
		c := Causal{Kind: CausalKind(d.U8()), A: d.String(), B: d.String(), Proofs: decodeRegList(d), Output: reg(d)}
		if _, ok := causalNames[c.Kind]; !ok {
			d.Fail("unknown causal kind %d", c.Kind)
		}
		return c
	case OpBarrier:
		return Barrier{Labels: d.StringSet()}
	case OpSend:
		return Send{Channel: d.String(), Value: reg(d)}
	case OpRecv:
		return Recv{Channel: d.String(), Output: reg(d)}
	case OpSelect:
		return Select{Channel: d.String(), Label: d.String()}
	case OpOffer:
		o := Offer{Channel: d.String()}
		n := d.Len()
		var prev []byte
		for i := 0; i < n && d.Err() == nil; i++ {
			b := Branch{Label: d.String()}
			d.Ascending(prev, []byte(b.Label))
			prev = []byte(b.Label)
			b.Target = d.Index()
			o.Branches = append(o.Branches, b)
		}
		return o
	case OpMatch:
		return Match{Scrutinee: reg(d), Left: reg(d), Right: reg(d), Else: d.Index()}
	case OpBegin:
		return Begin{Output: reg(d), Abort: d.Index()}
	case OpCommit:
		return Commit{Result: reg(d), Output: reg(d)}
	case OpHalt:
		return Halt{}
	case OpAssert:
		return Assert{Register: reg(d), Type: ir.DecodeType(d)}
	case OpSplit:
		return Split{Pair: reg(d), Left: reg(d), Right: reg(d)}
	case OpTransition:
		t := Transition{Resource: reg(d), Output: reg(d), To: ResourceState(d.U8())}
		if t.To < Active || t.To > Consumed {
			d.Fail("unknown resource state %d", t.To)
		}
		return t
	}
	d.Fail("unknown opcode 0x%02x", uint8(tag))
	return nil
}
