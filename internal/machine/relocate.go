package machine

// Relocate shifts every code target in op by delta. Fragments are lowered
// with targets relative to their first op and relocated when concatenated.
func Relocate(op Op, delta int) Op {
	if delta == 0 {
		return op
	}
	switch o := op.(type) {
	case Jump:
		o.Target += delta
		return o
	case Call:
		o.Target += delta
		return o
	case PushHandlers:
		hs := make([]HandlerEntry, len(o.Handlers))
		for i, h := range o.Handlers {
			h.Entry += delta
			hs[i] = h
		}
		o.Handlers = hs
		return o
	case Fork:
		o.Left.Start += delta
		o.Left.End += delta
		o.Right.Start += delta
		o.Right.End += delta
		o.Continue += delta
		return o
	case Offer:
		bs := make([]Branch, len(o.Branches))
		for i, b := range o.Branches {
			b.Target += delta
			bs[i] = b
		}
		o.Branches = bs
		return o
	case Match:
		o.Else += delta
		return o
	case Begin:
		o.Abort += delta
		return o
	}
	return op
}

// RelocateAll returns a relocated copy of code.
func RelocateAll(code []Op, delta int) []Op {
	out := make([]Op, len(code))
	for i, op := range code {
		out[i] = Relocate(op, delta)
	}
	return out
}
