package executor

import (
	"errors"
	"fmt"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

// TraceEntry records one executed instruction. Inputs are the values the
// instruction read, in register order; they are the private inputs a
// witness is built from. A failing entry carries the failure tag and no
// post-state.
type TraceEntry struct {
	Task        uint32
	PC          int
	Instruction machine.Instruction
	Inputs      []ir.Value
	Pre         ir.ContentID
	Post        ir.ContentID
	Events      []machine.ResourceEvent
	Failure     string
}

// Failed reports whether the instruction aborted.
func (t TraceEntry) Failed() bool { return t.Failure != "" }

// EncodeTo implements ir.Canonical.
func (t TraceEntry) EncodeTo(e *ir.Encoder) {
	e.U32(t.Task)
	e.Index(t.PC)
	if t.Instruction == nil {
		e.Fail("trace entry without instruction")
		return
	}
	t.Instruction.EncodeTo(e)
	e.Len(len(t.Inputs))
	for _, v := range t.Inputs {
		ir.EncodeValue(e, v)
	}
	e.ID(t.Pre)
	e.ID(t.Post)
	e.Len(len(t.Events))
	for _, ev := range t.Events {
		ev.EncodeTo(e)
	}
	e.String(t.Failure)
}

func readEntry(d *ir.Decoder) TraceEntry {
	t := TraceEntry{Task: d.U32(), PC: d.Index()}
	op := machine.DecodeOp(d)
	if in, ok := op.(machine.Instruction); ok {
		t.Instruction = in
	} else if d.Err() == nil {
		d.Fail("trace entry holds directive %v", op)
	}
	n := d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		t.Inputs = append(t.Inputs, ir.DecodeValue(d))
	}
	t.Pre = d.ID()
	t.Post = d.ID()
	n = d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		t.Events = append(t.Events, machine.DecodeResourceEvent(d))
	}
	t.Failure = d.String()
	return t
}

func (t TraceEntry) String() string {
	s := fmt.Sprintf("%4d t%d %-28s %s -> ", t.PC, t.Task, t.Instruction, t.Pre.Short())
	if t.Failed() {
		return s + "FAILED " + t.Failure
	}
	return s + t.Post.Short()
}

// EventKind classifies a runtime event.
type EventKind uint8

const (
	EventPerform EventKind = iota + 1
	EventHandled
	EventMark
	EventCausal
	EventFork
	EventJoin
	EventCancel
	EventSend
	EventRecv
	EventCommit
	EventRollback
	EventTransition
)

var eventNames = map[EventKind]string{
	EventPerform:    "perform",
	EventHandled:    "handled",
	EventMark:       "mark",
	EventCausal:     "causal",
	EventFork:       "fork",
	EventJoin:       "join",
	EventCancel:     "cancel",
	EventSend:       "send",
	EventRecv:       "recv",
	EventCommit:     "commit",
	EventRollback:   "rollback",
	EventTransition: "transition",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event is a directive-level occurrence: effects, causal records, session
// traffic and resource changes made outside instructions.
type Event struct {
	Kind      EventKind
	Task      uint32
	PC        int
	Subject   string
	Detail    string
	Resources []machine.ResourceEvent
}

// EncodeTo implements ir.Canonical.
func (ev Event) EncodeTo(e *ir.Encoder) {
	e.Tag(byte(ev.Kind))
	e.U32(ev.Task)
	e.Index(ev.PC)
	e.String(ev.Subject)
	e.String(ev.Detail)
	e.Len(len(ev.Resources))
	for _, r := range ev.Resources {
		r.EncodeTo(e)
	}
}

func readEvent(d *ir.Decoder) Event {
	ev := Event{Kind: EventKind(d.Tag()), Task: d.U32(), PC: d.Index(), Subject: d.String(), Detail: d.String()}
	n := d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		ev.Resources = append(ev.Resources, machine.DecodeResourceEvent(d))
	}
	return ev
}

func (ev Event) String() string {
	s := fmt.Sprintf("%4d t%d %s %s", ev.PC, ev.Task, ev.Kind, ev.Subject)
	if ev.Detail != "" {
		s += " " + ev.Detail
	}
	return s
}

// Trace is the append-only record of one run. Its hash is the witness
// identity.
type Trace struct {
	Program ir.ProgramID
	Entries []TraceEntry
	Events  []Event
	Final   ir.ContentID
	Failure string
}

// HashDomain implements ir.Entity.
func (*Trace) HashDomain() string { return ir.DomainTrace }

// EncodeTo implements ir.Canonical.
func (t *Trace) EncodeTo(e *ir.Encoder) {
	e.ID(ir.EntityID(t.Program))
	e.Len(len(t.Entries))
	for _, en := range t.Entries {
		en.EncodeTo(e)
	}
	e.Len(len(t.Events))
	for _, ev := range t.Events {
		ev.EncodeTo(e)
	}
	e.ID(t.Final)
	e.String(t.Failure)
}

// Len returns the number of instruction entries.
func (t *Trace) Len() int { return len(t.Entries) }

// Failed reports whether the run aborted.
func (t *Trace) Failed() bool { return t.Failure != "" }

// Hash returns the trace hash.
func (t *Trace) Hash() (ir.ContentID, error) { return ir.Hash(t) }

// Bytes returns the canonical encoding.
func (t *Trace) Bytes() ([]byte, error) { return ir.Encode(t) }

// Instructions returns the executed instructions in order.
func (t *Trace) Instructions() []machine.Instruction {
	out := make([]machine.Instruction, len(t.Entries))
	for i, en := range t.Entries {
		out[i] = en.Instruction
	}
	return out
}

// DecodeTrace reads a trace written by Bytes.
func DecodeTrace(data []byte) (*Trace, error) {
	d := ir.NewDecoder(data)
	t := &Trace{Program: ir.ProgramID(d.ID())}
	n := d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		t.Entries = append(t.Entries, readEntry(d))
	}
	n = d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		t.Events = append(t.Events, readEvent(d))
	}
	t.Final = d.ID()
	t.Failure = d.String()
	if err := d.Finish(); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return t, nil
}

// ErrTraceFinalized is returned when appending to a finalized trace.
var ErrTraceFinalized = errors.New("trace is finalized")

// TraceBuilder accumulates a trace during execution.
type TraceBuilder struct {
	trace     Trace
	finalized bool
}

// NewTraceBuilder starts a trace for program.
func NewTraceBuilder(program ir.ProgramID) *TraceBuilder {
	return &TraceBuilder{trace: Trace{Program: program}}
}

// Append adds an instruction entry.
func (b *TraceBuilder) Append(en TraceEntry) error {
	if b.finalized {
		return ErrTraceFinalized
	}
	b.trace.Entries = append(b.trace.Entries, en)
	return nil
}

// Event adds a runtime event.
func (b *TraceBuilder) Event(ev Event) error {
	if b.finalized {
		return ErrTraceFinalized
	}
	b.trace.Events = append(b.trace.Events, ev)
	return nil
}

// Len returns the number of entries so far.
func (b *TraceBuilder) Len() int { return len(b.trace.Entries) }

// Finalize closes the trace with the final state hash and failure tag.
// Later calls return the same trace.
func (b *TraceBuilder) Finalize(final ir.ContentID, failure string) *Trace {
	if !b.finalized {
		b.trace.Final = final
		b.trace.Failure = failure
		b.finalized = true
	}
	return &b.trace
}

// Finalized reports whether Finalize was called.
func (b *TraceBuilder) Finalized() bool { return b.finalized }
