package machine

import (
	"fmt"
	"strings"

	"github.com/roach88/causality/internal/ir"
)

// Directive opcodes. Directives steer control flow and the effect runtime;
// they never produce trace entries.
const (
	OpPerform Opcode = iota + 0x10
	OpPushHandlers
	OpPopHandlers
	OpJump
	OpCall
	OpReturn
	OpResume
	OpFork
	OpYield
	OpMark
	OpCausal
	OpBarrier
	OpSend
	OpRecv
	OpSelect
	OpOffer
	OpMatch
	OpBegin
	OpCommit
	OpHalt
	OpAssert
	OpTransition
	OpSplit
)

var opNames = map[Opcode]string{
	OpTransform:    "transform",
	OpAlloc:        "alloc",
	OpConsume:      "consume",
	OpCompose:      "compose",
	OpTensor:       "tensor",
	OpPerform:      "perform",
	OpPushHandlers: "push-handlers",
	OpPopHandlers:  "pop-handlers",
	OpJump:         "jump",
	OpCall:         "call",
	OpReturn:       "return",
	OpResume:       "resume",
	OpFork:         "fork",
	OpYield:        "yield",
	OpMark:         "mark",
	OpCausal:       "causal",
	OpBarrier:      "barrier",
	OpSend:         "send",
	OpRecv:         "recv",
	OpSelect:       "select",
	OpOffer:        "offer",
	OpMatch:        "match",
	OpBegin:        "begin",
	OpCommit:       "commit",
	OpHalt:         "halt",
	OpAssert:       "assert",
	OpTransition:   "transition",
	OpSplit:        "split",
}

func (op Opcode) String() string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Perform queues an effect and suspends the task until a handler resumes
// it with a value for Output.
type Perform struct {
	Tag    string
	Args   []RegisterID
	Output RegisterID
}

// HandlerEntry binds an effect tag to a compiled handler block. On
// dispatch the effect arguments are written to Params and control enters
// at Entry; the block ends with Resume.
type HandlerEntry struct {
	Tag    string
	Entry  int
	Params []RegisterID
}

// PushHandlers opens a handler scope. Entries are sorted by tag.
type PushHandlers struct {
	Handlers []HandlerEntry
}

// PopHandlers closes the innermost handler scope.
type PopHandlers struct{}

// Jump moves pc forward to Target.
type Jump struct{ Target int }

// Call pushes a return address and moves pc to Target.
type Call struct{ Target int }

// Return pops the call stack.
type Return struct{}

// Resume returns from a handler block, delivering Result to the
// suspended Perform.
type Resume struct{ Result RegisterID }

// ForkMode selects the join behavior of a Fork.
type ForkMode uint8

const (
	ForkParallel ForkMode = iota + 1
	ForkRace
)

func (m ForkMode) String() string {
	if m == ForkRace {
		return "race"
	}
	return "parallel"
}

// Block is a half-open pc range [Start, End).
type Block struct{ Start, End int }

// Fork runs two blocks as logical tasks. Parallel pairs LeftOut and
// RightOut into Output once both finish; Race writes inl/inr of the first
// finisher and cancels the other. The parent resumes at Continue.
type Fork struct {
	Mode              ForkMode
	Left, Right       Block
	LeftOut, RightOut RegisterID
	Output            RegisterID
	Continue          int
}

// Yield is a bare suspension point, emitted where a bind resolves an
// effectful argument.
type Yield struct{}

// Phase marks the start or completion of a labelled effect.
type Phase uint8

const (
	PhaseStart Phase = iota + 1
	PhaseComplete
)

func (p Phase) String() string {
	if p == PhaseComplete {
		return "complete"
	}
	return "start"
}

// Mark records a phase of a labelled effect in the causal log.
type Mark struct {
	Label string
	Phase Phase
}

// CausalKind selects a causal operation.
type CausalKind uint8

const (
	CausalDepend CausalKind = iota + 1
	CausalSequence
	CausalVerify
	CausalHappensBefore
	CausalConcurrent
	CausalConsistent
)

var causalNames = map[CausalKind]string{
	CausalDepend:        "depend",
	CausalSequence:      "sequence",
	CausalVerify:        "verify",
	CausalHappensBefore: "happens-before",
	CausalConcurrent:    "concurrent",
	CausalConsistent:    "consistent",
}

func (k CausalKind) String() string {
	if n, ok := causalNames[k]; ok {
		return n
	}
	return fmt.Sprintf("causal(%d)", uint8(k))
}

// Causal evaluates a causal operation over labels A and B or over the
// proof values held in Proofs, writing the result to Output.
type Causal struct {
	Kind   CausalKind
	A, B   string
	Proofs []RegisterID
	Output RegisterID
}

// Barrier suspends the task until every labelled effect has completed.
type Barrier struct{ Labels []string }

// Send moves a value onto a session channel.
type Send struct {
	Channel string
	Value   RegisterID
}

// Recv takes the next value from a channel, suspending while it is empty.
type Recv struct {
	Channel string
	Output  RegisterID
}

// Select sends a branch label on a channel.
type Select struct {
	Channel string
	Label   string
}

// Branch is one arm of an Offer.
type Branch struct {
	Label  string
	Target int
}

// Offer receives a branch label and jumps to the matching arm.
// Branches are sorted by label.
type Offer struct {
	Channel  string
	Branches []Branch
}

// Match eliminates a sum: inl payloads go to Left and execution falls
// through; inr payloads go to Right and pc jumps to Else.
type Match struct {
	Scrutinee   RegisterID
	Left, Right RegisterID
	Else        int
}

// Begin opens a transaction. If the transaction fails, state is rolled
// back, Output receives inr of the failure code and pc jumps to Abort.
type Begin struct {
	Output RegisterID
	Abort  int
}

// Commit closes the innermost transaction; Output receives inl of Result.
type Commit struct {
	Result RegisterID
	Output RegisterID
}

// Halt terminates the current task.
type Halt struct{}

// Assert adds a constraint that the value in Register conforms to Type.
// Constraints are checked at termination.
type Assert struct {
	Register RegisterID
	Type     ir.TypeTag
}

// Transition moves the resource referenced by Resource along a lifecycle
// edge; the reference moves to Output.
type Transition struct {
	Resource RegisterID
	Output   RegisterID
	To       ResourceState
}

// Split eliminates a pair into Left and Right. Both components inherit
// the pair's discipline.
type Split struct {
	Pair        RegisterID
	Left, Right RegisterID
}

func (Perform) Opcode() Opcode      { return OpPerform }
func (PushHandlers) Opcode() Opcode { return OpPushHandlers }
func (PopHandlers) Opcode() Opcode  { return OpPopHandlers }
func (Jump) Opcode() Opcode         { return OpJump }
func (Call) Opcode() Opcode         { return OpCall }
func (Return) Opcode() Opcode       { return OpReturn }
func (Resume) Opcode() Opcode       { return OpResume }
func (Fork) Opcode() Opcode         { return OpFork }
func (Yield) Opcode() Opcode        { return OpYield }
func (Mark) Opcode() Opcode         { return OpMark }
func (Causal) Opcode() Opcode       { return OpCausal }
func (Barrier) Opcode() Opcode      { return OpBarrier }
func (Send) Opcode() Opcode         { return OpSend }
func (Recv) Opcode() Opcode         { return OpRecv }
func (Select) Opcode() Opcode       { return OpSelect }
func (Offer) Opcode() Opcode        { return OpOffer }
func (Match) Opcode() Opcode        { return OpMatch }
func (Begin) Opcode() Opcode        { return OpBegin }
func (Commit) Opcode() Opcode       { return OpCommit }
func (Halt) Opcode() Opcode         { return OpHalt }
func (Assert) Opcode() Opcode       { return OpAssert }
func (Transition) Opcode() Opcode   { return OpTransition }
func (Split) Opcode() Opcode        { return OpSplit }

func regList(rs []RegisterID) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (d Perform) String() string {
	return fmt.Sprintf("perform %s %s -> %s", d.Tag, regList(d.Args), d.Output)
}

func (d PushHandlers) String() string {
	parts := make([]string, len(d.Handlers))
	for i, h := range d.Handlers {
		parts[i] = fmt.Sprintf("%s@%d%s", h.Tag, h.Entry, regList(h.Params))
	}
	return "push-handlers " + strings.Join(parts, " ")
}

func (PopHandlers) String() string { return "pop-handlers" }
func (d Jump) String() string      { return fmt.Sprintf("jump %d", d.Target) }
func (d Call) String() string      { return fmt.Sprintf("call %d", d.Target) }
func (Return) String() string      { return "return" }
func (d Resume) String() string    { return "resume " + d.Result.String() }

func (d Fork) String() string {
	return fmt.Sprintf("fork %s [%d,%d)->%s [%d,%d)->%s => %s cont %d",
		d.Mode, d.Left.Start, d.Left.End, d.LeftOut, d.Right.Start, d.Right.End, d.RightOut, d.Output, d.Continue)
}

func (Yield) String() string  { return "yield" }
func (d Mark) String() string { return fmt.Sprintf("mark %s %s", d.Label, d.Phase) }

func (d Causal) String() string {
	if len(d.Proofs) > 0 {
		return fmt.Sprintf("causal %s %s -> %s", d.Kind, regList(d.Proofs), d.Output)
	}
	return fmt.Sprintf("causal %s %s %s -> %s", d.Kind, d.A, d.B, d.Output)
}

func (d Barrier) String() string { return "barrier " + strings.Join(d.Labels, " ") }
func (d Send) String() string    { return fmt.Sprintf("send %s %s", d.Channel, d.Value) }
func (d Recv) String() string    { return fmt.Sprintf("recv %s -> %s", d.Channel, d.Output) }
func (d Select) String() string  { return fmt.Sprintf("select %s %s", d.Channel, d.Label) }

func (d Offer) String() string {
	parts := make([]string, len(d.Branches))
	for i, b := range d.Branches {
		parts[i] = fmt.Sprintf("%s@%d", b.Label, b.Target)
	}
	return fmt.Sprintf("offer %s %s", d.Channel, strings.Join(parts, " "))
}

func (d Match) String() string {
	return fmt.Sprintf("match %s inl->%s inr->%s@%d", d.Scrutinee, d.Left, d.Right, d.Else)
}

func (d Begin) String() string  { return fmt.Sprintf("begin -> %s abort %d", d.Output, d.Abort) }
func (d Commit) String() string { return fmt.Sprintf("commit %s -> %s", d.Result, d.Output) }
func (Halt) String() string     { return "halt" }

func (d Assert) String() string { return fmt.Sprintf("assert %s : %s", d.Register, d.Type) }

func (d Transition) String() string {
	return fmt.Sprintf("transition %s %s -> %s", d.Resource, d.To, d.Output)
}

func (d Split) String() string {
	return fmt.Sprintf("split %s -> %s %s", d.Pair, d.Left, d.Right)
}
