package executor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/causality/internal/effect"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/linear"
	"github.com/roach88/causality/internal/machine"
)

// HostCall is an effect delivered to a host handler.
type HostCall struct {
	Effect ir.EffectID
	Tag    string
	Args   []ir.Value
	Task   uint32
}

// HostHandler handles effects the program does not handle itself. The
// returned value is written to the perform's output register; nil means
// unit.
type HostHandler func(ctx context.Context, call HostCall) (ir.Value, error)

// Stats counts what one run did.
type Stats struct {
	Instructions  int    `json:"instructions"`
	Directives    int    `json:"directives"`
	Effects       int    `json:"effects"`
	Suspensions   int    `json:"suspensions"`
	Tasks         int    `json:"tasks"`
	Cancellations int    `json:"cancellations"`
	Rollbacks     int    `json:"rollbacks"`
	GasUsed       uint64 `json:"gas_used"`
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithLimits sets the gas budget and call depth.
func WithLimits(lim machine.Limits) Option {
	return func(e *Executor) { e.limits = lim }
}

// WithHeap starts the run over a copy of heap.
func WithHeap(h *machine.Heap) Option {
	return func(e *Executor) { e.heap = h }
}

// WithHandler installs a host handler for tag.
func WithHandler(tag string, h HostHandler) Option {
	return func(e *Executor) { e.hosts[tag] = h }
}

// WithCapabilities restricts host handlers to the granted tags. Without
// this option every installed host handler may run.
func WithCapabilities(tags ...string) Option {
	return func(e *Executor) {
		if e.caps == nil {
			e.caps = make(map[string]bool, len(tags))
		}
		for _, t := range tags {
			e.caps[t] = true
		}
	}
}

// WithVerifyLaws checks each instruction's category laws before it runs.
func WithVerifyLaws(on bool) Option {
	return func(e *Executor) { e.verifyLaws = on }
}

// WithMetrics records run outcomes into m.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithClock sets the clock that orders marks.
func WithClock(c *Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

type message struct {
	value ir.Value
	lin   ir.Linearity
}

// Executor runs a program's instructions and directives under a
// cooperative, deterministic scheduler. It is not safe for concurrent use.
type Executor struct {
	program *machine.Program
	id      ir.ProgramID
	state   *machine.State
	trace   *TraceBuilder
	final   *Trace
	log     *CausalLog
	clock   *Clock

	hosts      map[string]HostHandler
	caps       map[string]bool
	sessions   map[string][]message
	limits     machine.Limits
	heap       *machine.Heap
	verifyLaws bool
	logger     *zap.Logger
	metrics    *Metrics

	tasks  []*task
	cur    *task
	last   uint32
	nextID uint32

	done   bool
	result ir.Value
	err    error
	stats  Stats
}

// New prepares an execution of p.
func New(p *machine.Program, opts ...Option) (*Executor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	id, err := p.ID()
	if err != nil {
		return nil, err
	}
	e := &Executor{
		program:  p,
		id:       id,
		hosts:    make(map[string]HostHandler),
		sessions: make(map[string][]message),
		limits:   machine.DefaultLimits(),
		logger:   zap.NewNop(),
		clock:    NewClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state, err = machine.NewStateWithHeap(p, e.limits, e.heap)
	if err != nil {
		return nil, err
	}
	e.log = NewCausalLog(e.clock)
	e.trace = NewTraceBuilder(id)
	root := &task{id: 0, end: len(p.Code), status: taskReady}
	e.tasks = []*task{root}
	e.cur = root
	e.nextID = 1
	e.stats.Tasks = 1
	return e, nil
}

// Execute runs the program to termination and returns the value left in
// the result register. A cancelled context stops the run between steps
// without finishing it.
func (e *Executor) Execute(ctx context.Context) (ir.Value, error) {
	for !e.done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.advance(ctx)
	}
	return e.result, e.err
}

// Step runs until the next instruction has executed and returns the value
// it wrote. It reports false once the program has terminated.
func (e *Executor) Step(ctx context.Context) (ir.Value, bool, error) {
	for !e.done {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		en := e.advance(ctx)
		if en == nil || en.Failed() {
			continue
		}
		var v ir.Value = ir.Unit{}
		if ws := en.Instruction.Writes(); len(ws) > 0 {
			if got, ok := e.state.Registers.Peek(ws[0]); ok {
				v = got
			}
		}
		return v, true, nil
	}
	return nil, false, e.err
}

// Done reports whether the run has terminated.
func (e *Executor) Done() bool { return e.done }

// Result returns the outcome of a terminated run.
func (e *Executor) Result() (ir.Value, error) {
	if !e.done {
		return nil, &Error{Code: ErrCodeTerminated, Message: "run has not terminated"}
	}
	return e.result, e.err
}

// Trace returns the finalized trace, or nil while the run is live.
func (e *Executor) Trace() *Trace { return e.final }

// State exposes the machine state.
func (e *Executor) State() *machine.State { return e.state }

// Log returns the causal log.
func (e *Executor) Log() *CausalLog { return e.log }

// Program returns the program id.
func (e *Executor) Program() ir.ProgramID { return e.id }

// Stats returns the counters so far.
func (e *Executor) Stats() Stats {
	s := e.stats
	s.GasUsed = e.limits.Gas - e.state.Gas
	return s
}

// advance performs one scheduling step. It returns the trace entry when
// the step executed an instruction.
func (e *Executor) advance(ctx context.Context) *TraceEntry {
	t := e.cur
	if t == nil || t.status != taskReady || t.cancel {
		if t = e.schedule(); t == nil {
			return nil
		}
		e.cur = t
	}
	if t.pending != nil {
		e.dispatch(ctx, t)
		return nil
	}
	if t.pc >= t.end {
		e.finishTask(t)
		return nil
	}
	op := e.program.Code[t.pc]
	if in, ok := op.(machine.Instruction); ok {
		return e.instruction(t, in)
	}
	e.stats.Directives++
	e.directive(t, op)
	return nil
}

// schedule picks the next runnable task in id order after the one that
// ran last, wrapping around. Tasks flagged for cancellation are reaped on
// the way.
func (e *Executor) schedule() *task {
	e.tasks = slices.DeleteFunc(e.tasks, func(t *task) bool { return !t.live() })
	n := len(e.tasks)
	start, _ := slices.BinarySearchFunc(e.tasks, e.last+1, func(t *task, id uint32) int {
		switch {
		case t.id < id:
			return -1
		case t.id > id:
			return 1
		}
		return 0
	})
	for i := range n {
		t := e.tasks[(start+i)%n]
		if t.cancel && t.live() {
			e.cancelTask(t)
			continue
		}
		if e.runnable(t) {
			t.status = taskReady
			e.last = t.id
			return t
		}
	}
	var blocked []string
	for _, t := range e.tasks {
		if t.live() {
			blocked = append(blocked, fmt.Sprintf("t%d@%d", t.id, t.pc))
		}
	}
	e.abort(&Error{Code: ErrCodeDeadlock, Message: "no runnable task: " + strings.Join(blocked, " ")})
	return nil
}

func (e *Executor) runnable(t *task) bool {
	switch t.status {
	case taskReady:
		return true
	case taskBlocked:
		switch op := e.program.Code[t.pc].(type) {
		case machine.Barrier:
			return e.barrierMet(op.Labels)
		case machine.Recv:
			return len(e.sessions[op.Channel]) > 0
		case machine.Offer:
			return len(e.sessions[op.Channel]) > 0
		}
	}
	return false
}

func (e *Executor) barrierMet(labels []string) bool {
	for _, l := range labels {
		if !e.log.Completed(l) {
			return false
		}
	}
	return true
}

// suspend ends the task's turn at a suspension point.
func (e *Executor) suspend(t *task) {
	e.stats.Suspensions++
	e.cur = nil
	e.last = t.id
}

func (e *Executor) block(t *task) {
	t.status = taskBlocked
	e.suspend(t)
}

func (e *Executor) load(t *task) {
	e.state.PC = t.pc
	e.state.CallStack = t.calls
}

func (e *Executor) save(t *task) {
	t.pc = e.state.PC
	t.calls = e.state.CallStack
}

func (e *Executor) emit(ev Event) {
	_ = e.trace.Event(ev)
}

func (e *Executor) write(t *task, r machine.RegisterID, v ir.Value, l ir.Linearity) error {
	if err := e.state.Registers.Write(r, v, l); err != nil {
		return err
	}
	t.own(r)
	return nil
}

func (e *Executor) instruction(t *task, in machine.Instruction) *TraceEntry {
	e.load(t)
	pre, err := e.state.Hash()
	if err != nil {
		e.abort(err)
		return nil
	}
	en := TraceEntry{Task: t.id, PC: t.pc, Instruction: in, Pre: pre}
	for _, r := range in.Reads() {
		if v, ok := e.state.Registers.Peek(r); ok {
			en.Inputs = append(en.Inputs, v)
		}
	}
	if e.verifyLaws {
		err = in.VerifyCategoryLaws(e.state.Registers)
	}
	if err == nil {
		en.Events, err = e.state.Exec(in)
	}
	if err != nil {
		en.Failure = FailureTag(err)
		_ = e.trace.Append(en)
		e.fail(t, err)
		return &en
	}
	e.state.PC++
	e.save(t)
	t.own(in.Writes()...)
	if en.Post, err = e.state.Hash(); err != nil {
		e.abort(err)
		return nil
	}
	_ = e.trace.Append(en)
	e.stats.Instructions++
	return &en
}

func (e *Executor) directive(t *task, op machine.Op) {
	var err error
	switch op := op.(type) {
	case machine.Halt:
		e.finishTask(t)
	case machine.Perform:
		err = e.perform(t, op)
	case machine.PushHandlers:
		t.handlers = append(t.handlers, op.Handlers)
		t.pc++
	case machine.PopHandlers:
		if len(t.handlers) == 0 {
			err = &Error{Code: ErrCodeUnbalanced, Message: "pop without handler scope", Task: t.id, PC: t.pc}
			break
		}
		t.handlers = t.handlers[:len(t.handlers)-1]
		t.pc++
	case machine.Resume:
		err = e.resume(t, op)
	case machine.Fork:
		if len(t.txs) > 0 {
			// A rollback restores the whole machine, including the
			// registers of the branches.
			e.abort(&Error{Code: ErrCodeForkInTransaction, Message: "fork inside a transaction", Task: t.id, PC: t.pc})
			return
		}
		e.fork(t, op)
	case machine.Yield:
		t.pc++
		e.suspend(t)
	case machine.Mark:
		err = e.mark(t, op)
	case machine.Causal:
		err = e.causal(t, op)
	case machine.Barrier:
		if !e.barrierMet(op.Labels) {
			e.block(t)
			return
		}
		t.pc++
		e.suspend(t)
	case machine.Send:
		err = e.send(t, op)
	case machine.Recv:
		err = e.recv(t, op)
	case machine.Select:
		e.sessions[op.Channel] = append(e.sessions[op.Channel], message{value: ir.Symbol(op.Label), lin: ir.Unrestricted})
		e.emit(Event{Kind: EventSend, Task: t.id, PC: t.pc, Subject: op.Channel, Detail: op.Label})
		t.pc++
	case machine.Offer:
		err = e.offer(t, op)
	case machine.Begin:
		t.txs = append(t.txs, txFrame{
			begin:    op,
			snap:     e.state.Snapshot(),
			calls:    slices.Clone(t.calls),
			handlers: len(t.handlers),
			frames:   len(t.frames),
		})
		t.pc++
	case machine.Commit:
		err = e.commit(t, op)
	default:
		err = e.control(t, op)
	}
	if err != nil {
		e.fail(t, err)
	}
}

func (e *Executor) control(t *task, op machine.Op) error {
	e.load(t)
	events, handled, err := e.state.Control(op)
	if err != nil {
		return err
	}
	if !handled {
		return &machine.Error{Code: machine.ErrCodeInvalidProgram, PC: t.pc, Message: "unknown directive " + op.Opcode().String()}
	}
	pc := t.pc
	e.save(t)
	switch op := op.(type) {
	case machine.Match:
		t.own(op.Left, op.Right)
	case machine.Split:
		t.own(op.Left, op.Right)
	case machine.Transition:
		t.own(op.Output)
		e.emit(Event{Kind: EventTransition, Task: t.id, PC: pc, Subject: op.To.String(), Resources: events})
	}
	return nil
}

func (e *Executor) perform(t *task, op machine.Perform) error {
	args := make([]ir.Value, len(op.Args))
	lins := make([]ir.Linearity, len(op.Args))
	for i, r := range op.Args {
		v, l, err := e.state.Registers.Read(r)
		if err != nil {
			return err
		}
		args[i], lins[i] = v, l
	}
	ef, err := e.state.Enqueue(op.Tag, args, t.id)
	if err != nil {
		return err
	}
	t.pending = &pendingPerform{op: op, pc: t.pc, ef: ef, lins: lins}
	e.stats.Effects++
	e.emit(Event{Kind: EventPerform, Task: t.id, PC: t.pc, Subject: op.Tag, Detail: ef.ID.String()})
	e.suspend(t)
	return nil
}

// dispatch delivers a task's pending effect to the innermost compiled
// handler, or to a host handler when no scope handles the tag.
func (e *Executor) dispatch(ctx context.Context, t *task) {
	p := t.pending
	t.pending = nil
	e.state.Dequeue(p.ef.ID)
	tag := p.op.Tag
	if entry, depth, ok := t.lookup(tag); ok {
		if len(entry.Params) != len(p.ef.Args) {
			e.fail(t, &Error{
				Code:    ErrCodeArity,
				Message: fmt.Sprintf("handler %s takes %d arguments, perform supplies %d", tag, len(entry.Params), len(p.ef.Args)),
				Task:    t.id,
				PC:      p.pc,
			})
			return
		}
		for i, r := range entry.Params {
			if err := e.write(t, r, p.ef.Args[i], p.lins[i]); err != nil {
				e.fail(t, err)
				return
			}
		}
		t.frames = append(t.frames, handlerFrame{output: p.op.Output, ret: p.pc + 1, handlers: t.handlers, tag: tag})
		t.handlers = cloneHandlers(t.handlers[:depth])
		t.pc = entry.Entry
		return
	}
	if e.caps != nil && !e.caps[tag] {
		e.fail(t, effect.MissingCapability(tag))
		return
	}
	h, ok := e.hosts[tag]
	if !ok {
		e.fail(t, effect.HandlerNotFound(tag))
		return
	}
	v, err := h(ctx, HostCall{Effect: p.ef.ID, Tag: tag, Args: p.ef.Args, Task: t.id})
	if err != nil {
		e.fail(t, fmt.Errorf("host handler %s: %w", tag, err))
		return
	}
	if v == nil {
		v = ir.Unit{}
	}
	if err := e.write(t, p.op.Output, v, ir.Unrestricted); err != nil {
		e.fail(t, err)
		return
	}
	t.pc = p.pc + 1
	e.emit(Event{Kind: EventHandled, Task: t.id, PC: p.pc, Subject: tag, Detail: "host"})
}

func (e *Executor) resume(t *task, op machine.Resume) error {
	if len(t.frames) == 0 {
		return &Error{Code: ErrCodeUnbalanced, Message: "resume outside a handler", Task: t.id, PC: t.pc}
	}
	f := t.frames[len(t.frames)-1]
	v, l, err := e.state.Registers.Read(op.Result)
	if err != nil {
		return err
	}
	if err := e.write(t, f.output, v, l); err != nil {
		return err
	}
	t.frames = t.frames[:len(t.frames)-1]
	e.emit(Event{Kind: EventHandled, Task: t.id, PC: t.pc, Subject: f.tag})
	t.handlers = f.handlers
	t.pc = f.ret
	return nil
}

func (e *Executor) fork(t *task, op machine.Fork) {
	left := &task{id: e.nextID, pc: op.Left.Start, end: op.Left.End, status: taskReady, handlers: cloneHandlers(t.handlers)}
	right := &task{id: e.nextID + 1, pc: op.Right.Start, end: op.Right.End, status: taskReady, handlers: cloneHandlers(t.handlers)}
	e.nextID += 2
	j := &join{op: op, parent: t, left: left, right: right}
	left.branch, right.branch = j, j
	t.join = j
	t.children = append(t.children, left, right)
	e.tasks = append(e.tasks, left, right)
	e.stats.Tasks += 2
	e.emit(Event{Kind: EventFork, Task: t.id, PC: t.pc, Subject: op.Mode.String(), Detail: fmt.Sprintf("t%d t%d", left.id, right.id)})
	e.logger.Debug("fork",
		zap.Uint32("task", t.id),
		zap.Stringer("mode", op.Mode),
		zap.Uint32("left", left.id),
		zap.Uint32("right", right.id))
	t.status = taskJoining
	t.pc = op.Continue
	e.suspend(t)
}

// finishTask handles a task reaching the end of its block or a halt.
func (e *Executor) finishTask(t *task) {
	t.status = taskDone
	e.cur = nil
	e.last = t.id
	j := t.branch
	if j == nil {
		e.terminate()
		return
	}
	e.emit(Event{Kind: EventJoin, Task: t.id, PC: t.pc, Subject: j.op.Mode.String()})
	var err error
	switch j.op.Mode {
	case machine.ForkRace:
		err = e.joinRace(j, t)
	default:
		err = e.joinParallel(j)
	}
	if err != nil {
		e.fail(j.parent, err)
	}
}

func (e *Executor) joinParallel(j *join) error {
	j.done++
	if j.done < 2 {
		return nil
	}
	l, ll, err := e.state.Registers.Read(j.op.LeftOut)
	if err != nil {
		return err
	}
	r, lr, err := e.state.Registers.Read(j.op.RightOut)
	if err != nil {
		return err
	}
	if err := e.write(j.parent, j.op.Output, machine.TensorValues(l, r), machine.Join(ll, lr)); err != nil {
		return err
	}
	e.resumeParent(j)
	return nil
}

func (e *Executor) joinRace(j *join, winner *task) error {
	if j.done > 0 {
		return nil
	}
	j.done++
	out, loser := j.op.LeftOut, j.right
	if winner == j.right {
		out, loser = j.op.RightOut, j.left
	}
	v, l, err := e.state.Registers.Read(out)
	if err != nil {
		return err
	}
	var won ir.Value = ir.Inl{V: v}
	if winner == j.right {
		won = ir.Inr{V: v}
	}
	if err := e.write(j.parent, j.op.Output, won, l); err != nil {
		return err
	}
	if loser.live() {
		loser.cancel = true
	}
	e.resumeParent(j)
	return nil
}

func (e *Executor) resumeParent(j *join) {
	j.parent.join = nil
	j.parent.status = taskReady
}

// cancelTask reaps a race loser and its descendants. Queued effects are
// dropped and live linear values the task wrote are released.
func (e *Executor) cancelTask(t *task) {
	if !t.live() {
		return
	}
	for _, c := range t.children {
		e.cancelTask(c)
	}
	dropped := e.state.DropTask(t.id)
	t.pending = nil
	var released []machine.ResourceEvent
	owned := slices.Clone(t.owned)
	slices.Sort(owned)
	for _, r := range slices.Compact(owned) {
		reg := e.state.Registers.Get(r)
		if reg == nil || reg.Usage.Consumed || reg.Linearity == ir.Unrestricted {
			continue
		}
		e.state.Registers.Release(r)
		if ref, ok := reg.Value.(ir.Ref); ok {
			st, _ := e.state.Heap.StateOf(ref.ID)
			released = append(released, machine.ResourceEvent{Kind: machine.EventRelease, Resource: ref.ID, From: st, To: st})
		}
	}
	t.status = taskCancelled
	e.stats.Cancellations++
	e.emit(Event{
		Kind:      EventCancel,
		Task:      t.id,
		PC:        t.pc,
		Detail:    fmt.Sprintf("dropped %d effects", len(dropped)),
		Resources: released,
	})
	e.logger.Debug("task cancelled",
		zap.Uint32("task", t.id),
		zap.Int("pc", t.pc),
		zap.Int("dropped", len(dropped)),
		zap.Int("released", len(released)))
}

func (e *Executor) mark(t *task, op machine.Mark) error {
	ev, err := e.log.Mark(t.id, op.Label, op.Phase)
	if err != nil {
		return err
	}
	e.emit(Event{Kind: EventMark, Task: t.id, PC: t.pc, Subject: op.Label, Detail: fmt.Sprintf("%s@%d", op.Phase, ev.Seq)})
	t.pc++
	return nil
}

func (e *Executor) proofAt(r machine.RegisterID) (effect.Proof, error) {
	v, _, err := e.state.Registers.Read(r)
	if err != nil {
		return effect.Proof{}, err
	}
	return effect.ProofFromValue(v)
}

func (e *Executor) causal(t *task, op machine.Causal) error {
	var out ir.Value
	switch op.Kind {
	case machine.CausalDepend:
		if err := e.log.Record(effect.Claim{Kind: effect.ClaimBefore, A: op.A, B: op.B}); err != nil {
			return err
		}
		out = effect.DependProof(op.A, op.B).Value()
	case machine.CausalSequence:
		if len(op.Proofs) != 2 {
			return &machine.Error{Code: machine.ErrCodeInvalidProgram, PC: t.pc, Message: "sequence takes two proofs"}
		}
		p, err := e.proofAt(op.Proofs[0])
		if err != nil {
			return err
		}
		q, err := e.proofAt(op.Proofs[1])
		if err != nil {
			return err
		}
		pq, err := effect.SequenceProofs(p, q)
		if err != nil {
			return err
		}
		out = pq.Value()
	case machine.CausalVerify:
		if len(op.Proofs) != 1 {
			return &machine.Error{Code: machine.ErrCodeInvalidProgram, PC: t.pc, Message: "verify takes one proof"}
		}
		p, err := e.proofAt(op.Proofs[0])
		if err != nil {
			return err
		}
		if err := p.Verify(e.log); err != nil {
			return err
		}
		out = ir.Bool(true)
	case machine.CausalHappensBefore, machine.CausalConcurrent:
		c := effect.Claim{Kind: effect.ClaimBefore, A: op.A, B: op.B}
		if op.Kind == machine.CausalConcurrent {
			c.Kind = effect.ClaimConcurrent
		}
		if err := e.log.Record(c); err != nil {
			return err
		}
		out = c.Value()
	case machine.CausalConsistent:
		var claims []effect.Claim
		for _, r := range op.Proofs {
			v, _, err := e.state.Registers.Read(r)
			if err != nil {
				return err
			}
			cs, err := effect.ClaimsFromValue(v)
			if err != nil {
				return err
			}
			claims = append(claims, cs...)
		}
		if err := effect.VerifyConsistency(claims); err != nil {
			return err
		}
		out = ir.Bool(true)
	default:
		return &machine.Error{Code: machine.ErrCodeInvalidProgram, PC: t.pc, Message: "unknown causal operation"}
	}
	if err := e.write(t, op.Output, out, ir.Unrestricted); err != nil {
		return err
	}
	e.emit(Event{Kind: EventCausal, Task: t.id, PC: t.pc, Subject: op.Kind.String(), Detail: op.A + " " + op.B})
	t.pc++
	return nil
}

func (e *Executor) send(t *task, op machine.Send) error {
	v, l, err := e.state.Registers.Read(op.Value)
	if err != nil {
		return err
	}
	e.sessions[op.Channel] = append(e.sessions[op.Channel], message{value: v, lin: l})
	e.emit(Event{Kind: EventSend, Task: t.id, PC: t.pc, Subject: op.Channel, Detail: ir.KindName(v)})
	t.pc++
	return nil
}

func (e *Executor) recv(t *task, op machine.Recv) error {
	q := e.sessions[op.Channel]
	if len(q) == 0 {
		e.block(t)
		return nil
	}
	m := q[0]
	e.sessions[op.Channel] = q[1:]
	if err := e.write(t, op.Output, m.value, m.lin); err != nil {
		return err
	}
	e.emit(Event{Kind: EventRecv, Task: t.id, PC: t.pc, Subject: op.Channel, Detail: ir.KindName(m.value)})
	t.pc++
	return nil
}

func (e *Executor) offer(t *task, op machine.Offer) error {
	q := e.sessions[op.Channel]
	if len(q) == 0 {
		e.block(t)
		return nil
	}
	m := q[0]
	e.sessions[op.Channel] = q[1:]
	label, ok := m.value.(ir.Symbol)
	if !ok {
		return machine.TypeMismatch("Symbol", ir.KindName(m.value))
	}
	i, found := slices.BinarySearchFunc(op.Branches, string(label), func(b machine.Branch, l string) int {
		return strings.Compare(b.Label, l)
	})
	if !found {
		return &Error{Code: ErrCodeUnknownBranch, Message: fmt.Sprintf("channel %s offered %q", op.Channel, label), Task: t.id, PC: t.pc}
	}
	e.emit(Event{Kind: EventRecv, Task: t.id, PC: t.pc, Subject: op.Channel, Detail: string(label)})
	t.pc = op.Branches[i].Target
	return nil
}

func (e *Executor) commit(t *task, op machine.Commit) error {
	if len(t.txs) == 0 {
		return &Error{Code: ErrCodeUnbalanced, Message: "commit outside a transaction", Task: t.id, PC: t.pc}
	}
	v, l, err := e.state.Registers.Read(op.Result)
	if err != nil {
		return err
	}
	t.txs = t.txs[:len(t.txs)-1]
	if err := e.write(t, op.Output, ir.Inl{V: v}, l); err != nil {
		return err
	}
	e.emit(Event{Kind: EventCommit, Task: t.id, PC: t.pc})
	t.pc++
	return nil
}

// fail rolls back the task's innermost transaction, or aborts the run
// when there is none. Running out of gas always aborts.
func (e *Executor) fail(t *task, err error) {
	if t != nil && len(t.txs) > 0 && !machine.IsCode(err, machine.ErrCodeOutOfGas) {
		rerr := e.rollback(t, err)
		if rerr == nil {
			return
		}
		err = rerr
	}
	e.abort(err)
}

func (e *Executor) rollback(t *task, cause error) error {
	tx := t.txs[len(t.txs)-1]
	t.txs = t.txs[:len(t.txs)-1]
	e.state.Restore(tx.snap)
	t.calls = tx.calls
	t.handlers = t.handlers[:tx.handlers]
	t.frames = t.frames[:tx.frames]
	t.pending = nil
	tag := FailureTag(cause)
	if err := e.write(t, tx.begin.Output, ir.Inr{V: ir.Symbol(tag)}, ir.Unrestricted); err != nil {
		return err
	}
	t.pc = tx.begin.Abort
	t.status = taskReady
	e.cur = t
	e.stats.Rollbacks++
	e.emit(Event{Kind: EventRollback, Task: t.id, PC: t.pc, Subject: tag})
	e.logger.Debug("transaction rolled back",
		zap.Uint32("task", t.id),
		zap.String("cause", tag),
		zap.Error(cause))
	return nil
}

// terminate finishes the run when the root task completes.
func (e *Executor) terminate() {
	for _, t := range e.tasks {
		if t.cancel && t.live() {
			e.cancelTask(t)
		}
	}
	for _, ch := range slices.Sorted(maps.Keys(e.sessions)) {
		for _, m := range e.sessions[ch] {
			if m.lin.MustUse() {
				kind := linear.ErrUnusedRelevant
				if m.lin == ir.Linear {
					kind = linear.ErrUnusedLinear
				}
				e.abort(&Error{
					Code:    ErrCodeUndelivered,
					Message: fmt.Sprintf("%s value left on channel %s", m.lin, ch),
					Cause:   &linear.Error{Kind: kind, Linearity: m.lin, Subject: ch},
				})
				return
			}
		}
	}
	e.state.PC = len(e.program.Code)
	e.state.CallStack = nil
	v, err := e.state.Finish()
	if err != nil {
		e.abort(err)
		return
	}
	e.result = v
	e.finalize("")
}

func (e *Executor) abort(err error) {
	e.err = err
	e.finalize(FailureTag(err))
}

func (e *Executor) finalize(failure string) {
	if e.done {
		return
	}
	e.done = true
	e.cur = nil
	final, herr := e.state.Hash()
	if herr != nil {
		e.logger.Warn("hash final state", zap.Error(herr))
	}
	e.final = e.trace.Finalize(final, failure)
	stats := e.Stats()
	e.metrics.observe(stats, failure)
	fields := []zap.Field{
		zap.Stringer("program", e.id),
		zap.Int("steps", stats.Instructions),
		zap.Uint64("gas", stats.GasUsed),
		zap.Int("tasks", stats.Tasks),
	}
	if failure != "" {
		e.logger.Info("run failed", append(fields, zap.String("failure", failure), zap.Error(e.err))...)
		return
	}
	e.logger.Debug("run complete", fields...)
}
