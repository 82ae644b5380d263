package executor

import (
	"slices"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
)

type taskStatus uint8

const (
	taskReady taskStatus = iota + 1
	taskBlocked
	taskJoining
	taskDone
	taskCancelled
)

func (s taskStatus) String() string {
	switch s {
	case taskReady:
		return "ready"
	case taskBlocked:
		return "blocked"
	case taskJoining:
		return "joining"
	case taskDone:
		return "done"
	case taskCancelled:
		return "cancelled"
	}
	return "unknown"
}

// handlerFrame is the state saved when a perform enters a compiled handler
// block. Resume restores it.
type handlerFrame struct {
	output   machine.RegisterID
	ret      int
	handlers [][]machine.HandlerEntry
	tag      string
}

// txFrame is an open transaction.
type txFrame struct {
	begin    machine.Begin
	snap     *machine.Snapshot
	calls    []int
	handlers int
	frames   int
}

// pendingPerform is an effect queued by a task that has not been
// dispatched yet.
type pendingPerform struct {
	op   machine.Perform
	pc   int
	ef   *machine.Effect
	lins []ir.Linearity
}

// join connects a fork to its branch tasks.
type join struct {
	op     machine.Fork
	parent *task
	left   *task
	right  *task
	done   int
}

// task is a logical thread of control over the shared machine state.
type task struct {
	id     uint32
	pc     int
	end    int
	calls  []int
	status taskStatus

	handlers [][]machine.HandlerEntry
	frames   []handlerFrame
	txs      []txFrame
	pending  *pendingPerform

	join     *join // the fork this task is waiting on
	branch   *join // the fork this task is a branch of
	cancel   bool
	children []*task

	// owned lists the registers the task wrote, for cancellation.
	owned []machine.RegisterID
}

func (t *task) own(rs ...machine.RegisterID) {
	t.owned = append(t.owned, rs...)
}

func (t *task) live() bool {
	return t.status != taskDone && t.status != taskCancelled
}

// lookup finds the innermost handler for tag and the depth of its scope.
func (t *task) lookup(tag string) (machine.HandlerEntry, int, bool) {
	for i := len(t.handlers) - 1; i >= 0; i-- {
		scope := t.handlers[i]
		j, found := slices.BinarySearchFunc(scope, tag, func(h machine.HandlerEntry, tag string) int {
			switch {
			case h.Tag < tag:
				return -1
			case h.Tag > tag:
				return 1
			}
			return 0
		})
		if found {
			return scope[j], i, true
		}
	}
	return machine.HandlerEntry{}, 0, false
}

func cloneHandlers(hs [][]machine.HandlerEntry) [][]machine.HandlerEntry {
	return slices.Clone(hs)
}
