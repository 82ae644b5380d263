// Package executor runs register programs produced by the compiler.
//
// The executor owns the machine state, the effect runtime around it and the
// trace of the run. Programs that use only instructions and machine-level
// directives behave exactly as under machine.Run; everything else (effects,
// handlers, forks, sessions, causal labels, transactions) is interpreted
// here.
//
// CRITICAL PATTERNS:
//
// CP-1: Single Writer
// One goroutine drives an Executor. Logical tasks created by parallel and
// race are frames interleaved by a cooperative scheduler, never goroutines.
// The heap, the register file and the trace have exactly one writer.
//
// CP-2: Logical Clock
// Causal log entries are stamped by Clock.Next(). Wall-clock time never
// orders anything.
//
// CP-3: Deterministic Scheduling
// A task runs until it reaches a suspension point: a perform, a yield, a
// barrier or a receive on an empty channel. The scheduler then picks the
// next runnable task in ascending id order after the current one, wrapping
// around. Task ids are assigned in fork order, so identical programs and
// identical initial heaps yield identical traces.
//
// CP-4: Cancellation at Suspension Points
// The losing branch of a race is flagged when the winner finishes. The flag
// is observed the next time the scheduler reaches the loser: its queued
// effects are dropped and the registers it wrote are released before it is
// retired.
//
// CP-5: Task-Exclusive Transactions
// Begin snapshots the whole machine and a rollback restores it. A task
// with an open transaction may not fork; the run aborts with
// FORK_IN_TRANSACTION. Other tasks still run when the transaction's task
// suspends, and a rollback also discards their writes made since Begin.
package executor
