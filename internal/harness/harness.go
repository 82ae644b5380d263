package harness

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
	"github.com/roach88/causality/internal/store"
	"github.com/roach88/causality/internal/testutil"
)

// Harness holds what one scenario run shares across its checks.
type Harness struct {
	store *store.Store
	ids   *testutil.RunIDs
	log   *zap.Logger
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger routes executor and store logs to l.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) { h.log = l }
}

// Run executes a scenario and returns its result. Each run gets a fresh
// in-memory store and run id sequence.
//
// Execution flow:
//  1. Resolve the program (compile the source, or build the fixture)
//  2. Execute it with the scenario's handlers, gas and capabilities
//  3. Store the run and evaluate the expect clause and assertions
//
// The returned error is for harness problems only. A program that fails
// to compile or aborts is reported in the result.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{ids: testutil.NewRunIDs(), log: zap.NewNop()}
	for _, o := range opts {
		o(h)
	}
	st, err := store.Open(":memory:", store.WithLogger(h.log), store.WithRunIDs(h.ids.Next))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	h.store = st

	result := NewResult()
	p, src, err := s.program()
	if err != nil {
		return nil, err
	}
	if src != "" {
		a, err := compiler.Compile(src)
		if err != nil {
			result.Failure = string(compiler.CodeOf(err))
			result.Category = ir.CategoryOf(err).String()
			checkExpect(s.Expect, result)
			if len(s.Assertions) > 0 {
				result.AddError(fmt.Sprintf("compile failed, %d assertion(s) not evaluated: %v", len(s.Assertions), err))
			}
			return result, nil
		}
		p = a.Program
	}

	xopts := h.executorOptions(s)
	ex, err := executor.New(p, xopts...)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}
	v, runErr := ex.Execute(ctx)
	tr := ex.Trace()
	if tr == nil {
		return nil, fmt.Errorf("run did not terminate: %w", runErr)
	}
	result.record(tr)
	result.Stats = ex.Stats()
	hash, err := tr.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash trace: %w", err)
	}
	result.TraceHash = hash.Hex()
	if runErr == nil {
		result.Value = v.String()
	} else {
		result.Failure = tr.Failure
		result.Category = ir.CategoryOf(runErr).String()
	}
	runID, err := st.WriteRun(ctx, tr, result.Stats)
	if err != nil {
		return nil, err
	}
	h.log.Debug("scenario run stored",
		zap.String("scenario", s.Name),
		zap.String("run", runID.String()),
		zap.String("trace", hash.Short()))

	checkExpect(s.Expect, result)
	actx := &AssertionContext{
		Ctx:      ctx,
		Store:    st,
		RunID:    runID,
		Program:  p,
		Executor: ex,
		Options:  xopts,
	}
	for _, msg := range EvaluateAssertions(result, s.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) executorOptions(s *Scenario) []executor.Option {
	opts := []executor.Option{executor.WithLogger(h.log)}
	if s.Gas > 0 {
		opts = append(opts, executor.WithLimits(machine.Limits{Gas: s.Gas, MaxCallDepth: machine.MaxCallDepth}))
	}
	for _, hs := range s.Handlers {
		opts = append(opts, executor.WithHandler(hs.Tag, HostHandler(hs)))
	}
	if len(s.Capabilities) > 0 {
		opts = append(opts, executor.WithCapabilities(s.Capabilities...))
	}
	return opts
}

var errHandlerFailed = errors.New("host handler failed")

// HostHandler builds the host handler hs describes.
func HostHandler(hs HandlerSpec) executor.HostHandler {
	return func(_ context.Context, call executor.HostCall) (ir.Value, error) {
		var arg ir.Value = ir.Unit{}
		if len(call.Args) > 0 {
			arg = call.Args[0]
		}
		switch hs.Op {
		case HandlerIncr:
			n, ok := arg.(ir.Int)
			if !ok {
				return nil, fmt.Errorf("%s: want an int argument, got %s", call.Tag, ir.KindName(arg))
			}
			return n + 1, nil
		case HandlerEcho:
			return arg, nil
		case HandlerConst:
			return ir.Int(hs.Value), nil
		}
		return nil, fmt.Errorf("%s: %w", call.Tag, errHandlerFailed)
	}
}

func checkExpect(want ExpectClause, r *Result) {
	switch {
	case want.Failure != "" && r.Failure != want.Failure:
		r.AddError(fmt.Sprintf("expected failure %s, got %q", want.Failure, r.Failure))
	case want.Failure == "" && r.Failure != "":
		r.AddError(fmt.Sprintf("expected success, got failure %s", r.Failure))
	case want.Value != "" && r.Value != want.Value:
		r.AddError(fmt.Sprintf("expected value %s, got %s", want.Value, r.Value))
	}
	if want.Category != "" && r.Category != want.Category {
		r.AddError(fmt.Sprintf("expected category %s, got %q", want.Category, r.Category))
	}
}
