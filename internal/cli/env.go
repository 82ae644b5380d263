package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/config"
	"github.com/roach88/causality/internal/domain"
	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/harness"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/store"
	"github.com/roach88/causality/internal/zk"
)

// env is what a command needs to compile, run and prove programs, opened
// from the configuration.
type env struct {
	cfg     *config.Config
	log     *zap.Logger
	blobs   compiler.BlobStore
	store   *store.Store // nil unless the sqlite backend is configured
	cache   *compiler.ArtifactCache
	closers []func() error
}

func openEnv(o *RootOptions) (*env, error) {
	cfg, log := o.config(), o.logger()
	e := &env{cfg: cfg, log: log}
	switch cfg.Store.Backend {
	case "sqlite":
		st, err := store.Open(cfg.Store.Path, store.WithLogger(log.Named("store")))
		if err != nil {
			return nil, err
		}
		e.store, e.blobs = st, st
		e.closers = append(e.closers, st.Close)
	case "badger":
		b, err := store.OpenBadger(cfg.Store.Path, log.Named("badger"))
		if err != nil {
			return nil, err
		}
		e.blobs = b
		e.closers = append(e.closers, b.Close)
	default:
		e.blobs = store.NewMemoryStore()
	}
	if cfg.Store.ReadCacheMB > 0 {
		c, err := store.NewCachedStore(e.blobs, cfg.Store.ReadCacheMB)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		e.blobs = c
		e.closers = append(e.closers, c.Close)
	}
	e.cache = compiler.NewArtifactCache(
		compiler.WithBlobStore(e.blobs),
		compiler.WithCapacity(cfg.Cache.Capacity),
		compiler.WithLogger(log.Named("cache")),
	)
	return e, nil
}

// Close releases stores in reverse order of opening.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *env) compile(ctx context.Context, src *Source) (*compiler.Artifact, error) {
	a, err := e.cache.Compile(ctx, src.Text)
	if err != nil {
		return nil, err
	}
	e.log.Debug("compiled",
		zap.String("source", src.Path),
		zap.String("artifact", a.ID.Short()),
		zap.String("program", a.ProgramID().Short()))
	return a, nil
}

func (e *env) executorOptions(handlers []harness.HandlerSpec, gas uint64) []executor.Option {
	lim := e.cfg.Machine.Limits()
	if gas > 0 {
		lim.Gas = gas
	}
	opts := []executor.Option{
		executor.WithLimits(lim),
		executor.WithVerifyLaws(e.cfg.Executor.VerifyLaws),
		executor.WithLogger(e.log.Named("executor")),
	}
	for _, h := range handlers {
		opts = append(opts, executor.WithHandler(h.Tag, harness.HostHandler(h)))
	}
	return opts
}

// execution is one finished run.
type execution struct {
	artifact *compiler.Artifact
	executor *executor.Executor
	value    ir.Value
	err      error
	runID    string
}

// execute compiles and runs src. A failing program is not an error here:
// it is reported in execution.err with its trace finalized. When the
// sqlite store is configured the run is stored.
func (e *env) execute(ctx context.Context, src *Source, opts []executor.Option) (*execution, error) {
	a, err := e.compile(ctx, src)
	if err != nil {
		return nil, err
	}
	ex, err := executor.New(a.Program, opts...)
	if err != nil {
		return nil, err
	}
	v, runErr := ex.Execute(ctx)
	if ex.Trace() == nil {
		return nil, runErr
	}
	run := &execution{artifact: a, executor: ex, value: v, err: runErr}
	if e.store != nil {
		id, err := e.store.WriteRun(ctx, ex.Trace(), ex.Stats())
		if err != nil {
			return nil, err
		}
		run.runID = id.String()
	}
	return run, nil
}

func (e *env) backend() zk.Backend {
	return backendByName(e.cfg, e.cfg.ZK.Backend, e.log)
}

// backendByName accepts both config names and the names proofs carry.
func backendByName(cfg *config.Config, name string, log *zap.Logger) zk.Backend {
	switch name {
	case "groth16", zk.Groth16Name:
		opts := []zk.Groth16Option{zk.WithGroth16Logger(log.Named("groth16"))}
		if cfg.ZK.MaxInputs > 0 {
			opts = append(opts, zk.WithMaxInputs(cfg.ZK.MaxInputs))
		}
		return zk.NewGroth16Backend(opts...)
	}
	return zk.NewAttestBackend([]byte(cfg.ZK.Seed))
}

func (e *env) domainID() ir.DomainID { return domain.LocalID(e.cfg.Domain.ID) }

// parseHandlers parses --handler values of the form tag=op or
// tag=const:N.
func parseHandlers(specs []string) ([]harness.HandlerSpec, error) {
	var out []harness.HandlerSpec
	for _, s := range specs {
		tag, op, ok := strings.Cut(s, "=")
		if !ok || tag == "" {
			return nil, NewExitError(ExitValidation, fmt.Sprintf("invalid handler %q: want tag=op", s))
		}
		h := harness.HandlerSpec{Tag: tag, Op: op}
		if name, val, ok := strings.Cut(op, ":"); ok {
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, WrapExitError(ExitValidation, fmt.Sprintf("invalid handler value in %q", s), err)
			}
			h.Op, h.Value = name, n
		}
		switch h.Op {
		case harness.HandlerIncr, harness.HandlerEcho, harness.HandlerConst, harness.HandlerFail:
		default:
			return nil, NewExitError(ExitValidation, fmt.Sprintf("invalid handler %q: unknown op %q", s, h.Op))
		}
		out = append(out, h)
	}
	return out, nil
}
