package domain

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
	"github.com/roach88/causality/internal/zk"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultRetries = 3
	DefaultBackoff = 100 * time.Millisecond
)

// Gateway calls an Adapter with timeouts and idempotent retries. The core
// itself never retries; the gateway is the adapter layer that does.
type Gateway struct {
	adapter  Adapter
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	parallel int
	log      *zap.Logger
	metrics  *Metrics

	mu       sync.Mutex
	receipts map[ir.ContentID]*Receipt
	inflight singleflight.Group
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds each adapter call.
func WithTimeout(d time.Duration) Option { return func(g *Gateway) { g.timeout = d } }

// WithRetries sets how many times a retryable failure is repeated.
func WithRetries(n int) Option { return func(g *Gateway) { g.retries = n } }

// WithBackoff sets the delay before the first retry; it doubles per retry.
func WithBackoff(d time.Duration) Option { return func(g *Gateway) { g.backoff = d } }

// WithParallelism bounds concurrent submissions in SubmitAll.
func WithParallelism(n int) Option { return func(g *Gateway) { g.parallel = n } }

// WithLogger sets the gateway's logger.
func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.log = l } }

// WithMetrics records calls in m.
func WithMetrics(m *Metrics) Option { return func(g *Gateway) { g.metrics = m } }

// NewGateway wraps adapter.
func NewGateway(adapter Adapter, opts ...Option) *Gateway {
	g := &Gateway{
		adapter:  adapter,
		timeout:  DefaultTimeout,
		retries:  DefaultRetries,
		backoff:  DefaultBackoff,
		parallel: 4,
		log:      zap.NewNop(),
		receipts: map[ir.ContentID]*Receipt{},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Adapter returns the wrapped adapter.
func (g *Gateway) Adapter() Adapter { return g.adapter }

// call runs fn under the timeout, retrying retryable failures with
// exponential backoff.
func (g *Gateway) call(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	delay := g.backoff
	var err error
	for attempt := 0; ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		err = fn(cctx)
		timedOut := errors.Is(cctx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil && timedOut && CodeOf(err) == "" {
			err = &Error{Code: ErrCodeTimeout, Domain: g.adapter.ID(), Message: op + " timed out", Cause: err}
		}
		if err == nil || !IsRetryable(err) || attempt >= g.retries || ctx.Err() != nil {
			break
		}
		g.metrics.retry(op)
		g.log.Debug("retrying adapter call",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			g.metrics.observe(op, time.Since(start).Seconds(), err)
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
	g.metrics.observe(op, time.Since(start).Seconds(), err)
	return err
}

// Submit sends sub to the adapter. A dispatched identity is submitted at
// most once per gateway; concurrent and later calls with the same key
// share its receipt. Dry runs are never cached.
func (g *Gateway) Submit(ctx context.Context, sub *Submission) (*Receipt, error) {
	if sub.Target != g.adapter.ID() {
		return nil, Rejected(g.adapter.ID(), "submission targets domain %s", sub.Target.Short())
	}
	key, err := sub.Key()
	if err != nil {
		return nil, Rejected(sub.Target, "submission identity: %v", err)
	}
	if sub.DryRun {
		var rc *Receipt
		err := g.call(ctx, "dry_run", func(ctx context.Context) error {
			var err error
			rc, err = g.adapter.Submit(ctx, sub)
			return err
		})
		return rc, err
	}
	g.mu.Lock()
	if rc, ok := g.receipts[key]; ok {
		g.mu.Unlock()
		return rc, nil
	}
	g.mu.Unlock()

	v, err, _ := g.inflight.Do(key.Hex(), func() (any, error) {
		var rc *Receipt
		err := g.call(ctx, "submit", func(ctx context.Context) error {
			var err error
			rc, err = g.adapter.Submit(ctx, sub)
			return err
		})
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.receipts[key] = rc
		g.mu.Unlock()
		g.log.Info("submitted",
			zap.String("program", sub.Program.Short()),
			zap.String("tx", rc.TxID.Short()),
			zap.Uint64("block", rc.BlockNumber))
		return rc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Receipt), nil
}

// SubmitAll submits every submission with bounded parallelism. Receipts
// are returned in input order; the first failure cancels the rest.
func (g *Gateway) SubmitAll(ctx context.Context, subs []*Submission) ([]*Receipt, error) {
	out := make([]*Receipt, len(subs))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallel)
	for i, sub := range subs {
		eg.Go(func() error {
			rc, err := g.Submit(ctx, sub)
			out[i] = rc
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyOnDomain asks the adapter to verify proof.
func (g *Gateway) VerifyOnDomain(ctx context.Context, proof *zk.Proof, public *zk.PublicInputs, verifier string) (bool, error) {
	var ok bool
	err := g.call(ctx, "verify", func(ctx context.Context) error {
		var err error
		ok, err = g.adapter.VerifyOnDomain(ctx, proof, public, verifier)
		return err
	})
	return ok, err
}

// Observe asks the adapter for a resource's committed state.
func (g *Gateway) Observe(ctx context.Context, id ir.ResourceID) (machine.ResourceState, bool, error) {
	var (
		st machine.ResourceState
		ok bool
	)
	err := g.call(ctx, "observe", func(ctx context.Context) error {
		var err error
		st, ok, err = g.adapter.Observe(ctx, id)
		return err
	})
	return st, ok, err
}
