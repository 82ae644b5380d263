package domain

import (
	"context"
	"sync"

	evbus "github.com/asaskevich/EventBus"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
	"github.com/roach88/causality/internal/zk"
)

// TopicResourceState is the bus topic LocalDomain publishes committed
// resource states on. Handlers receive (ir.ResourceID, machine.ResourceState).
const TopicResourceState = "domain:resource-state"

// Gas schedule of the local ledger.
const (
	BaseGas          uint64 = 21000
	GasPerProofByte  uint64 = 16
	GasPerPublicByte uint64 = 8
	GasPerState      uint64 = 5000
)

// Block is one committed submission. Timestamp is the logical height.
type Block struct {
	Height    uint64 `msgpack:"height"`
	Parent    []byte `msgpack:"parent"`
	Timestamp uint64 `msgpack:"timestamp"`
	TxID      []byte `msgpack:"tx_id"`
	Program   []byte `msgpack:"program"`
	Envelope  []byte `msgpack:"envelope"`
	GasUsed   uint64 `msgpack:"gas_used"`
}

// LocalDomain is an in-process ledger. Submissions are verified with the
// backend named by their proof, then appended as msgpack-encoded blocks.
type LocalDomain struct {
	id  ir.DomainID
	log *zap.Logger
	bus evbus.Bus

	mu        sync.RWMutex
	verifiers map[string]zk.Backend
	blocks    [][]byte
	head      ir.ContentID
	byKey     map[ir.ContentID]*Receipt
	states    map[ir.ResourceID]machine.ResourceState
}

// LocalOption configures a LocalDomain.
type LocalOption func(*LocalDomain)

// WithLocalLogger sets the ledger's logger.
func WithLocalLogger(l *zap.Logger) LocalOption { return func(d *LocalDomain) { d.log = l } }

// WithVerifier deploys b at address. Submissions are checked by the
// verifier deployed at their proof's backend name.
func WithVerifier(address string, b zk.Backend) LocalOption {
	return func(d *LocalDomain) { d.verifiers[address] = b }
}

// NewLocalDomain creates an empty ledger named name.
func NewLocalDomain(name string, opts ...LocalOption) *LocalDomain {
	d := &LocalDomain{
		id:        LocalID(name),
		log:       zap.NewNop(),
		bus:       evbus.New(),
		verifiers: map[string]zk.Backend{},
		byKey:     map[ir.ContentID]*Receipt{},
		states:    map[ir.ResourceID]machine.ResourceState{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// LocalID derives a domain id from a name.
func LocalID(name string) ir.DomainID {
	return ir.DomainID(ir.SumBytes(ir.DomainDomain, []byte(name)))
}

// ID implements Adapter.
func (d *LocalDomain) ID() ir.DomainID { return d.id }

// Deploy registers b at address.
func (d *LocalDomain) Deploy(address string, b zk.Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verifiers[address] = b
}

// EstimateGas prices a submission under the local gas schedule.
func EstimateGas(sub *Submission) (uint64, error) {
	pub, err := sub.Public.Bytes()
	if err != nil {
		return 0, err
	}
	gas := BaseGas + GasPerPublicByte*uint64(len(pub)) + GasPerState*uint64(len(sub.States))
	if sub.Proof != nil {
		gas += GasPerProofByte * uint64(len(sub.Proof.Data)+len(sub.Proof.VerifyingKey))
	}
	return gas, nil
}

func (d *LocalDomain) verifier(address string) (zk.Backend, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.verifiers[address]
	return b, ok
}

// Submit implements Adapter.
func (d *LocalDomain) Submit(ctx context.Context, sub *Submission) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Code: ErrCodeTimeout, Domain: d.id, Message: "submit", Cause: err}
	}
	if sub.Target != d.id {
		return nil, Rejected(d.id, "submission targets domain %s", sub.Target.Short())
	}
	key, err := sub.Key()
	if err != nil {
		return nil, Rejected(d.id, "submission identity: %v", err)
	}
	d.mu.RLock()
	prior, done := d.byKey[key]
	d.mu.RUnlock()
	if done && !sub.DryRun {
		return prior, nil
	}

	estimate, err := EstimateGas(sub)
	if err != nil {
		return nil, Rejected(d.id, "price submission: %v", err)
	}
	if sub.Gas.Limit < estimate {
		return nil, &Error{Code: ErrCodeInsufficientResources, Domain: d.id, Message: "gas limit below estimate", GasEstimate: estimate}
	}
	if sub.Proof == nil {
		return nil, &Error{Code: ErrCodeRequestRejected, Domain: d.id, Message: "submission carries no proof", GasEstimate: estimate}
	}
	b, ok := d.verifier(sub.Proof.Backend)
	if !ok {
		return nil, &Error{Code: ErrCodeRequestRejected, Domain: d.id, Message: "no verifier for " + sub.Proof.Backend, GasEstimate: estimate}
	}
	if err := zk.VerifyProof(ctx, b, sub.Proof, sub.Public, sub.Program); err != nil {
		return nil, &Error{Code: ErrCodeRequestRejected, Domain: d.id, Message: "proof rejected", GasEstimate: estimate, Cause: err}
	}
	if sub.DryRun {
		return &Receipt{GasEstimate: estimate, DryRun: true}, nil
	}
	env, err := MarshalSubmission(sub)
	if err != nil {
		return nil, Rejected(d.id, "encode submission: %v", err)
	}
	return d.commit(key, sub, env, estimate)
}

func (d *LocalDomain) commit(key ir.ContentID, sub *Submission, env []byte, gas uint64) (*Receipt, error) {
	d.mu.Lock()
	if rc, ok := d.byKey[key]; ok {
		d.mu.Unlock()
		return rc, nil
	}
	height := uint64(len(d.blocks)) + 1
	blk := Block{
		Height:    height,
		Parent:    d.head.Bytes(),
		Timestamp: height,
		TxID:      key.Bytes(),
		Program:   ir.EntityID(sub.Program).Bytes(),
		Envelope:  env,
		GasUsed:   gas,
	}
	data, err := msgpack.Marshal(&blk)
	if err != nil {
		d.mu.Unlock()
		return nil, Rejected(d.id, "encode block: %v", err)
	}
	d.blocks = append(d.blocks, data)
	d.head = ir.SumBytes(ir.DomainDomain, data)
	rc := &Receipt{TxID: key, GasUsed: gas, GasEstimate: gas, BlockNumber: height}
	d.byKey[key] = rc
	changed := make(map[ir.ResourceID]machine.ResourceState, len(sub.States))
	for id, st := range sub.States {
		if d.states[id] != st {
			d.states[id] = st
			changed[id] = st
		}
	}
	d.mu.Unlock()

	for id, st := range changed {
		d.bus.Publish(TopicResourceState, id, st)
	}
	d.log.Info("block committed",
		zap.Uint64("height", height),
		zap.String("tx", key.Short()),
		zap.Int("states", len(changed)))
	return rc, nil
}

// VerifyOnDomain implements Adapter.
func (d *LocalDomain) VerifyOnDomain(ctx context.Context, proof *zk.Proof, public *zk.PublicInputs, verifier string) (bool, error) {
	b, ok := d.verifier(verifier)
	if !ok {
		return false, &Error{Code: ErrCodeJobNotFound, Domain: d.id, Message: "no verifier at " + verifier}
	}
	if proof == nil {
		return false, Rejected(d.id, "nil proof")
	}
	return b.Verify(ctx, proof, public, proof.Program)
}

// Observe implements Adapter.
func (d *LocalDomain) Observe(ctx context.Context, id ir.ResourceID) (machine.ResourceState, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, &Error{Code: ErrCodeTimeout, Domain: d.id, Message: "observe", Cause: err}
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	st, ok := d.states[id]
	return st, ok, nil
}

// Subscribe calls fn synchronously for every committed state change. The
// returned function unsubscribes.
func (d *LocalDomain) Subscribe(fn func(ir.ResourceID, machine.ResourceState)) (func(), error) {
	if err := d.bus.Subscribe(TopicResourceState, fn); err != nil {
		return nil, err
	}
	return func() { _ = d.bus.Unsubscribe(TopicResourceState, fn) }, nil
}

// Height returns the number of committed blocks.
func (d *LocalDomain) Height() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return uint64(len(d.blocks))
}

// Block decodes the block at height, counting from 1.
func (d *LocalDomain) Block(height uint64) (*Block, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if height == 0 || height > uint64(len(d.blocks)) {
		return nil, &Error{Code: ErrCodeJobNotFound, Domain: d.id, Message: "no such block"}
	}
	var blk Block
	if err := msgpack.Unmarshal(d.blocks[height-1], &blk); err != nil {
		return nil, Rejected(d.id, "decode block: %v", err)
	}
	return &blk, nil
}
