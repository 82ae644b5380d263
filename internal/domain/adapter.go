package domain

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/causality/internal/executor"
	"github.com/roach88/causality/internal/ir"
	"github.com/roach88/causality/internal/machine"
	"github.com/roach88/causality/internal/zk"
)

// GasParams bounds what a submission may spend.
type GasParams struct {
	Limit uint64 `msgpack:"limit" json:"limit"`
	Price uint64 `msgpack:"price" json:"price"`
}

// Submission is a proven program sent to a domain. States lists the
// resource states the submission commits when dispatched.
type Submission struct {
	Program ir.ProgramID
	Target  ir.DomainID
	Public  *zk.PublicInputs
	Proof   *zk.Proof
	Gas     GasParams
	DryRun  bool
	States  map[ir.ResourceID]machine.ResourceState
}

type submissionKey struct {
	program ir.ProgramID
	public  ir.ContentID
}

func (submissionKey) HashDomain() string { return ir.DomainSubmitKey }

func (k submissionKey) EncodeTo(e *ir.Encoder) {
	e.ID(ir.EntityID(k.program))
	e.ID(k.public)
}

// Key returns the submission identity: the hash of the program id and the
// public inputs digest. Retries with the same key are idempotent.
func (s *Submission) Key() (ir.ContentID, error) {
	digest, err := s.Public.Digest()
	if err != nil {
		return ir.ContentID{}, err
	}
	return ir.Hash(submissionKey{s.Program, digest})
}

// Receipt reports a dispatched or dry-run submission. A dry run carries
// only the gas estimate.
type Receipt struct {
	TxID        ir.ContentID `msgpack:"tx_id" json:"tx_id"`
	GasUsed     uint64       `msgpack:"gas_used" json:"gas_used"`
	GasEstimate uint64       `msgpack:"gas_estimate" json:"gas_estimate"`
	BlockNumber uint64       `msgpack:"block_number" json:"block_number"`
	DryRun      bool         `msgpack:"dry_run" json:"dry_run"`
}

// Adapter is an external domain. Implementations own their state and must
// be safe for concurrent use.
type Adapter interface {
	// ID identifies the domain.
	ID() ir.DomainID
	// Submit validates sub and, unless it is a dry run, dispatches it.
	// Resubmitting a dispatched identity returns its receipt.
	Submit(ctx context.Context, sub *Submission) (*Receipt, error)
	// VerifyOnDomain checks proof with the verifier deployed at verifier.
	VerifyOnDomain(ctx context.Context, proof *zk.Proof, public *zk.PublicInputs, verifier string) (bool, error)
	// Observe reports the last committed state of a resource.
	Observe(ctx context.Context, id ir.ResourceID) (machine.ResourceState, bool, error)
}

// envelope is the wire form of a Submission.
type envelope struct {
	Program []byte           `msgpack:"program"`
	Target  []byte           `msgpack:"target"`
	Public  []byte           `msgpack:"public"`
	Proof   []byte           `msgpack:"proof"`
	Gas     GasParams        `msgpack:"gas"`
	DryRun  bool             `msgpack:"dry_run"`
	States  map[string]uint8 `msgpack:"states,omitempty"`
}

// MarshalSubmission encodes sub as a msgpack envelope. Public inputs and
// proof travel in their canonical encodings.
func MarshalSubmission(sub *Submission) ([]byte, error) {
	env := envelope{
		Program: ir.EntityID(sub.Program).Bytes(),
		Target:  sub.Target.Entity().Bytes(),
		Gas:     sub.Gas,
		DryRun:  sub.DryRun,
	}
	var err error
	if env.Public, err = sub.Public.Bytes(); err != nil {
		return nil, err
	}
	if sub.Proof != nil {
		if env.Proof, err = sub.Proof.Bytes(); err != nil {
			return nil, err
		}
	}
	if len(sub.States) > 0 {
		env.States = make(map[string]uint8, len(sub.States))
		for id, st := range sub.States {
			env.States[id.String()] = uint8(st)
		}
	}
	return msgpack.Marshal(&env)
}

// UnmarshalSubmission decodes an envelope written by MarshalSubmission.
func UnmarshalSubmission(data []byte) (*Submission, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, Rejected(ir.DomainID{}, "malformed envelope: %v", err)
	}
	if len(env.Program) != ir.IDSize || len(env.Target) != ir.IDSize {
		return nil, Rejected(ir.DomainID{}, "malformed envelope ids")
	}
	sub := &Submission{Gas: env.Gas, DryRun: env.DryRun}
	copy(sub.Program[:], env.Program)
	copy(sub.Target[:], env.Target)
	pub, err := zk.DecodePublicInputs(env.Public)
	if err != nil {
		return nil, err
	}
	sub.Public = pub
	if len(env.Proof) > 0 {
		if sub.Proof, err = zk.DecodeProof(env.Proof); err != nil {
			return nil, err
		}
	}
	if len(env.States) > 0 {
		sub.States = make(map[ir.ResourceID]machine.ResourceState, len(env.States))
		for hex, st := range env.States {
			id, err := ir.ParseID(hex)
			if err != nil {
				return nil, Rejected(sub.Target, "malformed resource id: %v", err)
			}
			sub.States[ir.ResourceID(id)] = machine.ResourceState(st)
		}
	}
	return sub, nil
}

// ResourceStates returns the final state of every resource the trace
// touched. Consumed is terminal; otherwise the last transition wins.
func ResourceStates(trace *executor.Trace) map[ir.ResourceID]machine.ResourceState {
	out := map[ir.ResourceID]machine.ResourceState{}
	apply := func(evs []machine.ResourceEvent) {
		for _, ev := range evs {
			if out[ev.Resource] == machine.Consumed {
				continue
			}
			switch ev.Kind {
			case machine.EventAlloc:
				if _, seen := out[ev.Resource]; !seen {
					out[ev.Resource] = machine.Active
				}
			case machine.EventConsume:
				out[ev.Resource] = machine.Consumed
			case machine.EventTransition:
				out[ev.Resource] = ev.To
			}
		}
	}
	for _, ev := range trace.Events {
		apply(ev.Resources)
	}
	for _, en := range trace.Entries {
		apply(en.Events)
	}
	return out
}
