package zk

import (
	"context"

	"github.com/roach88/causality/internal/ir"
)

// Proof is an opaque proof blob with the key that verifies it.
type Proof struct {
	Program ir.ProgramID `json:"program"`
	Backend string       `json:"backend"`
	// Public is the digest of the public inputs the proof was made for.
	Public ir.ContentID `json:"public"`
	// Commitment binds the witness without revealing it.
	Commitment   []byte `json:"commitment"`
	Data         []byte `json:"data"`
	VerifyingKey []byte `json:"verifying_key"`
}

type proofIdentity struct{ p *Proof }

func (proofIdentity) HashDomain() string { return ir.DomainProof }

func (i proofIdentity) EncodeTo(e *ir.Encoder) {
	e.ID(ir.EntityID(i.p.Program))
	e.ID(i.p.Public)
	e.Blob(i.p.VerifyingKey)
}

// ID hashes the program id, public inputs digest and verifying key (CP-1).
func (p *Proof) ID() (ir.ContentID, error) { return ir.Hash(proofIdentity{p}) }

// EncodeTo implements ir.Canonical.
func (p *Proof) EncodeTo(e *ir.Encoder) {
	e.ID(ir.EntityID(p.Program))
	e.String(p.Backend)
	e.ID(p.Public)
	e.Blob(p.Commitment)
	e.Blob(p.Data)
	e.Blob(p.VerifyingKey)
}

// Bytes returns the canonical encoding.
func (p *Proof) Bytes() ([]byte, error) { return ir.Encode(p) }

// DecodeProof reads a proof written by Bytes.
func DecodeProof(data []byte) (*Proof, error) {
	d := ir.NewDecoder(data)
	p := &Proof{
		Program:      ir.ProgramID(d.ID()),
		Backend:      d.String(),
		Public:       d.ID(),
		Commitment:   d.Blob(),
		Data:         d.Blob(),
		VerifyingKey: d.Blob(),
	}
	if err := d.Finish(); err != nil {
		return nil, newError(ErrCodeInvalidProofData, err, "decode proof")
	}
	return p, nil
}

// Backend proves witnesses and verifies proofs.
type Backend interface {
	// Name identifies the backend in proofs.
	Name() string
	// Prove proves that w satisfies schema for public. The witness must
	// have been validated against schema.
	Prove(ctx context.Context, w *Witness, schema *Schema, public *PublicInputs) (*Proof, error)
	// Verify reports whether p authenticates public for program (CP-2).
	Verify(ctx context.Context, p *Proof, public *PublicInputs, program ir.ProgramID) (bool, error)
}

// VerifyProof is Verify with rejection reported as a VERIFICATION_FAILED
// error.
func VerifyProof(ctx context.Context, b Backend, p *Proof, public *PublicInputs, program ir.ProgramID) error {
	ok, err := b.Verify(ctx, p, public, program)
	if err != nil {
		return err
	}
	if !ok {
		return newError(ErrCodeVerification, nil, "proof %s rejected for program %s", b.Name(), program.Short())
	}
	return nil
}

// checkBinding performs the checks every backend shares before touching
// proof data. A false result is a rejection.
func checkBinding(name string, p *Proof, public *PublicInputs, program ir.ProgramID) (ir.ContentID, bool, error) {
	if p == nil {
		return ir.ContentID{}, false, newError(ErrCodeInvalidProofData, nil, "nil proof")
	}
	if p.Backend != name {
		return ir.ContentID{}, false, newError(ErrCodeInvalidProofData, nil, "proof made by %q, not %q", p.Backend, name)
	}
	digest, err := public.Digest()
	if err != nil {
		return ir.ContentID{}, false, newError(ErrCodeInvalidProofData, err, "hash public inputs")
	}
	if p.Program != program || p.Public != digest {
		return digest, false, nil
	}
	return digest, true, nil
}

// prepare checks the shared preconditions of Prove.
func prepare(ctx context.Context, w *Witness, schema *Schema, public *PublicInputs) (ir.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return ir.ContentID{}, newError(ErrCodeTimeout, err, "prove")
	}
	if w.Program != schema.Program {
		return ir.ContentID{}, newError(ErrCodeProofGeneration, nil, "witness and schema disagree on program")
	}
	if err := w.check(schema, nil, false); err != nil {
		return ir.ContentID{}, newError(ErrCodeProofGeneration, err, "witness does not satisfy schema")
	}
	digest, err := public.Digest()
	if err != nil {
		return ir.ContentID{}, newError(ErrCodeProofGeneration, err, "hash public inputs")
	}
	return digest, nil
}
