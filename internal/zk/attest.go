package zk

import (
	"context"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/roach88/causality/internal/ir"
)

// AttestName is the backend name recorded in attested proofs.
const AttestName = "attest-secp256k1"

const attestKeyDomain = "causality/attest-key/v1"

// AttestBackend signs the witness commitment with a secp256k1 key. It
// proves only that the holder of the key checked the witness against the
// schema; the proof is not zero knowledge.
type AttestBackend struct {
	key *secp256k1.PrivateKey
}

// NewAttestBackend derives the signing key from seed. Equal seeds give
// equal keys.
func NewAttestBackend(seed []byte) *AttestBackend {
	k := ir.SumBytes(attestKeyDomain, seed)
	return &AttestBackend{key: secp256k1.PrivKeyFromBytes(k[:])}
}

// Name implements Backend.
func (b *AttestBackend) Name() string { return AttestName }

// PublicKey returns the compressed verifying key.
func (b *AttestBackend) PublicKey() []byte { return b.key.PubKey().SerializeCompressed() }

type attestation struct {
	program    ir.ProgramID
	public     ir.ContentID
	commitment []byte
}

func (attestation) HashDomain() string { return ir.DomainProof }

func (a attestation) EncodeTo(e *ir.Encoder) {
	e.String(AttestName)
	e.ID(ir.EntityID(a.program))
	e.ID(a.public)
	e.Blob(a.commitment)
}

// Prove implements Backend.
func (b *AttestBackend) Prove(ctx context.Context, w *Witness, schema *Schema, public *PublicInputs) (*Proof, error) {
	digest, err := prepare(ctx, w, schema, public)
	if err != nil {
		return nil, err
	}
	wid, err := w.ID()
	if err != nil {
		return nil, newError(ErrCodeProofGeneration, err, "hash witness")
	}
	msg, err := ir.Hash(attestation{w.Program, digest, wid[:]})
	if err != nil {
		return nil, newError(ErrCodeProofGeneration, err, "attestation message")
	}
	sig := ecdsa.Sign(b.key, msg[:])
	return &Proof{
		Program:      w.Program,
		Backend:      AttestName,
		Public:       digest,
		Commitment:   wid[:],
		Data:         sig.Serialize(),
		VerifyingKey: b.PublicKey(),
	}, nil
}

// Verify implements Backend. Any well-formed key is accepted; callers that
// trust one signer compare VerifyingKey with its PublicKey.
func (b *AttestBackend) Verify(ctx context.Context, p *Proof, public *PublicInputs, program ir.ProgramID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, newError(ErrCodeTimeout, err, "attest verify")
	}
	digest, ok, err := checkBinding(AttestName, p, public, program)
	if err != nil || !ok {
		return false, err
	}
	pub, err := secp256k1.ParsePubKey(p.VerifyingKey)
	if err != nil {
		return false, newError(ErrCodeInvalidProofData, err, "parse verifying key")
	}
	sig, err := ecdsa.ParseDERSignature(p.Data)
	if err != nil {
		return false, newError(ErrCodeInvalidProofData, err, "parse signature")
	}
	msg, err := ir.Hash(attestation{program, digest, p.Commitment})
	if err != nil {
		return false, newError(ErrCodeInvalidProofData, err, "attestation message")
	}
	return sig.Verify(msg[:], pub), nil
}
