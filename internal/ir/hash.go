package ir

import "fmt"

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainValue     = "causality/value/v1"
	DomainType      = "causality/type/v1"
	DomainResource  = "causality/resource/v1"
	DomainExpr      = "causality/expr/v1"
	DomainEffect    = "causality/effect/v1"
	DomainNode      = "causality/teg-node/v1"
	DomainGraph     = "causality/teg/v1"
	DomainProgram   = "causality/program/v1"
	DomainState     = "causality/state/v1"
	DomainTrace     = "causality/trace/v1"
	DomainArtifact  = "causality/artifact/v1"
	DomainSource    = "causality/source/v1"
	DomainSExpr     = "causality/sexpr/v1"
	DomainWitness   = "causality/witness/v1"
	DomainPublic    = "causality/public-inputs/v1"
	DomainProof     = "causality/proof/v1"
	DomainSchema    = "causality/witness-schema/v1"
	DomainDomain    = "causality/domain/v1"
	DomainSubmitKey = "causality/submission/v1"
)

// Hasher is a 256-bit collision-resistant hash with domain separation.
// Exactly one implementation is selected per build (see hasher_*.go).
type Hasher interface {
	// Name identifies the algorithm, e.g. "sha256".
	Name() string
	// Sum computes H(domain || 0x00 || data).
	Sum(domain string, data []byte) ContentID
}

// Canonical is implemented by every value with a canonical encoding.
type Canonical interface {
	EncodeTo(e *Encoder)
}

// Entity is a canonical value with a fixed hashing domain.
type Entity interface {
	Canonical
	HashDomain() string
}

// HashAlgorithm returns the name of the build's hash function.
func HashAlgorithm() string {
	return buildHasher.Name()
}

// Encode returns the canonical encoding of v.
func Encode(v Canonical) ([]byte, error) {
	e := NewEncoder()
	v.EncodeTo(e)
	return e.Bytes()
}

// SumBytes hashes raw bytes under a domain.
func SumBytes(domain string, data []byte) ContentID {
	return buildHasher.Sum(domain, data)
}

// Hash encodes v canonically and hashes it under v's domain.
// Returns an error if v is not canonically encodable.
func Hash(v Entity) (ContentID, error) {
	data, err := Encode(v)
	if err != nil {
		return ContentID{}, fmt.Errorf("hash %s: %w", v.HashDomain(), err)
	}
	return SumBytes(v.HashDomain(), data), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHash(v Entity) ContentID {
	id, err := Hash(v)
	if err != nil {
		panic(err)
	}
	return id
}

// Verify recomputes v's content id and compares it with id.
func Verify(v Entity, id ContentID) bool {
	got, err := Hash(v)
	if err != nil {
		return false
	}
	return got == id
}
