// Package domain is the boundary between the core and external execution
// or verification environments.
//
// An Adapter submits proven programs, verifies proofs on its domain and
// reports the state of resources it has committed. The core never shares
// memory with an adapter: submissions cross the boundary as msgpack
// envelopes and come back as receipts.
//
// Gateway wraps an Adapter with per-call timeouts and retries. Retries are
// safe because every submission has an identity, the hash of its program
// id and public inputs; resubmitting the same identity returns the first
// receipt instead of dispatching twice.
//
// LocalDomain is an in-process ledger adapter used by the CLI and tests.
package domain
