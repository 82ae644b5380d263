// Package zk turns execution traces into witnesses and proves them.
//
// A WitnessSchema lists, for each instruction of a program, how many
// private inputs it takes and the rules each input obeys. GenerateWitness
// extracts those inputs from a trace and checks them. A Backend turns a
// witness and a set of PublicInputs into a Proof bound to the program id;
// Verify accepts the proof only for the same program and byte-identical
// public inputs.
//
// Two backends are provided:
//
//   - Groth16Backend proves the rules in a BN254 circuit with gnark. The
//     circuit commits to the program, the public inputs and the witness
//     with MiMC.
//   - AttestBackend signs the same commitment with a secp256k1 key. It
//     checks rules natively and hides nothing; it exists for fast local
//     runs and tests.
//
// # CRITICAL PATTERNS
//
// CP-1: Proof identity. A proof's id hashes its program id, the digest of
// its public inputs and its verification key, never the proof bytes.
//
// CP-2: Rejection is not failure. Verify reports false for a proof that
// does not authenticate the inputs and an error only for data it cannot
// parse.
//
// CP-3: Custom rules are native. Range, NonZero and Boolean rules are
// constraints in the circuit; Custom rules are checked when the witness
// is built and are not part of the proof.
package zk
