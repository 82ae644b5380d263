// Package ir provides the canonical data model for Causality.
//
// This package contains identifiers, the canonical binary codec, hashing,
// machine values, type tags and morphisms. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - One binary encoding is used for hashing and transport (CP-1)
//   - Collections are written key-sorted; the decoder rejects anything else (CP-2)
//   - No float types anywhere; numbers are int64 (CP-3)
//   - Hashing is pure: no I/O, no global mutable state (CP-4)
//   - Symbols are NFC-normalized Unicode; non-NFC input is rejected (CP-5)
package ir
