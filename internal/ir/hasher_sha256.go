//go:build !causality_blake3

package ir

import "crypto/sha256"

var buildHasher Hasher = sha256Hasher{}

// sha256Hasher computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
type sha256Hasher struct{}

func (sha256Hasher) Name() string { return "sha256" }

func (sha256Hasher) Sum(domain string, data []byte) ContentID {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var id ContentID
	copy(id[:], h.Sum(nil))
	return id
}
