//go:build causality_blake3

package ir

import "lukechampine.com/blake3"

var buildHasher Hasher = blake3Hasher{}

// blake3Hasher computes BLAKE3-256 with the same domain framing as the
// default build: BLAKE3(domain + 0x00 + data).
type blake3Hasher struct{}

func (blake3Hasher) Name() string { return "blake3" }

func (blake3Hasher) Sum(domain string, data []byte) ContentID {
	h := blake3.New(IDSize, nil)
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	var id ContentID
	copy(id[:], h.Sum(nil))
	return id
}
