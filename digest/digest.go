// Package digest computes BLAKE3 content fingerprints.
//
// Fingerprints are domain separated: the same bytes hashed as a chunk, a
// detection window, a transfer unit or a whole artifact produce different
// digests. The artifact fingerprint is what the client and the server
// compare to prove the reassembled artifact is byte-identical to the
// source.
package digest

import (
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"
)

// Size is the length of a fingerprint in bytes.
const Size = 32

// Fingerprint is a 32-byte BLAKE3 keyed digest.
type Fingerprint [Size]byte

// String returns the lowercase hex encoding.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 12 hex characters, for logs and tables.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:6])
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// Domain selects the keyed-hash domain.
type Domain [32]byte

// Domain keys are the ASCII domain name zero-padded to 32 bytes.
// Changing one invalidates every stored fingerprint in that domain.
var (
	DomainChunk = Domain{
		't', 'e', 's', 's', 'e', 'r', 'a', '.', 'c', 'h', 'u', 'n', 'k',
	}
	DomainWindow = Domain{
		't', 'e', 's', 's', 'e', 'r', 'a', '.', 'w', 'i', 'n', 'd', 'o', 'w',
	}
	DomainUnit = Domain{
		't', 'e', 's', 's', 'e', 'r', 'a', '.', 'u', 'n', 'i', 't',
	}
	DomainArtifact = Domain{
		't', 'e', 's', 's', 'e', 'r', 'a', '.', 'a', 'r', 't', 'i', 'f', 'a', 'c', 't',
	}
)

// Sum fingerprints data in the given domain.
func Sum(domain Domain, data []byte) Fingerprint {
	h := New(domain)
	_, _ = h.Write(data)
	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f
}

// Chunk fingerprints a content-defined chunk.
func Chunk(data []byte) Fingerprint { return Sum(DomainChunk, data) }

// Unit fingerprints a transfer unit payload.
func Unit(data []byte) Fingerprint { return Sum(DomainUnit, data) }

// New returns a streaming keyed hasher for the domain.
func New(domain Domain) hash.Hash {
	// NewKeyed only fails for keys that are not 32 bytes long.
	h, err := blake3.NewKeyed(domain[:])
	if err != nil {
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return h
}

// FromHash reads the current digest out of a hasher returned by New.
func FromHash(h hash.Hash) Fingerprint {
	var f Fingerprint
	copy(f[:], h.Sum(nil))
	return f
}

// Parse decodes a 64-character hex fingerprint.
func Parse(s string) (Fingerprint, error) {
	var f Fingerprint
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return f, fmt.Errorf("parse fingerprint: %w", err)
	}
	if len(decoded) != Size {
		return f, fmt.Errorf("fingerprint is %d bytes, want %d", len(decoded), Size)
	}
	copy(f[:], decoded)
	return f, nil
}
