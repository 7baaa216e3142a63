// Package crypto wraps the digest functions used for witness recomputation
// and ledger chaining. Digests are unkeyed commitments, not MACs.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/Mindburn-Labs/pcclite/pkg/canonicalize"
)

// Algorithm names accepted by New.
const (
	AlgSHA256     = "sha256"
	AlgBLAKE2b256 = "blake2b-256"
)

// Hasher provides deterministic, fixed-length hashing.
type Hasher interface {
	// Algorithm returns the stable algorithm name.
	Algorithm() string
	// Sum returns the lowercase hex digest of data.
	Sum(data []byte) string
}

// SHA256 is the default hasher.
type SHA256 struct{}

func (SHA256) Algorithm() string { return AlgSHA256 }

func (SHA256) Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// BLAKE2b256 hashes with unkeyed BLAKE2b producing 32 bytes.
type BLAKE2b256 struct{}

func (BLAKE2b256) Algorithm() string { return AlgBLAKE2b256 }

func (BLAKE2b256) Sum(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Default returns the hasher used when none is configured.
func Default() Hasher { return SHA256{} }

// New returns the hasher registered under alg. An empty name selects SHA-256.
func New(alg string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(alg)) {
	case "", AlgSHA256:
		return SHA256{}, nil
	case AlgBLAKE2b256, "blake2b":
		return BLAKE2b256{}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", alg)
	}
}

// HashCanonical hashes the RFC 8785 canonical form of v.
func HashCanonical(h Hasher, v any) (string, error) {
	b, err := canonicalize.JCS(v)
	if err != nil {
		return "", fmt.Errorf("canonical serialization failed: %w", err)
	}
	return h.Sum(b), nil
}
