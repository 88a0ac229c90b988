// Package crypto provides the hashing and signing primitives shared by
// the ledger and its clients: Blake2b-256 for content addressing and
// Ed25519 for transaction signatures.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Sizes of the fixed-width values produced by this package.
const (
	HashSize      = 32
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
	SeedSize      = ed25519.SeedSize
)

// Hash256 returns the Blake2b-256 digest of the concatenation of parts.
func Hash256(parts ...[]byte) [HashSize]byte {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
	for _, p := range parts {
		h.Write(p)
	}
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PrivateKey is an Ed25519 signing key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// GenerateKey creates a new key from r, or from crypto/rand when r is nil.
func GenerateKey(r io.Reader) (PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	_, key, err := ed25519.GenerateKey(r)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return PrivateKey{key: key}, nil
}

// KeyFromSeed derives a key from a 32-byte seed.
func KeyFromSeed(seed []byte) (PrivateKey, error) {
	if len(seed) != SeedSize {
		return PrivateKey{}, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	return PrivateKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// KeyFromHexSeed parses a hex-encoded seed.
func KeyFromHexSeed(s string) (PrivateKey, error) {
	seed, err := hex.DecodeString(s)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("decode seed: %w", err)
	}
	return KeyFromSeed(seed)
}

// Public returns the 32-byte public key.
func (k PrivateKey) Public() [PublicKeySize]byte {
	var pub [PublicKeySize]byte
	copy(pub[:], k.key.Public().(ed25519.PublicKey))
	return pub
}

// Seed returns the seed the key was derived from.
func (k PrivateKey) Seed() []byte {
	return k.key.Seed()
}

// Sign signs msg.
func (k PrivateKey) Sign(msg []byte) [SignatureSize]byte {
	var sig [SignatureSize]byte
	copy(sig[:], ed25519.Sign(k.key, msg))
	return sig
}

// IsZero reports whether the key is uninitialized.
func (k PrivateKey) IsZero() bool { return len(k.key) == 0 }

// Verify reports whether sig is a valid signature of msg by pub.
func Verify(pub [PublicKeySize]byte, msg []byte, sig [SignatureSize]byte) bool {
	return ed25519.Verify(pub[:], msg, sig[:])
}
