// Package crypto covers the credential primitives of the engine: password
// hashing schemes, opaque one-time codes and opaque refresh token values.
package crypto

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher is a password hashing scheme. Hash must accept what Compare
// verifies; implementations are free to be deterministic or salted.
type Hasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) bool
}

// SHA256Hasher is the compatibility scheme: a deterministic, un-salted
// lowercase hex digest. Equal inputs always produce equal digests, which the
// engine relies on for equality-based verification. Kept for compatibility
// with existing stored hashes; use BcryptHasher in production.
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(plain string) (string, error) {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:]), nil
}

func (h SHA256Hasher) Compare(hash, plain string) bool {
	digest, _ := h.Hash(plain)
	return digest == hash
}

// BcryptHasher is the salted, slow scheme selectable via config.
type BcryptHasher struct{}

func (BcryptHasher) Hash(plain string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("crypto.BcryptHasher.Hash: %w", err)
	}
	return string(digest), nil
}

func (BcryptHasher) Compare(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// NewHasher returns the hasher for a configured scheme name, defaulting to
// the deterministic compatibility scheme.
func NewHasher(scheme string) Hasher {
	if scheme == "bcrypt" {
		return BcryptHasher{}
	}
	return SHA256Hasher{}
}

// NewOpaqueCode derives a short one-time code from a seed. The code is a
// one-way digest of the seed and cannot be reversed to it.
func NewOpaqueCode(seed string) string {
	sum := md5.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])
}

// NewRefreshToken produces an opaque random refresh token value. 256 bits of
// randomness make collisions across the whole system implausible by
// construction.
func NewRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto.NewRefreshToken: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
