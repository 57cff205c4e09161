package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256Hasher_Deterministic(t *testing.T) {
	t.Parallel()

	h := SHA256Hasher{}

	first, err := h.Hash("Passw0rd")
	require.NoError(t, err)
	second, err := h.Hash("Passw0rd")
	require.NoError(t, err)

	// Equal inputs always produce equal digests.
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)

	assert.True(t, h.Compare(first, "Passw0rd"))
	assert.False(t, h.Compare(first, "Passw0rd2"))
}

func TestBcryptHasher(t *testing.T) {
	t.Parallel()

	h := BcryptHasher{}

	first, err := h.Hash("Passw0rd")
	require.NoError(t, err)
	second, err := h.Hash("Passw0rd")
	require.NoError(t, err)

	// Salted: digests differ, comparison still holds.
	assert.NotEqual(t, first, second)
	assert.True(t, h.Compare(first, "Passw0rd"))
	assert.True(t, h.Compare(second, "Passw0rd"))
	assert.False(t, h.Compare(first, "Passw0rd2"))
}

func TestNewHasher(t *testing.T) {
	t.Parallel()

	assert.IsType(t, BcryptHasher{}, NewHasher("bcrypt"))
	assert.IsType(t, SHA256Hasher{}, NewHasher("sha256"))
	assert.IsType(t, SHA256Hasher{}, NewHasher(""))
}

func TestNewOpaqueCode(t *testing.T) {
	t.Parallel()

	code := NewOpaqueCode("seed")

	assert.Len(t, code, 32)
	assert.NotContains(t, code, "seed")

	// Same seed, same code; different seed, different code.
	assert.Equal(t, code, NewOpaqueCode("seed"))
	assert.NotEqual(t, code, NewOpaqueCode("seed2"))
}

func TestNewRefreshToken(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})

	for i := 0; i < 100; i++ {
		token, err := NewRefreshToken()
		require.NoError(t, err)
		require.Len(t, token, 64)

		_, dup := seen[token]
		require.False(t, dup, "duplicate refresh token")
		seen[token] = struct{}{}
	}
}
