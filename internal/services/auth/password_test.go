package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests use a deliberately small memory cost to stay fast
func testParams() Argon2Params {
	return Argon2Params{Time: 1, MemoryKB: 1024, Threads: 1, KeyLen: 32}
}

func TestHashAndVerifyPassword(t *testing.T) {
	encoded, err := HashPassword("correct horse battery staple", testParams())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	ok, err := VerifyPassword("correct horse battery staple", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	first, err := HashPassword("same password", testParams())
	require.NoError(t, err)
	second, err := HashPassword("same password", testParams())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestHashPassword_EmptyRejected(t *testing.T) {
	_, err := HashPassword("", testParams())
	assert.Error(t, err)
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=1024,t=1,p=1$only-four-parts",
		"$bcrypt$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!notbase64$aGFzaA",
	} {
		ok, err := VerifyPassword("anything", encoded)
		assert.Error(t, err, "hash %q should be rejected", encoded)
		assert.False(t, ok)
	}
}

func TestVerifyPassword_ParamsComeFromHash(t *testing.T) {
	// Hash with one parameter set, verify with a service configured
	// differently: stored parameters must win
	encoded, err := HashPassword("password", Argon2Params{Time: 2, MemoryKB: 2048, Threads: 2, KeyLen: 32})
	require.NoError(t, err)

	ok, err := VerifyPassword("password", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}
