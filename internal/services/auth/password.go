// -----------------------------------------------------------------------
// Password Hashing - argon2id with per-password salts
// -----------------------------------------------------------------------

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params tunes the memory-hard KDF. MemoryKB is the argon2 memory
// cost in KiB.
type Argon2Params struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
	KeyLen   uint32
}

// DefaultArgon2Params returns the production defaults: 64 MiB, one pass,
// four lanes.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:     1,
		MemoryKB: 64 * 1024,
		Threads:  4,
		KeyLen:   32,
	}
}

const saltLen = 16

// HashPassword derives an argon2id hash with a fresh random salt and
// encodes it in the standard $argon2id$ form.
func HashPassword(password string, params Argon2Params) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKB, params.Threads, params.KeyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.MemoryKB,
		params.Time,
		params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// VerifyPassword re-derives the hash with the stored parameters and
// compares in constant time. Malformed stored hashes verify as false
// with an error.
func VerifyPassword(password, encoded string) (bool, error) {
	params, salt, hash, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	derived := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKB, params.Threads, uint32(len(hash)))

	return subtle.ConstantTimeCompare(hash, derived) == 1, nil
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, fmt.Errorf("malformed password hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, fmt.Errorf("malformed password hash version: %w", err)
	}
	if version != argon2.Version {
		return params, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKB, &params.Time, &params.Threads); err != nil {
		return params, nil, nil, fmt.Errorf("malformed password hash parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, fmt.Errorf("malformed password hash salt: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, fmt.Errorf("malformed password hash digest: %w", err)
	}

	return params, salt, hash, nil
}
