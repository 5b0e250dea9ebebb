package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	SaltSize = 16 // Salt size in bytes
	KeySize  = 32 // AES-256 key size
	HashSize = 32 // Verification hash size

	DefaultTime    = 4         // Argon2id iterations
	DefaultMemory  = 64 * 1024 // Argon2id memory in KiB (64 MiB)
	DefaultThreads = 8         // Argon2id parallelism

	passwordCheckLabel = "filevault password check v1"
)

var ErrDerivation = errors.New("key derivation failed")

// KDF holds Argon2id cost parameters
type KDF struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultKDF is the parameter set every vault is created and opened with
var DefaultKDF = KDF{
	Time:    DefaultTime,
	Memory:  DefaultMemory,
	Threads: DefaultThreads,
}

// DeriveKey derives keySize bytes from password and salt
func (k KDF) DeriveKey(password, salt []byte, keySize int) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrDerivation)
	}
	if keySize <= 0 {
		return nil, fmt.Errorf("%w: invalid key size %d", ErrDerivation, keySize)
	}
	if k.Time == 0 || k.Memory == 0 || k.Threads == 0 {
		return nil, fmt.Errorf("%w: invalid parameters", ErrDerivation)
	}
	return argon2.IDKey(password, salt, k.Time, k.Memory, k.Threads, uint32(keySize)), nil
}

// Derive runs the KDF once and returns both the encryption key and the
// password verification hash. The caller must clear the key.
func (k KDF) Derive(password, salt []byte) (key, hash []byte, err error) {
	key, err = k.DeriveKey(password, salt, KeySize)
	if err != nil {
		return nil, nil, err
	}
	return key, verificationHash(key), nil
}

// HashPassword returns the verification hash for password and salt
func (k KDF) HashPassword(password, salt []byte) ([]byte, error) {
	key, hash, err := k.Derive(password, salt)
	if err != nil {
		return nil, err
	}
	ClearBytes(key)
	return hash, nil
}

func verificationHash(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(passwordCheckLabel))
	return mac.Sum(nil)
}

// DeriveKey derives a key with DefaultKDF
func DeriveKey(password, salt []byte, keySize int) ([]byte, error) {
	return DefaultKDF.DeriveKey(password, salt, keySize)
}

// HashPassword computes a verification hash with DefaultKDF
func HashPassword(password, salt []byte) ([]byte, error) {
	return DefaultKDF.HashPassword(password, salt)
}

// GenerateSalt returns size random bytes
func GenerateSalt(size int) ([]byte, error) {
	if size <= 0 {
		size = SaltSize
	}
	salt, err := GenerateRandom(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDerivation, err)
	}
	return salt, nil
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare reports whether a and b are equal. It always scans
// the full length of the shorter slice, even when the lengths differ.
func ConstantTimeCompare(a, b []byte) bool {
	equal, _ := compareScan(a, b)
	return equal
}

// compareScan returns the comparison result and the number of byte
// positions visited.
func compareScan(a, b []byte) (bool, int) {
	n := min(len(a), len(b))

	var diff byte
	var visited int
	for i := range n {
		diff |= a[i] ^ b[i]
		visited++
	}

	sameLen := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	noDiff := subtle.ConstantTimeByteEq(diff, 0)
	return sameLen&noDiff == 1, visited
}
