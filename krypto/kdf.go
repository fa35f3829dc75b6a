package krypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// KDFName identifies the password hashing function recorded on disk.
	KDFName = "argon2id"
	// SaltLengthBytes is the enforced salt length in bytes.
	SaltLengthBytes = 16
	// KeyLength is the session key size (AES-256 / XChaCha20).
	KeyLength = 32
	// VerifierLength is the size of the stored password verifier.
	VerifierLength = 32

	rootKeyLength = 32
)

var (
	sessionKeyInfo = []byte("passvault/v1/session-key")
	verifierInfo   = []byte("passvault/v1/verifier")
)

// Argon2Params captures tunable parameters for Argon2id. Time is the
// iteration cost persisted alongside the salt.
type Argon2Params struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
}

// DefaultArgon2Params returns sane defaults for interactive unlocks.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 1,
	}
}

// Validate rejects parameter sets argon2 would refuse or silently adjust.
func (p Argon2Params) Validate() error {
	if p.Time == 0 {
		return errors.New("time parameter must be positive")
	}
	if p.Parallelism == 0 {
		return errors.New("parallelism must be positive")
	}
	if p.MemoryKiB < 8*uint32(p.Parallelism) {
		return fmt.Errorf("memory must be at least %d KiB", 8*uint32(p.Parallelism))
	}
	return nil
}

// NewRandomSalt returns a cryptographically secure random salt.
func NewRandomSalt() ([]byte, error) {
	salt, err := RandomBytes(nil, SaltLengthBytes)
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKeys runs Argon2id once over password and salt and splits the result
// with HKDF into a session key and an independent verifier. Knowing the
// verifier does not reveal the key.
func DeriveKeys(password, salt []byte, p Argon2Params) (*SessionKey, []byte, error) {
	if len(password) == 0 {
		return nil, nil, errors.New("password is required")
	}
	if len(salt) != SaltLengthBytes {
		return nil, nil, fmt.Errorf("salt must be %d bytes", SaltLengthBytes)
	}
	if err := p.Validate(); err != nil {
		return nil, nil, fmt.Errorf("argon2 parameters: %w", err)
	}

	root := argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Parallelism, rootKeyLength)
	defer Wipe(root)

	key, err := HKDFSHA256(root, salt, sessionKeyInfo, KeyLength)
	if err != nil {
		return nil, nil, fmt.Errorf("derive session key: %w", err)
	}
	verifier, err := HKDFSHA256(root, salt, verifierInfo, VerifierLength)
	if err != nil {
		Wipe(key)
		return nil, nil, fmt.Errorf("derive verifier: %w", err)
	}

	return NewSessionKey(key), verifier, nil
}
