package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Supported AEAD suites. The name is persisted in the vault file.
const (
	CipherAESGCM  = "aes-256-gcm"
	CipherXChaCha = "xchacha20-poly1305"
)

var (
	// ErrCrypto groups every CipherEngine failure.
	ErrCrypto = errors.New("crypto")
	// ErrAuthenticationFailed means ciphertext, nonce, key or associated data did not match.
	ErrAuthenticationFailed = fmt.Errorf("%w: authentication failed", ErrCrypto)
	// ErrNonceReuseDetected signals a nonce was drawn twice under one key.
	ErrNonceReuseDetected = fmt.Errorf("%w: nonce reuse detected", ErrCrypto)
)

// Cipher is an authenticated symmetric cipher that draws a fresh nonce on
// every Encrypt call.
type Cipher interface {
	Name() string
	NonceSize() int
	Encrypt(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error)
	Decrypt(key, ciphertext, nonce, aad []byte) ([]byte, error)
}

// NewCipher returns the named suite reading nonces from Rand.
func NewCipher(name string) (Cipher, error) {
	return NewCipherWithRand(name, nil)
}

// NewCipherWithRand returns the named suite reading nonces from r.
func NewCipherWithRand(name string, r io.Reader) (Cipher, error) {
	switch name {
	case CipherAESGCM:
		return aeadCipher{name: name, nonceSize: 12, rand: r, open: newAESGCM}, nil
	case CipherXChaCha:
		return aeadCipher{name: name, nonceSize: chacha20poly1305.NonceSizeX, rand: r, open: chacha20poly1305.NewX}, nil
	default:
		return nil, fmt.Errorf("unsupported cipher %q", name)
	}
}

// SupportedCiphers lists the suite names accepted by NewCipher.
func SupportedCiphers() []string {
	return []string{CipherAESGCM, CipherXChaCha}
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

type aeadCipher struct {
	name      string
	nonceSize int
	rand      io.Reader
	open      func(key []byte) (cipher.AEAD, error)
}

func (c aeadCipher) Name() string   { return c.name }
func (c aeadCipher) NonceSize() int { return c.nonceSize }

func (c aeadCipher) aead(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("%s requires a %d-byte key", c.name, KeyLength)
	}
	return c.open(key)
}

// Encrypt seals plaintext under key with a fresh random nonce.
func (c aeadCipher) Encrypt(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	aead, err := c.aead(key)
	if err != nil {
		return nil, nil, err
	}

	nonce, err = RandomBytes(c.rand, c.nonceSize)
	if err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext. Any mismatch yields ErrAuthenticationFailed and
// no plaintext.
func (c aeadCipher) Decrypt(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	aead, err := c.aead(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != c.nonceSize {
		return nil, fmt.Errorf("%w: invalid nonce size", ErrAuthenticationFailed)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
