package krypto

import (
	"bytes"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := RandomBytes(nil, KeyLength)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	return key
}

func TestCipherRoundTrip(t *testing.T) {
	for _, name := range SupportedCiphers() {
		t.Run(name, func(t *testing.T) {
			c, err := NewCipher(name)
			if err != nil {
				t.Fatalf("NewCipher: %v", err)
			}
			key := testKey(t)
			plaintext := []byte("sensitive password data")
			aad := []byte("entry-1")

			ct, nonce, err := c.Encrypt(key, plaintext, aad)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if len(nonce) != c.NonceSize() {
				t.Fatalf("nonce size = %d, want %d", len(nonce), c.NonceSize())
			}
			if bytes.Contains(ct, plaintext) {
				t.Fatal("ciphertext contains plaintext")
			}

			got, err := c.Decrypt(key, ct, nonce, aad)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Fatalf("Decrypt = %q, want %q", got, plaintext)
			}
		})
	}
}

func TestCipherFailsClosed(t *testing.T) {
	for _, name := range SupportedCiphers() {
		t.Run(name, func(t *testing.T) {
			c, err := NewCipher(name)
			if err != nil {
				t.Fatalf("NewCipher: %v", err)
			}
			key := testKey(t)
			ct, nonce, err := c.Encrypt(key, []byte("hunter22"), []byte("id"))
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}

			tamperedCT := append([]byte(nil), ct...)
			tamperedCT[0] ^= 0xFF
			tamperedNonce := append([]byte(nil), nonce...)
			tamperedNonce[len(tamperedNonce)-1] ^= 0x01
			otherKey := testKey(t)

			cases := []struct {
				name  string
				key   []byte
				ct    []byte
				nonce []byte
				aad   []byte
			}{
				{name: "tampered ciphertext", key: key, ct: tamperedCT, nonce: nonce, aad: []byte("id")},
				{name: "tampered nonce", key: key, ct: ct, nonce: tamperedNonce, aad: []byte("id")},
				{name: "wrong key", key: otherKey, ct: ct, nonce: nonce, aad: []byte("id")},
				{name: "wrong associated data", key: key, ct: ct, nonce: nonce, aad: []byte("other")},
				{name: "truncated ciphertext", key: key, ct: ct[:len(ct)-3], nonce: nonce, aad: []byte("id")},
				{name: "short nonce", key: key, ct: ct, nonce: nonce[:4], aad: []byte("id")},
			}
			for _, tc := range cases {
				t.Run(tc.name, func(t *testing.T) {
					pt, err := c.Decrypt(tc.key, tc.ct, tc.nonce, tc.aad)
					if !errors.Is(err, ErrAuthenticationFailed) {
						t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
					}
					if !errors.Is(err, ErrCrypto) {
						t.Fatalf("expected error in the crypto class, got %v", err)
					}
					if pt != nil {
						t.Fatal("plaintext returned on failure")
					}
				})
			}
		})
	}
}

func TestCipherFreshNonces(t *testing.T) {
	c, err := NewCipher(CipherAESGCM)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	key := testKey(t)
	seen := make(map[string]struct{})
	for i := 0; i < 256; i++ {
		_, nonce, err := c.Encrypt(key, []byte("x"), nil)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if _, dup := seen[string(nonce)]; dup {
			t.Fatalf("nonce repeated after %d encryptions", i)
		}
		seen[string(nonce)] = struct{}{}
	}
}

func TestCipherRejectsBadKeyAndName(t *testing.T) {
	if _, err := NewCipher("rot13"); err == nil {
		t.Fatal("expected error for unknown cipher")
	}
	c, err := NewCipher(CipherXChaCha)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	if _, _, err := c.Encrypt(make([]byte, 16), []byte("x"), nil); err == nil {
		t.Fatal("expected error for short key")
	}
}
