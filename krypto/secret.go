package krypto

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/awnumar/memguard"
)

const redacted = "[REDACTED]"

// Wipe overwrites sensitive byte slices in place.
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		memguard.WipeBytes(b)
	}
}

// Secret holds a user supplied password. It redacts itself when formatted
// and is wiped in place by whoever created it.
type Secret []byte

// FromString copies in into a new Secret. The string itself cannot be wiped.
func FromString(in string) Secret { return Secret([]byte(in)) }

// String redacts the secret for fmt.Print* convenience.
func (s Secret) String() string { return redacted }

// Format implements fmt.Formatter so every verb is redacted.
func (s Secret) Format(f fmt.State, _ rune) { _, _ = io.WriteString(f, redacted) }

// MarshalJSON redacts secrets in JSON output.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// RuneCount reports the password length in characters.
func (s Secret) RuneCount() int { return utf8.RuneCount(s) }

// Wipe zeroes the underlying bytes.
func (s Secret) Wipe() { memguard.WipeBytes(s) }

// SessionKey is symmetric key material kept in a guarded, mlocked buffer.
// A destroyed key reports no bytes and cannot be revived.
type SessionKey struct {
	buf *memguard.LockedBuffer
}

// NewSessionKey moves b into guarded memory. b is wiped.
func NewSessionKey(b []byte) *SessionKey {
	return &SessionKey{buf: memguard.NewBufferFromBytes(b)}
}

// Bytes exposes the key for the duration of a crypto call. Callers must not
// retain the slice.
func (k *SessionKey) Bytes() []byte {
	if !k.Alive() {
		return nil
	}
	return k.buf.Bytes()
}

// Alive reports whether the key still holds material.
func (k *SessionKey) Alive() bool {
	return k != nil && k.buf != nil && k.buf.IsAlive()
}

// Clone returns an independent copy that must be destroyed separately.
func (k *SessionKey) Clone() *SessionKey {
	if !k.Alive() {
		return nil
	}
	dup := make([]byte, k.buf.Size())
	copy(dup, k.buf.Bytes())
	return NewSessionKey(dup)
}

// Equal compares two keys in constant time.
func (k *SessionKey) Equal(other *SessionKey) bool {
	if !k.Alive() || !other.Alive() {
		return false
	}
	return subtle.ConstantTimeCompare(k.buf.Bytes(), other.buf.Bytes()) == 1
}

// Destroy wipes and releases the key. Safe to call more than once.
func (k *SessionKey) Destroy() {
	if k == nil || k.buf == nil {
		return
	}
	k.buf.Destroy()
}

func (k *SessionKey) String() string { return redacted }

// Format implements fmt.Formatter so keys never reach logs.
func (k *SessionKey) Format(f fmt.State, _ rune) { _, _ = io.WriteString(f, redacted) }
