package krypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// Rand is the default source of randomness for salts, nonces and generated
// passwords. Callers that need another source pass their own reader.
var Rand io.Reader = rand.Reader

// RandomBytes returns n bytes read from r, or from Rand when r is nil.
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	if n <= 0 {
		return nil, errors.New("random length must be positive")
	}
	if r == nil {
		r = Rand
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}

// RandomIndex returns a uniformly distributed integer in [0, n).
func RandomIndex(r io.Reader, n int) (int, error) {
	if n <= 0 {
		return 0, errors.New("random bound must be positive")
	}
	if r == nil {
		r = Rand
	}
	v, err := rand.Int(r, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("draw random index: %w", err)
	}
	return int(v.Int64()), nil
}
