package vault

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/Hussein-Mazeh/passvault/internal/logging"
	"github.com/Hussein-Mazeh/passvault/krypto"
)

// Snapshot returns a deep copy of the sealed vault for backup. Passwords
// stay encrypted.
func (s *Store) Snapshot() (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(); err != nil {
		return File{}, err
	}
	return s.file.clone(), nil
}

// ImportSealed adds entries sealed by another vault that used the same key.
// Each entry is authenticated with cipherName and re-sealed under a new id
// with a fresh nonce. Either every entry is imported or none is.
func (s *Store) ImportSealed(cipherName string, keyCheck Sealed, entries []Entry) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return nil, err
	}

	src, err := krypto.NewCipher(cipherName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptVault, err)
	}
	key := s.key.Bytes()
	if err := checkKey(src, key, keyCheck); err != nil {
		return nil, err
	}

	services := make([]string, len(entries))
	for i, e := range entries {
		services[i] = strings.TrimSpace(e.Service)
		if services[i] == "" {
			return nil, fmt.Errorf("import entry %s: %w", e.ID, ErrInvalidEntry)
		}
	}

	plain := make([][]byte, len(entries))
	defer func() { krypto.Wipe(plain...) }()
	for i, e := range entries {
		pt, err := openPassword(src, key, e)
		if err != nil {
			return nil, fmt.Errorf("import entry %s: %w", e.ID, err)
		}
		plain[i] = pt
	}

	now := s.opts.Now()
	next := s.file
	next.Entries = slices.Clip(s.file.Entries)
	ids := make([]string, 0, len(entries))
	for i, e := range entries {
		id := uuid.NewString()
		nonce, ct, err := s.seal(id, plain[i])
		if err != nil {
			return nil, err
		}
		created := e.CreatedAt
		if created.IsZero() {
			created = now
		}
		next.Entries = append(next.Entries, Entry{
			ID:         id,
			Service:    services[i],
			Username:   e.Username,
			Nonce:      nonce,
			Ciphertext: ct,
			CreatedAt:  created,
			UpdatedAt:  now,
		})
		ids = append(ids, id)
	}

	if err := s.persist(next); err != nil {
		return nil, err
	}
	logging.Infof("imported %d entries", len(ids))
	return ids, nil
}
