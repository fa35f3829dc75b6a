package vault

import (
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/passvault/internal/logging"
	"github.com/Hussein-Mazeh/passvault/krypto"
)

// ErrStaleRekey is returned when the vault changed between StageRekey and
// Commit.
var ErrStaleRekey = fmt.Errorf("%w: vault changed since re-key was staged", ErrVault)

// StagedRekey is a fully re-encrypted copy of the vault held in memory.
// Exactly one of Commit or Discard must be called.
type StagedRekey struct {
	s      *Store
	gen    uint64
	file   File
	nonces map[string]struct{}
	key    *krypto.SessionKey
}

// StageRekey decrypts every entry under the current key and re-seals it
// under newKey with fresh nonces. Nothing is written. If any entry fails to
// decrypt the vault is left untouched.
func (s *Store) StageRekey(newKey *krypto.SessionKey) (*StagedRekey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return nil, err
	}
	if !newKey.Alive() {
		return nil, errors.New("new key is not alive")
	}

	oldKey, nk := s.key.Bytes(), newKey.Bytes()

	kc, err := sealKeyCheck(s.cipher, nk)
	if err != nil {
		return nil, err
	}
	next := s.file.clone()
	next.KeyCheck = kc
	nonces := map[string]struct{}{string(kc.Nonce): {}}

	for i, e := range next.Entries {
		pt, err := openPassword(s.cipher, oldKey, e)
		if err != nil {
			return nil, fmt.Errorf("re-key entry %s: %w", e.ID, err)
		}
		nonce, ct, err := sealPassword(s.cipher, nk, e.ID, pt)
		krypto.Wipe(pt)
		if err != nil {
			return nil, fmt.Errorf("re-key entry %s: %w", e.ID, err)
		}
		if _, seen := nonces[string(nonce)]; seen {
			s.integrity = krypto.ErrNonceReuseDetected
			logging.Errorf("nonce reuse detected re-keying entry %s; vault is read-only until reset", e.ID)
			return nil, krypto.ErrNonceReuseDetected
		}
		nonces[string(nonce)] = struct{}{}
		next.Entries[i].Nonce, next.Entries[i].Ciphertext = nonce, ct
	}

	return &StagedRekey{
		s:      s,
		gen:    s.gen,
		file:   next,
		nonces: nonces,
		key:    newKey.Clone(),
	}, nil
}

// Commit persists the re-keyed vault and switches the store to the new key.
func (r *StagedRekey) Commit() error {
	if r == nil || !r.key.Alive() {
		return errors.New("re-key already committed or discarded")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	if s.gen != r.gen {
		return ErrStaleRekey
	}
	if err := s.persist(r.file); err != nil {
		return err
	}

	s.key.Destroy()
	s.key = r.key
	s.nonces = r.nonces
	r.key = nil
	logging.Infof("vault re-keyed (%d entries)", len(s.file.Entries))
	return nil
}

// Discard drops the staged copy. It is a no-op after Commit.
func (r *StagedRekey) Discard() {
	if r == nil {
		return
	}
	r.key.Destroy()
	r.key = nil
}

// Rekey re-encrypts the whole vault under newKey and persists it.
func (s *Store) Rekey(newKey *krypto.SessionKey) error {
	staged, err := s.StageRekey(newKey)
	if err != nil {
		return err
	}
	defer staged.Discard()
	return staged.Commit()
}
