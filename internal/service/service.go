package service

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Hussein-Mazeh/passvault/auth"
	"github.com/Hussein-Mazeh/passvault/generator"
	"github.com/Hussein-Mazeh/passvault/internal/config"
	"github.com/Hussein-Mazeh/passvault/internal/db"
	"github.com/Hussein-Mazeh/passvault/internal/logging"
	"github.com/Hussein-Mazeh/passvault/internal/vault"
	"github.com/Hussein-Mazeh/passvault/krypto"
	"github.com/Hussein-Mazeh/passvault/store"
)

var (
	// ErrOrphanedVault means a vault file exists without a master record, so
	// no password can ever derive its key again.
	ErrOrphanedVault = errors.New("vault file exists but no master password is enrolled")
	// ErrAlreadyEnrolled is returned by Enroll on a locked, enrolled vault.
	ErrAlreadyEnrolled = errors.New("master password already set; log in to change it")
)

// Service exposes high-level vault operations for the CLI. It owns one
// master authority and at most one open vault store.
type Service struct {
	mu        sync.Mutex
	cfg       config.Config
	paths     store.Paths
	auth      *auth.Authority
	vault     *vault.Store
	vaultOpts vault.Options
	policy    generator.Policy
}

// New returns a service bound to cfg.Vault.Dir. Nothing is unlocked.
func New(cfg config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := generator.ParsePolicy(cfg.Generator.Policy)
	if err != nil {
		return nil, err
	}

	paths := store.Paths{Dir: cfg.Vault.Dir}
	if err := paths.EnsureDir(); err != nil {
		return nil, err
	}

	opts := vault.DefaultOptions()
	opts.Cipher = cfg.Vault.Cipher
	opts.VerifyOnOpen = cfg.Vault.VerifyOnOpen

	return &Service{
		cfg:       cfg,
		paths:     paths,
		auth:      auth.New(paths.MasterPath(), auth.WithArgon2Params(cfg.Argon2Params())),
		vaultOpts: opts,
		policy:    policy,
	}, nil
}

// Paths returns the on-disk layout.
func (s *Service) Paths() store.Paths { return s.paths }

// IsEnrolled reports whether a master password has been set.
func (s *Service) IsEnrolled() bool { return s.auth.IsEnrolled() }

// State reports the authority lifecycle position.
func (s *Service) State() auth.State { return s.auth.State() }

// Enroll sets the master password and opens a new, empty vault. While
// unlocked it replaces the master password and re-keys the vault instead.
func (s *Service) Enroll(password krypto.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.auth.State() {
	case auth.Unlocked:
		return s.rekey(password)
	case auth.Enrolled:
		return ErrAlreadyEnrolled
	}

	if store.Exists(s.paths.VaultPath()) {
		return ErrOrphanedVault
	}

	key, err := s.auth.Enroll(password)
	if err != nil {
		return err
	}
	defer key.Destroy()

	st, err := vault.Open(s.paths.VaultPath(), key, s.vaultOpts)
	if err != nil {
		s.auth.Lock()
		return fmt.Errorf("create vault: %w", err)
	}
	s.vault = st
	logging.Infof("master password enrolled; vault created at %s", s.paths.VaultPath())
	return nil
}

// Login verifies password and opens the vault.
func (s *Service) Login(password krypto.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.login(password)
}

func (s *Service) login(password krypto.Secret) error {
	key, err := s.auth.Login(password)
	if err != nil {
		return err
	}
	defer key.Destroy()

	if s.vault != nil {
		if err := s.vault.Unlock(key); err != nil {
			s.auth.Lock()
			return err
		}
		return nil
	}

	st, err := vault.Open(s.paths.VaultPath(), key, s.vaultOpts)
	if err != nil {
		s.auth.Lock()
		return err
	}
	s.vault = st
	logging.Debugf("session unlocked")
	return nil
}

// Lock wipes the session key. The vault stays reserved for this process
// until Close.
func (s *Service) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vault != nil {
		s.vault.Lock()
	}
	s.auth.Lock()
}

// ChangeMaster verifies current, then replaces the master password with
// next and re-keys every entry.
func (s *Service) ChangeMaster(current, next krypto.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.login(current); err != nil {
		return err
	}
	return s.rekey(next)
}

// rekey stages the re-encrypted vault before the new record is written, so
// a failure at any step leaves the old password working.
func (s *Service) rekey(next krypto.Secret) error {
	if s.vault == nil {
		return vault.ErrVaultLocked
	}

	oldKey, err := s.auth.Key()
	if err != nil {
		return err
	}
	defer oldKey.Destroy()
	prev, err := s.auth.Record()
	if err != nil {
		return err
	}

	e, err := s.auth.Prepare(next)
	if err != nil {
		return err
	}
	defer e.Discard()

	staged, err := s.vault.StageRekey(e.Key())
	if err != nil {
		return fmt.Errorf("re-encrypt vault: %w", err)
	}
	defer staged.Discard()

	newKey, err := s.auth.Commit(e)
	if err != nil {
		return err
	}
	newKey.Destroy()

	if err := staged.Commit(); err != nil {
		if rerr := s.auth.Restore(prev, oldKey); rerr != nil {
			logging.Errorf("restore master record after failed re-key: %v", rerr)
			return errors.Join(err, rerr)
		}
		return fmt.Errorf("re-encrypt vault: %w", err)
	}
	logging.Infof("master password changed")
	return nil
}

func (s *Service) open() (*vault.Store, error) {
	if s.vault == nil {
		return nil, vault.ErrVaultLocked
	}
	return s.vault, nil
}

// List returns every entry without passwords.
func (s *Service) List() ([]vault.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.open()
	if err != nil {
		return nil, err
	}
	seq, err := st.List()
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// Find returns entries for a service name, ignoring case.
func (s *Service) Find(service string) ([]vault.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.open()
	if err != nil {
		return nil, err
	}
	return st.Find(service)
}

// Reveal decrypts the password of entry id.
func (s *Service) Reveal(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.open()
	if err != nil {
		return "", err
	}
	return st.Reveal(id)
}

// Add stores a new credential and returns its id.
func (s *Service) Add(service, username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.open()
	if err != nil {
		return "", err
	}
	return st.Add(service, username, password)
}

// Update changes the username and/or password of entry id.
func (s *Service) Update(id string, ch vault.Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.open()
	if err != nil {
		return err
	}
	return st.Update(id, ch)
}

// Delete removes entry id.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.open()
	if err != nil {
		return err
	}
	return st.Delete(id)
}

// Verify returns the ids of entries that fail authentication.
func (s *Service) Verify() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.open()
	if err != nil {
		return nil, err
	}
	return st.Verify()
}

// Reset reloads the vault from disk, clearing an integrity lockdown.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.open()
	if err != nil {
		return err
	}
	return st.Reset()
}

// DefaultLength returns the configured generated password length.
func (s *Service) DefaultLength() int { return s.cfg.Generator.Length }

// Generate returns a random password of exactly length characters using the
// configured policy. It does not require an unlocked vault.
func (s *Service) Generate(length int, classes generator.Classes) (string, error) {
	return generator.GenerateWith(length, classes, generator.Options{Policy: s.policy})
}

// Strength estimates how guessable password is.
func (s *Service) Strength(password string, userInputs ...string) auth.Strength {
	return auth.EstimateStrength(password, userInputs...)
}

// Export writes the sealed entries to a new SQLite archive at path and
// returns how many were written. Passwords stay encrypted under the current
// master password.
func (s *Service) Export(path string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.open()
	if err != nil {
		return 0, err
	}
	snap, err := st.Snapshot()
	if err != nil {
		return 0, err
	}

	a := db.Archive{
		Cipher:             snap.Cipher,
		KeyCheckNonce:      snap.KeyCheck.Nonce,
		KeyCheckCiphertext: snap.KeyCheck.Ciphertext,
		ExportedAt:         time.Now().UTC(),
		Entries:            make([]db.EntryRow, 0, len(snap.Entries)),
	}
	for _, e := range snap.Entries {
		a.Entries = append(a.Entries, db.EntryRow{
			ID:         e.ID,
			Service:    e.Service,
			Username:   e.Username,
			Nonce:      e.Nonce,
			Ciphertext: e.Ciphertext,
			CreatedAt:  e.CreatedAt,
			UpdatedAt:  e.UpdatedAt,
		})
	}
	if err := db.WriteArchive(path, a); err != nil {
		return 0, err
	}
	logging.Infof("exported %d entries to %s", len(a.Entries), path)
	return len(a.Entries), nil
}

// Import adds every entry of an archive written by Export under the same
// master password. Entries get new ids. Nothing is imported if any entry
// fails authentication.
func (s *Service) Import(path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.open()
	if err != nil {
		return nil, err
	}
	a, err := db.ReadArchive(path)
	if err != nil {
		return nil, err
	}

	entries := make([]vault.Entry, 0, len(a.Entries))
	for _, r := range a.Entries {
		entries = append(entries, vault.Entry{
			ID:         r.ID,
			Service:    r.Service,
			Username:   r.Username,
			Nonce:      r.Nonce,
			Ciphertext: r.Ciphertext,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		})
	}
	kc := vault.Sealed{Nonce: a.KeyCheckNonce, Ciphertext: a.KeyCheckCiphertext}
	return st.ImportSealed(a.Cipher, kc, entries)
}

// Close locks the session and releases the vault.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth.Lock()
	if s.vault == nil {
		return nil
	}
	err := s.vault.Close()
	s.vault = nil
	return err
}
