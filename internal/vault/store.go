package vault

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Hussein-Mazeh/passvault/internal/logging"
	"github.com/Hussein-Mazeh/passvault/krypto"
	"github.com/Hussein-Mazeh/passvault/store"
)

var (
	// ErrVault groups every VaultStore failure.
	ErrVault = errors.New("vault")
	// ErrVaultLocked is returned when the store holds no session key.
	ErrVaultLocked = fmt.Errorf("%w: vault is locked", ErrVault)
	// ErrEntryNotFound is returned for an unknown entry id.
	ErrEntryNotFound = fmt.Errorf("%w: entry not found", ErrVault)
	// ErrCorruptVault means the vault file or in-memory state cannot be trusted.
	ErrCorruptVault = fmt.Errorf("%w: vault is corrupt", ErrVault)
	// ErrStorageIO wraps failures to read or write the backing file.
	ErrStorageIO = fmt.Errorf("%w: storage i/o", ErrVault)
	// ErrVaultInUse is returned when another session holds the vault lock.
	ErrVaultInUse = fmt.Errorf("%w: vault is open in another session", ErrVault)
	// ErrInvalidEntry rejects entries without a service name.
	ErrInvalidEntry = fmt.Errorf("%w: service name is required", ErrVault)
)

// Options tune how a Store seals and loads entries.
type Options struct {
	// Cipher names the AEAD suite for a new vault. Existing vaults keep the
	// suite recorded in their file.
	Cipher string
	// VerifyOnOpen authenticates every entry on open and fails with
	// ErrCorruptVault if any is damaged.
	VerifyOnOpen bool
	// Rand overrides the nonce source.
	Rand io.Reader
	// Now overrides the timestamp source.
	Now func() time.Time
}

// DefaultOptions returns AES-256-GCM with strict verification.
func DefaultOptions() Options {
	return Options{Cipher: krypto.CipherAESGCM, VerifyOnOpen: true}
}

// Changes lists the fields Update replaces. Nil fields are left untouched.
type Changes struct {
	Username *string
	Password *string
}

// Store is an open vault file. All methods are safe for concurrent use and
// are applied one at a time.
type Store struct {
	mu     sync.Mutex
	path   string
	opts   Options
	lock   *store.FileLock
	cipher krypto.Cipher
	key    *krypto.SessionKey
	file   File
	nonces map[string]struct{}
	gen    uint64
	// integrity is non-nil while the store refuses mutations.
	integrity error
	closed    bool
}

// Open locks the vault at path and loads it under key, creating an empty
// vault when the file does not exist. The store keeps its own clone of key.
func Open(path string, key *krypto.SessionKey, opts Options) (*Store, error) {
	if !key.Alive() {
		return nil, ErrVaultLocked
	}
	if opts.Cipher == "" {
		opts.Cipher = krypto.CipherAESGCM
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	lock, err := store.AcquireLock(path)
	if err != nil {
		if errors.Is(err, store.ErrLocked) {
			return nil, ErrVaultInUse
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}

	s := &Store{
		path: path,
		opts: opts,
		lock: lock,
		key:  key.Clone(),
	}

	if store.Exists(path) {
		err = s.load()
	} else {
		err = s.create()
	}
	if err != nil {
		s.key.Destroy()
		_ = lock.Release()
		return nil, err
	}

	logging.Debugf("vault opened: %s (%s, %d entries)", path, s.cipher.Name(), len(s.file.Entries))
	return s, nil
}

func (s *Store) newCipher(name string) (krypto.Cipher, error) {
	return krypto.NewCipherWithRand(name, s.opts.Rand)
}

func (s *Store) create() error {
	c, err := s.newCipher(s.opts.Cipher)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVault, err)
	}
	kc, err := sealKeyCheck(c, s.key.Bytes())
	if err != nil {
		return err
	}

	f := File{FormatVersion: FormatVersion, Cipher: c.Name(), KeyCheck: kc}
	if err := s.write(f); err != nil {
		return err
	}
	s.cipher = c
	s.file = f
	s.nonces = map[string]struct{}{string(kc.Nonce): {}}
	return nil
}

// load reads the file from disk and replaces the in-memory state. It checks
// the key before touching any entry.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: read vault: %v", ErrStorageIO, err)
	}
	f, err := decodeFile(data)
	if err != nil {
		return err
	}
	c, err := s.newCipher(f.Cipher)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptVault, err)
	}
	if err := checkKey(c, s.key.Bytes(), f.KeyCheck); err != nil {
		return err
	}

	if s.opts.VerifyOnOpen {
		if damaged := damagedEntries(c, s.key.Bytes(), f.Entries); len(damaged) > 0 {
			return fmt.Errorf("%w: %d entries failed authentication", ErrCorruptVault, len(damaged))
		}
	}

	nonces := make(map[string]struct{}, len(f.Entries)+1)
	nonces[string(f.KeyCheck.Nonce)] = struct{}{}
	for _, e := range f.Entries {
		nonces[string(e.Nonce)] = struct{}{}
	}

	s.cipher = c
	s.file = f
	s.nonces = nonces
	s.gen++
	return nil
}

func damagedEntries(c krypto.Cipher, key []byte, entries []Entry) []string {
	var ids []string
	for _, e := range entries {
		pt, err := openPassword(c, key, e)
		if err != nil {
			ids = append(ids, e.ID)
			continue
		}
		krypto.Wipe(pt)
	}
	return ids
}

func (s *Store) write(f File) error {
	data, err := encodeFile(f)
	if err != nil {
		return fmt.Errorf("%w: encode vault: %v", ErrStorageIO, err)
	}
	if err := store.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	return nil
}

// persist writes next and makes it the in-memory state. On failure the
// in-memory state is left as it was.
func (s *Store) persist(next File) error {
	if err := s.write(next); err != nil {
		logging.Errorf("vault persist failed: %v", err)
		return err
	}
	s.file = next
	s.gen++
	return nil
}

func (s *Store) readable() error {
	if s.closed || !s.key.Alive() {
		return ErrVaultLocked
	}
	return nil
}

func (s *Store) writable() error {
	if err := s.readable(); err != nil {
		return err
	}
	if s.integrity != nil {
		return fmt.Errorf("%w: refusing to write after %v", ErrCorruptVault, s.integrity)
	}
	return nil
}

// seal encrypts a password for id and records the nonce. A nonce already
// seen under this key puts the store into integrity lockdown.
func (s *Store) seal(id string, password []byte) (nonce, ciphertext []byte, err error) {
	nonce, ciphertext, err = sealPassword(s.cipher, s.key.Bytes(), id, password)
	if err != nil {
		return nil, nil, err
	}
	if _, seen := s.nonces[string(nonce)]; seen {
		s.integrity = krypto.ErrNonceReuseDetected
		logging.Errorf("nonce reuse detected sealing entry %s; vault is read-only until reset", id)
		return nil, nil, krypto.ErrNonceReuseDetected
	}
	s.nonces[string(nonce)] = struct{}{}
	return nonce, ciphertext, nil
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.file.Entries, func(e Entry) bool { return e.ID == id })
}

// List returns the entries as of this call, in insertion order. The sequence
// can be ranged over more than once and is not affected by later mutations.
func (s *Store) List() (iter.Seq[Summary], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(); err != nil {
		return nil, err
	}

	snapshot := make([]Summary, len(s.file.Entries))
	for i, e := range s.file.Entries {
		snapshot[i] = e.summary()
	}
	return func(yield func(Summary) bool) {
		for _, sum := range snapshot {
			if !yield(sum) {
				return
			}
		}
	}, nil
}

// Find returns entries whose service matches name, ignoring case.
func (s *Store) Find(name string) ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	var out []Summary
	for _, e := range s.file.Entries {
		if strings.EqualFold(e.Service, name) {
			out = append(out, e.summary())
		}
	}
	return out, nil
}

// Len reports the number of entries, or zero when locked.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readable() != nil {
		return 0
	}
	return len(s.file.Entries)
}

// Reveal decrypts the password of entry id.
func (s *Store) Reveal(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(); err != nil {
		return "", err
	}

	i := s.indexOf(id)
	if i < 0 {
		return "", ErrEntryNotFound
	}
	pt, err := openPassword(s.cipher, s.key.Bytes(), s.file.Entries[i])
	if err != nil {
		logging.Warnf("entry %s failed authentication", id)
		return "", err
	}
	defer krypto.Wipe(pt)
	return string(pt), nil
}

// Add seals a new entry and persists the vault before returning its id.
func (s *Store) Add(service, username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return "", err
	}

	service = strings.TrimSpace(service)
	if service == "" {
		return "", ErrInvalidEntry
	}

	id := uuid.NewString()
	pw := []byte(password)
	nonce, ct, err := s.seal(id, pw)
	krypto.Wipe(pw)
	if err != nil {
		return "", err
	}

	now := s.opts.Now()
	next := s.file
	next.Entries = append(slices.Clip(s.file.Entries), Entry{
		ID:         id,
		Service:    service,
		Username:   username,
		Nonce:      nonce,
		Ciphertext: ct,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err := s.persist(next); err != nil {
		return "", err
	}

	logging.Debugf("entry added: %s", id)
	return id, nil
}

// Update applies changes to entry id. A new password is sealed under a fresh
// nonce.
func (s *Store) Update(id string, ch Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	i := s.indexOf(id)
	if i < 0 {
		return ErrEntryNotFound
	}

	e := s.file.Entries[i]
	if ch.Username != nil {
		e.Username = *ch.Username
	}
	if ch.Password != nil {
		pw := []byte(*ch.Password)
		nonce, ct, err := s.seal(id, pw)
		krypto.Wipe(pw)
		if err != nil {
			return err
		}
		e.Nonce, e.Ciphertext = nonce, ct
	}
	e.UpdatedAt = s.opts.Now()

	next := s.file
	next.Entries = slices.Clone(s.file.Entries)
	next.Entries[i] = e
	if err := s.persist(next); err != nil {
		return err
	}

	logging.Debugf("entry updated: %s", id)
	return nil
}

// Delete removes entry id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}

	i := s.indexOf(id)
	if i < 0 {
		return ErrEntryNotFound
	}

	next := s.file
	next.Entries = slices.Delete(slices.Clone(s.file.Entries), i, i+1)
	if err := s.persist(next); err != nil {
		return err
	}

	logging.Debugf("entry deleted: %s", id)
	return nil
}

// Verify authenticates every entry and returns the ids that fail.
func (s *Store) Verify() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(); err != nil {
		return nil, err
	}
	damaged := damagedEntries(s.cipher, s.key.Bytes(), s.file.Entries)
	if len(damaged) > 0 {
		logging.Warnf("verify: %d of %d entries failed authentication", len(damaged), len(s.file.Entries))
	}
	return damaged, nil
}

// Reset reloads the vault from disk and clears an integrity lockdown.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readable(); err != nil {
		return err
	}
	if err := s.load(); err != nil {
		return err
	}
	s.integrity = nil
	logging.Infof("vault reloaded from %s", s.path)
	return nil
}

// Lock destroys the session key but keeps the file lock.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.key.Destroy()
	s.key = nil
}

// Unlock installs key after checking it against the vault.
func (s *Store) Unlock(key *krypto.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrVaultLocked
	}
	if !key.Alive() {
		return ErrVaultLocked
	}
	if err := checkKey(s.cipher, key.Bytes(), s.file.KeyCheck); err != nil {
		return err
	}
	s.key.Destroy()
	s.key = key.Clone()
	return nil
}

// Cipher reports the AEAD suite of the open vault.
func (s *Store) Cipher() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cipher.Name()
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Close destroys the key and releases the file lock. It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.key.Destroy()
	s.key = nil
	if err := s.lock.Release(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	return nil
}
