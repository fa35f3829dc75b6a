package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Hussein-Mazeh/passvault/krypto"
	"github.com/Hussein-Mazeh/passvault/store"
)

var (
	// ErrAuth groups every MasterAuthority failure.
	ErrAuth = errors.New("auth")
	// ErrNotEnrolled is returned by Login before a master password exists.
	ErrNotEnrolled = fmt.Errorf("%w: master password not set", ErrAuth)
	// ErrPasswordTooWeak is returned when a candidate fails the policy.
	ErrPasswordTooWeak = fmt.Errorf("%w: master password must be at least %d characters", ErrAuth, MinPasswordLength)
	// ErrWrongPassword is returned when the candidate does not match the record.
	ErrWrongPassword = fmt.Errorf("%w: wrong master password", ErrAuth)
	// ErrNotUnlocked is returned by Key while no session key is held.
	ErrNotUnlocked = fmt.Errorf("%w: not unlocked", ErrAuth)
)

// State is the authority lifecycle position.
type State int

const (
	// Uninitialized means no record exists on disk.
	Uninitialized State = iota
	// Enrolled means a record exists but no key was derived this run.
	Enrolled
	// Unlocked means a live session key is held.
	Unlocked
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Enrolled:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Authority owns master-password enrollment and verification for one record
// file. It is safe for concurrent use.
type Authority struct {
	mu     sync.Mutex
	path   string
	params krypto.Argon2Params
	now    func() time.Time
	key    *krypto.SessionKey
}

// Option customises an Authority.
type Option func(*Authority)

// WithArgon2Params sets the cost used for new enrollments. Existing records
// keep the cost they were created with.
func WithArgon2Params(p krypto.Argon2Params) Option {
	return func(a *Authority) { a.params = p }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// New returns an authority bound to the record at path.
func New(path string, opts ...Option) *Authority {
	a := &Authority{
		path:   path,
		params: krypto.DefaultArgon2Params(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Path returns the record location.
func (a *Authority) Path() string { return a.path }

// IsEnrolled reports whether a record is persisted.
func (a *Authority) IsEnrolled() bool {
	return store.Exists(a.path)
}

// State reports the current lifecycle position.
func (a *Authority) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Authority) stateLocked() State {
	switch {
	case a.key.Alive():
		return Unlocked
	case store.Exists(a.path):
		return Enrolled
	default:
		return Uninitialized
	}
}

// Record loads the persisted record.
func (a *Authority) Record() (Record, error) {
	rec, err := LoadRecord(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return rec, ErrNotEnrolled
	}
	return rec, err
}

// Enrollment is a derived but not yet persisted master password.
type Enrollment struct {
	record Record
	key    *krypto.SessionKey
}

// Key exposes the pending session key. It stays owned by the enrollment.
func (e *Enrollment) Key() *krypto.SessionKey { return e.key }

// Discard destroys the pending key. It is a no-op after Commit.
func (e *Enrollment) Discard() {
	if e == nil {
		return
	}
	e.key.Destroy()
	e.key = nil
}

// Prepare validates candidate and derives a fresh salt, verifier and key
// without touching disk.
func (a *Authority) Prepare(candidate krypto.Secret) (*Enrollment, error) {
	if err := ValidateMasterPassword(candidate); err != nil {
		return nil, err
	}

	salt, err := krypto.NewRandomSalt()
	if err != nil {
		return nil, err
	}

	key, verifier, err := krypto.DeriveKeys(candidate, salt, a.params)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	now := a.now()
	return &Enrollment{
		record: Record{
			FormatVersion: RecordFormatVersion,
			Salt:          salt,
			Verifier:      verifier,
			KDF: KDFConfig{
				Name:        krypto.KDFName,
				Time:        a.params.Time,
				MemoryKiB:   a.params.MemoryKiB,
				Parallelism: a.params.Parallelism,
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		key: key,
	}, nil
}

// Commit persists a prepared enrollment, replacing any existing record, and
// unlocks with its key. The returned key is a clone owned by the caller.
func (a *Authority) Commit(e *Enrollment) (*krypto.SessionKey, error) {
	if e == nil || !e.key.Alive() {
		return nil, errors.New("enrollment already used or discarded")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, err := LoadRecord(a.path); err == nil {
		e.record.CreatedAt = prev.CreatedAt
	}
	if err := SaveRecord(a.path, e.record); err != nil {
		return nil, err
	}

	a.key.Destroy()
	a.key = e.key
	e.key = nil
	return a.key.Clone(), nil
}

// Enroll sets the master password and unlocks. Enrolling over an existing
// record replaces it: data encrypted under the previous key must be re-keyed
// by the caller.
func (a *Authority) Enroll(candidate krypto.Secret) (*krypto.SessionKey, error) {
	e, err := a.Prepare(candidate)
	if err != nil {
		return nil, err
	}
	defer e.Discard()
	return a.Commit(e)
}

// Login verifies candidate against the record and unlocks. The returned key
// is a clone owned by the caller.
func (a *Authority) Login(candidate krypto.Secret) (*krypto.SessionKey, error) {
	rec, err := a.Record()
	if err != nil {
		return nil, err
	}
	if len(candidate) == 0 {
		return nil, ErrWrongPassword
	}

	key, verifier, err := krypto.DeriveKeys(candidate, rec.Salt, rec.Params())
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer krypto.Wipe(verifier)

	if subtle.ConstantTimeCompare(verifier, rec.Verifier) != 1 {
		key.Destroy()
		return nil, ErrWrongPassword
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.key.Destroy()
	a.key = key
	return key.Clone(), nil
}

// Restore rewrites a previously loaded record and reinstates key as the
// session key. It undoes a Commit whose follow-up work failed.
func (a *Authority) Restore(rec Record, key *krypto.SessionKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := SaveRecord(a.path, rec); err != nil {
		return err
	}
	a.key.Destroy()
	a.key = key.Clone()
	return nil
}

// Key returns a clone of the held session key.
func (a *Authority) Key() (*krypto.SessionKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.key.Alive() {
		return nil, ErrNotUnlocked
	}
	return a.key.Clone(), nil
}

// Lock destroys the session key. It is idempotent.
func (a *Authority) Lock() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.key.Destroy()
	a.key = nil
}
