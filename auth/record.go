package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Hussein-Mazeh/passvault/krypto"
	"github.com/Hussein-Mazeh/passvault/store"
)

// RecordFormatVersion is the current master.json layout.
const RecordFormatVersion = 1

// ErrCorruptRecord indicates master.json exists but cannot be trusted.
var ErrCorruptRecord = errors.New("master password record is corrupt")

// KDFConfig describes the key-derivation parameters stored in the record.
type KDFConfig struct {
	Name        string `json:"name"`
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memoryKiB"`
	Parallelism uint8  `json:"parallelism"`
}

// Record is the persisted master-password verifier. It is written whole and
// never partially updated.
type Record struct {
	FormatVersion int       `json:"formatVersion"`
	Salt          []byte    `json:"salt"`
	Verifier      []byte    `json:"verifier"`
	KDF           KDFConfig `json:"kdf"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Params returns the Argon2 parameters the record was derived with.
func (r Record) Params() krypto.Argon2Params {
	return krypto.Argon2Params{
		Time:        r.KDF.Time,
		MemoryKiB:   r.KDF.MemoryKiB,
		Parallelism: r.KDF.Parallelism,
	}
}

func (r Record) validate() error {
	if r.FormatVersion != RecordFormatVersion {
		return fmt.Errorf("unsupported record version %d", r.FormatVersion)
	}
	if r.KDF.Name != krypto.KDFName {
		return fmt.Errorf("unsupported kdf %q", r.KDF.Name)
	}
	if len(r.Salt) != krypto.SaltLengthBytes {
		return errors.New("invalid salt length")
	}
	if len(r.Verifier) != krypto.VerifierLength {
		return errors.New("invalid verifier length")
	}
	return r.Params().Validate()
}

// LoadRecord reads and validates master.json. A missing file is reported
// with an error satisfying errors.Is(err, os.ErrNotExist).
func LoadRecord(path string) (Record, error) {
	var rec Record

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, err
		}
		return rec, fmt.Errorf("read master record: %w", err)
	}

	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("%w: decode: %v", ErrCorruptRecord, err)
	}
	if err := rec.validate(); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return rec, nil
}

// SaveRecord persists master.json atomically with restrictive permissions.
func SaveRecord(path string, rec Record) error {
	if err := rec.validate(); err != nil {
		return fmt.Errorf("refusing to save record: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode master record: %w", err)
	}
	if err := store.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("save master record: %w", err)
	}
	return nil
}
