package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ArchiveFormatVersion is the current backup layout.
const ArchiveFormatVersion = 1

const (
	metaFormatVersion      = "format_version"
	metaCipher             = "cipher"
	metaKeyCheckNonce      = "key_check_nonce"
	metaKeyCheckCiphertext = "key_check_ciphertext"
	metaExportedAt         = "exported_at"
)

var (
	// ErrArchiveExists is returned when an export would overwrite a file.
	ErrArchiveExists = errors.New("backup archive already exists")
	// ErrInvalidArchive is returned when a file is not a readable backup.
	ErrInvalidArchive = errors.New("not a valid backup archive")
)

// Archive is the content of an encrypted backup.
type Archive struct {
	Cipher             string
	KeyCheckNonce      []byte
	KeyCheckCiphertext []byte
	ExportedAt         time.Time
	Entries            []EntryRow
}

// WriteArchive creates a new backup at path. It never overwrites.
func WriteArchive(path string, a Archive) (err error) {
	if _, statErr := os.Stat(path); statErr == nil {
		return fmt.Errorf("%w: %s", ErrArchiveExists, path)
	}

	d, err := Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := Close(d); err == nil && cerr != nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	if err = Migrate(d); err != nil {
		return err
	}
	meta := map[string][]byte{
		metaFormatVersion:      []byte(strconv.Itoa(ArchiveFormatVersion)),
		metaCipher:             []byte(a.Cipher),
		metaKeyCheckNonce:      a.KeyCheckNonce,
		metaKeyCheckCiphertext: a.KeyCheckCiphertext,
		metaExportedAt:         []byte(a.ExportedAt.UTC().Format(time.RFC3339Nano)),
	}
	for k, v := range meta {
		if err = SetMeta(d, k, v); err != nil {
			return err
		}
	}
	if err = InsertEntries(d, a.Entries); err != nil {
		return err
	}
	return EnsurePerm0600(d.Path())
}

// ReadArchive loads a backup written by WriteArchive.
func ReadArchive(path string) (Archive, error) {
	var a Archive
	if _, err := os.Stat(path); err != nil {
		return a, fmt.Errorf("open archive: %w", err)
	}

	d, err := Open(path)
	if err != nil {
		return a, err
	}
	defer Close(d)

	get := func(key string) ([]byte, error) {
		v, err := GetMeta(d, key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: missing %s", ErrInvalidArchive, key)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		return v, nil
	}

	version, err := get(metaFormatVersion)
	if err != nil {
		return a, err
	}
	if string(version) != strconv.Itoa(ArchiveFormatVersion) {
		return a, fmt.Errorf("%w: unsupported version %s", ErrInvalidArchive, version)
	}

	cipherName, err := get(metaCipher)
	if err != nil {
		return a, err
	}
	a.Cipher = string(cipherName)
	if a.KeyCheckNonce, err = get(metaKeyCheckNonce); err != nil {
		return a, err
	}
	if a.KeyCheckCiphertext, err = get(metaKeyCheckCiphertext); err != nil {
		return a, err
	}
	exported, err := get(metaExportedAt)
	if err != nil {
		return a, err
	}
	if a.ExportedAt, err = time.Parse(time.RFC3339Nano, string(exported)); err != nil {
		return a, fmt.Errorf("%w: exported_at: %v", ErrInvalidArchive, err)
	}

	if a.Entries, err = ListEntries(d); err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return a, nil
}
