package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// MasterFilename holds the master-password record.
	MasterFilename = "master.json"
	// VaultFilename holds the encrypted credential entries.
	VaultFilename = "vault.json"
)

// Paths locates vault artifacts on disk.
type Paths struct {
	Dir string
}

// MasterPath resolves the master-password record path.
func (p Paths) MasterPath() string {
	return filepath.Join(p.Dir, MasterFilename)
}

// VaultPath resolves the vault file path.
func (p Paths) VaultPath() string {
	return filepath.Join(p.Dir, VaultFilename)
}

// EnsureDir creates the vault directory with owner-only permissions.
func (p Paths) EnsureDir() error {
	if p.Dir == "" {
		return errors.New("vault directory not specified")
	}
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}
	return nil
}

// Exists reports whether path names an existing file.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteFileAtomic replaces path with data. The bytes go to a temp file in the
// same directory, are flushed to disk and renamed over the target, so readers
// observe either the old or the new contents and never a partial write.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%s: %w", step, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write temp file", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fail("chmod temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}

	return syncDir(dir)
}

// syncDir makes the rename durable. It is best effort: some platforms cannot
// fsync a directory.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
