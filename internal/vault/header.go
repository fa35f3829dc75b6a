package vault

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Hussein-Mazeh/passvault/krypto"
)

// FormatVersion is the current vault.json layout.
const FormatVersion = 1

// Sealed is one AEAD output with the nonce it was sealed under.
type Sealed struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Entry is a stored credential. Only the password is encrypted; its
// ciphertext is bound to ID through associated data.
type Entry struct {
	ID         string    `json:"id"`
	Service    string    `json:"service"`
	Username   string    `json:"username"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Summary is the listing view of an entry. It never carries the password.
type Summary struct {
	ID        string
	Service   string
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e Entry) summary() Summary {
	return Summary{
		ID:        e.ID,
		Service:   e.Service,
		Username:  e.Username,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func (e Entry) clone() Entry {
	e.Nonce = slices.Clone(e.Nonce)
	e.Ciphertext = slices.Clone(e.Ciphertext)
	return e
}

// File is the persisted vault document.
type File struct {
	FormatVersion int     `json:"formatVersion"`
	Cipher        string  `json:"cipher"`
	KeyCheck      Sealed  `json:"keyCheck"`
	Entries       []Entry `json:"entries"`
}

func (f File) clone() File {
	out := f
	out.KeyCheck = Sealed{
		Nonce:      slices.Clone(f.KeyCheck.Nonce),
		Ciphertext: slices.Clone(f.KeyCheck.Ciphertext),
	}
	out.Entries = make([]Entry, len(f.Entries))
	for i, e := range f.Entries {
		out.Entries[i] = e.clone()
	}
	return out
}

// decodeFile parses and structurally validates vault.json. Anything that
// cannot be trusted is reported as ErrCorruptVault.
func decodeFile(data []byte) (File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("%w: decode: %v", ErrCorruptVault, err)
	}
	if err := f.validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f File) validate() error {
	if f.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrCorruptVault, f.FormatVersion)
	}
	c, err := krypto.NewCipher(f.Cipher)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptVault, err)
	}
	if len(f.KeyCheck.Nonce) != c.NonceSize() || len(f.KeyCheck.Ciphertext) == 0 {
		return fmt.Errorf("%w: malformed key check", ErrCorruptVault)
	}

	ids := make(map[string]struct{}, len(f.Entries))
	nonces := make(map[string]struct{}, len(f.Entries)+1)
	nonces[string(f.KeyCheck.Nonce)] = struct{}{}
	for i, e := range f.Entries {
		if _, err := uuid.Parse(e.ID); err != nil {
			return fmt.Errorf("%w: entry %d: invalid id", ErrCorruptVault, i)
		}
		if _, dup := ids[e.ID]; dup {
			return fmt.Errorf("%w: duplicate entry id %s", ErrCorruptVault, e.ID)
		}
		ids[e.ID] = struct{}{}

		if strings.TrimSpace(e.Service) == "" {
			return fmt.Errorf("%w: entry %s: missing service", ErrCorruptVault, e.ID)
		}
		if len(e.Nonce) != c.NonceSize() {
			return fmt.Errorf("%w: entry %s: malformed nonce", ErrCorruptVault, e.ID)
		}
		if _, dup := nonces[string(e.Nonce)]; dup {
			return fmt.Errorf("%w: entry %s: repeated nonce", ErrCorruptVault, e.ID)
		}
		nonces[string(e.Nonce)] = struct{}{}
	}
	return nil
}

func encodeFile(f File) ([]byte, error) {
	if f.Entries == nil {
		f.Entries = []Entry{}
	}
	return json.MarshalIndent(f, "", "  ")
}
