package vault

import (
	"github.com/Hussein-Mazeh/passvault/krypto"
)

const (
	entryAADPrefix = "passvault/v1/entry/"
	keyCheckAAD    = "passvault/v1/key-check"
)

// keyCheckPlaintext is sealed into every vault so a wrong key is detected
// before any entry is touched, even when the vault is empty.
var keyCheckPlaintext = []byte("passvault key check v1")

// entryAAD binds a ciphertext to its entry id so sealed passwords cannot be
// swapped between entries.
func entryAAD(id string) []byte {
	return []byte(entryAADPrefix + id)
}

// sealPassword encrypts plaintext for entry id.
//
// Args:
//
//	c: the vault's cipher suite.
//	key: the session key; must be 32 bytes.
//	id: entry identifier, used as associated data.
//	plaintext: the credential password.
//
// Returns the nonce and ciphertext, or an error when encryption fails.
func sealPassword(c krypto.Cipher, key []byte, id string, plaintext []byte) (nonce, ciphertext []byte, err error) {
	ciphertext, nonce, err = c.Encrypt(key, plaintext, entryAAD(id))
	if err != nil {
		return nil, nil, err
	}
	return nonce, ciphertext, nil
}

// openPassword decrypts the password of e. The caller wipes the result.
func openPassword(c krypto.Cipher, key []byte, e Entry) ([]byte, error) {
	return c.Decrypt(key, e.Ciphertext, e.Nonce, entryAAD(e.ID))
}

func sealKeyCheck(c krypto.Cipher, key []byte) (Sealed, error) {
	ct, nonce, err := c.Encrypt(key, keyCheckPlaintext, []byte(keyCheckAAD))
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{Nonce: nonce, Ciphertext: ct}, nil
}

// checkKey reports krypto.ErrAuthenticationFailed when key did not seal kc.
func checkKey(c krypto.Cipher, key []byte, kc Sealed) error {
	pt, err := c.Decrypt(key, kc.Ciphertext, kc.Nonce, []byte(keyCheckAAD))
	if err != nil {
		return err
	}
	krypto.Wipe(pt)
	return nil
}
