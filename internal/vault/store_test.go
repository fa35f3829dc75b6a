package vault_test

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/Hussein-Mazeh/passvault/internal/vault"
	"github.com/Hussein-Mazeh/passvault/krypto"
)

func testKey(b byte) *krypto.SessionKey {
	return krypto.NewSessionKey(bytes.Repeat([]byte{b}, krypto.KeyLength))
}

func vaultPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "vault.json")
}

func openVault(t *testing.T, path string, key *krypto.SessionKey, opts vault.Options) *vault.Store {
	t.Helper()
	s, err := vault.Open(path, key, opts)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func collect(t *testing.T, s *vault.Store) []vault.Summary {
	t.Helper()
	seq, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return slices.Collect(seq)
}

func rewrite(t *testing.T, path string, mutate func(*vault.File)) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read vault: %v", err)
	}
	var f vault.File
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode vault: %v", err)
	}
	mutate(&f)
	out, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("encode vault: %v", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		t.Fatalf("write vault: %v", err)
	}
}

func TestOpenCreatesVaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.json")
	key := testKey(1)
	defer key.Destroy()

	s := openVault(t, path, key, vault.DefaultOptions())

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected vault file at %q: %v", path, err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("vault permissions = %o, want 600", perm)
	}
	if s.Len() != 0 {
		t.Fatalf("new vault has %d entries", s.Len())
	}
	if s.Cipher() != krypto.CipherAESGCM {
		t.Fatalf("cipher = %q", s.Cipher())
	}
	if !key.Alive() {
		t.Fatal("Open must not consume the caller's key")
	}
}

func TestAddRevealRoundTrip(t *testing.T) {
	key := testKey(2)
	defer key.Destroy()
	s := openVault(t, vaultPath(t), key, vault.DefaultOptions())

	tests := []struct {
		service  string
		username string
		password string
	}{
		{"github.com", "octocat", "s3cr3t!"},
		{"mail", "", ""},
		{"bank", "me@example.com", "pässwörd ✓"},
		{"github.com", "second-account", "another"},
	}

	ids := make([]string, len(tests))
	for i, tt := range tests {
		id, err := s.Add(tt.service, tt.username, tt.password)
		if err != nil {
			t.Fatalf("Add(%q): %v", tt.service, err)
		}
		ids[i] = id
	}

	for i, tt := range tests {
		got, err := s.Reveal(ids[i])
		if err != nil {
			t.Fatalf("Reveal(%s): %v", ids[i], err)
		}
		if got != tt.password {
			t.Fatalf("Reveal(%s) = %q, want %q", ids[i], got, tt.password)
		}
	}

	list := collect(t, s)
	if len(list) != len(tests) {
		t.Fatalf("List returned %d entries, want %d", len(list), len(tests))
	}
	for i, sum := range list {
		if sum.ID != ids[i] || sum.Service != tests[i].service || sum.Username != tests[i].username {
			t.Fatalf("List[%d] = %+v", i, sum)
		}
	}

	found, err := s.Find("GitHub.com")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Find matched %d entries, want 2", len(found))
	}
}

func TestVaultFileHoldsNoPlaintext(t *testing.T) {
	path := vaultPath(t)
	key := testKey(3)
	defer key.Destroy()
	s := openVault(t, path, key, vault.DefaultOptions())

	if _, err := s.Add("intranet", "user", "needle-in-the-file"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read vault: %v", err)
	}
	if bytes.Contains(data, []byte("needle-in-the-file")) {
		t.Fatal("vault file contains a plaintext password")
	}
}

func TestAddRequiresService(t *testing.T) {
	key := testKey(4)
	defer key.Destroy()
	s := openVault(t, vaultPath(t), key, vault.DefaultOptions())

	for _, name := range []string{"", "   ", "\t"} {
		if _, err := s.Add(name, "user", "pw"); !errors.Is(err, vault.ErrInvalidEntry) {
			t.Fatalf("Add(%q) error = %v, want ErrInvalidEntry", name, err)
		}
	}
	if s.Len() != 0 {
		t.Fatal("rejected add must not create an entry")
	}
}

func TestListIsSnapshot(t *testing.T) {
	key := testKey(5)
	defer key.Destroy()
	s := openVault(t, vaultPath(t), key, vault.DefaultOptions())

	first, err := s.Add("one", "", "1")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	seq, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if _, err := s.Add("two", "", "2"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Delete(first); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for range 2 {
		got := slices.Collect(seq)
		if len(got) != 1 || got[0].ID != first {
			t.Fatalf("snapshot changed: %+v", got)
		}
	}
}

func TestUpdateChangesNonceAndValue(t *testing.T) {
	path := vaultPath(t)
	key := testKey(6)
	defer key.Destroy()
	s := openVault(t, path, key, vault.DefaultOptions())

	id, err := s.Add("svc", "alice", "old-password")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	before, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	newPw := "new-password"
	if err := s.Update(id, vault.Changes{Password: &newPw}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	after, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if bytes.Equal(before.Entries[0].Nonce, after.Entries[0].Nonce) {
		t.Fatal("password update must use a fresh nonce")
	}
	if got, _ := s.Reveal(id); got != newPw {
		t.Fatalf("Reveal = %q, want %q", got, newPw)
	}
	if after.Entries[0].Username != "alice" {
		t.Fatal("username changed without being requested")
	}
	if after.Entries[0].UpdatedAt.Before(before.Entries[0].UpdatedAt) {
		t.Fatal("updatedAt went backwards")
	}

	user := "bob"
	if err := s.Update(id, vault.Changes{Username: &user}); err != nil {
		t.Fatalf("Update username: %v", err)
	}
	final, _ := s.Snapshot()
	if !bytes.Equal(final.Entries[0].Nonce, after.Entries[0].Nonce) {
		t.Fatal("username-only update should keep the sealed password")
	}
	if got, _ := s.Reveal(id); got != newPw {
		t.Fatalf("password changed on username update: %q", got)
	}
}

func TestDeleteThenNotFound(t *testing.T) {
	key := testKey(7)
	defer key.Destroy()
	s := openVault(t, vaultPath(t), key, vault.DefaultOptions())

	id, err := s.Add("svc", "u", "p")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	pw := "x"
	if _, err := s.Reveal(id); !errors.Is(err, vault.ErrEntryNotFound) {
		t.Fatalf("Reveal error = %v, want ErrEntryNotFound", err)
	}
	if err := s.Update(id, vault.Changes{Password: &pw}); !errors.Is(err, vault.ErrEntryNotFound) {
		t.Fatalf("Update error = %v, want ErrEntryNotFound", err)
	}
	if err := s.Delete(id); !errors.Is(err, vault.ErrEntryNotFound) {
		t.Fatalf("second Delete error = %v, want ErrEntryNotFound", err)
	}
	if !errors.Is(vault.ErrEntryNotFound, vault.ErrVault) {
		t.Fatal("ErrEntryNotFound should belong to the vault error class")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := vaultPath(t)
	key := testKey(8)
	defer key.Destroy()

	s, err := vault.Open(path, key, vault.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s.Add("persisted", "user", "kept")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := openVault(t, path, key, vault.DefaultOptions())
	if got, err := reopened.Reveal(id); err != nil || got != "kept" {
		t.Fatalf("Reveal after reopen = %q, %v", got, err)
	}
}

func TestOpenWithWrongKey(t *testing.T) {
	path := vaultPath(t)
	right, wrong := testKey(9), testKey(10)
	defer right.Destroy()
	defer wrong.Destroy()

	s, err := vault.Open(path, right, vault.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	if _, err := vault.Open(path, wrong, vault.DefaultOptions()); !errors.Is(err, krypto.ErrAuthenticationFailed) {
		t.Fatalf("Open with wrong key error = %v, want ErrAuthenticationFailed", err)
	}
	// The failed open must release the lock.
	openVault(t, path, right, vault.DefaultOptions())
}

func corruptSecondEntry(t *testing.T, path string, key *krypto.SessionKey) []string {
	t.Helper()
	s, err := vault.Open(path, key, vault.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var ids []string
	for _, svc := range []string{"a", "b", "c"} {
		id, err := s.Add(svc, "user", "pw-"+svc)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		ids = append(ids, id)
	}
	s.Close()

	rewrite(t, path, func(f *vault.File) {
		f.Entries[1].Ciphertext[0] ^= 0x01
	})
	return ids
}

func TestCorruptEntryLazyMode(t *testing.T) {
	path := vaultPath(t)
	key := testKey(11)
	defer key.Destroy()
	ids := corruptSecondEntry(t, path, key)

	opts := vault.DefaultOptions()
	opts.VerifyOnOpen = false
	s := openVault(t, path, key, opts)

	if got := len(collect(t, s)); got != 3 {
		t.Fatalf("damaged entry should stay listed, got %d entries", got)
	}
	for i, svc := range []string{"a", "b", "c"} {
		got, err := s.Reveal(ids[i])
		if i == 1 {
			if !errors.Is(err, krypto.ErrAuthenticationFailed) {
				t.Fatalf("Reveal damaged entry error = %v", err)
			}
			continue
		}
		if err != nil || got != "pw-"+svc {
			t.Fatalf("Reveal(%s) = %q, %v", svc, got, err)
		}
	}

	damaged, err := s.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !slices.Equal(damaged, []string{ids[1]}) {
		t.Fatalf("Verify = %v, want [%s]", damaged, ids[1])
	}
}

func TestCorruptEntryStrictMode(t *testing.T) {
	path := vaultPath(t)
	key := testKey(12)
	defer key.Destroy()
	corruptSecondEntry(t, path, key)

	if _, err := vault.Open(path, key, vault.DefaultOptions()); !errors.Is(err, vault.ErrCorruptVault) {
		t.Fatalf("Open error = %v, want ErrCorruptVault", err)
	}
}

func TestCorruptFile(t *testing.T) {
	key := testKey(13)
	defer key.Destroy()

	tests := []struct {
		name   string
		mutate func(path string)
	}{
		{"not json", func(path string) { os.WriteFile(path, []byte("{oops"), 0o600) }},
		{"unknown version", func(path string) {
			rewrite(t, path, func(f *vault.File) { f.FormatVersion = 99 })
		}},
		{"unknown cipher", func(path string) {
			rewrite(t, path, func(f *vault.File) { f.Cipher = "rot13" })
		}},
		{"duplicate id", func(path string) {
			rewrite(t, path, func(f *vault.File) { f.Entries[1].ID = f.Entries[0].ID })
		}},
		{"blank service", func(path string) {
			rewrite(t, path, func(f *vault.File) { f.Entries[1].Service = "  " })
		}},
		{"short nonce", func(path string) {
			rewrite(t, path, func(f *vault.File) { f.Entries[0].Nonce = f.Entries[0].Nonce[:4] })
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := vaultPath(t)
			s, err := vault.Open(path, key, vault.DefaultOptions())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			s.Add("one", "", "1")
			s.Add("two", "", "2")
			s.Close()

			tt.mutate(path)
			if _, err := vault.Open(path, key, vault.DefaultOptions()); !errors.Is(err, vault.ErrCorruptVault) {
				t.Fatalf("Open error = %v, want ErrCorruptVault", err)
			}
		})
	}
}

func TestVaultInUse(t *testing.T) {
	path := vaultPath(t)
	key := testKey(14)
	defer key.Destroy()

	first, err := vault.Open(path, key, vault.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := vault.Open(path, key, vault.DefaultOptions()); !errors.Is(err, vault.ErrVaultInUse) {
		t.Fatalf("second Open error = %v, want ErrVaultInUse", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	openVault(t, path, key, vault.DefaultOptions())
}

func TestLockedStore(t *testing.T) {
	key, other := testKey(15), testKey(16)
	defer key.Destroy()
	defer other.Destroy()
	s := openVault(t, vaultPath(t), key, vault.DefaultOptions())

	id, err := s.Add("svc", "u", "p")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Lock()
	s.Lock()

	if _, err := s.List(); !errors.Is(err, vault.ErrVaultLocked) {
		t.Fatalf("List error = %v", err)
	}
	if _, err := s.Reveal(id); !errors.Is(err, vault.ErrVaultLocked) {
		t.Fatalf("Reveal error = %v", err)
	}
	if _, err := s.Add("x", "", ""); !errors.Is(err, vault.ErrVaultLocked) {
		t.Fatalf("Add error = %v", err)
	}
	if err := s.Delete(id); !errors.Is(err, vault.ErrVaultLocked) {
		t.Fatalf("Delete error = %v", err)
	}

	if err := s.Unlock(other); !errors.Is(err, krypto.ErrAuthenticationFailed) {
		t.Fatalf("Unlock with wrong key error = %v", err)
	}
	if err := s.Unlock(key); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if got, err := s.Reveal(id); err != nil || got != "p" {
		t.Fatalf("Reveal after unlock = %q, %v", got, err)
	}

	s.Close()
	if _, err := s.List(); !errors.Is(err, vault.ErrVaultLocked) {
		t.Fatalf("List after Close error = %v", err)
	}
	if err := s.Unlock(key); !errors.Is(err, vault.ErrVaultLocked) {
		t.Fatalf("Unlock after Close error = %v", err)
	}
}

// switchReader returns zeros while stuck is set, random bytes otherwise.
type switchReader struct {
	mu    sync.Mutex
	stuck bool
}

func (r *switchReader) set(stuck bool) {
	r.mu.Lock()
	r.stuck = stuck
	r.mu.Unlock()
}

func (r *switchReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stuck {
		clear(p)
		return len(p), nil
	}
	return rand.Read(p)
}

func TestNonceReuseLocksDownWrites(t *testing.T) {
	key := testKey(17)
	defer key.Destroy()
	rng := &switchReader{}

	opts := vault.DefaultOptions()
	opts.Rand = rng
	s := openVault(t, vaultPath(t), key, opts)

	rng.set(true)
	first, err := s.Add("first", "", "one")
	if err != nil {
		t.Fatalf("first Add with a fixed nonce should succeed: %v", err)
	}
	if _, err := s.Add("second", "", "two"); !errors.Is(err, krypto.ErrNonceReuseDetected) {
		t.Fatalf("Add error = %v, want ErrNonceReuseDetected", err)
	}

	rng.set(false)
	if _, err := s.Add("third", "", "three"); !errors.Is(err, vault.ErrCorruptVault) {
		t.Fatalf("Add during lockdown error = %v, want ErrCorruptVault", err)
	}
	if err := s.Delete(first); !errors.Is(err, vault.ErrCorruptVault) {
		t.Fatalf("Delete during lockdown error = %v, want ErrCorruptVault", err)
	}
	if got, err := s.Reveal(first); err != nil || got != "one" {
		t.Fatalf("reads should keep working during lockdown: %q, %v", got, err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := s.Add("after-reset", "", "ok"); err != nil {
		t.Fatalf("Add after Reset: %v", err)
	}

	newKey := testKey(117)
	defer newKey.Destroy()
	rng.set(true)
	if _, err := s.StageRekey(newKey); !errors.Is(err, krypto.ErrNonceReuseDetected) {
		t.Fatalf("StageRekey error = %v, want ErrNonceReuseDetected", err)
	}
	rng.set(false)
	if _, err := s.Add("after-rekey", "", "x"); !errors.Is(err, vault.ErrCorruptVault) {
		t.Fatalf("Add after a failed re-key error = %v, want ErrCorruptVault", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if _, err := s.Add("after-second-reset", "", "ok"); err != nil {
		t.Fatalf("Add after second Reset: %v", err)
	}
}

func TestConcurrentAddDelete(t *testing.T) {
	path := vaultPath(t)
	key := testKey(18)
	defer key.Destroy()
	s := openVault(t, path, key, vault.DefaultOptions())

	var seeded []string
	for i := range 10 {
		id, err := s.Add("seed", "", string(rune('a'+i)))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		seeded = append(seeded, id)
	}

	const adders = 10
	var wg sync.WaitGroup
	errs := make(chan error, adders+len(seeded))
	for range adders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Add("new", "", "pw"); err != nil {
				errs <- err
			}
		}()
	}
	for _, id := range seeded {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Delete(id); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent operation failed: %v", err)
	}

	if s.Len() != adders {
		t.Fatalf("Len = %d, want %d", s.Len(), adders)
	}
	s.Close()

	reopened := openVault(t, path, key, vault.DefaultOptions())
	if reopened.Len() != adders {
		t.Fatalf("persisted Len = %d, want %d", reopened.Len(), adders)
	}
}

func TestRekey(t *testing.T) {
	path := vaultPath(t)
	oldKey, newKey := testKey(19), testKey(20)
	defer oldKey.Destroy()
	defer newKey.Destroy()

	s, err := vault.Open(path, oldKey, vault.DefaultOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := map[string]string{}
	for _, pw := range []string{"alpha", "beta", "gamma"} {
		id, err := s.Add("svc-"+pw, "", pw)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		want[id] = pw
	}
	before, _ := s.Snapshot()

	if err := s.Rekey(newKey); err != nil {
		t.Fatalf("Rekey: %v", err)
	}
	after, _ := s.Snapshot()
	for i := range after.Entries {
		if after.Entries[i].ID != before.Entries[i].ID {
			t.Fatal("re-key must keep entry ids")
		}
		if bytes.Equal(after.Entries[i].Nonce, before.Entries[i].Nonce) {
			t.Fatal("re-key must draw fresh nonces")
		}
	}
	for id, pw := range want {
		if got, err := s.Reveal(id); err != nil || got != pw {
			t.Fatalf("Reveal after re-key = %q, %v", got, err)
		}
	}
	s.Close()

	if _, err := vault.Open(path, oldKey, vault.DefaultOptions()); !errors.Is(err, krypto.ErrAuthenticationFailed) {
		t.Fatalf("old key error = %v, want ErrAuthenticationFailed", err)
	}
	reopened := openVault(t, path, newKey, vault.DefaultOptions())
	for id, pw := range want {
		if got, err := reopened.Reveal(id); err != nil || got != pw {
			t.Fatalf("Reveal after reopen = %q, %v", got, err)
		}
	}
}

func TestStagedRekey(t *testing.T) {
	path := vaultPath(t)
	oldKey, newKey := testKey(21), testKey(22)
	defer oldKey.Destroy()
	defer newKey.Destroy()
	s := openVault(t, path, oldKey, vault.DefaultOptions())

	id, err := s.Add("svc", "", "pw")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	staged, err := s.StageRekey(newKey)
	if err != nil {
		t.Fatalf("StageRekey: %v", err)
	}
	staged.Discard()
	if err := staged.Commit(); err == nil {
		t.Fatal("Commit after Discard should fail")
	}
	if got, err := s.Reveal(id); err != nil || got != "pw" {
		t.Fatalf("discarded re-key changed the vault: %q, %v", got, err)
	}

	stale, err := s.StageRekey(newKey)
	if err != nil {
		t.Fatalf("StageRekey: %v", err)
	}
	defer stale.Discard()
	if _, err := s.Add("other", "", "x"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := stale.Commit(); !errors.Is(err, vault.ErrStaleRekey) {
		t.Fatalf("Commit error = %v, want ErrStaleRekey", err)
	}
}

func TestRekeyAbortsOnDamagedEntry(t *testing.T) {
	path := vaultPath(t)
	key, newKey := testKey(23), testKey(24)
	defer key.Destroy()
	defer newKey.Destroy()
	corruptSecondEntry(t, path, key)

	opts := vault.DefaultOptions()
	opts.VerifyOnOpen = false
	s := openVault(t, path, key, opts)

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read vault: %v", err)
	}
	if err := s.Rekey(newKey); !errors.Is(err, krypto.ErrAuthenticationFailed) {
		t.Fatalf("Rekey error = %v, want ErrAuthenticationFailed", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read vault: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("failed re-key modified the vault file")
	}
}

func TestImportSealed(t *testing.T) {
	key, other := testKey(25), testKey(26)
	defer key.Destroy()
	defer other.Destroy()

	src := openVault(t, vaultPath(t), key, vault.DefaultOptions())
	srcID, err := src.Add("imported", "user", "carried-over")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	snap, err := src.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	opts := vault.DefaultOptions()
	opts.Cipher = krypto.CipherXChaCha
	dst := openVault(t, vaultPath(t), key, opts)
	ids, err := dst.ImportSealed(snap.Cipher, snap.KeyCheck, snap.Entries)
	if err != nil {
		t.Fatalf("ImportSealed: %v", err)
	}
	if len(ids) != 1 || ids[0] == srcID {
		t.Fatalf("import should assign new ids, got %v", ids)
	}
	if got, err := dst.Reveal(ids[0]); err != nil || got != "carried-over" {
		t.Fatalf("Reveal imported entry = %q, %v", got, err)
	}

	foreign := openVault(t, vaultPath(t), other, vault.DefaultOptions())
	if _, err := foreign.ImportSealed(snap.Cipher, snap.KeyCheck, snap.Entries); !errors.Is(err, krypto.ErrAuthenticationFailed) {
		t.Fatalf("import under another key error = %v", err)
	}
	if foreign.Len() != 0 {
		t.Fatal("failed import must not add entries")
	}

	blank := slices.Clone(snap.Entries)
	blank[0].Service = " \t"
	if _, err := dst.ImportSealed(snap.Cipher, snap.KeyCheck, blank); !errors.Is(err, vault.ErrInvalidEntry) {
		t.Fatalf("import with a blank service error = %v, want ErrInvalidEntry", err)
	}
	if dst.Len() != 1 {
		t.Fatalf("rejected import changed the vault: Len = %d", dst.Len())
	}
}

func TestCipherRecordedInFile(t *testing.T) {
	path := vaultPath(t)
	key := testKey(27)
	defer key.Destroy()

	opts := vault.DefaultOptions()
	opts.Cipher = krypto.CipherXChaCha
	s, err := vault.Open(path, key, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id, err := s.Add("svc", "", "xchacha")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Close()

	reopened := openVault(t, path, key, vault.DefaultOptions())
	if reopened.Cipher() != krypto.CipherXChaCha {
		t.Fatalf("cipher = %q, want %q", reopened.Cipher(), krypto.CipherXChaCha)
	}
	if got, err := reopened.Reveal(id); err != nil || got != "xchacha" {
		t.Fatalf("Reveal = %q, %v", got, err)
	}
}
