// Package vault stores the client's credentials encrypted on local disk.
//
// The encryption key is derived with argon2id from a locally-stable identity
// string (host name + user name) and a fixed salt. This protects the
// credentials file against casual disk inspection and accidental exposure
// (backups, copy-paste of a profile directory), but it is not a substitute
// for OS keychain integration: anyone who can run code as the same user on
// the same host can derive the same key. The tradeoff is deliberate — no
// passphrase prompt, no keychain dependency — and callers should treat the
// vault's at-rest protection accordingly.
package vault

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// File permissions for the vault file and its directory.
const (
	FilePerms = 0o600
	DirPerms  = 0o700
)

// argon2id parameters for the identity-derived key.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// kdfSalt is fixed by design: the KDF input (host + user) is non-secret and
// stable, and the vault must be decryptable without any stored secret.
var kdfSalt = []byte("odavl-credential-vault-v1")

// ErrCorrupt is returned when the vault file cannot be authenticated —
// tampered ciphertext, truncated file, or a key mismatch (different
// host/user identity). The vault fails closed: no partial data is returned.
var ErrCorrupt = errors.New("vault: cannot decrypt credentials (corrupt or tampered)")

// Credentials is the secrets blob persisted by the vault. Exactly one of
// APIKey or AccessToken is authoritative at a time.
type Credentials struct {
	APIKey       string    `json:"apiKey,omitempty"`
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
	OrgID        string    `json:"orgId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
}

// envelope is the on-disk format: a fresh random nonce per save plus the
// AEAD ciphertext (authentication tag included by Seal).
type envelope struct {
	Version    int    `json:"version"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

const envelopeVersion = 1

// Vault encrypts and decrypts the credentials file at a fixed path.
// It is a single-process resource; there is no cross-process locking.
type Vault struct {
	path string
	key  []byte

	// now is the clock used for token expiry checks. Tests override it.
	now func() time.Time
}

// Open creates a Vault for the file at path, deriving the encryption key
// from the local host and user identity. It does not touch the file.
func Open(path string) (*Vault, error) {
	identity, err := localIdentity()
	if err != nil {
		return nil, fmt.Errorf("vault: resolving local identity: %w", err)
	}

	key := argon2.IDKey(identity, kdfSalt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)

	return &Vault{path: path, key: key, now: time.Now}, nil
}

// localIdentity builds the non-secret KDF input from host and user names.
func localIdentity() ([]byte, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return []byte(host + "\x00" + u.Username), nil
}

// Save encrypts creds and writes the vault file atomically
// (write-to-temp + rename) with 0600 permissions.
func (v *Vault) Save(creds *Credentials) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("vault: encoding credentials: %w", err)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return fmt.Errorf("vault: initializing cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: generating nonce: %w", err)
	}

	env := envelope{
		Version:    envelopeVersion,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("vault: encoding envelope: %w", err)
	}

	return writeAtomic(v.path, data)
}

// Load decrypts and returns the stored credentials. Returns (nil, nil) if no
// vault file exists. Returns ErrCorrupt if authentication fails — a tampered
// file never yields partial data.
func (v *Vault) Load() (*Credentials, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not logged in"
	}

	if err != nil {
		return nil, fmt.Errorf("vault: reading %s: %w", v.path, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, v.path)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: initializing cipher: %w", err)
	}

	if len(env.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, v.path)
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, v.path)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, v.path)
	}

	return &creds, nil
}

// Clear removes the vault file. Returns nil if it does not exist.
func (v *Vault) Clear() error {
	err := os.Remove(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

// APIKey returns the stored API key, or "" if none is stored.
func (v *Vault) APIKey() string {
	creds, err := v.Load()
	if err != nil || creds == nil {
		return ""
	}

	return creds.APIKey
}

// AccessToken returns the stored access token, or "" if none is stored or
// the token is past its expiry.
func (v *Vault) AccessToken() string {
	creds, err := v.Load()
	if err != nil || creds == nil {
		return ""
	}

	if !creds.ExpiresAt.IsZero() && !v.now().Before(creds.ExpiresAt) {
		return ""
	}

	return creds.AccessToken
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename, so a crash mid-save never leaves an unreadable
// vault at the final path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("vault: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".vault-*.tmp")
	if err != nil {
		return fmt.Errorf("vault: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close
	// and rename cannot leave an empty or partial vault at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("vault: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("vault: renaming: %w", err)
	}

	success = true

	return nil
}
