package workspace

import (
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// argon2id parameters for the content key.
const (
	contentKDFTime    = 1
	contentKDFMemory  = 64 * 1024
	contentKDFThreads = 4
)

// contentKDFSalt is fixed: the content key must be derivable from the
// configured secret alone, on any machine syncing the workspace.
var contentKDFSalt = []byte("odavl-workspace-content-v1")

// ContentCipher applies authenticated encryption to workspace file content.
// The on-wire format is nonce || ciphertext (tag included).
type ContentCipher struct {
	key []byte
}

// NewContentCipher derives a 256-bit content key from the configured secret.
func NewContentCipher(secret string) (*ContentCipher, error) {
	if secret == "" {
		return nil, fmt.Errorf("workspace: encryption enabled but no secret configured")
	}

	key := argon2.IDKey([]byte(secret), contentKDFSalt, contentKDFTime, contentKDFMemory, contentKDFThreads, chacha20poly1305.KeySize)

	return &ContentCipher{key: key}, nil
}

// Seal encrypts data with a fresh random nonce.
func (c *ContentCipher) Seal(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("workspace: initializing cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("workspace: generating nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, data, nil), nil
}

// Open decrypts data sealed by Seal. Fails closed on tampered input.
func (c *ContentCipher) Open(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("workspace: initializing cipher: %w", err)
	}

	if len(data) < aead.NonceSize() {
		return nil, fmt.Errorf("workspace: ciphertext too short")
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("workspace: decrypting content: %w", err)
	}

	return plaintext, nil
}

// gzipCompress gzips data.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("workspace: compressing: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("workspace: compressing: %w", err)
	}

	return buf.Bytes(), nil
}

// gzipDecompress inflates gzipped data.
func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("workspace: decompressing: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("workspace: decompressing: %w", err)
	}

	return out, nil
}
