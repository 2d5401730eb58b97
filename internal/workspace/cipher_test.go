package workspace

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentCipherRoundtrip(t *testing.T) {
	c, err := NewContentCipher("hunter2")
	require.NoError(t, err)

	plaintext := []byte("package main\n\nfunc main() {}\n")

	sealed, err := c.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestContentCipherFreshNoncePerSeal(t *testing.T) {
	c, err := NewContentCipher("hunter2")
	require.NoError(t, err)

	a, err := c.Seal([]byte("same input"))
	require.NoError(t, err)
	b, err := c.Seal([]byte("same input"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestContentCipherFailsClosedOnTamper(t *testing.T) {
	c, err := NewContentCipher("hunter2")
	require.NoError(t, err)

	sealed, err := c.Seal([]byte("sensitive"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xFF

	_, err = c.Open(sealed)
	require.Error(t, err)
}

func TestContentCipherRejectsShortInput(t *testing.T) {
	c, err := NewContentCipher("hunter2")
	require.NoError(t, err)

	_, err = c.Open([]byte("short"))
	require.Error(t, err)
}

func TestContentCipherWrongSecret(t *testing.T) {
	a, err := NewContentCipher("secret-a")
	require.NoError(t, err)
	b, err := NewContentCipher("secret-b")
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("data"))
	require.NoError(t, err)

	_, err = b.Open(sealed)
	require.Error(t, err)
}

func TestNewContentCipherRequiresSecret(t *testing.T) {
	_, err := NewContentCipher("")
	require.Error(t, err)
}

func TestGzipRoundtrip(t *testing.T) {
	data := bytes.Repeat([]byte("compress me "), 100)

	compressed, err := gzipCompress(data)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))

	out, err := gzipDecompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
