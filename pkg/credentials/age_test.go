package credentials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgeProtector_SealOpenRoundtrip(t *testing.T) {
	p, err := NewAgeProtector(filepath.Join(t.TempDir(), "keys.txt"))
	require.NoError(t, err)

	sealed, err := p.Seal("sk-test-12345")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "ENC[age:"))
	assert.True(t, strings.HasSuffix(sealed, "]"))
	assert.NotContains(t, sealed, "sk-test-12345")

	plain, err := p.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-12345", plain)
}

func TestAgeProtector_SealProducesDistinctBlobs(t *testing.T) {
	p, err := NewAgeProtector(filepath.Join(t.TempDir(), "keys.txt"))
	require.NoError(t, err)

	a, err := p.Seal("same-secret")
	require.NoError(t, err)
	b, err := p.Seal("same-secret")
	require.NoError(t, err)

	// age encryption is randomized, so identical plaintexts must not
	// produce identical ciphertexts.
	assert.NotEqual(t, a, b)
}

func TestAgeProtector_IdentityFileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.txt")

	_, err := NewAgeProtector(path)
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	p2, err := NewAgeProtector(path)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))

	// The reloaded identity must still open blobs sealed earlier.
	p1, err := NewAgeProtector(path)
	require.NoError(t, err)
	sealed, err := p1.Seal("still-works")
	require.NoError(t, err)
	plain, err := p2.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "still-works", plain)
}

func TestAgeProtector_IdentityFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.txt")
	_, err := NewAgeProtector(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAgeProtector_OpenRejectsMalformedBlob(t *testing.T) {
	p, err := NewAgeProtector(filepath.Join(t.TempDir(), "keys.txt"))
	require.NoError(t, err)

	cases := []string{
		"",
		"sk-plaintext-key",
		"ENC[age:not-base64!!!]",
		"ENC[age:" + "YWJj" + "]", // valid base64, not an age ciphertext
	}
	for _, sealed := range cases {
		_, err := p.Open(sealed)
		assert.Error(t, err, "expected error for %q", sealed)

		var cryptoErr *CryptoError
		assert.ErrorAs(t, err, &cryptoErr)
	}
}

func TestAgeProtector_OpenWithWrongIdentityFails(t *testing.T) {
	dir := t.TempDir()
	p1, err := NewAgeProtector(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	p2, err := NewAgeProtector(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)

	sealed, err := p1.Seal("secret")
	require.NoError(t, err)

	_, err = p2.Open(sealed)
	assert.Error(t, err)
}

func TestCryptoError_NeverExposesMaterial(t *testing.T) {
	p, err := NewAgeProtector(filepath.Join(t.TempDir(), "keys.txt"))
	require.NoError(t, err)

	_, err = p.Open("ENC[age:AAAA]")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "AAAA")
}
