package credentials

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

const encPrefix = "ENC[age:"
const encSuffix = "]"

// AgeProtector seals keys with an age X25519 identity stored on disk.
type AgeProtector struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

// NewAgeProtector loads the identity at path, generating it first if missing.
func NewAgeProtector(path string) (*AgeProtector, error) {
	if err := generateIdentity(path); err != nil {
		return nil, err
	}
	identity, err := loadIdentity(path)
	if err != nil {
		return nil, err
	}
	return &AgeProtector{
		identity:  identity,
		recipient: identity.Recipient(),
	}, nil
}

// Seal encrypts plaintext and returns an ENC[age:...] blob.
func (p *AgeProtector) Seal(plaintext string) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, p.recipient)
	if err != nil {
		return "", &CryptoError{Op: "seal", Err: err}
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", &CryptoError{Op: "seal", Err: err}
	}
	if err := w.Close(); err != nil {
		return "", &CryptoError{Op: "seal", Err: err}
	}
	return encPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + encSuffix, nil
}

// Open decrypts an ENC[age:...] blob back to plaintext.
func (p *AgeProtector) Open(sealed string) (string, error) {
	if !isSealed(sealed) {
		return "", &CryptoError{Op: "open", Err: fmt.Errorf("not a sealed blob")}
	}
	encoded := sealed[len(encPrefix) : len(sealed)-len(encSuffix)]
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &CryptoError{Op: "open", Err: fmt.Errorf("base64 decode: %w", err)}
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), p.identity)
	if err != nil {
		return "", &CryptoError{Op: "open", Err: err}
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", &CryptoError{Op: "open", Err: err}
	}
	return string(plain), nil
}

// isSealed returns true if the string is an ENC[age:...] blob.
func isSealed(s string) bool {
	return strings.HasPrefix(s, encPrefix) && strings.HasSuffix(s, encSuffix)
}

// generateIdentity creates an X25519 key pair and writes it to path with
// 0o600. Idempotent: if the file already exists, it does nothing.
func generateIdentity(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generate age identity: %w", err)
	}

	content := fmt.Sprintf("# created by parley\n# public key: %s\n%s\n",
		identity.Recipient().String(), identity.String())

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write age key: %w", err)
	}
	return nil
}

// loadIdentity reads an age private key from the given file.
func loadIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age key: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age identities: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in %s", path)
	}

	id, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("unexpected identity type in %s", path)
	}
	return id, nil
}
