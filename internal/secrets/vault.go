package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

//nolint:gochecknoglobals // sentinel error
var ErrInvalidKey = errors.New("secrets: invalid encryption key")

// Vault seals and opens provider credentials using AES-256-GCM. Plaintext
// credentials exist only inside the registry, which caches them for a short
// TTL, and the LLM gateway.
type Vault struct {
	aead cipher.AEAD
}

// NewVault builds a Vault from a 32-byte AES key (CAUSEWAY_VAULT_KEY,
// base64-decoded by config).
func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets.NewVault: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets.NewVault: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce. The stored form is
// base64 over the nonce concatenated with the GCM ciphertext, which is what
// the integrations and llm_configs tables hold.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets.Encrypt: generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered or truncated input fails GCM
// authentication and returns an error rather than garbage.
func (v *Vault) Decrypt(stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("secrets.Decrypt: base64 decode: %w", err)
	}

	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("secrets.Decrypt: ciphertext shorter than nonce")
	}

	plaintext, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("secrets.Decrypt: %w", err)
	}

	return string(plaintext), nil
}

// SealJSON marshals a credential payload and encrypts it.
func (v *Vault) SealJSON(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("secrets.SealJSON: marshal: %w", err)
	}
	return v.Encrypt(string(raw))
}

// OpenJSON decrypts a sealed credential payload into out.
func (v *Vault) OpenJSON(ciphertext string, out any) error {
	plaintext, err := v.Decrypt(ciphertext)
	if err != nil {
		return fmt.Errorf("secrets.OpenJSON: %w", err)
	}
	if err := json.Unmarshal([]byte(plaintext), out); err != nil {
		return fmt.Errorf("secrets.OpenJSON: unmarshal: %w", err)
	}
	return nil
}
