package secrets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/causeway-ai/causeway/internal/secrets"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestNewVault_KeyLength(t *testing.T) {
	t.Parallel()

	_, err := secrets.NewVault([]byte("too short"))
	assert.ErrorIs(t, err, secrets.ErrInvalidKey)

	v, err := secrets.NewVault(testKey())
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestVault_RoundTrip(t *testing.T) {
	t.Parallel()

	v, err := secrets.NewVault(testKey())
	require.NoError(t, err)

	sealed, err := v.Encrypt("api-token-abc123")
	require.NoError(t, err)
	assert.NotEqual(t, "api-token-abc123", sealed)

	opened, err := v.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "api-token-abc123", opened)
}

func TestVault_DecryptRejectsTampered(t *testing.T) {
	t.Parallel()

	v, err := secrets.NewVault(testKey())
	require.NoError(t, err)

	sealed, err := v.Encrypt("secret")
	require.NoError(t, err)

	_, err = v.Decrypt("AAAA" + sealed[4:])
	require.Error(t, err)
}

func TestVault_DecryptRejectsShortCiphertext(t *testing.T) {
	t.Parallel()

	v, err := secrets.NewVault(testKey())
	require.NoError(t, err)

	_, err = v.Decrypt("AAAA")
	require.Error(t, err)
}

func TestVault_JSONPayload(t *testing.T) {
	t.Parallel()

	type creds struct {
		BaseURL string `json:"base_url"`
		Token   string `json:"token"`
	}

	v, err := secrets.NewVault(testKey())
	require.NoError(t, err)

	sealed, err := v.SealJSON(creds{BaseURL: "https://grafana.example.com", Token: "glsa_xyz"})
	require.NoError(t, err)

	var out creds
	require.NoError(t, v.OpenJSON(sealed, &out))
	assert.Equal(t, "https://grafana.example.com", out.BaseURL)
	assert.Equal(t, "glsa_xyz", out.Token)
}
