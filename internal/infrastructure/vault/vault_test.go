package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, MasterKeySize)
}

func newTestVault(t *testing.T, active string) *Vault {
	t.Helper()
	v, err := New(active, map[string][]byte{"k1": testKey(1), "k2": testKey(2)})
	require.NoError(t, err)
	return v
}

func TestVault_RoundTrip(t *testing.T) {
	v := newTestVault(t, "k1")
	ctx := context.Background()
	id := uuid.New()
	creds := integration.Credentials{APIKey: "key-123", ClientSecret: "shh", Extra: map[string]string{"region": "eu"}}

	enc, err := v.Encrypt(ctx, id, creds)
	require.NoError(t, err)
	assert.Equal(t, "k1", enc.KeyID)
	assert.Equal(t, integration.EncryptionXChaCha20Poly1305, enc.Method)
	assert.NotContains(t, string(enc.Ciphertext), "key-123")

	got, err := v.Decrypt(ctx, id, enc)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestVault_NonceIsRandom(t *testing.T) {
	v := newTestVault(t, "k1")
	id := uuid.New()
	a, err := v.Encrypt(context.Background(), id, integration.Credentials{APIKey: "same"})
	require.NoError(t, err)
	b, err := v.Encrypt(context.Background(), id, integration.Credentials{APIKey: "same"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestVault_DecryptFailures(t *testing.T) {
	v := newTestVault(t, "k1")
	ctx := context.Background()
	id := uuid.New()
	enc, err := v.Encrypt(ctx, id, integration.Credentials{APIKey: "x"})
	require.NoError(t, err)

	t.Run("unknown key id", func(t *testing.T) {
		bad := *enc
		bad.KeyID = "retired"
		_, err := v.Decrypt(ctx, id, &bad)
		assert.ErrorIs(t, err, integration.ErrAuthFailed)
		assert.ErrorIs(t, err, integration.ErrCredentialKeyUnknown)
		assert.Equal(t, integration.ErrorKindAuth, integration.KindOf(err))
	})

	t.Run("bound to integration", func(t *testing.T) {
		_, err := v.Decrypt(ctx, uuid.New(), enc)
		assert.ErrorIs(t, err, integration.ErrAuthFailed)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		bad := *enc
		bad.Ciphertext = append([]byte(nil), enc.Ciphertext...)
		bad.Ciphertext[len(bad.Ciphertext)-1] ^= 0xff
		_, err := v.Decrypt(ctx, id, &bad)
		assert.ErrorIs(t, err, integration.ErrAuthFailed)
	})

	t.Run("unsupported method", func(t *testing.T) {
		bad := *enc
		bad.Method = "sha256"
		_, err := v.Decrypt(ctx, id, &bad)
		assert.ErrorIs(t, err, integration.ErrAuthFailed)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := v.Decrypt(ctx, id, nil)
		assert.ErrorIs(t, err, integration.ErrCredentialsNotConfigured)
	})
}

func TestVault_Rotation(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	old := newTestVault(t, "k1")
	enc, err := old.Encrypt(ctx, id, integration.Credentials{AccessToken: "tok"})
	require.NoError(t, err)

	rotated := newTestVault(t, "k2")
	assert.True(t, rotated.NeedsRotation(enc))

	// old ciphertexts stay readable while the key is in the ring
	creds, err := rotated.Decrypt(ctx, id, enc)
	require.NoError(t, err)
	assert.Equal(t, "tok", creds.AccessToken)

	fresh, err := rotated.Rotate(ctx, id, enc)
	require.NoError(t, err)
	assert.Equal(t, "k2", fresh.KeyID)
	assert.False(t, rotated.NeedsRotation(fresh))

	retired, err := New("k2", map[string][]byte{"k2": testKey(2)})
	require.NoError(t, err)
	_, err = retired.Decrypt(ctx, id, enc)
	assert.ErrorIs(t, err, integration.ErrCredentialKeyUnknown)
}

func TestNew_Errors(t *testing.T) {
	_, err := New("k1", nil)
	assert.ErrorIs(t, err, ErrNoKeys)
	_, err = New("k9", map[string][]byte{"k1": testKey(1)})
	assert.ErrorIs(t, err, ErrActiveKeyMissing)
	_, err = New("k1", map[string][]byte{"k1": []byte("short")})
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestNewFromBase64(t *testing.T) {
	v, err := NewFromBase64("main", map[string]string{"main": base64.StdEncoding.EncodeToString(testKey(7))})
	require.NoError(t, err)
	assert.Equal(t, "main", v.ActiveKeyID())
	assert.Equal(t, []string{"main"}, v.KeyIDs())

	_, err = NewFromBase64("main", map[string]string{"main": "%%%"})
	assert.Error(t, err)
}
