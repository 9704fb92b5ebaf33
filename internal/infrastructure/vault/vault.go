// Package vault implements the credential vault with XChaCha20-Poly1305.
//
// Each master key is identified by a key ID. The cipher key is derived from
// the master key with HKDF-SHA256 so master keys are never used directly. The
// integration ID is authenticated as additional data, binding a ciphertext to
// the integration it was written for.
package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/contractiq/backend/internal/domain/integration"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MasterKeySize is the required length of a master key in bytes
const MasterKeySize = 32

const hkdfInfoPrefix = "contractiq/clm-credentials/"

var (
	ErrNoKeys           = errors.New("vault: no keys configured")
	ErrActiveKeyMissing = errors.New("vault: active key id not in key ring")
	ErrInvalidKeySize   = errors.New("vault: master key must be 32 bytes")
)

// Vault encrypts and decrypts provider credentials
type Vault struct {
	activeKeyID string
	ciphers     map[string]cipher.AEAD
	rand        io.Reader
	now         func() time.Time
}

// New creates a Vault from raw master keys
func New(activeKeyID string, keys map[string][]byte) (*Vault, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, ErrActiveKeyMissing
	}

	ciphers := make(map[string]cipher.AEAD, len(keys))
	for id, master := range keys {
		if len(master) != MasterKeySize {
			return nil, fmt.Errorf("%w: key %q", ErrInvalidKeySize, id)
		}
		subkey := make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(hkdfInfoPrefix+id)), subkey); err != nil {
			return nil, fmt.Errorf("vault: derive key %q: %w", id, err)
		}
		aead, err := chacha20poly1305.NewX(subkey)
		if err != nil {
			return nil, fmt.Errorf("vault: init cipher %q: %w", id, err)
		}
		ciphers[id] = aead
	}

	return &Vault{
		activeKeyID: activeKeyID,
		ciphers:     ciphers,
		rand:        rand.Reader,
		now:         time.Now,
	}, nil
}

// NewFromBase64 creates a Vault from base64 encoded master keys, the form
// they take in configuration
func NewFromBase64(activeKeyID string, encoded map[string]string) (*Vault, error) {
	keys := make(map[string][]byte, len(encoded))
	for id, s := range encoded {
		k, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("vault: decode key %q: %w", id, err)
		}
		keys[id] = k
	}
	return New(activeKeyID, keys)
}

// ActiveKeyID returns the key used for new ciphertexts
func (v *Vault) ActiveKeyID() string {
	return v.activeKeyID
}

// KeyIDs returns the IDs in the key ring, sorted
func (v *Vault) KeyIDs() []string {
	ids := make([]string, 0, len(v.ciphers))
	for id := range v.ciphers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Encrypt seals credentials under the active key
func (v *Vault) Encrypt(_ context.Context, integrationID uuid.UUID, creds integration.Credentials) (*integration.EncryptedCredentials, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("vault: encode credentials: %w", err)
	}
	defer wipe(plaintext)

	aead := v.ciphers[v.activeKeyID]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(v.rand, nonce); err != nil {
		return nil, fmt.Errorf("vault: generate nonce: %w", err)
	}

	return &integration.EncryptedCredentials{
		Ciphertext: aead.Seal(nonce, nonce, plaintext, integrationID[:]),
		Method:     integration.EncryptionXChaCha20Poly1305,
		KeyID:      v.activeKeyID,
		CreatedAt:  v.now(),
	}, nil
}

// Decrypt opens credentials. An unknown key ID, unsupported method or
// failed authentication is reported as an *integration.AuthError.
func (v *Vault) Decrypt(_ context.Context, integrationID uuid.UUID, enc *integration.EncryptedCredentials) (integration.Credentials, error) {
	var creds integration.Credentials
	if enc.IsEmpty() {
		return creds, &integration.AuthError{Op: "decrypt", Err: integration.ErrCredentialsNotConfigured}
	}
	if enc.Method != integration.EncryptionXChaCha20Poly1305 {
		return creds, &integration.AuthError{Op: "decrypt", Err: fmt.Errorf("unsupported method %q", enc.Method)}
	}
	aead, ok := v.ciphers[enc.KeyID]
	if !ok {
		return creds, &integration.AuthError{Op: "decrypt", Err: fmt.Errorf("%w: %s", integration.ErrCredentialKeyUnknown, enc.KeyID)}
	}
	if len(enc.Ciphertext) < aead.NonceSize()+aead.Overhead() {
		return creds, &integration.AuthError{Op: "decrypt", Err: errors.New("ciphertext too short")}
	}

	nonce, sealed := enc.Ciphertext[:aead.NonceSize()], enc.Ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, integrationID[:])
	if err != nil {
		return creds, &integration.AuthError{Op: "decrypt", Err: errors.New("message authentication failed")}
	}
	defer wipe(plaintext)

	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return integration.Credentials{}, &integration.AuthError{Op: "decrypt", Err: errors.New("malformed credential payload")}
	}
	return creds, nil
}

// NeedsRotation reports whether enc was sealed under a key other than the active one
func (v *Vault) NeedsRotation(enc *integration.EncryptedCredentials) bool {
	return !enc.IsEmpty() && enc.KeyID != v.activeKeyID
}

// Rotate re-encrypts credentials under the active key
func (v *Vault) Rotate(ctx context.Context, integrationID uuid.UUID, enc *integration.EncryptedCredentials) (*integration.EncryptedCredentials, error) {
	creds, err := v.Decrypt(ctx, integrationID, enc)
	if err != nil {
		return nil, err
	}
	return v.Encrypt(ctx, integrationID, creds)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

var _ integration.CredentialVault = (*Vault)(nil)
