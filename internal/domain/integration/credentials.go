package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EncryptionMethod tags the cipher used for stored credentials
type EncryptionMethod string

const (
	// EncryptionXChaCha20Poly1305 is AEAD encryption with a 24-byte nonce
	EncryptionXChaCha20Poly1305 EncryptionMethod = "xchacha20-poly1305"
)

// EncryptedCredentials is the at-rest form of provider credentials
type EncryptedCredentials struct {
	Ciphertext []byte           `json:"ciphertext"`
	Method     EncryptionMethod `json:"method"`
	KeyID      string           `json:"key_id"`
	CreatedAt  time.Time        `json:"created_at"`
}

// IsEmpty returns true if no credentials are stored
func (c *EncryptedCredentials) IsEmpty() bool {
	return c == nil || len(c.Ciphertext) == 0
}

// Credentials is the plaintext form. It only lives in memory for the
// duration of one run and redacts itself when formatted.
type Credentials struct {
	APIKey       string            `json:"api_key,omitempty"`
	AccessToken  string            `json:"access_token,omitempty"`
	ClientID     string            `json:"client_id,omitempty"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// IsEmpty returns true if no secret material is set
func (c Credentials) IsEmpty() bool {
	return c.APIKey == "" && c.AccessToken == "" && c.ClientSecret == "" && len(c.Extra) == 0
}

// BearerToken returns the token sent in the Authorization header
func (c Credentials) BearerToken() string {
	if c.AccessToken != "" {
		return c.AccessToken
	}
	return c.APIKey
}

// String implements fmt.Stringer
func (c Credentials) String() string {
	return "Credentials{REDACTED}"
}

// GoString implements fmt.GoStringer
func (c Credentials) GoString() string {
	return c.String()
}

// CredentialVault encrypts and decrypts provider credentials. The integration
// ID is bound to the ciphertext so blobs cannot be swapped between integrations.
// Decrypting with an unknown key ID fails with an AuthError.
type CredentialVault interface {
	Encrypt(ctx context.Context, integrationID uuid.UUID, creds Credentials) (*EncryptedCredentials, error)
	Decrypt(ctx context.Context, integrationID uuid.UUID, enc *EncryptedCredentials) (Credentials, error)
}
