package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractiq/backend/internal/infrastructure/config"
)

const testSecret = "test-secret-key-at-least-32-chars"

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:          testSecret,
		Issuer:          "contractiq-test",
		TokenExpiration: 15 * time.Minute,
	})
}

func TestIssueAndValidate(t *testing.T) {
	svc := newTestJWTService()
	orgID := uuid.New()

	token, expiresAt, err := svc.Issue(TokenIssueInput{
		OrganizationID: orgID,
		Subject:        "svc-billing",
		Scopes:         []string{ScopeIntegrationsRead, ScopeSyncRun},
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	got, err := claims.OrganizationUUID()
	require.NoError(t, err)
	assert.Equal(t, orgID, got)
	assert.Equal(t, "svc-billing", claims.Subject)
	assert.True(t, claims.HasScope(ScopeSyncRun))
	assert.False(t, claims.HasScope(ScopeIntegrationsWrite))
	assert.True(t, claims.HasAnyScope(ScopeIntegrationsWrite, ScopeIntegrationsRead))
}

func TestValidate_Rejections(t *testing.T) {
	svc := newTestJWTService()
	orgID := uuid.New()

	t.Run("expired", func(t *testing.T) {
		past := newTestJWTService()
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, err := past.Issue(TokenIssueInput{OrganizationID: orgID})
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("not yet valid", func(t *testing.T) {
		future := newTestJWTService()
		future.now = func() time.Time { return time.Now().Add(time.Hour) }
		token, _, err := future.Issue(TokenIssueInput{OrganizationID: orgID})
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrTokenNotYetValid)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTService(config.JWTConfig{Secret: "another-secret-key-of-32-characters", Issuer: "contractiq-test", TokenExpiration: time.Minute})
		token, _, err := other.Issue(TokenIssueInput{OrganizationID: orgID})
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewJWTService(config.JWTConfig{Secret: testSecret, Issuer: "someone-else", TokenExpiration: time.Minute})
		token, _, err := other.Issue(TokenIssueInput{OrganizationID: orgID})
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{OrganizationID: orgID.String()}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing organization", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "contractiq-test",
			Audience:  jwt.ClaimStrings{"contractiq-test"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, ErrMissingOrganizationID)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Validate("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
