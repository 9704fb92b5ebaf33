package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractiq/backend/internal/infrastructure/auth"
	"github.com/contractiq/backend/internal/infrastructure/config"
	"github.com/contractiq/backend/internal/interfaces/http/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestJWTService() *auth.JWTService {
	return auth.NewJWTService(config.JWTConfig{
		Secret:          "test-secret-key-that-is-long-enough",
		Issuer:          "contractiq-test",
		TokenExpiration: time.Hour,
	})
}

func newJWTRouter(svc *auth.JWTService) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), JWTAuthMiddleware(svc))
	r.GET("/api/v1/integrations", func(c *gin.Context) {
		orgID, err := GetJWTOrganizationID(c)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"organization_id": orgID.String(), "subject": GetJWTSubject(c)})
	})
	r.GET("/api/v1/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/v1/webhooks/clm/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	r.POST("/api/v1/integrations/:id/sync", RequireScope(auth.ScopeSyncRun), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})
	return r
}

func TestJWTAuthMiddleware_ValidToken(t *testing.T) {
	svc := newTestJWTService()
	orgID := uuid.New()
	token, _, err := svc.Issue(auth.TokenIssueInput{OrganizationID: orgID, Subject: "ops@example.com"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+token)
	newJWTRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, orgID.String(), body["organization_id"])
	assert.Equal(t, "ops@example.com", body["subject"])
}

func TestJWTAuthMiddleware_Rejections(t *testing.T) {
	svc := newTestJWTService()
	other := auth.NewJWTService(config.JWTConfig{Secret: "another-secret-entirely", Issuer: "contractiq-test", TokenExpiration: time.Hour})
	foreign, _, err := other.Issue(auth.TokenIssueInput{OrganizationID: uuid.New()})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", dto.ErrCodeUnauthorized},
		{"wrong scheme", "Basic abc", dto.ErrCodeTokenInvalid},
		{"empty token", "Bearer ", dto.ErrCodeTokenInvalid},
		{"garbage token", "Bearer not-a-jwt", dto.ErrCodeTokenInvalid},
		{"foreign signature", "Bearer " + foreign, dto.ErrCodeTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/integrations", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			newJWTRouter(svc).ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)
		})
	}
}

func TestJWTAuthMiddleware_SkipsHealthAndWebhooks(t *testing.T) {
	r := newJWTRouter(newTestJWTService())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/clm/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRequireScope(t *testing.T) {
	svc := newTestJWTService()
	orgID := uuid.New()
	withScope, _, err := svc.Issue(auth.TokenIssueInput{OrganizationID: orgID, Scopes: []string{auth.ScopeSyncRun}})
	require.NoError(t, err)
	readOnly, _, err := svc.Issue(auth.TokenIssueInput{OrganizationID: orgID, Scopes: []string{auth.ScopeIntegrationsRead}})
	require.NoError(t, err)

	r := newJWTRouter(svc)
	path := "/api/v1/integrations/" + uuid.NewString() + "/sync"

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+withScope)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+readOnly)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
