package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/pkg/config"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims PrincipalClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func principalRecorder(captured **models.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMissingHeaderPassesThroughAnonymous(t *testing.T) {
	auth := NewAuth(&config.JWTConfig{Secret: testSecret})

	var principal *models.Principal
	handler := auth.ExtractPrincipal(principalRecorder(&principal))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, principal)
}

func TestValidTokenYieldsPrincipal(t *testing.T) {
	auth := NewAuth(&config.JWTConfig{Secret: testSecret})

	raw := signToken(t, PrincipalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "ops@example.com",
		Name:  "Ops Bot",
	})

	var principal *models.Principal
	handler := auth.ExtractPrincipal(principalRecorder(&principal))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, principal)
	assert.Equal(t, "user-42", principal.UserID)
	assert.Equal(t, "ops@example.com", principal.Email)
	assert.Equal(t, "Ops Bot", principal.DisplayName)
}

func TestInvalidTokenIsRejected(t *testing.T) {
	auth := NewAuth(&config.JWTConfig{Secret: testSecret})

	var principal *models.Principal
	handler := auth.ExtractPrincipal(principalRecorder(&principal))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, principal)
}

func TestWrongSecretIsRejected(t *testing.T) {
	auth := NewAuth(&config.JWTConfig{Secret: "a completely different secret"})

	raw := signToken(t, PrincipalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	var principal *models.Principal
	handler := auth.ExtractPrincipal(principalRecorder(&principal))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, principal)
}

func TestTokenWithoutSubjectIsRejected(t *testing.T) {
	auth := NewAuth(&config.JWTConfig{Secret: testSecret})

	raw := signToken(t, PrincipalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	var principal *models.Principal
	handler := auth.ExtractPrincipal(principalRecorder(&principal))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, principal)
}

func TestNonBearerHeaderIsRejected(t *testing.T) {
	auth := NewAuth(&config.JWTConfig{Secret: testSecret})

	var principal *models.Principal
	handler := auth.ExtractPrincipal(principalRecorder(&principal))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, principal)
}
