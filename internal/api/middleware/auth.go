package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/flowline-ai/flowline/internal/api/dto"
	"github.com/flowline-ai/flowline/internal/domain/models"
	"github.com/flowline-ai/flowline/internal/pkg/config"
)

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFromContext returns the authenticated principal, or nil for an
// anonymous request.
func PrincipalFromContext(ctx context.Context) *models.Principal {
	p, _ := ctx.Value(principalKey).(*models.Principal)
	return p
}

// PrincipalClaims are the token claims the engine cares about. The engine
// only records who asked; authorization lives upstream.
type PrincipalClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Auth extracts the acting principal from a bearer token. A missing header
// passes through anonymously; a present but invalid token is rejected so a
// caller never runs with a silently dropped identity.
type Auth struct {
	cfg *config.JWTConfig
}

func NewAuth(cfg *config.JWTConfig) *Auth {
	return &Auth{cfg: cfg}
}

func (a *Auth) ExtractPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			dto.Unauthorized(w, "authorization header must be a bearer token")
			return
		}

		principal, err := a.parse(raw)
		if err != nil {
			dto.Unauthorized(w, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) parse(raw string) (*models.Principal, error) {
	var claims PrincipalClaims
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if a.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(a.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.cfg.Secret), nil
	}, options...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	return &models.Principal{
		UserID:      claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
	}, nil
}
