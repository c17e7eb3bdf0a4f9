package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried by tokens. Reading requires any role; issuing actions
// requires RoleOperator.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// Claims are the JWT claims accepted by the API.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AuthConfig selects how requests are authenticated. With neither a token
// nor a secret every request is accepted as operator.
type AuthConfig struct {
	Token     string `json:"token"`
	JWTSecret string `json:"jwt_secret"`
	Issuer    string `json:"issuer"`
}

type claimsKey struct{}

// ClaimsFrom returns the claims of an authenticated request.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// IssueToken signs a token for subject with the given role.
func IssueToken(cfg AuthConfig, subject, role string, ttl time.Duration) (string, error) {
	if cfg.JWTSecret == "" {
		return "", errors.New("api: jwt secret is not configured")
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
}

func (cfg AuthConfig) validate(raw string) (*Claims, error) {
	if cfg.Token != "" && subtle.ConstantTimeCompare([]byte(raw), []byte(cfg.Token)) == 1 {
		return &Claims{Role: RoleOperator}, nil
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("invalid token")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// requireRole authenticates the request and checks the role when role is
// not empty.
func requireRole(cfg AuthConfig, role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Token == "" && cfg.JWTSecret == "" {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, &Claims{Role: RoleOperator})))
			return
		}
		h := r.Header.Get("Authorization")
		raw := strings.TrimPrefix(h, "Bearer ")
		if h == "" || raw == h {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := cfg.validate(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if role != "" && claims.Role != role {
			writeError(w, http.StatusForbidden, "role "+role+" required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}
