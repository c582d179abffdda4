// Package security implements client-facing authentication, abuse rate
// limiting, and request hygiene for the routing service. Provider-side
// budgets live in the limits package; this package only protects the front
// door.
package security

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/types"
)

// AuthConfig holds front-door authentication settings.
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	APIKeys   []string      `yaml:"api_keys"`
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID   string     `json:"user_id"`
	AuthType string     `json:"auth_type"` // api_key or jwt
	Expires  *time.Time `json:"expires,omitempty"`
}

// Claims is the JWT payload accepted by the service.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type ctxKey int

const identityKey ctxKey = iota

// Authenticator validates API keys and JWTs.
type Authenticator struct {
	cfg    AuthConfig
	logger *logrus.Logger
}

// NewAuthenticator creates an authenticator. A zero JWT expiry defaults to
// 24 hours.
func NewAuthenticator(cfg AuthConfig, logger *logrus.Logger) *Authenticator {
	if cfg.JWTExpiry == 0 {
		cfg.JWTExpiry = 24 * time.Hour
	}
	return &Authenticator{cfg: cfg, logger: logger}
}

// Authenticate accepts either a configured API key or a signed JWT.
func (a *Authenticator) Authenticate(token string) (*Identity, error) {
	if token == "" {
		return nil, errors.New("missing credentials")
	}
	if id, err := a.validateAPIKey(token); err == nil {
		return id, nil
	}
	if a.cfg.JWTSecret != "" {
		if id, err := a.validateJWT(token); err == nil {
			return id, nil
		}
	}
	return nil, errors.New("invalid credentials")
}

// validateAPIKey compares against every configured key in constant time.
func (a *Authenticator) validateAPIKey(key string) (*Identity, error) {
	for _, valid := range a.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return &Identity{UserID: userIDFromKey(key), AuthType: "api_key"}, nil
		}
	}
	return nil, errors.New("unknown api key")
}

func (a *Authenticator) validateJWT(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	id := &Identity{UserID: claims.UserID, AuthType: "jwt"}
	if claims.ExpiresAt != nil {
		id.Expires = &claims.ExpiresAt.Time
	}
	return id, nil
}

// IssueJWT signs a token for the given user, for operator tooling.
func (a *Authenticator) IssueJWT(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "llm-router",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.JWTExpiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.JWTSecret))
}

// Middleware enforces authentication on every route except health and
// metrics endpoints.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		identity, err := a.Authenticate(token)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":      r.URL.Path,
				"method":    r.Method,
				"remote_ip": ClientIP(r),
			}).Warn("authentication failed")
			writeAuthError(w, "invalid or missing credentials")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFrom returns the authenticated caller, if any.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

func exemptPath(path string) bool {
	return strings.HasPrefix(path, "/healthz") || strings.HasPrefix(path, "/metrics")
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func userIDFromKey(key string) string {
	if len(key) >= 8 {
		return "key_" + key[:8]
	}
	return "key_" + key
}

// ClientIP resolves the caller address, honoring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	re := types.NewRouteError(types.ErrAuthFailure, "", message)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Success: false, Error: re})
}
