// Package adminauth guards the relay's operational endpoints (/admin/stats)
// behind a bearer JWT, following the usual HS256 issuance-and-verification
// idiom, trimmed to the single access-token check this deployment needs.
package adminauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingBearer = errors.New("adminauth: missing bearer token")
	ErrInvalidToken  = errors.New("adminauth: invalid or expired token")
	ErrWrongScope    = errors.New("adminauth: token missing admin scope")
)

// ScopeAdmin is the only scope Middleware accepts.
const ScopeAdmin = "admin"

// Claims identifies the operator a token was issued to and the scope it
// was granted.
type Claims struct {
	Subject string `json:"sub"`
	Scope   string `json:"scope"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies admin bearer tokens with a single HMAC
// secret loaded from configuration.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// New creates an Issuer. secret must be at least 32 bytes.
func New(secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("adminauth: secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl}, nil
}

// Issue mints a bearer token for the named operator.
func (i *Issuer) Issue(subject string) (string, time.Time, error) {
	expiresAt := time.Now().Add(i.ttl)
	claims := &Claims{
		Subject: subject,
		Scope:   ScopeAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a bearer token, returning its claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("adminauth: unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

type contextKey string

const claimsContextKey contextKey = "adminauth-claims"

// Middleware rejects any request lacking a valid "Authorization: Bearer
// <token>" header, and otherwise attaches the verified claims to the
// request context.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			http.Error(w, ErrMissingBearer.Error(), http.StatusUnauthorized)
			return
		}

		claims, err := i.Verify(strings.TrimPrefix(header, prefix))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if claims.Scope != ScopeAdmin {
			http.Error(w, ErrWrongScope.Error(), http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext retrieves the claims attached by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}
