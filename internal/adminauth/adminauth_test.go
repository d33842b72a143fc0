package adminauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer, err := New(testSecret(), time.Minute)
	require.NoError(t, err)

	token, _, err := issuer.Issue("ops")
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "ops", claims.Subject)
	require.Equal(t, ScopeAdmin, claims.Scope)
}

func TestNewRejectsShortSecret(t *testing.T) {
	_, err := New([]byte("too-short"), time.Minute)
	require.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer, err := New(testSecret(), -time.Minute)
	require.NoError(t, err)

	token, _, err := issuer.Issue("ops")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareRejectsMissingBearer(t *testing.T) {
	issuer, err := New(testSecret(), time.Minute)
	require.NoError(t, err)

	handler := issuer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareAttachesClaims(t *testing.T) {
	issuer, err := New(testSecret(), time.Minute)
	require.NoError(t, err)
	token, _, err := issuer.Issue("ops")
	require.NoError(t, err)

	var seenSubject string
	handler := issuer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		seenSubject = claims.Subject
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ops", seenSubject)
}

func TestMiddlewareRejectsWrongScope(t *testing.T) {
	issuer, err := New(testSecret(), time.Minute)
	require.NoError(t, err)

	claims := &Claims{
		Subject: "ops",
		Scope:   "read-only",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(issuer.secret)
	require.NoError(t, err)

	handler := issuer.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}
