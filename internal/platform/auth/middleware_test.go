package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(subject string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID: "north",
		Roles:    []string{"chw"},
	}
}

// runMiddleware executes mw with the given Authorization header and returns
// the context seen by the downstream handler (nil if it did not run).
func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var seen echo.Context
	err := mw(func(c echo.Context) error {
		seen = c
		return c.String(http.StatusOK, "ok")
	})(c)
	return seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	seen, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	expectStatus(t, err, http.StatusUnauthorized)
	if seen != nil {
		t.Error("handler must not run without credentials")
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, validClaims("chw-42"), testSigningKey)

	seen, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil {
		t.Fatal("handler was not called")
	}
	ctx := seen.Request().Context()
	if uid := UserIDFromContext(ctx); uid != "chw-42" {
		t.Errorf("expected user chw-42, got %q", uid)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != "chw" {
		t.Errorf("unexpected roles %v", roles)
	}
	if tid := seen.Get("jwt_tenant_id"); tid != "north" {
		t.Errorf("expected jwt_tenant_id north, got %v", tid)
	}
}

func TestJWTMiddleware_RejectedTokens(t *testing.T) {
	expired := validClaims("chw-42")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims("chw-42")
	wrongIssuer.Issuer = "https://other.example"

	plain := JWTConfig{SigningKey: testSigningKey}
	withIssuer := JWTConfig{SigningKey: testSigningKey, Issuer: "https://idp.example"}

	tests := []struct {
		name  string
		cfg   JWTConfig
		token string
	}{
		{"expired", plain, createTestToken(t, expired, testSigningKey)},
		{"wrong key", plain, createTestToken(t, validClaims("chw-42"), []byte("another-key"))},
		{"no subject", plain, createTestToken(t, validClaims(""), testSigningKey)},
		{"wrong issuer", withIssuer, createTestToken(t, wrongIssuer, testSigningKey)},
		{"garbage", plain, "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, JWTMiddleware(tt.cfg), "Bearer "+tt.token)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := JWKSResponse{Keys: []JWKSKey{{
		Kty: "RSA",
		Kid: "k1",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
	}}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	}))
	defer server.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("chw-7"))
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	mw := JWTMiddleware(JWTConfig{JWKSURL: server.URL})
	seen, err := runMiddleware(t, mw, "Bearer "+signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid := UserIDFromContext(seen.Request().Context()); uid != "chw-7" {
		t.Errorf("expected chw-7, got %q", uid)
	}

	token.Header["kid"] = "unknown"
	signed, _ = token.SignedString(key)
	_, err = runMiddleware(t, mw, "Bearer "+signed)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	seen, err := runMiddleware(t, DevAuthMiddleware(nil), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid := UserIDFromContext(seen.Request().Context()); uid != DevUserID {
		t.Errorf("expected %s, got %q", DevUserID, uid)
	}
	if tid := seen.Get("jwt_tenant_id"); tid != "default" {
		t.Errorf("expected default tenant, got %v", tid)
	}
}

func TestDevAuthMiddleware_WithToken(t *testing.T) {
	token := createTestToken(t, validClaims("chw-9"), testSigningKey)

	seen, err := runMiddleware(t, DevAuthMiddleware(testSigningKey), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uid := UserIDFromContext(seen.Request().Context()); uid != "chw-9" {
		t.Errorf("expected chw-9, got %q", uid)
	}

	_, err = runMiddleware(t, DevAuthMiddleware(testSigningKey), "Bearer bogus")
	expectStatus(t, err, http.StatusUnauthorized)

	_, err = runMiddleware(t, DevAuthMiddleware(nil), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestRequireAuthenticated(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	called := false
	h := RequireAuthenticated()(func(echo.Context) error {
		called = true
		return nil
	})
	expectStatus(t, h(c), http.StatusUnauthorized)
	if called {
		t.Error("handler must not run for anonymous callers")
	}

	req = req.WithContext(WithUser(context.Background(), "chw-1", nil))
	c = e.NewContext(req, httptest.NewRecorder())
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to run for an authenticated caller")
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	if UserIDFromContext(context.Background()) != "" {
		t.Error("expected empty user id")
	}
	if RolesFromContext(context.Background()) != nil {
		t.Error("expected nil roles")
	}
}
