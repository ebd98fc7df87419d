package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-signing-key")

func signTestToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func testClaims(tenantID string, roles []string) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID: tenantID,
		Roles:    roles,
	}
}

func runJWTMiddleware(t *testing.T, cfg JWTConfig, authHeader string) (*httptest.ResponseRecorder, echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/claims", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var captured echo.Context
	handler := JWTMiddleware(cfg)(func(c echo.Context) error {
		captured = c
		return c.NoContent(http.StatusOK)
	})
	err := handler(c)
	if captured == nil {
		captured = c
	}
	return rec, captured, err
}

func TestJWTMiddlewareValidToken(t *testing.T) {
	token := signTestToken(t, testClaims("acme", []string{"analyst"}))
	cfg := JWTConfig{SigningKey: testSigningKey}

	_, c, err := runJWTMiddleware(t, cfg, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := c.Get("jwt_tenant_id"); got != "acme" {
		t.Errorf("jwt_tenant_id = %v, want acme", got)
	}
	ctx := c.Request().Context()
	if uid := UserIDFromContext(ctx); uid != "user-1" {
		t.Errorf("UserIDFromContext = %q, want user-1", uid)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 1 || roles[0] != "analyst" {
		t.Errorf("RolesFromContext = %v, want [analyst]", roles)
	}
}

func TestJWTMiddlewareMissingHeader(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	_, _, err := runJWTMiddleware(t, cfg, "")

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 HTTPError, got %v", err)
	}
}

func TestJWTMiddlewareInvalidFormat(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	_, _, err := runJWTMiddleware(t, cfg, "Basic abc123")

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 HTTPError, got %v", err)
	}
}

func TestJWTMiddlewareBadSignature(t *testing.T) {
	claims := testClaims("acme", nil)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("wrong-key"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	cfg := JWTConfig{SigningKey: testSigningKey}
	_, _, mErr := runJWTMiddleware(t, cfg, "Bearer "+signed)

	he, ok := mErr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 HTTPError, got %v", mErr)
	}
}

func TestJWTMiddlewareExpiredToken(t *testing.T) {
	claims := testClaims("acme", nil)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token := signTestToken(t, claims)

	cfg := JWTConfig{SigningKey: testSigningKey}
	_, _, err := runJWTMiddleware(t, cfg, "Bearer "+token)

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 HTTPError, got %v", err)
	}
}

func TestJWTMiddlewareIssuerMismatch(t *testing.T) {
	claims := testClaims("acme", nil)
	claims.Issuer = "https://other.example.com"
	token := signTestToken(t, claims)

	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "https://auth.example.com"}
	_, _, err := runJWTMiddleware(t, cfg, "Bearer "+token)

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 HTTPError, got %v", err)
	}
}

func TestDevAuthMiddlewareDefaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := DevAuthMiddleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := c.Get("jwt_tenant_id"); got != "default" {
		t.Errorf("jwt_tenant_id = %v, want default", got)
	}
	ctx := c.Request().Context()
	if uid := UserIDFromContext(ctx); uid != "dev-user" {
		t.Errorf("UserIDFromContext = %q, want dev-user", uid)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 1 || roles[0] != "admin" {
		t.Errorf("RolesFromContext = %v, want [admin]", roles)
	}
}

func TestJWKSCacheServesFetchedKeys(t *testing.T) {
	fetches := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "application/json")
		// Modulus/exponent of a syntactically valid RSA key (AQAB = 65537).
		w.Write([]byte(`{"keys":[{"kty":"RSA","kid":"key-1","n":"3Zf3","e":"AQAB"}]}`))
	}))
	defer srv.Close()

	cache := NewJWKSCache(srv.URL, time.Minute)

	key, err := cache.GetKey("key-1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if key == nil || key.E != 65537 {
		t.Errorf("unexpected key: %+v", key)
	}

	// Second lookup within TTL should hit the cache.
	if _, err := cache.GetKey("key-1"); err != nil {
		t.Fatalf("GetKey (cached): %v", err)
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1", fetches)
	}

	if _, err := cache.GetKey("missing"); err == nil {
		t.Error("expected error for unknown kid")
	}
}
