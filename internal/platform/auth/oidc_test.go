package auth

import (
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

func newJWKSServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	jwks := JWKSResponse{Keys: []JWKSKey{{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOIDCProvider_Discovery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.well-known/openid-configuration" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"issuer":   "https://idp.example.com",
				"jwks_uri": "https://idp.example.com/jwks",
				"id_token_signing_alg_values_supported": []string{"RS256"},
			})
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	provider, err := NewOIDCProvider(server.URL + "/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.JWKSURI != "https://idp.example.com/jwks" {
		t.Errorf("expected jwks_uri=https://idp.example.com/jwks, got %s", provider.JWKSURI)
	}
	if provider.Issuer != "https://idp.example.com" {
		t.Errorf("unexpected issuer %s", provider.Issuer)
	}
}

func TestOIDCProvider_MissingJWKS(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"issuer": "https://idp.example.com"})
	}))
	defer server.Close()

	if _, err := NewOIDCProvider(server.URL); err == nil {
		t.Fatal("expected error for discovery document without jwks_uri")
	}
}

func TestOIDCProvider_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	if _, err := NewOIDCProvider(server.URL); err == nil {
		t.Fatal("expected error for 404 discovery endpoint")
	}
}

func TestJWKSCache_GetKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, "k1", &key.PublicKey)

	cache := NewJWKSCache(srv.URL, time.Minute)
	got, err := cache.GetKey("k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 || got.E != key.PublicKey.E {
		t.Error("decoded key does not match")
	}
	if _, err := cache.GetKey("missing"); err == nil {
		t.Error("expected error for unknown kid")
	}
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := newJWKSServer(t, "k1", &key.PublicKey)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("user-rsa", "provider"))
	token.Header["kid"] = "k1"
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		if uid := UserIDFromContext(c.Request().Context()); uid != "user-rsa" {
			t.Errorf("expected user_id=user-rsa, got %s", uid)
		}
		return nil
	}
	if err := JWTMiddleware(JWTConfig{JWKSURL: srv.URL})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
