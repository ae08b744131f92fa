package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func jwksServer(t *testing.T, key *rsa.PrivateKey, kid string, fetches *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fetches, 1)
		json.NewEncoder(w).Encode(jwkSet{Keys: []jwk{{
			Kid: kid,
			Kty: "RSA",
			N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid, audience, issuer, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func testVerifier(clientID, keysURL string) *AppleVerifier {
	v := NewAppleVerifier(clientID, false, http.DefaultClient)
	v.keysURL = keysURL
	v.issuer = "https://issuer.test"
	return v
}

func TestVerify_SkipPathSynthesizesSubjects(t *testing.T) {
	v := NewAppleVerifier("", false, http.DefaultClient)

	c1, err := v.VerifyIdentityToken(context.Background(), "not-even-a-jwt")
	if err != nil {
		t.Fatalf("bypass path must not fail: %v", err)
	}
	c2, _ := v.VerifyIdentityToken(context.Background(), "not-even-a-jwt")
	if c1.Subject == "" || c1.Subject == c2.Subject {
		t.Error("bypass must synthesize a fresh random subject per call")
	}
}

func TestVerify_ValidToken(t *testing.T) {
	key := signingKey(t)
	var fetches int32
	server := jwksServer(t, key, "key-1", &fetches)
	defer server.Close()

	v := testVerifier("com.example.app", server.URL)
	token := signToken(t, key, "key-1", "com.example.app", "https://issuer.test", "user-123")

	claims, err := v.VerifyIdentityToken(context.Background(), token)
	if err != nil {
		t.Fatalf("verification failed: %v", err)
	}
	if claims.Subject != "user-123" {
		t.Errorf("Subject = %s, want user-123", claims.Subject)
	}
}

func TestVerify_FailuresAreOpaque(t *testing.T) {
	key := signingKey(t)
	var fetches int32
	server := jwksServer(t, key, "key-1", &fetches)
	defer server.Close()

	v := testVerifier("com.example.app", server.URL)

	otherKey := signingKey(t)
	cases := map[string]string{
		"wrong audience": signToken(t, key, "key-1", "com.other.app", "https://issuer.test", "u"),
		"wrong issuer":   signToken(t, key, "key-1", "com.example.app", "https://evil.test", "u"),
		"unknown kid":    signToken(t, key, "key-9", "com.example.app", "https://issuer.test", "u"),
		"wrong key":      signToken(t, otherKey, "key-1", "com.example.app", "https://issuer.test", "u"),
		"garbage":        "garbage.token.value",
	}
	for name, token := range cases {
		if _, err := v.VerifyIdentityToken(context.Background(), token); !errors.Is(err, ErrVerificationFailed) {
			t.Errorf("%s: err = %v, want ErrVerificationFailed", name, err)
		}
	}
}

func TestVerify_KeysAreCached(t *testing.T) {
	key := signingKey(t)
	var fetches int32
	server := jwksServer(t, key, "key-1", &fetches)
	defer server.Close()

	current := time.Unix(9000, 0)
	v := testVerifier("com.example.app", server.URL)
	v.now = func() time.Time { return current }

	token := signToken(t, key, "key-1", "com.example.app", "https://issuer.test", "u")
	for i := 0; i < 3; i++ {
		if _, err := v.VerifyIdentityToken(context.Background(), token); err != nil {
			t.Fatal(err)
		}
	}
	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Errorf("JWKS fetched %d times within the cache window, want 1", n)
	}

	// Past the cache TTL the keys are refreshed on the next verification.
	current = current.Add(16 * time.Minute)
	if _, err := v.VerifyIdentityToken(context.Background(), token); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&fetches); n != 2 {
		t.Errorf("JWKS fetched %d times after expiry, want 2", n)
	}
}
