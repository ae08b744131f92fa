// Package auth verifies Sign in with Apple identity tokens.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	appleKeysURL = "https://appleid.apple.com/auth/keys"
	appleIssuer  = "https://appleid.apple.com"
	keysCacheTTL = 15 * time.Minute
)

// ErrVerificationFailed is the only error callers ever see: which
// verification step failed stays in the server-side logs.
var ErrVerificationFailed = errors.New("identity token verification failed")

// Claims is the verified subset of the identity token surfaced to callers.
type Claims struct {
	Subject string
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type AppleVerifier struct {
	clientID string
	skip     bool
	issuer   string
	keysURL  string
	http     *http.Client

	mu          sync.Mutex
	cachedKeys  *jwkSet
	cacheExpiry time.Time
	now         func() time.Time
}

// NewAppleVerifier builds a verifier. With skip set, or with no client ID
// configured, verification is bypassed entirely; the bypass is logged loudly
// because it disables cryptographic trust.
func NewAppleVerifier(clientID string, skip bool, hc *http.Client) *AppleVerifier {
	v := &AppleVerifier{
		clientID: clientID,
		skip:     skip || clientID == "",
		issuer:   appleIssuer,
		keysURL:  appleKeysURL,
		http:     hc,
		now:      time.Now,
	}
	if v.skip {
		log.Warn().Msg("APPLE_SKIP_VERIFICATION enabled or APPLE_CLIENT_ID missing: identity tokens will NOT be cryptographically verified")
	}
	return v
}

// VerifyIdentityToken validates the token signature, audience, and issuer
// against Apple's published keys and returns its claims. On the bypass path
// a fresh random subject is synthesized without inspecting the token.
func (v *AppleVerifier) VerifyIdentityToken(ctx context.Context, token string) (*Claims, error) {
	if v.skip {
		return &Claims{Subject: uuid.New().String()}, nil
	}

	parsed, err := jwt.Parse(token, v.keyFunc(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.clientID),
		jwt.WithIssuer(v.issuer),
	)
	if err != nil || !parsed.Valid {
		log.Warn().Err(err).Msg("apple identity token rejected")
		return nil, ErrVerificationFailed
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		log.Warn().Err(err).Msg("apple identity token has no subject claim")
		return nil, ErrVerificationFailed
	}
	return &Claims{Subject: subject}, nil
}

func (v *AppleVerifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header missing kid")
		}
		keys, err := v.fetchKeys(ctx)
		if err != nil {
			return nil, err
		}
		for _, k := range keys.Keys {
			if k.Kid == kid {
				return rsaPublicKey(k)
			}
		}
		return nil, fmt.Errorf("no signing key found for kid %q", kid)
	}
}

// fetchKeys returns Apple's JWKS, refreshed at most every keysCacheTTL.
func (v *AppleVerifier) fetchKeys(ctx context.Context) (*jwkSet, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.cachedKeys != nil && v.now().Before(v.cacheExpiry) {
		return v.cachedKeys, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", v.keysURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch signing keys: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing key endpoint returned status %d", resp.StatusCode)
	}

	var keys jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("could not decode signing keys: %w", err)
	}

	v.cachedKeys = &keys
	v.cacheExpiry = v.now().Add(keysCacheTTL)
	return &keys, nil
}

func rsaPublicKey(k jwk) (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid key modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid key exponent: %w", err)
	}
	exponent := 0
	for _, b := range eBytes {
		exponent = exponent<<8 | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: exponent}, nil
}
