// Package authtest mints Cognito-shaped tokens for tests.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const Issuer = "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_test"

// Signer holds an RSA key pair and signs tokens for Issuer.
type Signer struct {
	Issuer string
	key    *rsa.PrivateKey
}

func NewSigner(t testing.TB) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return &Signer{Issuer: Issuer, key: key}
}

// Keyfunc resolves every token to the signer's public key.
func (s *Signer) Keyfunc(*jwt.Token) (any, error) {
	return &s.key.PublicKey, nil
}

// Token signs a valid RS256 token for sub with the given groups. extra
// overrides or adds claims.
func (s *Signer) Token(t testing.TB, sub string, groups []string, extra map[string]any) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":              sub,
		"iss":              s.Issuer,
		"exp":              time.Now().Add(time.Hour).Unix(),
		"iat":              time.Now().Unix(),
		"token_use":        "id",
		"email":            sub + "@example.com",
		"cognito:username": sub,
	}
	if groups != nil {
		claims["cognito:groups"] = groups
	}
	for k, v := range extra {
		claims[k] = v
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// Influencer signs a token for an influencer owning mainInfluencerID.
func (s *Signer) Influencer(t testing.TB, sub, mainInfluencerID string) string {
	t.Helper()
	return s.Token(t, sub, []string{"influencer"}, map[string]any{"custom:id_influencer_main": mainInfluencerID})
}

// Operations signs a token for an operations user.
func (s *Signer) Operations(t testing.TB, sub string) string {
	t.Helper()
	return s.Token(t, sub, []string{"operations"}, nil)
}
