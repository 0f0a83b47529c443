package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier validates a bearer credential and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// CognitoVerifier checks RS256 tokens issued by one Cognito user pool.
type CognitoVerifier struct {
	issuer  string
	keyfunc jwt.Keyfunc
}

func NewCognitoVerifier(issuer string, kf jwt.Keyfunc) *CognitoVerifier {
	return &CognitoVerifier{issuer: issuer, keyfunc: kf}
}

// JWKSURL is where a Cognito pool publishes its signing keys.
func JWKSURL(issuer string) string {
	return issuer + "/.well-known/jwks.json"
}

// NewJWKSKeyfunc fetches the pool's key set and keeps it refreshed in the
// background until ctx is cancelled.
func NewJWKSKeyfunc(ctx context.Context, issuer string) (jwt.Keyfunc, error) {
	url := JWKSURL(issuer)
	k, err := keyfunc.NewDefaultCtx(ctx, []string{url})
	if err != nil {
		return nil, fmt.Errorf("jwks %s: %w", url, err)
	}
	return k.Keyfunc, nil
}

func (v *CognitoVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, v.keyfunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", InvalidToken, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", InvalidToken)
	}
	// Cognito marks id and access tokens; anything else is not a sign-in token.
	switch claims.TokenUse {
	case "", "id", "access":
	default:
		return nil, fmt.Errorf("%w: unexpected token_use %q", InvalidToken, claims.TokenUse)
	}
	return claims, nil
}

// Authenticator turns a connection handshake into an Identity.
type Authenticator struct {
	verifier TokenVerifier
}

// NewAuthenticator returns an Authenticator. A nil verifier means the trust
// anchor is not configured and every attempt with a token fails with
// ServerMisconfigured.
func NewAuthenticator(v TokenVerifier) *Authenticator {
	return &Authenticator{verifier: v}
}

func (a *Authenticator) Authenticate(ctx context.Context, hs Handshake) (Identity, error) {
	token := hs.Token()
	if token == "" {
		return Identity{}, NoToken
	}
	if a.verifier == nil {
		return Identity{}, ServerMisconfigured
	}
	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		var ae AuthError
		if errors.As(err, &ae) {
			return Identity{}, err
		}
		return Identity{}, fmt.Errorf("%w: %v", InvalidToken, err)
	}
	return IdentityFromClaims(claims)
}

// Reason extracts the AuthError label from err, or "unknown".
func Reason(err error) string {
	var ae AuthError
	if errors.As(err, &ae) {
		return ae.Reason()
	}
	return "unknown"
}

// PublicMessage is the text a rejected client may see.
func PublicMessage(err error) string {
	var ae AuthError
	if errors.As(err, &ae) {
		return ae.Error()
	}
	return InvalidToken.Error()
}
