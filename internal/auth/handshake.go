package auth

import (
	"net/http"
	"strings"
)

// AuthTokenHeader carries the handshake auth payload for clients that cannot
// set an Authorization header on the upgrade request.
const AuthTokenHeader = "X-Auth-Token"

// Handshake holds the credential locations of a connection attempt.
type Handshake struct {
	AuthToken     string
	Authorization string
	QueryToken    string
}

func HandshakeFromRequest(r *http.Request) Handshake {
	return Handshake{
		AuthToken:     r.Header.Get(AuthTokenHeader),
		Authorization: r.Header.Get("Authorization"),
		QueryToken:    r.URL.Query().Get("token"),
	}
}

// Token returns the first non-empty credential in priority order: auth
// payload, bearer header, query parameter.
func (h Handshake) Token() string {
	if t := strings.TrimSpace(h.AuthToken); t != "" {
		return t
	}
	if t := strings.TrimSpace(strings.TrimPrefix(h.Authorization, "Bearer ")); t != "" {
		return t
	}
	return strings.TrimSpace(h.QueryToken)
}
