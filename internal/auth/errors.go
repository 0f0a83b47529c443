package auth

// AuthError rejects a connection attempt before any room logic runs.
type AuthError uint

const (
	// No credential in the auth payload, Authorization header or query.
	NoToken AuthError = iota
	// The trust anchor (Cognito user pool) is not configured.
	ServerMisconfigured
	// Signature, algorithm, issuer or expiry checks failed.
	InvalidToken
	// The caller belongs to neither the operations nor the influencer group.
	NoValidRole
)

// Error returns the user-facing rejection message.
func (e AuthError) Error() string {
	switch e {
	case NoToken:
		return "Authentication error: No token provided"
	case ServerMisconfigured:
		return "Authentication error: Server configuration error"
	case InvalidToken:
		return "Authentication error: Invalid token"
	case NoValidRole:
		return `Authentication error: Invalid user role. User must belong to "influencer" or "operations" group`
	default:
		return "Authentication error"
	}
}

// Reason is a short label for metrics and logs.
func (e AuthError) Reason() string {
	switch e {
	case NoToken:
		return "no_token"
	case ServerMisconfigured:
		return "server_misconfigured"
	case InvalidToken:
		return "invalid_token"
	case NoValidRole:
		return "no_valid_role"
	default:
		return "unknown"
	}
}
