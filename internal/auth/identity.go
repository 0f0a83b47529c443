package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"uppy/chat/internal/types"
)

// Claims is the fixed schema read from Cognito id and access tokens. Claims
// whose JSON shape differs (e.g. groups as a string) fail to decode and the
// token is rejected.
type Claims struct {
	jwt.RegisteredClaims
	Email            string   `json:"email,omitempty"`
	CognitoUsername  string   `json:"cognito:username,omitempty"`
	Username         string   `json:"username,omitempty"`
	Groups           []string `json:"cognito:groups,omitempty"`
	MainInfluencerID string   `json:"custom:id_influencer_main,omitempty"`
	TokenUse         string   `json:"token_use,omitempty"`
}

// Identity is derived once per connection and never changes afterwards.
type Identity struct {
	Subject          string
	Email            string
	Username         string
	Role             types.Role
	MainInfluencerID string
}

// UserView is the sanitized identity sent back to the caller.
type UserView struct {
	ID       string     `json:"id"`
	Email    string     `json:"email,omitempty"`
	Role     types.Role `json:"role"`
	Username string     `json:"username"`
}

func (i Identity) View() UserView {
	return UserView{ID: i.Subject, Email: i.Email, Role: i.Role, Username: i.Username}
}

// DeriveRole maps group membership onto a role. operations wins over
// influencer; unknown groups alone are not enough.
func DeriveRole(groups []string) (types.Role, error) {
	switch {
	case slices.Contains(groups, string(types.RoleOperations)):
		return types.RoleOperations, nil
	case slices.Contains(groups, string(types.RoleInfluencer)):
		return types.RoleInfluencer, nil
	default:
		return "", NoValidRole
	}
}

// IdentityFromClaims is a pure mapping from verified claims to an Identity.
func IdentityFromClaims(c *Claims) (Identity, error) {
	role, err := DeriveRole(c.Groups)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		Subject:          c.Subject,
		Email:            firstNonEmpty(c.Email, c.CognitoUsername),
		Username:         firstNonEmpty(c.CognitoUsername, c.Username, c.Email),
		Role:             role,
		MainInfluencerID: c.MainInfluencerID,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
