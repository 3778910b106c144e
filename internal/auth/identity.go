package auth

import (
	"errors"
	"time"

	"github.com/luckydye/scroll/internal/rbac"
)

// IdentityKind discriminates how a request authenticated.
type IdentityKind string

const (
	IdentitySession IdentityKind = "session"
	IdentityToken   IdentityKind = "token"
)

var (
	ErrRevokedToken = errors.New("revoked token")
	// ErrTokenScope means the token is live but not bound to the requested
	// resource, or its role ceiling is below the required one.
	ErrTokenScope = errors.New("token out of scope")
)

// ScopedToken is the authenticated view of a programmatic access token:
// bound to one resource inside one space, capped at MaxRole.
type ScopedToken struct {
	ID           string
	SpaceID      string
	ResourceType string
	ResourceID   string
	MaxRole      rbac.Role
	CreatedBy    string
	ExpiresAt    *time.Time
	RevokedAt    *time.Time
}

// Identity is the resolved caller of a request. Exactly one of User or Token
// is populated, according to Kind; downstream code switches on Kind instead
// of probing for nil fields.
type Identity struct {
	Kind  IdentityKind
	User  *SessionUser
	Token *ScopedToken
}

type SessionUser struct {
	ID   string
	Name string
	JTI  string
}

// SubjectID is the acting user for audit records: the session user, or the
// token's creator when acting programmatically.
func (id Identity) SubjectID() string {
	switch id.Kind {
	case IdentitySession:
		return id.User.ID
	case IdentityToken:
		return id.Token.CreatedBy
	default:
		return ""
	}
}

// Live reports whether the token is neither revoked nor expired at now.
func (t *ScopedToken) Live(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !now.Before(*t.ExpiresAt) {
		return false
	}
	return true
}

// VerifyTokenPermission checks that tok may act on the given resource with at
// least minRole. Scope matching is exact: the token's space must match, and
// the token must be bound to either the resource itself or to the whole space.
func VerifyTokenPermission(tok *ScopedToken, spaceID, resourceType, resourceID string, minRole rbac.Role) error {
	if tok == nil {
		return ErrInvalidToken
	}
	if !tok.Live(time.Now()) {
		if tok.RevokedAt != nil {
			return ErrRevokedToken
		}
		return ErrExpiredToken
	}
	if tok.SpaceID != spaceID {
		return ErrTokenScope
	}
	spaceWide := tok.ResourceType == "space" && tok.ResourceID == tok.SpaceID
	if !spaceWide && (tok.ResourceType != resourceType || tok.ResourceID != resourceID) {
		return ErrTokenScope
	}
	if !rbac.AtLeast(tok.MaxRole, minRole) {
		return ErrTokenScope
	}
	return nil
}
