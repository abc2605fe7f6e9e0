package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tenant is the organization a session acts within
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Identity is the caller-supplied part of a session: who the actor is and what they may do.
type Identity struct {
	SubjectID   string
	DisplayName string
	Tenant      Tenant
	Role        string
	Permissions []string
}

// Claims is the signed payload of a session token
type Claims struct {
	SubjectID   string   `json:"subjectId"`
	DisplayName string   `json:"displayName"`
	Tenant      Tenant   `json:"tenant"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Identity returns the identity portion of the claims, detached from token timing.
func (c *Claims) Identity() Identity {
	perms := make([]string, len(c.Permissions))
	copy(perms, c.Permissions)
	return Identity{
		SubjectID:   c.SubjectID,
		DisplayName: c.DisplayName,
		Tenant:      c.Tenant,
		Role:        c.Role,
		Permissions: perms,
	}
}

// IssuedAtTime returns iat in UTC, or the zero time when absent
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time.UTC()
}

// ExpiresAtTime returns exp in UTC, or the zero time when absent
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

// Age is how long ago the token was issued. A token without iat is treated as
// infinitely old so it always takes the re-validation path.
func (c *Claims) Age(now time.Time) time.Duration {
	if c.IssuedAt == nil {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(c.IssuedAt.Time)
}

// IsStale reports whether the token is older than window
func (c *Claims) IsStale(now time.Time, window time.Duration) bool {
	return c.Age(now) > window
}

// HasPermission reports whether permission is in the token's permission set
func (c *Claims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the token's role is one of roles
func (c *Claims) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}
