package models

import "time"

// Scope strings accepted on tokens and required by routes
const (
	ScopeJobsRead        = "jobs:read"
	ScopeJobsWrite       = "jobs:write"
	ScopeResourcesRead   = "resources:read"
	ScopeResourcesWrite  = "resources:write"
	ScopeSupervisorRead  = "supervisor:read"
	ScopeSupervisorWrite = "supervisor:write"
)

// AllScopes lists every known scope, granted to the bootstrap user
func AllScopes() []string {
	return []string{
		ScopeJobsRead, ScopeJobsWrite,
		ScopeResourcesRead, ScopeResourcesWrite,
		ScopeSupervisorRead, ScopeSupervisorWrite,
	}
}

// IsKnownScope reports whether the string names a defined scope
func IsKnownScope(scope string) bool {
	for _, known := range AllScopes() {
		if scope == known {
			return true
		}
	}
	return false
}

// User is an account that can be issued tokens. PasswordHash is the
// encoded argon2id digest including parameters and salt.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username" badgerhold:"index"`
	PasswordHash string    `json:"-"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
}

// Token is an opaque bearer credential. The token value itself is the
// storage key; it is never derivable from user data.
type Token struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id" badgerhold:"index"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the token is past its expiry
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TokenClaims is the verified identity attached to a request
type TokenClaims struct {
	UserID    string
	Scopes    []string
	ExpiresAt time.Time
}

// HasScope returns true if the claims carry the given scope
func (c *TokenClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
