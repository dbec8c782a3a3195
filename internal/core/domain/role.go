package domain

import (
	"strings"
	"time"
)

// Role is the access level of a signed-in operator.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleInspector Role = "inspector"
	RoleClient    Role = "client"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleInspector, RoleClient:
		return true
	}
	return false
}

// ParseRole normalises a backend role string. Unknown values map to RoleClient.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return RoleClient
	}
	return r
}

// GrantSource records which branch of role resolution produced a grant.
type GrantSource string

const (
	SourceOverride    GrantSource = "override"
	SourceRPC         GrantSource = "rpc"
	SourceProfile     GrantSource = "profile"
	SourceProvisioned GrantSource = "provisioned"
	SourceFallback    GrantSource = "fallback"
)

// RoleGrant is the outcome of resolving a user's role.
type RoleGrant struct {
	Role             Role
	AllowedCustomers string
	Source           GrantSource
}

// FallbackGrant is applied whenever resolution cannot reach a definitive answer.
func FallbackGrant() RoleGrant {
	return RoleGrant{Role: RoleClient, Source: SourceFallback}
}

// Profile is a row of the profiles table.
type Profile struct {
	ID               string    `json:"id" bson:"_id"`
	Email            string    `json:"email,omitempty" bson:"email,omitempty"`
	Role             Role      `json:"role" bson:"role"`
	AllowedCustomers string    `json:"allowed_customers,omitempty" bson:"allowed_customers,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty" bson:"created_at"`
}

// User is an account of the self-hosted identity store.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
