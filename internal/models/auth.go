package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims is the payload of access tokens issued by the upstream identity provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Actor converts the claims into a workflow actor.
func (c *JWTClaims) Actor(contextInfo string) Actor {
	if c == nil {
		return Actor{ContextInfo: contextInfo}
	}
	return Actor{ID: c.UserID, Role: c.Role, ContextInfo: contextInfo}
}
