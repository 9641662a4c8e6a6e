package models

import "github.com/golang-jwt/jwt/v5"

const RoleAdmin = "admin"

// JWTClaims carries the caller identity for admin endpoints. The subject lives in
// RegisteredClaims.Subject.
type JWTClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (c *JWTClaims) IsAdmin() bool { return c.Role == RoleAdmin }
