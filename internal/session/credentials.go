package session

import (
	"fmt"
	"time"

	"smart-queue/models"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload the server signs into access and refresh tokens.
type Claims struct {
	TokenType string `json:"token_type,omitempty"` // access or refresh
	Role      string `json:"role"`
	UserID    int64  `json:"user_id"`
	jwt.RegisteredClaims
}

// Credentials is the token pair issued at login.
type Credentials struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// FromTokenPair converts a login or refresh reply. A reply without a
// refresh token keeps prev's.
func FromTokenPair(pair models.TokenPair, prev Credentials) Credentials {
	creds := Credentials{Access: pair.Access, Refresh: pair.Refresh}
	if creds.Refresh == "" {
		creds.Refresh = prev.Refresh
	}
	return creds
}

func (c Credentials) Empty() bool {
	return c.Access == "" && c.Refresh == ""
}

// ParseClaims decodes a token without verifying its signature. The client
// never holds the signing key; the server remains the authority.
func ParseClaims(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("parse claims: empty token")
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return claims, nil
}

// Role returns the role carried by the access token. ok is false when the
// token is missing, unparseable or names an unknown role.
func (c Credentials) Role() (models.Role, bool) {
	claims, err := ParseClaims(c.Access)
	if err != nil {
		return "", false
	}
	role, err := models.ParseRole(claims.Role)
	if err != nil {
		return "", false
	}
	return role, true
}

func (c Credentials) UserID() int64 {
	claims, err := ParseClaims(c.Access)
	if err != nil {
		return 0
	}
	return claims.UserID
}

func (c Credentials) AccessExpired(now time.Time) bool {
	return tokenExpired(c.Access, now)
}

func (c Credentials) RefreshExpired(now time.Time) bool {
	return tokenExpired(c.Refresh, now)
}

// tokenExpired treats a token that cannot be decoded as expired. A token
// without an exp claim never expires.
func tokenExpired(token string, now time.Time) bool {
	claims, err := ParseClaims(token)
	if err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Before(now)
}
