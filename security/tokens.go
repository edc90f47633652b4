package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"smart-queue/internal/session"
	"smart-queue/internal/status"
	"smart-queue/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// TokenIssuer signs and verifies HS256 token pairs for the stub backend.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clockwork.Clock
}

func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration, clock clockwork.Clock) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("token issuer: secret is required")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clock,
	}, nil
}

// Issue returns a fresh access and refresh token for user.
func (t *TokenIssuer) Issue(user models.User) (models.TokenPair, error) {
	access, err := t.sign(user.ID, user.Role, TokenAccess, t.accessTTL)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, err := t.sign(user.ID, user.Role, TokenRefresh, t.refreshTTL)
	if err != nil {
		return models.TokenPair{}, err
	}
	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// IssueAccess returns a new access token only.
func (t *TokenIssuer) IssueAccess(userID int64, role models.Role) (string, error) {
	return t.sign(userID, role, TokenAccess, t.accessTTL)
}

func (t *TokenIssuer) sign(userID int64, role models.Role, kind string, ttl time.Duration) (string, error) {
	now := t.clock.Now()
	claims := session.Claims{
		TokenType: kind,
		Role:      string(role),
		UserID:    userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and kind of token.
func (t *TokenIssuer) Verify(token, kind string) (*session.Claims, error) {
	claims := &session.Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", status.ErrInvalidToken, err)
	}
	if claims.TokenType != kind {
		return nil, fmt.Errorf("%w: expected %s token", status.ErrInvalidToken, kind)
	}
	return claims, nil
}
