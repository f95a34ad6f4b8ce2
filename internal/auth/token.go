package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quietlibrary/tracker/pkg/library"
)

var (
	ErrInvalidSigningKey = errors.New("auth: signing key must not be empty")
	ErrInvalidToken      = errors.New("auth: invalid token")
)

const defaultTokenTTL = 24 * time.Hour

// Claims is the JWT payload issued at login.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HMAC-signed bearer tokens.
type TokenManager struct {
	signingKey []byte
	tokenTTL   time.Duration
	nowFn      func() time.Time
}

// TokenManagerOption customizes a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(tokenTTL time.Duration) TokenManagerOption {
	return func(manager *TokenManager) {
		manager.tokenTTL = tokenTTL
	}
}

// WithClock replaces the clock used for issue and expiry times.
func WithClock(nowFn func() time.Time) TokenManagerOption {
	return func(manager *TokenManager) {
		manager.nowFn = nowFn
	}
}

// NewTokenManager validates the signing key and returns a TokenManager.
func NewTokenManager(signingKey string, options ...TokenManagerOption) (*TokenManager, error) {
	if signingKey == "" {
		return nil, ErrInvalidSigningKey
	}
	manager := &TokenManager{
		signingKey: []byte(signingKey),
		tokenTTL:   defaultTokenTTL,
		nowFn:      time.Now,
	}
	for _, option := range options {
		option(manager)
	}
	return manager, nil
}

// Issue signs a token for the principal.
func (manager *TokenManager) Issue(principal library.Principal) (string, error) {
	issuedAt := manager.nowFn()
	claims := Claims{
		Role: principal.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", principal.UserID),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(manager.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(manager.signingKey)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a bearer token and returns its principal.
func (manager *TokenManager) Verify(rawToken string) (library.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, token.Header["alg"])
		}
		return manager.signingKey, nil
	}, jwt.WithTimeFunc(manager.nowFn))
	if err != nil || !token.Valid {
		return library.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var userIDValue int64
	if _, err := fmt.Sscanf(claims.Subject, "%d", &userIDValue); err != nil {
		return library.Principal{}, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}
	userID, err := library.NewUserID(userIDValue)
	if err != nil {
		return library.Principal{}, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}
	role, err := library.ParseRole(claims.Role)
	if err != nil {
		return library.Principal{}, fmt.Errorf("%w: malformed role", ErrInvalidToken)
	}
	return library.Principal{UserID: userID, Role: role}, nil
}
