// Package auth issues and verifies bearer tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

// Token errors wrap interfaces.ErrUnauthorized so callers can map them to 401
var (
	// ErrMissingToken is returned when no bearer token was presented
	ErrMissingToken = fmt.Errorf("%w: missing token", interfaces.ErrUnauthorized)
	// ErrInvalidToken is returned when the token is malformed or badly signed
	ErrInvalidToken = fmt.Errorf("%w: invalid token", interfaces.ErrUnauthorized)
	// ErrExpiredToken is returned when the token has expired
	ErrExpiredToken = fmt.Errorf("%w: token has expired", interfaces.ErrUnauthorized)
)

// TokenConfig holds signing configuration
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// Claims is the token payload shared by the HTTP API and the chat gateway
type Claims struct {
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role,omitempty"`
	Type       string `json:"type,omitempty"`
	BranchID   string `json:"branch_id,omitempty"`
	BranchType string `json:"branch_type,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager signs and verifies HS256 tokens
type TokenManager struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenManager creates a TokenManager; the secret must be non-empty
func NewTokenManager(config TokenConfig) (*TokenManager, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	return &TokenManager{config: config, now: time.Now}, nil
}

// Issue signs a token for the principal
func (m *TokenManager) Issue(p types.Principal) (string, error) {
	now := m.now()
	claims := Claims{
		Email:      p.Email,
		Name:       p.Name,
		Role:       p.Role,
		Type:       p.Type,
		BranchID:   p.BranchID,
		BranchType: p.BranchType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.Secret))
}

// Verify checks signature, method and expiry and rebuilds the principal.
// The principal Kind is resolved here, once, for the lifetime of the request or socket.
func (m *TokenManager) Verify(tokenString string) (*types.Principal, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &types.Principal{
		ID:         claims.Subject,
		Name:       claims.Name,
		Email:      claims.Email,
		Role:       claims.Role,
		Type:       claims.Type,
		BranchID:   claims.BranchID,
		BranchType: claims.BranchType,
		Kind:       types.ResolveKind(claims.Role, claims.Type),
	}, nil
}

// TTL returns the configured token lifetime
func (m *TokenManager) TTL() time.Duration { return m.config.TTL }

// ExtractBearer strips a case-insensitive "Bearer " prefix.
// A bare token without the prefix is returned unchanged.
func ExtractBearer(value string) string {
	value = strings.TrimSpace(value)
	if len(value) >= 6 && strings.EqualFold(value[:6], "bearer") && (len(value) == 6 || value[6] == ' ') {
		return strings.TrimSpace(value[6:])
	}
	return value
}
