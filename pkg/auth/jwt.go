package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nexuscrm/approvals/pkg/utils"
)

// RoleAdmin is the role name allowed to run administrative operations.
const RoleAdmin = "admin"

// UserSession represents the acting user carried in the JWT
type UserSession struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`             // Approver role in the hierarchy
	Tenant string `json:"tenant,omitempty"` // Empty means the configured default tenant
}

// IsAdmin checks if the user may run administrative operations
func (u UserSession) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Claims represents JWT claims
type Claims struct {
	User UserSession `json:"user"`
	jwt.RegisteredClaims
}

// TokenService signs and validates session tokens with a shared HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a token service. An empty secret falls back to a development default.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if secret == "" {
		secret = "default-secret-change-in-production"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// GenerateToken creates a JWT token for a user session
func (s *TokenService) GenerateToken(session UserSession) (string, error) {
	now := time.Now()
	claims := &Claims{
		User: session,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        utils.GenerateID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates and parses a JWT token
func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.User.ID == "" {
			return nil, errors.New("token carries no user")
		}
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
