package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/epass/server/internal/config"
)

const defaultStaffTokenExpiry = 12 * time.Hour // one event day

// StaffClaims identifies the staff member operating a scan station.
// Staff tokens are issued by the external authentication service; this side only verifies them.
type StaffClaims struct {
	StaffID uuid.UUID `json:"sub"`
	Role    string    `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTService handles staff JWT operations
type JWTService struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTService creates a new JWT service. An empty secret is accepted so the process
// can start; every operation then fails with config.ErrConfigMissing.
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = defaultStaffTokenExpiry
	}
	return &JWTService{
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// SignStaffToken creates a staff token. Used by development tooling and tests.
func (s *JWTService) SignStaffToken(staffID uuid.UUID, role string) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("sign staff token: %w: JWT_SECRET", config.ErrConfigMissing)
	}

	now := time.Now()
	claims := &StaffClaims{
		StaffID: staffID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// VerifyToken verifies and parses a staff JWT
func (s *JWTService) VerifyToken(tokenString string) (*StaffClaims, error) {
	if len(s.secret) == 0 {
		return nil, fmt.Errorf("verify staff token: %w: JWT_SECRET", config.ErrConfigMissing)
	}

	token, err := jwt.ParseWithClaims(tokenString, &StaffClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*StaffClaims)
	if !ok || !token.Valid || claims.StaffID == uuid.Nil {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
