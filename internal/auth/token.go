package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// TokenLength is the fixed length of an e-pass token (128-bit id as lowercase hex)
const TokenLength = 32

const digestLength = sha256.Size

// TokenService issues and verifies e-pass tokens. Only digests ever reach storage.
type TokenService struct {
	rand io.Reader
}

// NewTokenService creates a token service backed by crypto/rand
func NewTokenService() *TokenService {
	return &TokenService{rand: rand.Reader}
}

// NewTokenServiceWithReader creates a token service drawing randomness from r
func NewTokenServiceWithReader(r io.Reader) *TokenService {
	return &TokenService{rand: r}
}

// Issue returns a random URL-safe token and the hex SHA-256 digest to persist
func (s *TokenService) Issue() (token string, digest string, err error) {
	id, err := uuid.NewRandomFromReader(s.rand)
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token = hex.EncodeToString(id[:])
	return token, s.Digest(token), nil
}

// Digest returns the hex SHA-256 of the token
func (s *TokenService) Digest(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Verify reports whether presented hashes to storedDigest. Malformed input yields false.
func (s *TokenService) Verify(presented, storedDigest string) bool {
	if !WellFormed(presented) {
		return false
	}
	stored, err := hex.DecodeString(storedDigest)
	if err != nil || len(stored) != digestLength {
		return false
	}
	hash := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(hash[:], stored) == 1
}

// WellFormed reports whether s has the shape of an issued token
func WellFormed(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f')
	}) < 0
}
