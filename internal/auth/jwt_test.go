package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epass/server/internal/config"
)

func TestJWTService_SignAndVerify(t *testing.T) {
	s := NewJWTService("test-jwt-secret-at-least-32-characters-long", time.Hour)
	staffID := uuid.New()

	token, err := s.SignStaffToken(staffID, "door")
	require.NoError(t, err)

	claims, err := s.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, staffID, claims.StaffID)
	assert.Equal(t, "door", claims.Role)
}

func TestJWTService_WrongSecret(t *testing.T) {
	signer := NewJWTService("secret-one-secret-one-secret-one", time.Hour)
	verifier := NewJWTService("secret-two-secret-two-secret-two", time.Hour)

	token, err := signer.SignStaffToken(uuid.New(), "")
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.Error(t, err)
}

func TestJWTService_Expired(t *testing.T) {
	s := NewJWTService("test-jwt-secret-at-least-32-characters-long", time.Nanosecond)
	token, err := s.SignStaffToken(uuid.New(), "")
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, err = s.VerifyToken(token)
	assert.Error(t, err)
}

func TestJWTService_MissingSecret(t *testing.T) {
	s := NewJWTService("", 0)

	_, err := s.SignStaffToken(uuid.New(), "")
	assert.ErrorIs(t, err, config.ErrConfigMissing)

	_, err = s.VerifyToken("anything")
	assert.ErrorIs(t, err, config.ErrConfigMissing)
}

func TestJWTService_NilStaffRejected(t *testing.T) {
	s := NewJWTService("test-jwt-secret-at-least-32-characters-long", time.Hour)
	token, err := s.SignStaffToken(uuid.Nil, "")
	require.NoError(t, err)

	_, err = s.VerifyToken(token)
	assert.Error(t, err)
}
