package jwttoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cleargate/pkg/platform/sentinel"
)

func newTestService() *JWTService {
	return NewJWTService("test-signing-key", "cleargate", "cleargate-api")
}

func TestGenerateAndValidateToken(t *testing.T) {
	service := newTestService()
	sessionID := uuid.New()

	token, err := service.GenerateAccessToken("org-42", sessionID, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "org-42", claims.SubjectID)
	assert.Equal(t, sessionID.String(), claims.SessionID)
	assert.Equal(t, "cleargate", claims.Issuer)
}

func TestValidateExpiredToken(t *testing.T) {
	service := newTestService()

	token, err := service.GenerateAccessToken("org-42", uuid.New(), -time.Minute)
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateTokenWrongKey(t *testing.T) {
	token, err := NewJWTService("other-key", "cleargate", "cleargate-api").
		GenerateAccessToken("org-42", uuid.New(), time.Hour)
	require.NoError(t, err)

	_, err = newTestService().ValidateToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)
}

func TestValidateTokenRejectsUnsignedAlgorithm(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		SubjectID: "org-42",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTestService().ValidateToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)
}

func TestValidateGarbageToken(t *testing.T) {
	_, err := newTestService().ValidateToken("not.a.token")
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrUnauthorized)
}
