package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/138data/datagate-poc-sub000/internal/models"
	appErrors "github.com/138data/datagate-poc-sub000/pkg/errors"
)

func testAuthService() *AuthService {
	return NewAuthService(nil, AuthConfig{
		AdminEmail:    "admin@test",
		AdminPassword: "correct horse",
		TokenSecret:   "unit-test-secret",
		TokenExpiry:   time.Hour,
		Issuer:        "datagate",
	})
}

func TestAuthLoginSuccess(t *testing.T) {
	svc := testAuthService()
	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@test", Password: "correct horse"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, int64(3600), res.ExpiresIn)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, "admin@test", claims.Email)
}

func TestAuthLoginWrongPassword(t *testing.T) {
	svc := testAuthService()
	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@test", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthLoginWrongEmail(t *testing.T) {
	svc := testAuthService()
	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "other@test", Password: "correct horse"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthLoginValidation(t *testing.T) {
	svc := testAuthService()
	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "not-an-email", Password: "x"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAuthValidateTokenRejectsTampering(t *testing.T) {
	svc := testAuthService()
	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@test", Password: "correct horse"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(res.AccessToken + "x")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthValidateTokenRejectsForeignSecret(t *testing.T) {
	other := NewAuthService(nil, AuthConfig{
		AdminEmail:    "admin@test",
		AdminPassword: "correct horse",
		TokenSecret:   "different-secret",
		TokenExpiry:   time.Hour,
	})
	res, err := other.Login(context.Background(), models.LoginRequest{Email: "admin@test", Password: "correct horse"})
	require.NoError(t, err)

	_, err = testAuthService().ValidateToken(res.AccessToken)
	require.Error(t, err)
}
