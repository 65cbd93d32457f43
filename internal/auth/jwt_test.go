package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorebase/shorebase/internal/config"
	"github.com/shorebase/shorebase/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.AuthEnabled = true
	cfg.Security.JWTSecret = "test-secret-that-is-long-enough"
	cfg.Security.JWTExpiration = time.Hour
	return cfg
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService(testConfig(t))

	token, err := svc.GenerateToken("ops", []models.Role{models.RoleAdmin})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, []models.Role{models.RoleAdmin}, claims.Roles)
	assert.Equal(t, "shorebase", claims.Issuer)
}

func TestGenerateTokenRequiresSubject(t *testing.T) {
	svc := NewJWTService(testConfig(t))

	_, err := svc.GenerateToken("", []models.Role{models.RoleViewer})
	assert.Error(t, err)
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.JWTSecret = ""
	svc := NewJWTService(cfg)

	_, err := svc.GenerateToken("ops", []models.Role{models.RoleViewer})
	assert.Error(t, err)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := NewJWTService(testConfig(t))
	token, err := svc.GenerateToken("ops", []models.Role{models.RoleViewer})
	require.NoError(t, err)

	other := testConfig(t)
	other.Security.JWTSecret = "a-completely-different-secret"
	_, err = NewJWTService(other).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.JWTExpiration = -time.Minute
	svc := NewJWTService(cfg)

	token, err := svc.GenerateToken("ops", []models.Role{models.RoleViewer})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewJWTService(testConfig(t))

	_, err := svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
