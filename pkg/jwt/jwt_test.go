package jwt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgjwt "github.com/jhoicas/Facturacion-api/pkg/jwt"
)

const secret = "test-secret-key-for-unit-tests"

func TestGenerateAndParse(t *testing.T) {
	tok, err := pkgjwt.Generate(secret, "u-1", "c-1", pkgjwt.RoleCashier, "facturacion-api-test", 60)
	require.NoError(t, err)

	claims, err := pkgjwt.Parse(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "c-1", claims.CompanyID)
	assert.Equal(t, pkgjwt.RoleCashier, claims.Role)
}

func TestParse_Rejects(t *testing.T) {
	expired, err := pkgjwt.Generate(secret, "u-1", "c-1", pkgjwt.RoleAdmin, "iss", -1)
	require.NoError(t, err)
	_, err = pkgjwt.Parse(secret, expired)
	assert.Error(t, err, "token expirado")

	valid, err := pkgjwt.Generate(secret, "u-1", "c-1", pkgjwt.RoleAdmin, "iss", 60)
	require.NoError(t, err)
	_, err = pkgjwt.Parse("otro-secret", valid)
	assert.Error(t, err, "secret incorrecto")

	noTenant, err := pkgjwt.Generate(secret, "u-1", "", pkgjwt.RoleAdmin, "iss", 60)
	require.NoError(t, err)
	_, err = pkgjwt.Parse(secret, noTenant)
	assert.Error(t, err, "sin company_id")

	_, err = pkgjwt.Generate("", "u-1", "c-1", pkgjwt.RoleAdmin, "iss", 60)
	assert.Error(t, err)
}
