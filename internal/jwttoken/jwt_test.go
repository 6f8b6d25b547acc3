package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "courseflow/pkg/errors"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("test-key", "courseflow")

	token, err := svc.Generate("airflow", time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "airflow", claims.Subject)
}

func TestValidateRejectsWrongKey(t *testing.T) {
	token, err := NewService("key-a", "courseflow").Generate("airflow", time.Minute)
	require.NoError(t, err)

	_, err = NewService("key-b", "courseflow").ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthorized, dErrors.CodeOf(err))
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := NewService("test-key", "courseflow")
	token, err := svc.Generate("airflow", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	token, err := NewService("test-key", "other-engine").Generate("airflow", time.Minute)
	require.NoError(t, err)

	_, err = NewService("test-key", "courseflow").ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsGarbage(t *testing.T) {
	_, err := NewService("test-key", "courseflow").ValidateToken("not-a-token")
	assert.Error(t, err)
}
