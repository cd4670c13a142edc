package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hardware-checkout-backend/internal/model"
	"hardware-checkout-backend/internal/store"
)

type credStore map[string]model.DeviceCredential

func (s credStore) DeviceCredential(_ context.Context, username string) (model.DeviceCredential, error) {
	if username == "broken" {
		return model.DeviceCredential{}, errors.New("connection refused")
	}
	cred, ok := s[username]
	if !ok {
		return cred, store.ErrNotFound
	}
	return cred, nil
}

func TestDeviceAuthenticator(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	a := NewDeviceAuthenticator(credStore{
		"fpga-1": {DeviceID: 11, Username: "fpga-1", PasswordHash: hash},
		"legacy": {DeviceID: 12, Username: "legacy", PasswordHash: "plaintext"},
	})
	ctx := context.Background()

	id, err := a.Authenticate(ctx, "fpga-1", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)

	_, err = a.Authenticate(ctx, "fpga-1", "hunter3")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Authenticate(ctx, "nobody", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Authenticate(ctx, "legacy", "plaintext")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	_, err = a.Authenticate(ctx, "broken", "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}
