package auth

import (
	"context"
	"errors"
	"fmt"

	"hardware-checkout-backend/internal/model"
	"hardware-checkout-backend/internal/store"
)

// ErrInvalidCredentials is returned when a device username or password does
// not match.
var ErrInvalidCredentials = errors.New("invalid device credentials")

// CredentialStore is the subset of store.Store the device authenticator uses.
type CredentialStore interface {
	DeviceCredential(ctx context.Context, username string) (model.DeviceCredential, error)
}

// DeviceAuthenticator resolves Basic-auth credentials to a device id.
type DeviceAuthenticator struct {
	store CredentialStore
}

// NewDeviceAuthenticator creates an authenticator backed by s.
func NewDeviceAuthenticator(s CredentialStore) *DeviceAuthenticator {
	return &DeviceAuthenticator{store: s}
}

// Authenticate returns the id of the device owning username when password
// matches its stored hash.
func (a *DeviceAuthenticator) Authenticate(ctx context.Context, username, password string) (int64, error) {
	if username == "" {
		return 0, ErrInvalidCredentials
	}
	cred, err := a.store.DeviceCredential(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		// Unknown names take as long as wrong passwords.
		VerifyPassword(password, dummyHash)
		return 0, ErrInvalidCredentials
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load credential for %s: %w", username, err)
	}

	ok, err := VerifyPassword(password, cred.PasswordHash)
	if err != nil {
		return 0, fmt.Errorf("stored hash for %s is unusable: %w", username, err)
	}
	if !ok {
		return 0, ErrInvalidCredentials
	}
	return cred.DeviceID, nil
}

// dummyHash is a valid PHC string for a throwaway password.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=1$c29tZXNhbHRzb21lc2FsdA$QmQqH0c5C1Xz6o0Vb9h8mYQ6a1l5bD0Lk4m7r1t2s3U"
