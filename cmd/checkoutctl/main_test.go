package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hardware-checkout-backend/internal/auth"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "checkout.db") + "\nauth:\n  jwt_secret: ctl-secret\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_RegistersDevice(t *testing.T) {
	cfg := writeConfig(t)
	ctx := context.Background()
	var out bytes.Buffer

	require.NoError(t, run(ctx, []string{"add-type", "--config", cfg, "fpga"}, &out))
	assert.Contains(t, out.String(), "created device type fpga")

	require.NoError(t, run(ctx, []string{"add-device", "--config", cfg, "--type", "fpga", "--password", "pw1", "fpga-1"}, &out))
	assert.Contains(t, out.String(), "created device fpga-1")

	require.NoError(t, run(ctx, []string{"set-password", "--config", cfg, "--password", "pw2", "fpga-1"}, &out))

	s, err := openStore(cfg)
	require.NoError(t, err)
	a := auth.NewDeviceAuthenticator(s)
	_, err = a.Authenticate(ctx, "fpga-1", "pw1")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	id, err := a.Authenticate(ctx, "fpga-1", "pw2")
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestRun_Errors(t *testing.T) {
	cfg := writeConfig(t)
	ctx := context.Background()
	var out bytes.Buffer

	assert.ErrorIs(t, run(ctx, nil, &out), errUsage)
	assert.ErrorIs(t, run(ctx, []string{"frobnicate"}, &out), errUsage)
	assert.Error(t, run(ctx, []string{"add-type", "--config", cfg}, &out))
	assert.Error(t, run(ctx, []string{"add-device", "--config", cfg, "fpga-1"}, &out))
	assert.Error(t, run(ctx, []string{"add-device", "--config", cfg, "--type", "nope", "--password", "x", "fpga-1"}, &out))
	assert.Error(t, run(ctx, []string{"set-password", "--config", cfg, "--password", "x", "ghost"}, &out))
}

func TestRun_Token(t *testing.T) {
	cfg := writeConfig(t)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"token", "--config", cfg, "--uid", "7", "--name", "alice", "--role", "admin"}, &out))

	claims, err := auth.ParseUserToken(strings.TrimSpace(out.String()), "ctl-secret")
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.True(t, claims.IsAdmin())
}
