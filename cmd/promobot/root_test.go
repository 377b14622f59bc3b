package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "promobot "))
}

func TestTokenCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[auth]\njwt_secret = \"cli-secret\"\n"), 0o600))
	t.Setenv("JWT_SECRET", "")

	out, err := runCmd(t, "token", "--config", path, "--user", "alice", "--ttl", "1h")
	require.NoError(t, err)

	parsed, err := jwt.Parse(strings.TrimSpace(out), func(*jwt.Token) (any, error) { return []byte("cli-secret"), nil })
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "alice", claims["sub"])
}

func TestTokenCommandWithoutSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := runCmd(t, "token", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestMigrateSkipsNonPostgres(t *testing.T) {
	_, err := runCmd(t, "migrate", "up", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	assert.NoError(t, err)
}
