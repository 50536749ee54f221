package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manpreetbhatti/doodledock/backend/internal/auth"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "database:\n  path: " + filepath.Join(dir, "dev.db") + "\nauth:\n  jwt_secret: cli-secret\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	path := writeConfig(t)

	out, err := runCLI(t, "token", "--config", path, "--email", "dev@example.com", "--name", "Dev")
	require.NoError(t, err)

	token := strings.TrimSpace(out)
	claims, err := auth.NewTokenService("cli-secret", time.Hour).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", claims.UserEmail)
	assert.NotEmpty(t, claims.UserID)

	// The same email maps to the same user.
	out, err = runCLI(t, "token", "--config", path, "--email", "dev@example.com")
	require.NoError(t, err)
	again, err := auth.NewTokenService("cli-secret", time.Hour).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, claims.UserID, again.UserID)
}

func TestTokenCommandRequiresEmail(t *testing.T) {
	_, err := runCLI(t, "token", "--config", writeConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--email")
}
