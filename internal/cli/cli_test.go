package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/thought-board/config"
	"github.com/d60-Lab/thought-board/internal/api/middleware"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand("test")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", t.TempDir()}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("THOUGHTBOARD_JWT_SECRET", "s3cret")

	out, err := run(t, "token", "--operator", "op-1", "--ttl", "1h")
	require.NoError(t, err)

	claims := &middleware.Claims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	}, jwt.WithIssuer("thought-board"))
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.Subject)
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	_, err := run(t, "token", "--operator", "op-1")
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "board.db")
	t.Setenv("THOUGHTBOARD_DATABASE_DSN", dsn)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date")
	assert.FileExists(t, dsn)
}

func TestBotCommandsRequireToken(t *testing.T) {
	t.Setenv("THOUGHTBOARD_DATABASE_DSN", filepath.Join(t.TempDir(), "board.db"))

	_, err := run(t, "sweep")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = run(t, "recover", "--channel", "c1", "--operator", "op-1")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
