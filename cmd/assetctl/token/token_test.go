package token

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetforge/internal/api"
	"assetforge/internal/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "assetctl", SilenceUsage: true, SilenceErrors: true}
	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(NewTokenCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append([]string{"token"}, args...))
	err := root.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestIssueToken(t *testing.T) {
	t.Setenv("ASSETFORGE_AUTH_JWT_SECRET", "s3cret")

	tok, err := run(t, "--subject", "u42", "--profile", "4", "--denied", "Computer, Monitor", "--ttl", "1h")
	require.NoError(t, err)

	actor, err := api.NewAuthenticator("s3cret").Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "u42", actor.ID)
	assert.Equal(t, "4", actor.Profile)
	assert.False(t, actor.SuperAdmin)
	assert.Equal(t, []string{"Computer", "Monitor"}, actor.Denied)
}

func TestIssueTokenErrors(t *testing.T) {
	t.Setenv("ASSETFORGE_AUTH_JWT_SECRET", "")
	_, err := run(t, "--subject", "u1")
	assert.ErrorContains(t, err, "jwt_secret")

	t.Setenv("ASSETFORGE_AUTH_JWT_SECRET", "s3cret")
	_, err = run(t, "--subject", "u1", "--ttl", "soon")
	assert.ErrorContains(t, err, "--ttl")
}
