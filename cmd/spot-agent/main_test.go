package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leachandryan/cloudflare-spot-manager-for-azure/internal/config"
)

func TestMissingAPIKeyFailsBeforePolling(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")

	cmd := newRootCommand()
	cmd.SetArgs([]string{})
	require.ErrorContains(t, cmd.Execute(), "API key")
}

func TestInsecureWebhookRejected(t *testing.T) {
	t.Setenv(config.EnvAPIKey, "")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--api-key", "k", "--webhook", "http://example.com/hook"})
	require.ErrorContains(t, cmd.Execute(), "https")
}
