package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/client"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "claude", cfg.Provider.Name)
	assert.Equal(t, client.ClientClaude, cfg.Provider.ClientType())
	assert.Equal(t, client.PermissionDefault, cfg.Provider.Mode())
	assert.Equal(t, 30*time.Second, cfg.Session.LaunchTimeout())
	assert.Equal(t, 50*time.Millisecond, cfg.Session.CoalesceInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.Permission.PollInterval())
	assert.Equal(t, 30*time.Minute, cfg.Permission.IdleTimeout())
	assert.True(t, cfg.Permission.Watch())
	require.NoError(t, Validate(cfg))
}

func TestProviderClientType(t *testing.T) {
	assert.Equal(t, client.ClientCodex, ProviderConfig{Name: "codex"}.ClientType())
	assert.Equal(t, client.ClientMock, ProviderConfig{Name: "mock"}.ClientType())
	assert.Equal(t, client.ClientClaude, ProviderConfig{}.ClientType())
}

func TestProviderMode(t *testing.T) {
	assert.Equal(t, client.PermissionPlan, ProviderConfig{PermissionMode: "plan"}.Mode())
	assert.Equal(t, client.PermissionBypass, ProviderConfig{PermissionMode: "bypassPermissions"}.Mode())
	assert.Equal(t, client.PermissionDefault, ProviderConfig{PermissionMode: "bogus"}.Mode())
}

func TestValidate(t *testing.T) {
	cfg := Defaults()

	cfg.Provider.Name = "gemini"
	assert.Error(t, Validate(cfg))
	cfg.Provider.Name = "claude"

	cfg.Provider.PermissionMode = "yolo"
	assert.Error(t, Validate(cfg))
	cfg.Provider.PermissionMode = "plan"

	cfg.Tracing.Exporter = "jaeger"
	assert.Error(t, Validate(cfg))
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Enabled = true
	assert.Error(t, Validate(cfg), "otlp without endpoint")
	cfg.Tracing.Endpoint = "localhost:4317"
	assert.NoError(t, Validate(cfg))
}

func TestWatchDefaultsTrue(t *testing.T) {
	off := false
	assert.True(t, PermissionConfig{}.Watch())
	assert.False(t, PermissionConfig{WatchDir: &off}.Watch())
}

func TestDurationsFallBack(t *testing.T) {
	assert.Equal(t, 30*time.Second, SessionConfig{LaunchTimeoutSeconds: 0}.LaunchTimeout())
	assert.Equal(t, 2*time.Second, SessionConfig{LaunchTimeoutSeconds: 2}.LaunchTimeout())
	assert.Equal(t, 50*time.Millisecond, SessionConfig{}.CoalesceInterval())
	assert.Equal(t, 500*time.Millisecond, PermissionConfig{}.PollInterval())
	assert.Equal(t, 100*time.Millisecond, PermissionConfig{PollMillis: 100}.PollInterval())
}
