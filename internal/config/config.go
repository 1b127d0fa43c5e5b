// Package config provides configuration types and defaults for relay.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/relay/internal/client"
)

// Config holds all configuration options for relay.
type Config struct {
	Provider   ProviderConfig   `mapstructure:"provider"`
	Session    SessionConfig    `mapstructure:"session"`
	Permission PermissionConfig `mapstructure:"permission"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	LogFile    string           `mapstructure:"log_file"`
}

// ProviderConfig selects and tunes the agent backend.
type ProviderConfig struct {
	// Name is "claude" (default), "codex", or "mock".
	Name string `mapstructure:"name"`
	// Model overrides the provider's default model.
	Model string `mapstructure:"model"`
	// ReasoningEffort tunes providers that expose it.
	ReasoningEffort string `mapstructure:"reasoning_effort"`
	// PermissionMode is forwarded to the subprocess at launch.
	PermissionMode string `mapstructure:"permission_mode"`
}

// ClientType returns the typed provider selection.
func (p ProviderConfig) ClientType() client.ClientType {
	switch p.Name {
	case "codex":
		return client.ClientCodex
	case "mock":
		return client.ClientMock
	default:
		return client.ClientClaude
	}
}

// Mode returns the typed permission mode.
func (p ProviderConfig) Mode() client.PermissionMode {
	switch p.PermissionMode {
	case string(client.PermissionAcceptEdits):
		return client.PermissionAcceptEdits
	case string(client.PermissionPlan):
		return client.PermissionPlan
	case string(client.PermissionBypass):
		return client.PermissionBypass
	default:
		return client.PermissionDefault
	}
}

// SessionConfig tunes session lifecycle behavior.
type SessionConfig struct {
	// LaunchTimeoutSeconds bounds subprocess startup.
	LaunchTimeoutSeconds int `mapstructure:"launch_timeout_seconds"`
	// CoalesceMillis is the minimum UI delivery gap.
	CoalesceMillis int `mapstructure:"coalesce_millis"`
	// HistoryDir overrides the provider transcript root.
	HistoryDir string `mapstructure:"history_dir"`
}

// LaunchTimeout returns the configured timeout as a duration.
func (s SessionConfig) LaunchTimeout() time.Duration {
	if s.LaunchTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.LaunchTimeoutSeconds) * time.Second
}

// CoalesceInterval returns the configured delivery gap as a duration.
func (s SessionConfig) CoalesceInterval() time.Duration {
	if s.CoalesceMillis <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(s.CoalesceMillis) * time.Millisecond
}

// PermissionConfig tunes the filesystem approval protocol.
type PermissionConfig struct {
	// IPCDir is the shared request/response directory.
	// Default: ~/.relay/ipc
	IPCDir string `mapstructure:"ipc_dir"`
	// PollMillis is the request discovery cadence.
	PollMillis int `mapstructure:"poll_millis"`
	// WatchDir enables the fsnotify nudge alongside polling.
	WatchDir *bool `mapstructure:"watch_dir"`
	// IdleTimeoutMinutes tears down idle session coordinators.
	IdleTimeoutMinutes int `mapstructure:"idle_timeout_minutes"`
}

// PollInterval returns the configured poll cadence as a duration.
func (p PermissionConfig) PollInterval() time.Duration {
	if p.PollMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(p.PollMillis) * time.Millisecond
}

// IdleTimeout returns the coordinator teardown threshold.
func (p PermissionConfig) IdleTimeout() time.Duration {
	if p.IdleTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(p.IdleTimeoutMinutes) * time.Minute
}

// Watch reports whether the directory nudge is enabled (default true).
func (p PermissionConfig) Watch() bool {
	return p.WatchDir == nil || *p.WatchDir
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `mapstructure:"enabled"`
	// Exporter is "file" (default), "stdout", or "otlp".
	Exporter string `mapstructure:"exporter"`
	// FilePath is where the file exporter writes traces.
	// Default: ~/.relay/traces.jsonl
	FilePath string `mapstructure:"file_path"`
	// Endpoint is the OTLP gRPC endpoint (exporter=otlp).
	Endpoint string `mapstructure:"endpoint"`
	// Insecure disables TLS for OTLP export.
	Insecure bool `mapstructure:"insecure"`
}

// DefaultIPCDir returns the default permission IPC directory.
func DefaultIPCDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "relay-ipc")
	}
	return filepath.Join(home, ".relay", "ipc")
}

// DefaultTracesFilePath returns the default traces output path.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "relay-traces.jsonl"
	}
	return filepath.Join(home, ".relay", "traces.jsonl")
}

// DefaultLogFilePath returns the default debug log path.
func DefaultLogFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "relay-debug.log"
	}
	return filepath.Join(home, ".relay", "debug.log")
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Provider: ProviderConfig{
			Name:           "claude",
			PermissionMode: string(client.PermissionDefault),
		},
		Session: SessionConfig{
			LaunchTimeoutSeconds: 30,
			CoalesceMillis:       50,
		},
		Permission: PermissionConfig{
			IPCDir:             DefaultIPCDir(),
			PollMillis:         500,
			IdleTimeoutMinutes: 30,
		},
		Tracing: TracingConfig{
			Exporter: "file",
			FilePath: DefaultTracesFilePath(),
		},
		LogFile: DefaultLogFilePath(),
	}
}

// Validate checks the configuration for unusable values.
func Validate(cfg Config) error {
	switch cfg.Provider.Name {
	case "", "claude", "codex", "mock":
	default:
		return fmt.Errorf("unknown provider %q (valid: claude, codex, mock)", cfg.Provider.Name)
	}
	switch cfg.Provider.PermissionMode {
	case "", "default", "acceptEdits", "plan", "bypassPermissions":
	default:
		return fmt.Errorf("unknown permission_mode %q", cfg.Provider.PermissionMode)
	}
	switch cfg.Tracing.Exporter {
	case "", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown tracing exporter %q (valid: file, stdout, otlp)", cfg.Tracing.Exporter)
	}
	if cfg.Tracing.Exporter == "otlp" && cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing exporter otlp requires an endpoint")
	}
	if cfg.Session.LaunchTimeoutSeconds < 0 {
		return fmt.Errorf("launch_timeout_seconds must be >= 0")
	}
	if cfg.Permission.PollMillis < 0 {
		return fmt.Errorf("poll_millis must be >= 0")
	}
	return nil
}

// DefaultConfigTemplate returns the commented starter config file.
func DefaultConfigTemplate() string {
	return `# relay configuration

provider:
  # Agent backend: claude (default) or codex.
  name: claude
  # Override the provider's default model.
  # model: claude-sonnet-4
  # Permission mode forwarded at launch:
  # default, acceptEdits, plan, bypassPermissions
  permission_mode: default

session:
  # Subprocess startup timeout.
  launch_timeout_seconds: 30
  # Minimum gap between UI message deliveries.
  coalesce_millis: 50

permission:
  # Shared request/response directory for tool approval.
  # ipc_dir: ~/.relay/ipc
  # Request discovery cadence.
  poll_millis: 500
  # Directory change notification alongside polling.
  watch_dir: true
  # Tear down a session's approval loop after this long idle.
  idle_timeout_minutes: 30

tracing:
  enabled: false
  # file, stdout, or otlp
  exporter: file
  # endpoint: localhost:4317

# log_file: ~/.relay/debug.log
`
}

// WriteDefaultConfig writes the starter config, refusing to overwrite.
func WriteDefaultConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
