package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/zjrosen/relay/internal/client"
)

// knownPaths are checked before PATH when locating the claude executable.
var knownPaths = []string{
	"~/.claude/local/{name}",
	"~/.claude/{name}",
}

// Client spawns headless Claude Code processes speaking stream-json on both
// stdin and stdout.
type Client struct{}

func init() {
	client.RegisterClient(client.ClientClaude, func() client.AgentClient {
		return &Client{}
	})
}

// Type returns the provider type.
func (c *Client) Type() client.ClientType {
	return client.ClientClaude
}

// Spawn starts a claude process for the given configuration. The process
// stays alive across turns; user input is written to stdin as stream-json
// user records.
func (c *Client) Spawn(ctx context.Context, cfg client.Config) (client.AgentProcess, error) {
	args := []string{
		"--print",
		"--verbose",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--include-partial-messages",
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if cfg.PermissionMode != "" && cfg.PermissionMode != client.PermissionDefault {
		args = append(args, "--permission-mode", string(cfg.PermissionMode))
	}
	if cfg.SessionID != "" {
		args = append(args, "--resume", cfg.SessionID)
	}

	env := []string{}
	if cfg.IPCDir != "" {
		env = append(env, "RELAY_IPC_DIR="+cfg.IPCDir)
	}
	if cfg.ChannelID != "" {
		env = append(env, "RELAY_CHANNEL_ID="+cfg.ChannelID)
	}
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	var controlSeq atomic.Int64

	return client.NewSpawnBuilder(ctx).
		WithExecutable(client.FindExecutable("claude", knownPaths), args).
		WithWorkDir(cfg.WorkDir).
		WithSessionRef(cfg.SessionID).
		WithTimeout(cfg.Timeout).
		WithParser(NewParser()).
		WithProviderName("claude").
		WithStderrCapture(true).
		WithStdin(encodeUserMessage, func() ([]byte, error) {
			return encodeInterrupt(controlSeq.Add(1))
		}).
		WithEnv(env).
		Build()
}

// encodeUserMessage wraps user text in a stream-json user record.
func encodeUserMessage(text string) ([]byte, error) {
	payload := map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []any{
				map[string]any{"type": "text", "text": text},
			},
		},
	}
	return json.Marshal(payload)
}

// encodeInterrupt builds the in-band control_request interrupt record.
func encodeInterrupt(seq int64) ([]byte, error) {
	payload := map[string]any{
		"type":       "control_request",
		"request_id": fmt.Sprintf("relay-interrupt-%d", seq),
		"request":    map[string]any{"subtype": "interrupt"},
	}
	return json.Marshal(payload)
}

var _ client.AgentClient = (*Client)(nil)
