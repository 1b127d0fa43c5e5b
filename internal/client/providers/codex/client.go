package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/zjrosen/relay/internal/client"
)

var knownPaths = []string{
	"~/.codex/bin/{name}",
	"~/.local/bin/{name}",
}

// Client spawns headless Codex processes in experimental-json mode.
type Client struct{}

func init() {
	client.RegisterClient(client.ClientCodex, func() client.AgentClient {
		return &Client{}
	})
}

// Type returns the provider type.
func (c *Client) Type() client.ClientType {
	return client.ClientCodex
}

// Spawn starts a codex process. User turns are submitted as op records on
// stdin; events stream back as JSONL.
func (c *Client) Spawn(ctx context.Context, cfg client.Config) (client.AgentProcess, error) {
	args := []string{"exec", "--experimental-json"}
	if cfg.WorkDir != "" {
		args = append(args, "--cd", cfg.WorkDir)
	}
	if cfg.Model != "" {
		args = append(args, "-m", cfg.Model)
	}
	if cfg.ReasoningEffort != "" {
		args = append(args, "-c", "model_reasoning_effort="+cfg.ReasoningEffort)
	}
	if cfg.PermissionMode == client.PermissionBypass {
		args = append(args, "--dangerously-bypass-approvals-and-sandbox")
	}
	if cfg.SessionID != "" {
		args = append(args, "resume", cfg.SessionID)
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

	var submissionSeq atomic.Int64

	return client.NewSpawnBuilder(ctx).
		WithExecutable(client.FindExecutable("codex", knownPaths), args).
		WithWorkDir(cfg.WorkDir).
		WithSessionRef(cfg.SessionID).
		WithTimeout(cfg.Timeout).
		WithParser(NewParser()).
		WithProviderName("codex").
		WithStderrCapture(true).
		WithStdin(
			func(text string) ([]byte, error) {
				return encodeUserInput(submissionSeq.Add(1), text)
			},
			func() ([]byte, error) {
				return encodeInterrupt(submissionSeq.Add(1))
			},
		).
		WithEnv(env).
		Build()
}

// encodeUserInput builds a user_input submission op.
func encodeUserInput(seq int64, text string) ([]byte, error) {
	payload := map[string]any{
		"id": fmt.Sprintf("relay-%d", seq),
		"op": map[string]any{
			"type": "user_input",
			"items": []any{
				map[string]any{"type": "text", "text": text},
			},
		},
	}
	return json.Marshal(payload)
}

// encodeInterrupt builds an interrupt submission op.
func encodeInterrupt(seq int64) ([]byte, error) {
	payload := map[string]any{
		"id": fmt.Sprintf("relay-%d", seq),
		"op": map[string]any{"type": "interrupt"},
	}
	return json.Marshal(payload)
}

var _ client.AgentClient = (*Client)(nil)
