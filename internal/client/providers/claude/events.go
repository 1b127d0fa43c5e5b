// Package claude translates the Claude Code CLI stream-json wire format into
// the shared client event vocabulary.
package claude

import "encoding/json"

// streamEnvelope mirrors one stream-json output line. Snapshot payloads are
// re-parsed into generic trees separately; this struct only discriminates.
type streamEnvelope struct {
	Type          string          `json:"type"`
	SubType       string          `json:"subtype,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	Model         string          `json:"model,omitempty"`
	WorkDir       string          `json:"cwd,omitempty"`
	SlashCommands []string        `json:"slash_commands,omitempty"`
	Event         *streamEvent    `json:"event,omitempty"`
	Usage         *rawUsage       `json:"usage,omitempty"`
	Error         json.RawMessage `json:"error,omitempty"` // string code or object
	Result        string          `json:"result,omitempty"`
	IsError       bool            `json:"is_error,omitempty"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
}

// streamEvent is the nested partial-message event emitted with
// --include-partial-messages.
type streamEvent struct {
	Type         string            `json:"type"`
	ContentBlock *rawContentBlock  `json:"content_block,omitempty"`
	Delta        *rawDelta         `json:"delta,omitempty"`
	Usage        *rawUsage         `json:"usage,omitempty"`
	Message      *rawStreamMessage `json:"message,omitempty"`
}

type rawContentBlock struct {
	Type string `json:"type,omitempty"`
}

type rawDelta struct {
	Type     string `json:"type,omitempty"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type rawStreamMessage struct {
	ID string `json:"id,omitempty"`
}

type rawUsage struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}
