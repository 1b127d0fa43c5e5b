// Package codex translates the Codex CLI JSONL wire format into the shared
// client event vocabulary.
package codex

import "encoding/json"

// codexEvent mirrors one Codex JSONL line. Codex uses a thread/turn/item
// model rather than Claude's message records:
//
//   - thread.started: thread creation with thread_id
//   - turn.started / turn.completed / turn.failed: turn lifecycle
//   - item.started / item.delta / item.completed: item lifecycle, where an
//     item is an agent_message, reasoning block, command_execution, or
//     mcp_tool_call
//   - error: unrecoverable stream error with a top-level message
type codexEvent struct {
	Type     string      `json:"type"`
	ThreadID string      `json:"thread_id,omitempty"`
	Item     *codexItem  `json:"item,omitempty"`
	ItemID   string      `json:"item_id,omitempty"`
	ItemKind string      `json:"item_kind,omitempty"`
	Delta    string      `json:"delta,omitempty"`
	Usage    *codexUsage `json:"usage,omitempty"`
	Error    *codexError `json:"error,omitempty"`
	Message  string      `json:"message,omitempty"`
}

type codexItem struct {
	ID               string          `json:"id,omitempty"`
	Type             string          `json:"type,omitempty"`
	Text             string          `json:"text,omitempty"`
	Command          string          `json:"command,omitempty"`
	AggregatedOutput string          `json:"aggregated_output,omitempty"`
	ExitCode         *int            `json:"exit_code,omitempty"`
	Status           string          `json:"status,omitempty"`
	Server           string          `json:"server,omitempty"`
	Tool             string          `json:"tool,omitempty"`
	Arguments        json.RawMessage `json:"arguments,omitempty"`
}

type codexUsage struct {
	InputTokens       int `json:"input_tokens,omitempty"`
	CachedInputTokens int `json:"cached_input_tokens,omitempty"`
	OutputTokens      int `json:"output_tokens,omitempty"`
}

// codexError accepts both the string and object error forms.
type codexError struct {
	Message string `json:"message,omitempty"`
}

func (e *codexError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Message = obj.Message
	return nil
}
