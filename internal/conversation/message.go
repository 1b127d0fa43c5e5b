// Package conversation defines the canonical message model shared by both
// providers, along with the content-block merger and the wire-message filter
// that normalize provider output into an ordered history.
package conversation

import (
	"strings"
	"time"
)

// Role classifies a message within the conversation history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

// Message is a single entry in a session's ordered history. Identity is
// positional; user messages gain a durable UUID later via history backfill.
// A Message is owned by its session state: it is mutated in place only by the
// currently-accumulating handler, and is append-only otherwise.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
	UUID      string
	// Raw is the provider-native message tree (parsed JSON), or nil for
	// messages relay synthesized locally (sent user text, errors).
	Raw map[string]any
}

// Clone returns a copy of the message with its own raw tree reference.
// The raw tree itself is shared; callers treating snapshots as immutable
// must not mutate block maps.
func (m Message) Clone() Message {
	return m
}

// BlockText concatenates the text of all blocks of the given type in a raw
// content array. Unknown shapes are skipped.
func BlockText(content []any, blockType string) string {
	var sb strings.Builder
	for _, b := range content {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t != blockType {
			continue
		}
		if text, ok := block[textKeyFor(blockType)].(string); ok {
			sb.WriteString(text)
		}
	}
	return sb.String()
}

func textKeyFor(blockType string) string {
	if blockType == "thinking" {
		return "thinking"
	}
	return "text"
}

// HasToolUse reports whether a raw message tree contains a tool_use block.
// Tool invocations are never delivered incrementally, so their presence in a
// snapshot forces an immediate flush.
func HasToolUse(raw map[string]any) bool {
	content := rawContent(raw)
	for _, b := range content {
		block, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := block["type"].(string); t == "tool_use" {
			return true
		}
	}
	return false
}

// rawContent digs message.content out of a raw tree, tolerating both the
// envelope shape ({type, message:{content:[...]}}) and a bare message
// ({role, content:[...]}).
func rawContent(raw map[string]any) []any {
	if raw == nil {
		return nil
	}
	node := raw
	if msg, ok := raw["message"].(map[string]any); ok {
		node = msg
	}
	content, _ := node["content"].([]any)
	return content
}
