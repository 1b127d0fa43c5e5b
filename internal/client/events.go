package client

import (
	"strings"
	"time"
)

// EventType identifies the kind of normalized agent event. Both providers
// translate their native wire formats into this single vocabulary so the
// session handler never branches on provider.
type EventType string

const (
	// EventSystem is a system-level event; subtype "init" carries session
	// metadata (session id, model, slash commands).
	EventSystem EventType = "system"
	// EventUser is an echoed user message (including tool-result carriers).
	EventUser EventType = "user"
	// EventAssistant is a full assistant message snapshot.
	EventAssistant EventType = "assistant"
	// EventThinking marks the start of a thinking segment.
	EventThinking EventType = "thinking"
	// EventContentDelta is a streamed chunk of assistant text.
	EventContentDelta EventType = "content_delta"
	// EventThinkingDelta is a streamed chunk of assistant thinking.
	EventThinkingDelta EventType = "thinking_delta"
	// EventStreamStart opens a streaming turn.
	EventStreamStart EventType = "stream_start"
	// EventStreamEnd closes a streaming turn.
	EventStreamEnd EventType = "stream_end"
	// EventSessionID reports a provider-assigned session identifier.
	EventSessionID EventType = "session_id"
	// EventToolResult is a tool execution result.
	EventToolResult EventType = "tool_result"
	// EventMessageEnd marks the end of one assistant message.
	EventMessageEnd EventType = "message_end"
	// EventResult is the turn's terminal result record with usage.
	EventResult EventType = "result"
	// EventTokenCount is a standalone token usage report.
	EventTokenCount EventType = "token_count"
	// EventSlashCommands reports the provider's available slash commands.
	EventSlashCommands EventType = "slash_commands"
	// EventError is a provider-reported error.
	EventError EventType = "error"
	// EventComplete is the turn's terminal completion signal.
	EventComplete EventType = "complete"
)

// AgentEvent is a parsed event from a provider subprocess. It is the unified
// structure both wire formats map onto.
type AgentEvent struct {
	Type      EventType
	SubType   string
	Timestamp time.Time

	// SessionID is set on init/session_id events.
	SessionID string
	// WorkDir is the subprocess working directory when reported.
	WorkDir string

	// Delta carries streamed text for content_delta/thinking_delta events.
	Delta string

	// Raw is the provider-native message tree for user/assistant snapshots
	// and tool results, already parsed into a generic JSON tree.
	Raw map[string]any

	// Model and SlashCommands come from init/slash_commands events.
	Model         string
	SlashCommands []string

	// Usage comes from result/token_count events and inline usage tags.
	Usage *UsageInfo

	// Error information for error events.
	Error *ErrorInfo

	// Result fields from terminal result records.
	Result        string
	IsErrorResult bool
	DurationMs    int64

	// RawLine is the original wire line, kept for debugging.
	RawLine []byte
}

// IsInit returns true for the provider's init event.
func (e *AgentEvent) IsInit() bool {
	return e.Type == EventSystem && e.SubType == "init"
}

// IsError returns true for explicit errors and error-flagged results.
func (e *AgentEvent) IsError() bool {
	return e.Type == EventError || e.Error != nil || e.IsErrorResult
}

// ErrorMessage returns the best available error text for this event.
func (e *AgentEvent) ErrorMessage() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if e.IsErrorResult && e.Result != "" {
		return e.Result
	}
	return "unknown error"
}

// UsageInfo holds token usage normalized across providers.
type UsageInfo struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	CacheTokens  int `json:"cache_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

// IsZero reports whether every counter is zero. A zero-valued usage already
// on a message is backfillable from any later source; non-zero usage is not.
func (u *UsageInfo) IsZero() bool {
	return u == nil || (u.InputTokens == 0 && u.OutputTokens == 0 && u.CacheTokens == 0 && u.TotalTokens == 0)
}

// ErrorReason provides structured classification for known error types.
type ErrorReason string

const (
	ErrReasonUnknown         ErrorReason = ""
	ErrReasonContextExceeded ErrorReason = "context_exceeded"
	ErrReasonRateLimited     ErrorReason = "rate_limited"
	ErrReasonInvalidRequest  ErrorReason = "invalid_request"
)

// ErrorInfo holds provider error details.
type ErrorInfo struct {
	Message string      `json:"message,omitempty"`
	Code    string      `json:"code,omitempty"`
	Reason  ErrorReason `json:"reason,omitempty"`
}

// isContextExhaustedMessage matches known context-window exhaustion phrasings
// case-insensitively.
func isContextExhaustedMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "context window exceeded") ||
		strings.Contains(lower, "context exceeded") ||
		strings.Contains(lower, "context limit") ||
		strings.Contains(lower, "token limit") ||
		strings.Contains(lower, "maximum context length")
}
