package claude

import (
	"encoding/json"

	"github.com/zjrosen/relay/internal/client"
)

// Parser implements client.EventParser for Claude stream-json output.
//
// The CLI multiplexes two layers onto one stream: full-message records
// (system/assistant/user/result) and partial-message stream_event envelopes
// (message_start, content_block_delta, message_stop). The parser is stateful
// only for the turn boundary: the first message_start of a turn opens the
// stream, and the terminal result record closes it, expanding into
// stream_end + result + complete in that order.
type Parser struct {
	client.BaseParser
	streamOpen bool
}

// NewParser creates a Claude event parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseEvent converts one stream-json line into normalized events.
func (p *Parser) ParseEvent(line []byte) ([]client.AgentEvent, error) {
	var env streamEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case "system":
		if env.SubType != "init" {
			// Other system records are protocol noise.
			return nil, nil
		}
		return []client.AgentEvent{{
			Type:          client.EventSystem,
			SubType:       "init",
			SessionID:     env.SessionID,
			WorkDir:       env.WorkDir,
			Model:         env.Model,
			SlashCommands: env.SlashCommands,
		}}, nil

	case "assistant":
		raw, err := client.ParseRawTree(line)
		if err != nil {
			return nil, err
		}
		ev := client.AgentEvent{
			Type:      client.EventAssistant,
			SessionID: env.SessionID,
			Raw:       raw,
			Error:     parseErrorField(env.Error),
			Usage:     inlineUsage(raw),
		}
		return []client.AgentEvent{ev}, nil

	case "user":
		raw, err := client.ParseRawTree(line)
		if err != nil {
			return nil, err
		}
		typ := client.EventUser
		if hasToolResult(raw) {
			typ = client.EventToolResult
		}
		return []client.AgentEvent{{Type: typ, SessionID: env.SessionID, Raw: raw}}, nil

	case "stream_event":
		return p.parseStreamEvent(env), nil

	case "result":
		events := []client.AgentEvent{}
		if p.streamOpen {
			p.streamOpen = false
			events = append(events, client.AgentEvent{Type: client.EventStreamEnd, SessionID: env.SessionID})
		}
		result := client.AgentEvent{
			Type:          client.EventResult,
			SubType:       env.SubType,
			SessionID:     env.SessionID,
			Result:        env.Result,
			IsErrorResult: env.IsError,
			DurationMs:    env.DurationMs,
			Error:         parseErrorField(env.Error),
			Usage:         usageInfo(env.Usage),
		}
		if result.IsErrorResult && result.Error == nil {
			result.Error = &client.ErrorInfo{Message: env.Result}
		}
		return append(events, result, client.AgentEvent{Type: client.EventComplete, SessionID: env.SessionID}), nil

	case "error":
		return []client.AgentEvent{{
			Type:      client.EventError,
			SessionID: env.SessionID,
			Error:     parseErrorField(env.Error),
		}}, nil

	default:
		// control_response and friends: noise.
		return nil, nil
	}
}

func (p *Parser) parseStreamEvent(env streamEnvelope) []client.AgentEvent {
	if env.Event == nil {
		return nil
	}
	switch env.Event.Type {
	case "message_start":
		if p.streamOpen {
			// Follow-up message in the same turn (after a tool call);
			// the turn-level stream is already open.
			return nil
		}
		p.streamOpen = true
		return []client.AgentEvent{{Type: client.EventStreamStart, SessionID: env.SessionID}}

	case "content_block_start":
		if env.Event.ContentBlock != nil && env.Event.ContentBlock.Type == "thinking" {
			return []client.AgentEvent{{Type: client.EventThinking, SessionID: env.SessionID}}
		}
		return nil

	case "content_block_delta":
		if env.Event.Delta == nil {
			return nil
		}
		switch env.Event.Delta.Type {
		case "text_delta":
			return []client.AgentEvent{{
				Type:      client.EventContentDelta,
				SessionID: env.SessionID,
				Delta:     env.Event.Delta.Text,
			}}
		case "thinking_delta":
			return []client.AgentEvent{{
				Type:      client.EventThinkingDelta,
				SessionID: env.SessionID,
				Delta:     env.Event.Delta.Thinking,
			}}
		}
		return nil

	case "message_delta":
		if env.Event.Usage != nil {
			return []client.AgentEvent{{
				Type:      client.EventTokenCount,
				SessionID: env.SessionID,
				Usage:     usageInfo(env.Event.Usage),
			}}
		}
		return nil

	case "message_stop":
		return []client.AgentEvent{{Type: client.EventMessageEnd, SessionID: env.SessionID}}

	default:
		return nil
	}
}

// ExtractSessionRef returns the session id carried on every stream-json
// record.
func (p *Parser) ExtractSessionRef(event client.AgentEvent, _ []byte) string {
	return event.SessionID
}

// parseErrorField handles the polymorphic error field from the CLI: either a
// string code ("invalid_request") or an object ({"message": "..."}).
func parseErrorField(raw json.RawMessage) *client.ErrorInfo {
	if len(raw) == 0 {
		return nil
	}

	var errInfo client.ErrorInfo
	if err := json.Unmarshal(raw, &errInfo); err == nil && errInfo.Message != "" {
		return &errInfo
	}

	var errCode string
	if err := json.Unmarshal(raw, &errCode); err == nil && errCode != "" {
		return &client.ErrorInfo{
			Code:   errCode,
			Reason: classifyErrorCode(errCode),
		}
	}

	return client.ParsePolymorphicError(raw)
}

func classifyErrorCode(code string) client.ErrorReason {
	switch code {
	case "invalid_request":
		return client.ErrReasonInvalidRequest
	case "rate_limit_exceeded", "rate_limited":
		return client.ErrReasonRateLimited
	default:
		return client.ErrReasonUnknown
	}
}

// inlineUsage lifts an assistant snapshot's message.usage into UsageInfo so
// the handler can apply its backfill rules uniformly.
func inlineUsage(raw map[string]any) *client.UsageInfo {
	msg, ok := raw["message"].(map[string]any)
	if !ok {
		return nil
	}
	usage, ok := msg["usage"].(map[string]any)
	if !ok {
		return nil
	}
	num := func(key string) int {
		f, _ := usage[key].(float64)
		return int(f)
	}
	info := &client.UsageInfo{
		InputTokens:  num("input_tokens"),
		OutputTokens: num("output_tokens"),
		CacheTokens:  num("cache_read_input_tokens") + num("cache_creation_input_tokens"),
	}
	info.TotalTokens = info.InputTokens + info.OutputTokens + info.CacheTokens
	if info.IsZero() {
		return nil
	}
	return info
}

func hasToolResult(raw map[string]any) bool {
	msg, ok := raw["message"].(map[string]any)
	if !ok {
		return false
	}
	content, _ := msg["content"].([]any)
	for _, b := range content {
		if block, ok := b.(map[string]any); ok {
			if t, _ := block["type"].(string); t == "tool_result" {
				return true
			}
		}
	}
	return false
}

func usageInfo(u *rawUsage) *client.UsageInfo {
	if u == nil {
		return nil
	}
	info := &client.UsageInfo{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CacheTokens:  u.CacheReadInputTokens + u.CacheCreationInputTokens,
	}
	info.TotalTokens = info.InputTokens + info.OutputTokens + info.CacheTokens
	if info.IsZero() {
		return nil
	}
	return info
}

var _ client.EventParser = (*Parser)(nil)
