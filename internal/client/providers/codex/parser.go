package codex

import (
	"encoding/json"

	"github.com/zjrosen/relay/internal/client"
)

// Parser implements client.EventParser for Codex JSONL output.
//
// Codex has no assistant-message records; the parser synthesizes raw trees
// in the Claude content-block shape so the session layer merges both
// providers with the same machinery. Tool items become tool_use/tool_result
// blocks keyed by the item id.
type Parser struct {
	client.BaseParser
}

// NewParser creates a Codex event parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseEvent converts one JSONL line into normalized events.
func (p *Parser) ParseEvent(line []byte) ([]client.AgentEvent, error) {
	var raw codexEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "thread.started":
		return []client.AgentEvent{{
			Type:      client.EventSystem,
			SubType:   "init",
			SessionID: raw.ThreadID,
		}}, nil

	case "turn.started":
		return []client.AgentEvent{{Type: client.EventStreamStart}}, nil

	case "turn.completed":
		events := []client.AgentEvent{
			{Type: client.EventStreamEnd},
			{Type: client.EventResult, Usage: usageInfo(raw.Usage)},
			{Type: client.EventComplete},
		}
		return events, nil

	case "turn.failed", "error":
		message := raw.Message
		if raw.Error != nil && raw.Error.Message != "" {
			message = raw.Error.Message
		}
		ev := client.AgentEvent{
			Type:  client.EventError,
			Error: &client.ErrorInfo{Message: message},
		}
		if p.BaseParser.IsContextExhausted(ev) {
			ev.Error.Reason = client.ErrReasonContextExceeded
		}
		return []client.AgentEvent{ev}, nil

	case "item.started":
		return p.parseItemStarted(raw), nil

	case "item.delta":
		return p.parseItemDelta(raw), nil

	case "item.completed":
		return p.parseItemCompleted(raw), nil

	default:
		return nil, nil
	}
}

func (p *Parser) parseItemStarted(raw codexEvent) []client.AgentEvent {
	if raw.Item == nil {
		return nil
	}
	switch raw.Item.Type {
	case "reasoning":
		return []client.AgentEvent{{Type: client.EventThinking}}
	case "command_execution", "mcp_tool_call":
		// Tool invocations arrive whole; deliver them as an assistant
		// snapshot so they flush immediately.
		return []client.AgentEvent{{
			Type: client.EventAssistant,
			Raw:  toolUseTree(raw.Item),
		}}
	default:
		return nil
	}
}

func (p *Parser) parseItemDelta(raw codexEvent) []client.AgentEvent {
	if raw.Delta == "" {
		return nil
	}
	switch raw.ItemKind {
	case "reasoning":
		return []client.AgentEvent{{Type: client.EventThinkingDelta, Delta: raw.Delta}}
	default:
		return []client.AgentEvent{{Type: client.EventContentDelta, Delta: raw.Delta}}
	}
}

func (p *Parser) parseItemCompleted(raw codexEvent) []client.AgentEvent {
	if raw.Item == nil {
		return nil
	}
	switch raw.Item.Type {
	case "agent_message":
		return []client.AgentEvent{
			{Type: client.EventAssistant, Raw: agentMessageTree(raw.Item)},
			{Type: client.EventMessageEnd},
		}
	case "command_execution", "mcp_tool_call":
		return []client.AgentEvent{{
			Type: client.EventToolResult,
			Raw:  toolResultTree(raw.Item),
		}}
	default:
		return nil
	}
}

// ExtractSessionRef returns the thread id from thread.started events.
func (p *Parser) ExtractSessionRef(event client.AgentEvent, _ []byte) string {
	if event.IsInit() {
		return event.SessionID
	}
	return ""
}

// agentMessageTree synthesizes an assistant snapshot tree for a completed
// agent_message item.
func agentMessageTree(item *codexItem) map[string]any {
	return map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role": "assistant",
			"content": []any{
				map[string]any{"type": "text", "text": item.Text},
			},
		},
	}
}

// toolUseTree synthesizes an assistant snapshot carrying one tool_use block
// for a started tool item.
func toolUseTree(item *codexItem) map[string]any {
	name := item.Tool
	input := map[string]any{}
	if item.Type == "command_execution" {
		name = "shell"
		input["command"] = item.Command
	} else if len(item.Arguments) > 0 {
		_ = json.Unmarshal(item.Arguments, &input)
	}
	return map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role": "assistant",
			"content": []any{
				map[string]any{
					"type":  "tool_use",
					"id":    item.ID,
					"name":  name,
					"input": input,
				},
			},
		},
	}
}

// toolResultTree synthesizes a user-record tool_result tree for a completed
// tool item.
func toolResultTree(item *codexItem) map[string]any {
	isError := item.ExitCode != nil && *item.ExitCode != 0
	return map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []any{
				map[string]any{
					"type":        "tool_result",
					"tool_use_id": item.ID,
					"content":     item.AggregatedOutput,
					"is_error":    isError,
				},
			},
		},
	}
}

func usageInfo(u *codexUsage) *client.UsageInfo {
	if u == nil {
		return nil
	}
	info := &client.UsageInfo{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CacheTokens:  u.CachedInputTokens,
	}
	info.TotalTokens = info.InputTokens + info.OutputTokens + info.CacheTokens
	if info.IsZero() {
		return nil
	}
	return info
}

var _ client.EventParser = (*Parser)(nil)
