package conversation

import (
	"time"
)

// ParseWireMessage normalizes a raw wire message tree into a canonical
// Message record. It returns false for protocol noise: control records,
// meta messages, init chatter, and records with no displayable content.
func ParseWireMessage(raw map[string]any) (Message, bool) {
	if raw == nil {
		return Message{}, false
	}

	typ, _ := raw["type"].(string)
	if meta, _ := raw["isMeta"].(bool); meta {
		return Message{}, false
	}

	switch typ {
	case "user", "assistant":
		content := rawContent(raw)
		text := BlockText(content, "text")
		if text == "" {
			if s := contentString(raw); s != "" {
				text = s
			}
		}
		// Tool-result-only user records carry no conversational text.
		if text == "" {
			return Message{}, false
		}
		role := RoleUser
		if typ == "assistant" {
			role = RoleAssistant
		}
		uuid, _ := raw["uuid"].(string)
		return Message{
			Role:      role,
			Content:   text,
			Timestamp: parseTimestamp(raw),
			UUID:      uuid,
			Raw:       raw,
		}, true

	case "system":
		// Init records and other system subtypes are protocol noise; only
		// explicit system text surfaces.
		if sub, _ := raw["subtype"].(string); sub != "" {
			return Message{}, false
		}
		text := contentString(raw)
		if text == "" {
			return Message{}, false
		}
		return Message{Role: RoleSystem, Content: text, Timestamp: parseTimestamp(raw), Raw: raw}, true

	case "error":
		text := contentString(raw)
		if text == "" {
			if m, ok := raw["error"].(map[string]any); ok {
				text, _ = m["message"].(string)
			}
		}
		if text == "" {
			text = "unknown provider error"
		}
		return Message{Role: RoleError, Content: text, Timestamp: parseTimestamp(raw), Raw: raw}, true

	default:
		return Message{}, false
	}
}

// contentString handles the string-content form ({message:{content:"..."}}
// or a top-level message/content string field).
func contentString(raw map[string]any) string {
	node := raw
	if msg, ok := raw["message"].(map[string]any); ok {
		node = msg
	}
	if s, ok := node["content"].(string); ok {
		return s
	}
	if s, ok := raw["message"].(string); ok {
		return s
	}
	return ""
}

func parseTimestamp(raw map[string]any) time.Time {
	if s, ok := raw["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return time.Now()
}
