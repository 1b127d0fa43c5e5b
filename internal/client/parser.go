package client

import (
	"encoding/json"
	"strings"
)

// EventParser is the contract for provider-specific event translation. Each
// provider ships a parser mapping its wire format onto the shared AgentEvent
// vocabulary; the session handler stays provider-agnostic.
type EventParser interface {
	// ParseEvent converts one wire line into zero or more events. Multiple
	// events come out of envelope lines that carry nested records.
	ParseEvent(line []byte) ([]AgentEvent, error)

	// ExtractSessionRef returns the session identifier from an event, or
	// empty if the event carries none.
	ExtractSessionRef(event AgentEvent, rawLine []byte) string
}

// BaseParser provides shared parsing utilities. Providers embed it.
type BaseParser struct{}

// IsContextExhausted checks if an event indicates context window exhaustion.
func (p *BaseParser) IsContextExhausted(event AgentEvent) bool {
	if event.Error == nil {
		return false
	}
	if event.Error.Reason == ErrReasonContextExceeded {
		return true
	}
	return isContextExhaustedMessage(event.ErrorMessage())
}

// ParsePolymorphicError handles error fields that arrive as either a bare
// string ("invalid_request", "Connection refused") or an object
// ({"code": "x", "message": "y"}). Returns nil for null/empty input.
func ParsePolymorphicError(raw json.RawMessage) *ErrorInfo {
	if len(raw) == 0 {
		return nil
	}

	var errInfo ErrorInfo
	if err := json.Unmarshal(raw, &errInfo); err == nil && (errInfo.Message != "" || errInfo.Code != "") {
		return &errInfo
	}

	var errStr string
	if err := json.Unmarshal(raw, &errStr); err == nil && errStr != "" {
		return parseErrorString(errStr)
	}

	return nil
}

// parseErrorString extracts structured error information from strings that
// may embed JSON, e.g. `413 {"type":"error","error":{...}}`.
func parseErrorString(errStr string) *ErrorInfo {
	if idx := strings.Index(errStr, "{"); idx >= 0 {
		jsonPart := errStr[idx:]
		var nested struct {
			Type  string `json:"type"`
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(jsonPart), &nested); err == nil && nested.Error.Message != "" {
			return &ErrorInfo{
				Message: nested.Error.Message,
				Code:    nested.Error.Type,
			}
		}
	}

	return &ErrorInfo{Message: errStr}
}

// ParseRawTree decodes a wire line into a generic JSON tree for snapshot
// events. Numbers decode as float64; callers treat trees read-only except
// through the merger.
func ParseRawTree(line []byte) (map[string]any, error) {
	var tree map[string]any
	if err := json.Unmarshal(line, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}
