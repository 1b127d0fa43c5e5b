// Package permission mediates tool-invocation approval between the agent
// subprocess and a human operator over a filesystem request/response
// protocol, with standing-decision memory and multi-project routing.
package permission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind distinguishes the three structurally identical request protocols.
type Kind string

const (
	// KindTool is a tool-invocation approval request.
	KindTool Kind = "tool"
	// KindQuestion is a free-form question the agent asks the operator.
	KindQuestion Kind = "question"
	// KindPlan is a plan-approval request.
	KindPlan Kind = "plan"
)

// requestPrefix returns the file name prefix for a kind's request files.
func (k Kind) requestPrefix() string {
	switch k {
	case KindQuestion:
		return "question-"
	case KindPlan:
		return "plan-"
	default:
		return "request-"
	}
}

// responsePrefix returns the file name prefix for a kind's response files.
func (k Kind) responsePrefix() string {
	switch k {
	case KindQuestion:
		return "question-response-"
	case KindPlan:
		return "plan-response-"
	default:
		return "response-"
	}
}

// Request is one parsed request file. Tool, question, and plan requests
// share the envelope; the payload fields differ per kind.
type Request struct {
	Kind      Kind   `json:"-"`
	SessionID string `json:"-"`

	RequestID string         `json:"requestId"`
	ToolName  string         `json:"toolName,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	CWD       string         `json:"cwd,omitempty"`

	// Question payload.
	Questions []Question `json:"questions,omitempty"`

	// Plan payload.
	Plan string `json:"plan,omitempty"`
}

// Question is one entry in a free-form question request.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// Decision is the operator's answer to a tool request.
type Decision string

const (
	DecisionAllow       Decision = "ALLOW"
	DecisionAllowAlways Decision = "ALLOW_ALWAYS"
	DecisionDeny        Decision = "DENY"
)

// Allowed reports whether the decision permits the invocation.
func (d Decision) Allowed() bool {
	return d == DecisionAllow || d == DecisionAllowAlways
}

// ToolResponse is the wire shape answering a tool request.
type ToolResponse struct {
	Allow bool `json:"allow"`
}

// QuestionResponse is the wire shape answering a question request.
type QuestionResponse struct {
	Answers map[string]any `json:"answers"`
}

// PlanResponse is the wire shape answering a plan-approval request.
type PlanResponse struct {
	Approved   bool   `json:"approved"`
	TargetMode string `json:"targetMode,omitempty"`
}

// matchRequestFile extracts the request id from a file named
// "{prefix}{session}-{requestId}.json" for a known session. Session and
// request ids both may contain dashes, so matching anchors on the session id
// rather than splitting on dashes.
func matchRequestFile(base string, kind Kind, sessionID string) (requestID string, ok bool) {
	// question-response files also match the "question-" prefix; exclude
	// every response prefix explicitly.
	for _, k := range []Kind{KindTool, KindQuestion, KindPlan} {
		if strings.HasPrefix(base, k.responsePrefix()) {
			return "", false
		}
	}
	prefix := kind.requestPrefix() + sessionID + "-"
	if !strings.HasPrefix(base, prefix) || !strings.HasSuffix(base, ".json") {
		return "", false
	}
	requestID = strings.TrimSuffix(strings.TrimPrefix(base, prefix), ".json")
	if requestID == "" {
		return "", false
	}
	return requestID, true
}

// requestFileName builds the deterministic request file name.
func requestFileName(kind Kind, sessionID, requestID string) string {
	return fmt.Sprintf("%s%s-%s.json", kind.requestPrefix(), sessionID, requestID)
}

// responseFileName builds the deterministic response file name.
func responseFileName(kind Kind, sessionID, requestID string) string {
	return fmt.Sprintf("%s%s-%s.json", kind.responsePrefix(), sessionID, requestID)
}

// writeResponse writes a response file atomically: temp file then rename, so
// the subprocess never reads a half-written response.
func writeResponse(dir string, kind Kind, sessionID, requestID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	final := filepath.Join(dir, responseFileName(kind, sessionID, requestID))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish response: %w", err)
	}
	return nil
}
