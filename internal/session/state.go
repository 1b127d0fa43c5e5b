// Package session holds the live conversation state for one tab and the
// machinery that keeps it consistent: the provider event handler, the stream
// coalescer that throttles UI delivery, and the lifecycle manager that
// serializes launch/send/interrupt/restart.
package session

import (
	"strings"
	"time"

	"github.com/zjrosen/relay/internal/client"
	"github.com/zjrosen/relay/internal/conversation"
)

// State is the mutable record of one conversation tab. Exactly one State
// exists per tab; it carries no lock. Only the owning handler mutates it,
// and the UI only ever sees copies taken by the coalescer. On new-session
// and history-load the State is replaced wholesale, never patched.
type State struct {
	// SessionID is the provider-assigned session reference, empty until
	// the subprocess reports one.
	SessionID string
	// ChannelID is locally generated at launch and stable for the life of
	// one subprocess.
	ChannelID string

	Busy    bool
	Loading bool
	Err     string

	Messages []conversation.Message

	Summary      string
	LastModified time.Time

	WorkDir         string
	PermissionMode  client.PermissionMode
	Provider        client.ClientType
	Model           string
	ReasoningEffort string
	SlashCommands   []string

	// Usage is the turn-level token accounting for display.
	Usage *client.UsageInfo
}

// NewState creates a fresh State for a working directory and provider.
func NewState(workDir string, provider client.ClientType) *State {
	return &State{
		WorkDir:        workDir,
		Provider:       provider,
		PermissionMode: client.PermissionDefault,
		LastModified:   time.Now(),
	}
}

// Derive builds a replacement State carrying forward the settings that
// survive a new-session or history-load boundary: permission mode, provider,
// model, reasoning effort, and working directory.
func (s *State) Derive() *State {
	return &State{
		WorkDir:         s.WorkDir,
		PermissionMode:  s.PermissionMode,
		Provider:        s.Provider,
		Model:           s.Model,
		ReasoningEffort: s.ReasoningEffort,
		LastModified:    time.Now(),
	}
}

// Append adds a message and bumps the modification time.
func (s *State) Append(m conversation.Message) {
	s.Messages = append(s.Messages, m)
	s.LastModified = time.Now()
}

// LastMessage returns a pointer to the final message, or nil.
func (s *State) LastMessage() *conversation.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// SnapshotMessages returns a deep-enough copy of the message list for
// delivery off the handler goroutine.
func (s *State) SnapshotMessages() []conversation.Message {
	out := make([]conversation.Message, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = m.Clone()
	}
	return out
}

// ValidSessionID rejects provider-reported session ids containing path
// separators. Session ids are used in IPC file names and history paths, so a
// separator would escape the directory.
func ValidSessionID(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

// AdoptSessionID assigns a validated session id, discarding invalid ones.
func (s *State) AdoptSessionID(id string) bool {
	if !ValidSessionID(id) {
		return false
	}
	s.SessionID = id
	return true
}
