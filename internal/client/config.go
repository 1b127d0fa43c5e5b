package client

import "time"

// PermissionMode controls how tool invocations are gated.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionPlan        PermissionMode = "plan"
	PermissionBypass      PermissionMode = "bypassPermissions"
)

// Config holds provider-independent spawn configuration. Provider packages
// translate these into their own CLI flags and wire handshakes.
type Config struct {
	// WorkDir is the conversation's working directory.
	WorkDir string
	// SessionID resumes an existing provider session when non-empty.
	SessionID string
	// ChannelID is the locally generated id for this launch, used to route
	// permission IPC files back to the owning session.
	ChannelID string
	// Model selects the provider model (empty = provider default).
	Model string
	// PermissionMode is forwarded to the subprocess.
	PermissionMode PermissionMode
	// ReasoningEffort tunes providers that expose it (codex).
	ReasoningEffort string
	// IPCDir is the shared permission IPC directory, exported to the
	// subprocess environment.
	IPCDir string
	// Env holds extra environment variables.
	Env map[string]string
	// Timeout bounds the spawn handshake; zero means no deadline.
	Timeout time.Duration
}
