package client

// AgentProcess is a running agent subprocess bound to one conversation.
// Implementations pump wire output through their EventParser into Events().
type AgentProcess interface {
	// Events returns the channel of normalized events. Closed when the
	// process exits.
	Events() <-chan AgentEvent

	// Errors returns the channel of process-level errors. Non-blocking;
	// errors are dropped if the channel is full.
	Errors() <-chan error

	// Send writes one user turn to the subprocess in its input wire format.
	Send(text string) error

	// Interrupt asks the subprocess to abort the current turn without
	// terminating the process.
	Interrupt() error

	// SessionRef returns the provider-assigned session id; may be empty
	// until the init event arrives.
	SessionRef() string

	// Status returns the current process status.
	Status() ProcessStatus

	// IsRunning returns true while the subprocess is alive.
	IsRunning() bool

	// WorkDir returns the working directory of the process.
	WorkDir() string

	// PID returns the OS process id, or -1 if not running.
	PID() int

	// Cancel terminates the process.
	Cancel() error

	// Wait blocks until all process goroutines complete.
	Wait() error
}
