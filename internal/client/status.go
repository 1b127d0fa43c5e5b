package client

// ProcessStatus represents the state of an agent subprocess.
type ProcessStatus int

const (
	// StatusPending indicates the process has not yet started.
	StatusPending ProcessStatus = iota
	// StatusRunning indicates the process is actively running.
	StatusRunning
	// StatusCompleted indicates the process exited cleanly.
	StatusCompleted
	// StatusFailed indicates the process exited with an error.
	StatusFailed
	// StatusCancelled indicates the process was cancelled.
	StatusCancelled
)

func (s ProcessStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal returns true for completed, failed, or cancelled.
func (s ProcessStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
