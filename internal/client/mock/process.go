package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/zjrosen/relay/internal/client"
)

// Process is a scriptable client.AgentProcess. Tests can drive it directly
// with Emit or let the script answer Send calls.
type Process struct {
	cfg    client.Config
	script Script

	events chan client.AgentEvent
	errors chan error
	done   chan struct{}

	mu          sync.Mutex
	status      client.ProcessStatus
	sessionRef  string
	sent        []string
	interrupted int

	cancel context.CancelFunc
}

func newProcess(ctx context.Context, cfg client.Config, script Script) *Process {
	ctx, cancel := context.WithCancel(ctx)
	ref := cfg.SessionID
	if ref == "" {
		ref = "mock-" + uuid.NewString()
	}
	p := &Process{
		cfg:        cfg,
		script:     script,
		events:     make(chan client.AgentEvent, 256),
		errors:     make(chan error, 16),
		done:       make(chan struct{}),
		status:     client.StatusRunning,
		sessionRef: ref,
		cancel:     cancel,
	}
	p.events <- client.AgentEvent{
		Type:      client.EventSystem,
		SubType:   "init",
		SessionID: ref,
	}
	go func() {
		<-ctx.Done()
		p.finish(client.StatusCancelled)
	}()
	return p
}

// Emit pushes events directly onto the event channel.
func (p *Process) Emit(events ...client.AgentEvent) {
	for _, ev := range events {
		p.events <- ev
	}
}

// EmitError pushes an error onto the error channel.
func (p *Process) EmitError(err error) {
	p.errors <- err
}

// Finish marks the process completed and closes the event stream.
func (p *Process) Finish() {
	p.finish(client.StatusCompleted)
}

// Fail marks the process failed and closes the event stream.
func (p *Process) Fail() {
	p.finish(client.StatusFailed)
}

func (p *Process) finish(status client.ProcessStatus) {
	p.mu.Lock()
	if p.status.IsTerminal() {
		p.mu.Unlock()
		return
	}
	p.status = status
	p.mu.Unlock()
	close(p.events)
	close(p.errors)
	close(p.done)
}

// Events returns the event channel.
func (p *Process) Events() <-chan client.AgentEvent {
	return p.events
}

// Errors returns the error channel.
func (p *Process) Errors() <-chan error {
	return p.errors
}

// Send records the text and runs the script, if any.
func (p *Process) Send(text string) error {
	p.mu.Lock()
	if p.status.IsTerminal() {
		p.mu.Unlock()
		return client.ErrNoStdin
	}
	p.sent = append(p.sent, text)
	script := p.script
	p.mu.Unlock()

	if script == nil {
		p.Emit(
			client.AgentEvent{Type: client.EventStreamStart},
			client.AgentEvent{Type: client.EventContentDelta, Delta: text},
			client.AgentEvent{Type: client.EventStreamEnd},
			client.AgentEvent{Type: client.EventResult, Result: text},
			client.AgentEvent{Type: client.EventComplete},
		)
		return nil
	}
	p.Emit(script(text)...)
	return nil
}

// Interrupt records the interrupt request.
func (p *Process) Interrupt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupted++
	return nil
}

// Sent returns every text submitted via Send.
func (p *Process) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// Interrupts returns how many times Interrupt was called.
func (p *Process) Interrupts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupted
}

// SessionRef returns the provider-side session reference.
func (p *Process) SessionRef() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionRef
}

// Status returns the current process status.
func (p *Process) Status() client.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// IsRunning reports whether the process is still active.
func (p *Process) IsRunning() bool {
	return !p.Status().IsTerminal()
}

// WorkDir returns the configured working directory.
func (p *Process) WorkDir() string {
	return p.cfg.WorkDir
}

// PID returns a fake process id.
func (p *Process) PID() int {
	return -1
}

// Cancel terminates the process.
func (p *Process) Cancel() error {
	p.cancel()
	p.finish(client.StatusCancelled)
	return nil
}

// Wait blocks until the process terminates.
func (p *Process) Wait() error {
	<-p.done
	return nil
}

var _ client.AgentProcess = (*Process)(nil)
