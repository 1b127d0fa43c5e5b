package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/relay/internal/client"
	"github.com/zjrosen/relay/internal/conversation"
	"github.com/zjrosen/relay/internal/log"
)

// DefaultLaunchTimeout bounds how long a subprocess may take to report its
// init event before the launch is declared failed.
const DefaultLaunchTimeout = 30 * time.Second

// ErrLaunchTimeout is returned when the subprocess never reports ready. The
// channel id is cleared, so resending retries the launch.
var ErrLaunchTimeout = fmt.Errorf("subprocess launch timed out")

// ErrSessionClosed is returned for operations enqueued after Close.
var ErrSessionClosed = fmt.Errorf("session closed")

// Options configures a Manager.
type Options struct {
	WorkDir         string
	Provider        client.ClientType
	Model           string
	ReasoningEffort string
	IPCDir          string
	LaunchTimeout   time.Duration
	CoalesceEvery   time.Duration
	History         HistoryReader
	Registry        *Registry
	// ResumeSessionID resumes a prior provider session on first launch.
	ResumeSessionID string
}

// Manager owns one conversation tab: its State, handler, coalescer, and the
// subprocess. All mutating operations (launch, send, interrupt, restart,
// new-session, history-load) are serialized through a single op goroutine,
// so at most one is in flight per session and State needs no lock.
type Manager struct {
	opts       Options
	dispatcher *Dispatcher
	coalescer  *Coalescer
	registry   *Registry

	ctx    context.Context
	cancel context.CancelFunc

	ops       chan func()
	opsMu     sync.Mutex
	opsClosed bool
	done      chan struct{}

	// Owned by the op goroutine once Start has run.
	state   *State
	handler *Handler
	process client.AgentProcess
	pumpWG  sync.WaitGroup

	closeOnce sync.Once
}

// NewManager creates a manager for one tab. Call Close when the tab goes
// away.
func NewManager(opts Options) *Manager {
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = DefaultLaunchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		opts:       opts,
		dispatcher: NewDispatcher(),
		registry:   opts.Registry,
		ctx:        ctx,
		cancel:     cancel,
		ops:        make(chan func(), 32),
		done:       make(chan struct{}),
	}
	m.coalescer = NewCoalescer(opts.CoalesceEvery, func(snap Snapshot) {
		m.dispatcher.Notify(NotifyMessages, snap)
	})
	m.state = NewState(opts.WorkDir, opts.Provider)
	m.state.Model = opts.Model
	m.state.ReasoningEffort = opts.ReasoningEffort
	m.handler = NewHandler(m.state, m.dispatcher, m.coalescer, opts.History)

	go m.runOps()
	return m
}

func (m *Manager) runOps() {
	defer close(m.done)
	for op := range m.ops {
		op()
	}
}

// enqueue schedules one operation on the serial queue and returns a channel
// delivering its result. Exactly one continuation per operation.
func (m *Manager) enqueue(name string, fn func() error) <-chan error {
	res := make(chan error, 1)
	m.opsMu.Lock()
	defer m.opsMu.Unlock()
	if m.opsClosed {
		res <- ErrSessionClosed
		return res
	}
	m.ops <- func() {
		err := fn()
		if err != nil {
			log.ErrorErr(log.CatSession, "session op failed", err, "op", name)
		}
		res <- err
	}
	return res
}

// SetListener registers the UI listener for this tab's notifications.
func (m *Manager) SetListener(l Listener) {
	m.dispatcher.SetListener(l)
}

// State returns the current session state. The caller must treat it as
// read-only; the op and handler goroutines own mutation.
func (m *Manager) State() *State {
	return m.state
}

// Launch starts the subprocess for this tab.
func (m *Manager) Launch() <-chan error {
	return m.enqueue("launch", m.launchLocked)
}

// launchLocked runs on the op goroutine. It assigns a fresh channel id,
// spawns the subprocess, and waits bounded for the provider's init event.
func (m *Manager) launchLocked() error {
	if m.process != nil && m.process.IsRunning() {
		return nil
	}
	m.state.ChannelID = uuid.NewString()
	m.state.Err = ""

	resume := m.state.SessionID
	if resume == "" {
		resume = m.opts.ResumeSessionID
	}

	c, err := client.NewClient(m.state.Provider)
	if err != nil {
		m.state.ChannelID = ""
		return err
	}
	proc, err := c.Spawn(m.ctx, client.Config{
		WorkDir:         m.state.WorkDir,
		SessionID:       resume,
		ChannelID:       m.state.ChannelID,
		Model:           m.state.Model,
		PermissionMode:  m.state.PermissionMode,
		ReasoningEffort: m.state.ReasoningEffort,
		IPCDir:          m.opts.IPCDir,
	})
	if err != nil {
		m.state.ChannelID = ""
		return fmt.Errorf("spawn %s: %w", m.state.Provider, err)
	}
	m.process = proc

	ready := make(chan struct{})
	m.pumpWG.Add(1)
	go m.pump(proc, ready)

	select {
	case <-ready:
		log.Info(log.CatSession, "session launched",
			"provider", m.state.Provider,
			"channel", m.state.ChannelID,
			"session", m.state.SessionID)
		if m.registry != nil {
			m.registry.Register(m)
		}
		return nil
	case <-time.After(m.opts.LaunchTimeout):
		m.stopProcess()
		m.state.ChannelID = ""
		m.state.Err = ErrLaunchTimeout.Error()
		m.dispatcher.Notify(NotifySessionError, m.state.Err)
		return ErrLaunchTimeout
	case <-m.ctx.Done():
		m.stopProcess()
		return m.ctx.Err()
	}
}

// stopProcess cancels the subprocess and waits for its event pump to drain,
// so no late event can reach the handler once the caller moves on to swap
// or relaunch.
func (m *Manager) stopProcess() {
	if m.process == nil {
		return
	}
	if err := m.process.Cancel(); err != nil {
		log.Warn(log.CatSession, "cancel failed", "error", err)
	}
	m.process = nil
	m.pumpWG.Wait()
}

// pump feeds subprocess events into the handler until the stream closes.
func (m *Manager) pump(proc client.AgentProcess, ready chan struct{}) {
	defer m.pumpWG.Done()
	readyOnce := sync.Once{}
	events := proc.Events()
	errors := proc.Errors()
	for events != nil || errors != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.IsInit() {
				readyOnce.Do(func() { close(ready) })
			}
			m.handler.Handle(m.ctx, ev)
		case err, ok := <-errors:
			if !ok {
				errors = nil
				continue
			}
			log.Warn(log.CatSession, "subprocess stderr", "error", err)
		}
	}
}

// Send appends the user's message, marks the session busy, and forwards the
// text to the subprocess, launching it first if needed.
func (m *Manager) Send(text string) <-chan error {
	return m.enqueue("send", func() error {
		if m.process == nil || !m.process.IsRunning() {
			if err := m.launchLocked(); err != nil {
				return err
			}
		}
		m.state.Append(userMessage(text))
		m.state.Busy = true
		m.state.Loading = true
		m.state.Err = ""
		m.dispatcher.Notify(NotifyStateChanged)
		m.coalescer.Enqueue(m.state.SnapshotMessages())

		if err := m.process.Send(text); err != nil {
			m.state.Busy = false
			m.state.Loading = false
			m.dispatcher.Notify(NotifyStateChanged)
			return fmt.Errorf("send: %w", err)
		}
		if m.registry != nil {
			m.registry.Touch(m)
		}
		return nil
	})
}

// Interrupt best-effort cancels the in-flight turn. Local flags flip
// immediately; no stream-end is synthesized, so stale buffered deltas are
// never replayed into the UI.
func (m *Manager) Interrupt() <-chan error {
	return m.enqueue("interrupt", func() error {
		proc := m.process
		if proc != nil && proc.IsRunning() {
			go func() {
				if err := proc.Interrupt(); err != nil {
					log.Warn(log.CatSession, "interrupt failed", "error", err)
				}
			}()
		}
		m.state.Busy = false
		m.state.Loading = false
		m.dispatcher.Notify(NotifyStateChanged)
		return nil
	})
}

// Restart interrupts the current subprocess and relaunches with a fresh
// channel id.
func (m *Manager) Restart() <-chan error {
	return m.enqueue("restart", func() error {
		m.stopProcess()
		m.state.Busy = false
		m.state.Loading = false
		m.state.ChannelID = ""
		return m.launchLocked()
	})
}

// NewSession replaces the session wholesale, carrying forward permission
// mode, provider, model, and reasoning effort. The subprocess is torn down;
// the next send launches a fresh one.
func (m *Manager) NewSession() <-chan error {
	return m.enqueue("new_session", func() error {
		m.stopProcess()
		m.replaceState(m.state.Derive())
		return nil
	})
}

// LoadHistory replaces the session with one rebuilt from the provider's
// persisted transcript.
func (m *Manager) LoadHistory(sessionRef string) <-chan error {
	return m.enqueue("load_history", func() error {
		if !ValidSessionID(sessionRef) {
			return fmt.Errorf("invalid session id %q", sessionRef)
		}
		if m.opts.History == nil {
			return fmt.Errorf("no history reader configured")
		}
		messages, err := m.opts.History.Messages(m.ctx, m.state.WorkDir, sessionRef)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		m.stopProcess()
		next := m.state.Derive()
		next.SessionID = sessionRef
		next.Messages = messages
		m.replaceState(next)
		return nil
	})
}

// replaceState swaps in a new State and rebinds the handler. Runs on the op
// goroutine with no subprocess alive, so nothing else holds the old state.
func (m *Manager) replaceState(next *State) {
	m.state = next
	m.handler = NewHandler(m.state, m.dispatcher, m.coalescer, m.opts.History)
	m.coalescer.SetStreamActive(false)
	m.coalescer.Enqueue(m.state.SnapshotMessages())
	m.coalescer.Flush(func() {
		m.dispatcher.Notify(NotifyStateChanged)
	})
}

// SetPermissionMode updates the mode forwarded on the next launch.
func (m *Manager) SetPermissionMode(mode client.PermissionMode) {
	m.state.PermissionMode = mode
}

// WorkDir returns the tab's project root.
func (m *Manager) WorkDir() string {
	return m.opts.WorkDir
}

// ChannelID returns the current launch's channel id.
func (m *Manager) ChannelID() string {
	return m.state.ChannelID
}

// Close tears the session down: subprocess cancelled, queues drained,
// registry entry removed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.registry != nil {
			m.registry.Unregister(m)
		}
		m.opsMu.Lock()
		m.opsClosed = true
		m.opsMu.Unlock()
		m.cancel()
		close(m.ops)
		<-m.done
		m.stopProcess()
		m.coalescer.Stop()
		m.dispatcher.Dispose()
	})
}

func userMessage(text string) conversation.Message {
	return conversation.Message{
		Role:      conversation.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	}
}
