package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

// ErrTimeout is returned when a process exceeds its configured timeout.
var ErrTimeout = fmt.Errorf("process timed out")

// ErrNoStdin is returned by Send on processes spawned without a stdin pipe.
var ErrNoStdin = fmt.Errorf("process has no stdin pipe")

// EncodeSendFunc encodes one user turn into the provider's input wire
// format. The returned bytes are written to stdin followed by a newline.
type EncodeSendFunc func(text string) ([]byte, error)

// EncodeInterruptFunc encodes the provider's in-band interrupt record, or
// returns nil if the provider has no in-band interrupt.
type EncodeInterruptFunc func() ([]byte, error)

// BaseProcessOption configures a BaseProcess.
type BaseProcessOption func(*BaseProcess)

// WithEventParser sets the provider's event translation parser.
func WithEventParser(p EventParser) BaseProcessOption {
	return func(bp *BaseProcess) {
		bp.parser = p
	}
}

// WithStderrCapture enables stderr line capture for error messages.
func WithStderrCapture(capture bool) BaseProcessOption {
	return func(bp *BaseProcess) {
		bp.captureStderr = capture
	}
}

// WithProviderName sets the provider name for logging.
func WithProviderName(name string) BaseProcessOption {
	return func(bp *BaseProcess) {
		bp.providerName = name
	}
}

// WithSendEncoder sets the stdin encoding for user turns.
func WithSendEncoder(fn EncodeSendFunc) BaseProcessOption {
	return func(bp *BaseProcess) {
		bp.encodeSendFn = fn
	}
}

// WithInterruptEncoder sets the in-band interrupt encoding.
func WithInterruptEncoder(fn EncodeInterruptFunc) BaseProcessOption {
	return func(bp *BaseProcess) {
		bp.encodeInterruptFn = fn
	}
}

// BaseProcess provides shared subprocess lifecycle management for both
// providers: it owns the pipes, pumps stdout lines through the provider's
// EventParser, and serializes stdin writes.
type BaseProcess struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	stderr     io.ReadCloser
	sessionRef string
	workDir    string
	status     ProcessStatus
	events     chan AgentEvent
	errors     chan error
	cancelFunc context.CancelFunc
	ctx        context.Context
	mu         sync.RWMutex
	stdinMu    sync.Mutex
	wg         sync.WaitGroup

	stderrLines   []string
	captureStderr bool

	providerName string

	parser            EventParser
	encodeSendFn      EncodeSendFunc
	encodeInterruptFn EncodeInterruptFunc
}

// NewBaseProcess creates a BaseProcess around an already-piped exec.Cmd.
func NewBaseProcess(
	ctx context.Context,
	cancelFunc context.CancelFunc,
	cmd *exec.Cmd,
	stdout io.ReadCloser,
	stderr io.ReadCloser,
	workDir string,
	opts ...BaseProcessOption,
) *BaseProcess {
	bp := &BaseProcess{
		cmd:          cmd,
		stdout:       stdout,
		stderr:       stderr,
		workDir:      workDir,
		status:       StatusPending,
		events:       make(chan AgentEvent, 100),
		errors:       make(chan error, 10),
		cancelFunc:   cancelFunc,
		ctx:          ctx,
		providerName: "base",
	}

	for _, opt := range opts {
		opt(bp)
	}

	return bp
}

// SetStdin sets the stdin writer. Both providers keep a persistent stdin
// open for follow-up turns.
func (bp *BaseProcess) SetStdin(stdin io.WriteCloser) {
	bp.stdin = stdin
}

// SetSessionRef sets the session reference. Thread-safe.
func (bp *BaseProcess) SetSessionRef(ref string) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.sessionRef = ref
}

// Events returns the channel of normalized events. Closed when the process
// completes.
func (bp *BaseProcess) Events() <-chan AgentEvent {
	return bp.events
}

// Errors returns the channel of process errors.
func (bp *BaseProcess) Errors() <-chan error {
	return bp.errors
}

// Status returns the current process status. Thread-safe.
func (bp *BaseProcess) Status() ProcessStatus {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.status
}

// IsRunning returns true if the process is actively running.
func (bp *BaseProcess) IsRunning() bool {
	return bp.Status() == StatusRunning
}

// WorkDir returns the working directory of the process.
func (bp *BaseProcess) WorkDir() string {
	return bp.workDir
}

// PID returns the OS process ID, or -1 if not running.
func (bp *BaseProcess) PID() int {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	if bp.cmd == nil || bp.cmd.Process == nil {
		return -1
	}
	return bp.cmd.Process.Pid
}

// SessionRef returns the provider session reference. May be empty until the
// init event is received. Thread-safe.
func (bp *BaseProcess) SessionRef() string {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.sessionRef
}

// Send encodes one user turn and writes it to stdin. Writes are serialized;
// a given process sees sends in call order.
func (bp *BaseProcess) Send(text string) error {
	if bp.stdin == nil {
		return ErrNoStdin
	}
	if bp.encodeSendFn == nil {
		return fmt.Errorf("%s: no send encoder configured", bp.providerName)
	}
	payload, err := bp.encodeSendFn(text)
	if err != nil {
		return fmt.Errorf("%s: encoding send: %w", bp.providerName, err)
	}
	return bp.writeLine(payload)
}

// Interrupt writes the provider's in-band interrupt record, when one exists.
// Providers without an in-band interrupt treat this as a no-op; the caller
// falls back to flag-clearing locally.
func (bp *BaseProcess) Interrupt() error {
	if bp.encodeInterruptFn == nil || bp.stdin == nil {
		return nil
	}
	payload, err := bp.encodeInterruptFn()
	if err != nil || payload == nil {
		return err
	}
	return bp.writeLine(payload)
}

func (bp *BaseProcess) writeLine(payload []byte) error {
	bp.stdinMu.Lock()
	defer bp.stdinMu.Unlock()
	if _, err := bp.stdin.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("%s: stdin write: %w", bp.providerName, err)
	}
	return nil
}

// StderrLines returns captured stderr lines. Thread-safe.
func (bp *BaseProcess) StderrLines() []string {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	result := make([]string, len(bp.stderrLines))
	copy(result, bp.stderrLines)
	return result
}

// SetStatus updates the process status. Thread-safe.
func (bp *BaseProcess) SetStatus(s ProcessStatus) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.status = s
}

// SendError attempts to send an error without blocking.
func (bp *BaseProcess) SendError(err error) {
	select {
	case bp.errors <- err:
	default:
		log.Debug(log.CatClient, "error channel full, dropping error",
			"provider", bp.providerName, "error", err)
	}
}

// Cancel cancels the process. Status is set before the context is cancelled
// so waitForCompletion cannot race it back to failed.
func (bp *BaseProcess) Cancel() error {
	bp.mu.Lock()
	if bp.status.IsTerminal() {
		bp.mu.Unlock()
		return nil
	}
	bp.status = StatusCancelled
	bp.mu.Unlock()
	bp.cancelFunc()
	return nil
}

// Wait blocks until all process goroutines complete.
func (bp *BaseProcess) Wait() error {
	bp.wg.Wait()
	return nil
}

// StartGoroutines launches the output parser, stderr reader, and completion
// watcher. Call after the process has started.
func (bp *BaseProcess) StartGoroutines() {
	bp.wg.Add(3)
	go bp.parseOutput()
	go bp.parseStderr()
	go bp.waitForCompletion()
}

// parseOutput reads stdout and translates each line through the provider
// parser. Malformed lines are logged and skipped; the stream continues.
func (bp *BaseProcess) parseOutput() {
	defer bp.wg.Done()
	defer close(bp.events)

	scanner := bufio.NewScanner(bp.stdout)
	// 64KB initial, 4MB max: assistant snapshots with large tool results
	// arrive as single lines.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || bp.parser == nil {
			continue
		}

		events, err := bp.parser.ParseEvent(line)
		if err != nil {
			log.Debug(log.CatClient, "parse error",
				"provider", bp.providerName, "error", err, "line", string(line))
			continue
		}

		for i := range events {
			events[i].Timestamp = time.Now()
			if events[i].RawLine == nil {
				events[i].RawLine = append([]byte(nil), line...)
			}

			if ref := bp.parser.ExtractSessionRef(events[i], line); ref != "" {
				bp.mu.Lock()
				if bp.sessionRef == "" {
					bp.sessionRef = ref
					log.Debug(log.CatClient, "got session ref",
						"provider", bp.providerName, "sessionRef", ref)
				}
				bp.mu.Unlock()
			}

			select {
			case bp.events <- events[i]:
			case <-bp.ctx.Done():
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		log.Debug(log.CatClient, "scanner error",
			"provider", bp.providerName, "error", err)
		bp.SendError(fmt.Errorf("stdout scanner error: %w", err))
	}
}

// parseStderr reads and logs stderr output.
func (bp *BaseProcess) parseStderr() {
	defer bp.wg.Done()

	scanner := bufio.NewScanner(bp.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		log.Debug(log.CatClient, "STDERR", "provider", bp.providerName, "line", line)

		if bp.captureStderr {
			bp.mu.Lock()
			bp.stderrLines = append(bp.stderrLines, line)
			bp.mu.Unlock()
		}
	}
	if err := scanner.Err(); err != nil {
		log.Debug(log.CatClient, "stderr scanner error",
			"provider", bp.providerName, "error", err)
	}
}

// waitForCompletion waits for process exit and updates status, closing the
// errors channel to signal completion.
func (bp *BaseProcess) waitForCompletion() {
	defer bp.wg.Done()
	defer close(bp.errors)

	err := bp.cmd.Wait()

	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.status == StatusCancelled {
		log.Debug(log.CatClient, "process was cancelled", "provider", bp.providerName)
		return
	}

	if errors.Is(bp.ctx.Err(), context.DeadlineExceeded) {
		bp.status = StatusFailed
		log.Debug(log.CatClient, "process timed out", "provider", bp.providerName)
		bp.SendError(ErrTimeout)
		return
	}

	if err != nil {
		bp.status = StatusFailed
		if bp.captureStderr && len(bp.stderrLines) > 0 {
			stderrMsg := strings.Join(bp.stderrLines, "\n")
			bp.SendError(fmt.Errorf("%s process failed: %s (exit: %w)", bp.providerName, stderrMsg, err))
		} else {
			bp.SendError(fmt.Errorf("%s process exited: %w", bp.providerName, err))
		}
	} else {
		bp.status = StatusCompleted
	}
}
