package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

// CommandFactoryFunc creates an exec.Cmd; overridable in tests.
type CommandFactoryFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// SpawnBuilder consolidates the common spawn boilerplate (context setup,
// pipe creation, process start) while leaving wire specifics to providers.
type SpawnBuilder struct {
	ctx               context.Context
	timeout           time.Duration
	execPath          string
	args              []string
	workDir           string
	sessionRef        string
	env               []string
	parser            EventParser
	providerName      string
	captureStderr     bool
	needsStdin        bool
	encodeSendFn      EncodeSendFunc
	encodeInterruptFn EncodeInterruptFunc
	commandFactory    CommandFactoryFunc
}

// NewSpawnBuilder creates a SpawnBuilder with the given context.
func NewSpawnBuilder(ctx context.Context) *SpawnBuilder {
	return &SpawnBuilder{
		ctx:          ctx,
		providerName: "unknown",
	}
}

// WithExecutable sets the executable path and arguments.
func (b *SpawnBuilder) WithExecutable(path string, args []string) *SpawnBuilder {
	b.execPath = path
	b.args = args
	return b
}

// WithWorkDir sets the working directory for the process.
func (b *SpawnBuilder) WithWorkDir(dir string) *SpawnBuilder {
	b.workDir = dir
	return b
}

// WithSessionRef sets the initial session reference when resuming.
func (b *SpawnBuilder) WithSessionRef(ref string) *SpawnBuilder {
	b.sessionRef = ref
	return b
}

// WithTimeout bounds the process lifetime. Zero or negative creates a
// cancel-only context.
func (b *SpawnBuilder) WithTimeout(d time.Duration) *SpawnBuilder {
	b.timeout = d
	return b
}

// WithParser sets the EventParser. Required.
func (b *SpawnBuilder) WithParser(p EventParser) *SpawnBuilder {
	b.parser = p
	return b
}

// WithEnv appends "KEY=VALUE" variables to os.Environ().
func (b *SpawnBuilder) WithEnv(env []string) *SpawnBuilder {
	b.env = env
	return b
}

// WithProviderName sets the provider name for logging and error messages.
func (b *SpawnBuilder) WithProviderName(name string) *SpawnBuilder {
	b.providerName = name
	return b
}

// WithStderrCapture enables stderr line capture for error messages.
func (b *SpawnBuilder) WithStderrCapture(capture bool) *SpawnBuilder {
	b.captureStderr = capture
	return b
}

// WithStdin enables the stdin pipe and sets the send/interrupt encoders.
func (b *SpawnBuilder) WithStdin(send EncodeSendFunc, interrupt EncodeInterruptFunc) *SpawnBuilder {
	b.needsStdin = true
	b.encodeSendFn = send
	b.encodeInterruptFn = interrupt
	return b
}

// WithCommandFactory overrides exec.Command creation for tests.
func (b *SpawnBuilder) WithCommandFactory(fn CommandFactoryFunc) *SpawnBuilder {
	b.commandFactory = fn
	return b
}

// Build validates the configuration, creates pipes, starts the process, and
// launches the pump goroutines. All resources are cleaned up on error.
func (b *SpawnBuilder) Build() (*BaseProcess, error) {
	if b.execPath == "" {
		return nil, fmt.Errorf("spawn builder: executable path is required")
	}
	if b.parser == nil {
		return nil, fmt.Errorf("spawn builder: parser is required")
	}

	var procCtx context.Context
	var cancel context.CancelFunc
	if b.timeout > 0 {
		procCtx, cancel = context.WithTimeout(b.ctx, b.timeout)
	} else {
		procCtx, cancel = context.WithCancel(b.ctx)
	}

	var cmd *exec.Cmd
	var stdin io.WriteCloser
	var stdout io.ReadCloser
	var stderr io.ReadCloser

	cleanup := func() {
		cancel()
		for _, c := range []io.Closer{stdin, stdout, stderr} {
			if c != nil {
				_ = c.Close()
			}
		}
	}

	if b.commandFactory != nil {
		cmd = b.commandFactory(procCtx, b.execPath, b.args...)
	} else {
		// #nosec G204 -- args are built from Config struct, not user input
		cmd = exec.CommandContext(procCtx, b.execPath, b.args...)
	}
	cmd.Dir = b.workDir

	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}

	var err error
	if b.needsStdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("spawn builder: failed to create stdin pipe: %w", err)
		}
	}

	stdout, err = cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to create stdout pipe: %w", err)
	}

	stderr, err = cmd.StderrPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to create stderr pipe: %w", err)
	}

	opts := []BaseProcessOption{
		WithEventParser(b.parser),
		WithStderrCapture(b.captureStderr),
		WithProviderName(b.providerName),
	}
	if b.encodeSendFn != nil {
		opts = append(opts, WithSendEncoder(b.encodeSendFn))
	}
	if b.encodeInterruptFn != nil {
		opts = append(opts, WithInterruptEncoder(b.encodeInterruptFn))
	}

	bp := NewBaseProcess(procCtx, cancel, cmd, stdout, stderr, b.workDir, opts...)

	if stdin != nil {
		bp.SetStdin(stdin)
	}
	if b.sessionRef != "" {
		bp.SetSessionRef(b.sessionRef)
	}

	log.Debug(log.CatClient, "Spawning process",
		"provider", b.providerName,
		"execPath", b.execPath,
		"workDir", b.workDir)

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn builder: failed to start %s process: %w", b.providerName, err)
	}

	log.Debug(log.CatClient, "Process started",
		"provider", b.providerName,
		"pid", cmd.Process.Pid)

	bp.SetStatus(StatusRunning)
	bp.StartGoroutines()

	return bp, nil
}

// FindExecutable resolves a provider executable: known install locations are
// checked first, then PATH. "~" expands to the home directory and "{name}"
// to the executable name.
func FindExecutable(name string, knownPaths []string) string {
	home, _ := os.UserHomeDir()
	for _, p := range knownPaths {
		p = strings.ReplaceAll(p, "{name}", name)
		if strings.HasPrefix(p, "~") {
			p = filepath.Join(home, p[1:])
		}
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	return name
}
