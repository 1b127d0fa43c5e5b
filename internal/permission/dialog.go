package permission

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

// FallbackTimeout bounds the synchronous fallback prompt. Expiry denies:
// an unanswerable request must never default to allow.
const FallbackTimeout = 30 * time.Second

// Surface presents requests to the operator. One surface registers per
// project root; requests route to the surface whose root is the longest
// prefix of the request's working directory.
type Surface interface {
	AskPermission(ctx context.Context, req Request) (Decision, error)
	AskQuestion(ctx context.Context, req Request) (map[string]any, error)
	AskPlanApproval(ctx context.Context, req Request) (approved bool, targetMode string, err error)
}

// SurfaceRegistry maps project roots to their prompt surfaces with explicit
// register/unregister lifecycle.
type SurfaceRegistry struct {
	mu      sync.RWMutex
	entries map[string]surfaceEntry
}

type surfaceEntry struct {
	surface Surface
	active  time.Time
}

// NewSurfaceRegistry creates an empty registry.
func NewSurfaceRegistry() *SurfaceRegistry {
	return &SurfaceRegistry{entries: make(map[string]surfaceEntry)}
}

// Register binds a surface to a project root, replacing any previous one.
func (r *SurfaceRegistry) Register(projectRoot string, s Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[projectRoot] = surfaceEntry{surface: s, active: time.Now()}
}

// Unregister removes a project's surface.
func (r *SurfaceRegistry) Unregister(projectRoot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, projectRoot)
}

// Touch marks a project as most recently active for fallback routing.
func (r *SurfaceRegistry) Touch(projectRoot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[projectRoot]; ok {
		e.active = time.Now()
		r.entries[projectRoot] = e
	}
}

// Resolve routes a working directory to a surface: longest matching project
// root prefix first, most recently active project as fallback. Returns nil
// when nothing is registered.
func (r *SurfaceRegistry) Resolve(cwd string) Surface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Surface
	bestLen := -1
	for root, e := range r.entries {
		if isPathPrefix(root, cwd) && len(root) > bestLen {
			best = e.surface
			bestLen = len(root)
		}
	}
	if best != nil {
		return best
	}

	var latest time.Time
	for _, e := range r.entries {
		if e.active.After(latest) {
			latest = e.active
			best = e.surface
		}
	}
	return best
}

// isPathPrefix reports whether dir lies at or under root, honoring path
// component boundaries.
func isPathPrefix(root, dir string) bool {
	if root == "" || dir == "" {
		return false
	}
	if root == dir {
		return true
	}
	if !strings.HasPrefix(dir, root) {
		return false
	}
	rest := dir[len(root):]
	return strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, `\`)
}

// FallbackSurface is a bounded terminal prompt used when no UI surface is
// registered. Every path that cannot produce an explicit answer within the
// timeout resolves to deny.
type FallbackSurface struct {
	In      io.Reader
	Out     io.Writer
	Timeout time.Duration

	initOnce sync.Once
	reader   *bufio.Reader
	readMu   sync.Mutex
}

// NewFallbackSurface creates a fallback prompt over the given streams.
func NewFallbackSurface(in io.Reader, out io.Writer) *FallbackSurface {
	return &FallbackSurface{In: in, Out: out, Timeout: FallbackTimeout}
}

// AskPermission prompts for y/a/n and denies on timeout or read failure.
func (f *FallbackSurface) AskPermission(ctx context.Context, req Request) (Decision, error) {
	fmt.Fprintf(f.Out, "\nTool permission request: %s\n", req.ToolName)
	for k, v := range req.Inputs {
		fmt.Fprintf(f.Out, "  %s: %v\n", k, v)
	}
	fmt.Fprintf(f.Out, "Allow? [y]es / [a]lways / [n]o (auto-deny in %s): ", f.timeout())

	answer, err := f.readLine(ctx)
	if err != nil {
		log.Warn(log.CatPerm, "fallback prompt unanswered, denying", "tool", req.ToolName, "error", err)
		return DecisionDeny, nil
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return DecisionAllow, nil
	case "a", "always":
		return DecisionAllowAlways, nil
	default:
		return DecisionDeny, nil
	}
}

// AskQuestion prompts for one free-form answer per question.
func (f *FallbackSurface) AskQuestion(ctx context.Context, req Request) (map[string]any, error) {
	answers := make(map[string]any, len(req.Questions))
	for _, q := range req.Questions {
		fmt.Fprintf(f.Out, "\n%s\n", q.Text)
		if len(q.Options) > 0 {
			fmt.Fprintf(f.Out, "  options: %s\n", strings.Join(q.Options, ", "))
		}
		fmt.Fprint(f.Out, "> ")
		answer, err := f.readLine(ctx)
		if err != nil {
			return nil, err
		}
		answers[q.ID] = strings.TrimSpace(answer)
	}
	return answers, nil
}

// AskPlanApproval prompts y/n for the plan; timeout rejects.
func (f *FallbackSurface) AskPlanApproval(ctx context.Context, req Request) (bool, string, error) {
	fmt.Fprintf(f.Out, "\nPlan approval requested:\n%s\nApprove? [y/n]: ", req.Plan)
	answer, err := f.readLine(ctx)
	if err != nil {
		return false, "", nil
	}
	approved := strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y")
	return approved, "", nil
}

func (f *FallbackSurface) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return FallbackTimeout
}

// readLine reads one line bounded by the timeout. All reads share one
// buffered reader: a per-call reader would swallow every line after the
// first into a buffer that dies with the call. The read goroutine may
// outlive the deadline; it parks on a buffered channel and is harmless.
func (f *FallbackSurface) readLine(ctx context.Context) (string, error) {
	f.initOnce.Do(func() { f.reader = bufio.NewReader(f.In) })
	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		f.readMu.Lock()
		defer f.readMu.Unlock()
		line, err := f.reader.ReadString('\n')
		if err != nil && line == "" {
			errCh <- err
			return
		}
		lineCh <- line
	}()

	select {
	case line := <-lineCh:
		return line, nil
	case err := <-errCh:
		return "", err
	case <-time.After(f.timeout()):
		return "", fmt.Errorf("prompt timed out after %s", f.timeout())
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
