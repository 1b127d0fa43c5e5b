package permission

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zjrosen/relay/internal/log"
	"github.com/zjrosen/relay/internal/watcher"
)

const (
	// DefaultPollInterval is the request-file poll cadence. Polling is the
	// source of truth; directory notification only trims latency.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultIdleTimeout tears down a session's coordinator after this long
	// without a request, bounding memory growth.
	DefaultIdleTimeout = 30 * time.Minute

	// maxParseRetries bounds how many polls a file that never parses may
	// survive before it is discarded as garbage rather than a
	// parse-before-write race.
	maxParseRetries = 5
)

// Config configures a Coordinator.
type Config struct {
	// Dir is the shared IPC directory.
	Dir string
	// SessionID scopes which request files this coordinator owns.
	SessionID string
	Surfaces  *SurfaceRegistry
	Memory    *Memory
	// Fallback answers requests when no surface is registered. Nil means
	// unanswerable requests deny immediately.
	Fallback     Surface
	PollInterval time.Duration
	// WatchDir enables the fsnotify nudge alongside polling.
	WatchDir bool
}

// Coordinator runs one session's permission loop: discover request files,
// dedupe, answer from standing memory or a routed surface, delete the
// request after parsing, and write the response. Deleting immediately after
// a successful parse guarantees at-most-once handling even though the
// decision itself may take arbitrarily long.
type Coordinator struct {
	cfg Config

	mu           sync.Mutex
	inflight     map[string]struct{}
	parseRetries map[string]int
	lastActivity time.Time

	resolveWG sync.WaitGroup
}

// NewCoordinator creates a coordinator for one session.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Coordinator{
		cfg:          cfg,
		inflight:     make(map[string]struct{}),
		parseRetries: make(map[string]int),
		lastActivity: time.Now(),
	}
}

// Run polls until the context is cancelled. Blocks; run it on its own
// goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	var nudge <-chan struct{}
	if c.cfg.WatchDir {
		w, err := watcher.New(watcher.DefaultConfig(c.cfg.Dir))
		if err == nil {
			if ch, werr := w.Start(); werr == nil {
				nudge = ch
				defer func() { _ = w.Stop() }()
			} else {
				log.Warn(log.CatPerm, "dir watch unavailable, poll only", "error", werr)
			}
		} else {
			log.Warn(log.CatPerm, "dir watch unavailable, poll only", "error", err)
		}
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			c.resolveWG.Wait()
			return
		case <-ticker.C:
			c.scan(ctx)
		case <-nudge:
			c.scan(ctx)
		}
	}
}

// LastActivity returns when this coordinator last handled a request.
func (c *Coordinator) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// scan discovers this session's request files across all three protocols.
func (c *Coordinator) scan(ctx context.Context) {
	entries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		log.Warn(log.CatPerm, "ipc dir unreadable", "dir", c.cfg.Dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		for _, kind := range []Kind{KindTool, KindQuestion, KindPlan} {
			if requestID, ok := matchRequestFile(name, kind, c.cfg.SessionID); ok {
				c.handle(ctx, kind, requestID, name)
				break
			}
		}
	}
}

// handle claims one request file. The in-flight set drops a second poll of
// the same file before the first resolves; the file itself is removed
// immediately after a successful parse.
func (c *Coordinator) handle(ctx context.Context, kind Kind, requestID, fileName string) {
	c.mu.Lock()
	if _, dup := c.inflight[fileName]; dup {
		c.mu.Unlock()
		return
	}
	c.inflight[fileName] = struct{}{}
	c.mu.Unlock()

	path := filepath.Join(c.cfg.Dir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		// Could be the subprocess still writing, or already gone.
		c.release(fileName)
		return
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		// Parse-before-write race: leave the file for the next poll, a
		// bounded number of times.
		c.mu.Lock()
		c.parseRetries[fileName]++
		exhausted := c.parseRetries[fileName] >= maxParseRetries
		c.mu.Unlock()
		if exhausted {
			log.Warn(log.CatPerm, "discarding unparseable request", "file", fileName, "error", err)
			_ = os.Remove(path)
			c.forget(fileName)
			return
		}
		c.release(fileName)
		return
	}
	req.Kind = kind
	req.SessionID = c.cfg.SessionID
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	// At-most-once: the request file is gone before any decision starts.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn(log.CatPerm, "failed to remove request file", "file", fileName, "error", err)
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	delete(c.parseRetries, fileName)
	c.mu.Unlock()

	log.Info(log.CatPerm, "request discovered",
		"kind", string(kind), "tool", req.ToolName, "request", req.RequestID)

	c.resolveWG.Add(1)
	go func() {
		defer c.resolveWG.Done()
		defer c.forget(fileName)
		c.resolve(ctx, req)
	}()
}

func (c *Coordinator) release(fileName string) {
	c.mu.Lock()
	delete(c.inflight, fileName)
	c.mu.Unlock()
}

// forget clears both dedupe entries once a request is fully finished.
func (c *Coordinator) forget(fileName string) {
	c.mu.Lock()
	delete(c.inflight, fileName)
	delete(c.parseRetries, fileName)
	c.mu.Unlock()
}

// resolve produces and writes the response for one claimed request.
func (c *Coordinator) resolve(ctx context.Context, req Request) {
	switch req.Kind {
	case KindQuestion:
		c.resolveQuestion(ctx, req)
	case KindPlan:
		c.resolvePlan(ctx, req)
	default:
		c.resolveTool(ctx, req)
	}
}

func (c *Coordinator) resolveTool(ctx context.Context, req Request) {
	if decision, ok := c.cfg.Memory.Lookup(ctx, req.ToolName, req.Inputs); ok {
		log.Debug(log.CatPerm, "answered from standing memory", "tool", req.ToolName)
		c.respondTool(req, decision)
		return
	}

	surface := c.surfaceFor(req)
	if surface == nil {
		// Fail closed: an unanswerable request must never allow.
		log.Warn(log.CatPerm, "no prompt surface, denying", "tool", req.ToolName)
		c.respondTool(req, DecisionDeny)
		return
	}

	decision, err := surface.AskPermission(ctx, req)
	if err != nil {
		log.Warn(log.CatPerm, "prompt failed, denying", "tool", req.ToolName, "error", err)
		decision = DecisionDeny
	}
	if decision == DecisionAllowAlways {
		c.cfg.Memory.RememberTool(req.ToolName)
	}
	c.respondTool(req, decision)
}

func (c *Coordinator) respondTool(req Request, decision Decision) {
	err := writeResponse(c.cfg.Dir, req.Kind, req.SessionID, req.RequestID, ToolResponse{
		Allow: decision.Allowed(),
	})
	if err != nil {
		log.ErrorErr(log.CatPerm, "failed to write response", err, "request", req.RequestID)
		return
	}
	log.Info(log.CatPerm, "request resolved",
		"tool", req.ToolName, "request", req.RequestID, "decision", string(decision))
}

func (c *Coordinator) resolveQuestion(ctx context.Context, req Request) {
	answers := map[string]any{}
	if surface := c.surfaceFor(req); surface != nil {
		if got, err := surface.AskQuestion(ctx, req); err == nil && got != nil {
			answers = got
		}
	}
	if err := writeResponse(c.cfg.Dir, req.Kind, req.SessionID, req.RequestID, QuestionResponse{Answers: answers}); err != nil {
		log.ErrorErr(log.CatPerm, "failed to write question response", err, "request", req.RequestID)
	}
}

func (c *Coordinator) resolvePlan(ctx context.Context, req Request) {
	resp := PlanResponse{}
	if surface := c.surfaceFor(req); surface != nil {
		approved, targetMode, err := surface.AskPlanApproval(ctx, req)
		if err == nil {
			resp.Approved = approved
			resp.TargetMode = targetMode
		}
	}
	if err := writeResponse(c.cfg.Dir, req.Kind, req.SessionID, req.RequestID, resp); err != nil {
		log.ErrorErr(log.CatPerm, "failed to write plan response", err, "request", req.RequestID)
	}
}

func (c *Coordinator) surfaceFor(req Request) Surface {
	if c.cfg.Surfaces != nil {
		if s := c.cfg.Surfaces.Resolve(req.CWD); s != nil {
			return s
		}
	}
	return c.cfg.Fallback
}
