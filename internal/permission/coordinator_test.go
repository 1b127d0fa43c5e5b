package permission

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSurface counts prompts and answers from a queue; it can block
// until released to simulate a slow human.
type scriptedSurface struct {
	mu        sync.Mutex
	decisions []Decision
	prompts   int
	gate      chan struct{}

	answers    map[string]any
	approve    bool
	targetMode string
}

func (s *scriptedSurface) AskPermission(ctx context.Context, req Request) (Decision, error) {
	s.mu.Lock()
	s.prompts++
	var d Decision = DecisionDeny
	if len(s.decisions) > 0 {
		d = s.decisions[0]
		s.decisions = s.decisions[1:]
	}
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return DecisionDeny, ctx.Err()
		}
	}
	return d, nil
}

func (s *scriptedSurface) AskQuestion(ctx context.Context, req Request) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts++
	return s.answers, nil
}

func (s *scriptedSurface) AskPlanApproval(ctx context.Context, req Request) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts++
	return s.approve, s.targetMode, nil
}

func (s *scriptedSurface) promptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts
}

type coordFixture struct {
	dir     string
	coord   *Coordinator
	surface *scriptedSurface
	session string
}

func newCoordFixture(t *testing.T, decisions ...Decision) *coordFixture {
	t.Helper()
	dir := t.TempDir()
	surface := &scriptedSurface{decisions: decisions}
	surfaces := NewSurfaceRegistry()
	surfaces.Register("/project", surface)
	coord := NewCoordinator(Config{
		Dir:       dir,
		SessionID: "chan-1",
		Surfaces:  surfaces,
		Memory:    NewMemory(),
	})
	return &coordFixture{dir: dir, coord: coord, surface: surface, session: "chan-1"}
}

func (f *coordFixture) writeRequest(t *testing.T, requestID string, req Request) string {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	path := filepath.Join(f.dir, requestFileName(KindTool, f.session, requestID))
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func (f *coordFixture) responsePath(requestID string) string {
	return filepath.Join(f.dir, responseFileName(KindTool, f.session, requestID))
}

func (f *coordFixture) readToolResponse(t *testing.T, requestID string) ToolResponse {
	t.Helper()
	var resp ToolResponse
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(f.responsePath(requestID))
		if err != nil {
			return false
		}
		return json.Unmarshal(data, &resp) == nil
	}, 2*time.Second, 5*time.Millisecond)
	return resp
}

func TestCoordinator_AllowFlow(t *testing.T) {
	f := newCoordFixture(t, DecisionAllow)
	path := f.writeRequest(t, "req1", Request{RequestID: "req1", ToolName: "Bash", CWD: "/project"})

	f.coord.scan(context.Background())

	resp := f.readToolResponse(t, "req1")
	assert.True(t, resp.Allow)
	assert.NoFileExists(t, path, "request file must be removed after parsing")
	assert.Equal(t, 1, f.surface.promptCount())
}

// A request polled twice before resolution yields exactly one response and
// one prompt.
func TestCoordinator_AtMostOnceUnderDoublePoll(t *testing.T) {
	f := newCoordFixture(t, DecisionAllow)
	f.surface.gate = make(chan struct{})
	path := f.writeRequest(t, "req1", Request{RequestID: "req1", ToolName: "Bash", CWD: "/project"})

	ctx := context.Background()
	f.coord.scan(ctx)
	// The file is already deleted; a second scan must not rediscover or
	// double-prompt even while the decision is still pending.
	f.coord.scan(ctx)
	assert.NoFileExists(t, path)

	close(f.surface.gate)

	resp := f.readToolResponse(t, "req1")
	assert.True(t, resp.Allow)
	assert.Equal(t, 1, f.surface.promptCount())

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "exactly one response file")
}

// No registered surface and no fallback: deny.
func TestCoordinator_FailClosedWithoutSurface(t *testing.T) {
	dir := t.TempDir()
	coord := NewCoordinator(Config{
		Dir:       dir,
		SessionID: "chan-1",
		Surfaces:  NewSurfaceRegistry(),
		Memory:    NewMemory(),
	})
	req := Request{RequestID: "req1", ToolName: "Bash"}
	data, _ := json.Marshal(req)
	require.NoError(t, os.WriteFile(filepath.Join(dir, requestFileName(KindTool, "chan-1", "req1")), data, 0o600))

	coord.scan(context.Background())

	var resp ToolResponse
	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(filepath.Join(dir, responseFileName(KindTool, "chan-1", "req1")))
		return err == nil && json.Unmarshal(raw, &resp) == nil
	}, time.Second, 5*time.Millisecond)
	assert.False(t, resp.Allow)
}

// After one ALLOW_ALWAYS, later requests for the tool resolve from memory.
func TestCoordinator_AlwaysAllowMemory(t *testing.T) {
	f := newCoordFixture(t, DecisionAllowAlways)
	ctx := context.Background()

	f.writeRequest(t, "req1", Request{RequestID: "req1", ToolName: "Bash", CWD: "/project"})
	f.coord.scan(ctx)
	assert.True(t, f.readToolResponse(t, "req1").Allow)

	f.writeRequest(t, "req2", Request{RequestID: "req2", ToolName: "Bash", Inputs: map[string]any{"command": "other"}, CWD: "/project"})
	f.coord.scan(ctx)
	assert.True(t, f.readToolResponse(t, "req2").Allow)

	assert.Equal(t, 1, f.surface.promptCount(), "second request must not prompt")
}

func TestCoordinator_DenyFlow(t *testing.T) {
	f := newCoordFixture(t, DecisionDeny)
	f.writeRequest(t, "req1", Request{RequestID: "req1", ToolName: "Bash", CWD: "/project"})

	f.coord.scan(context.Background())

	assert.False(t, f.readToolResponse(t, "req1").Allow)
	// Deny is never remembered.
	_, ok := f.coord.cfg.Memory.Lookup(context.Background(), "Bash", nil)
	assert.False(t, ok)
}

// A half-written file survives a bounded number of polls, then is discarded.
func TestCoordinator_ParseRaceRetriesThenDiscards(t *testing.T) {
	f := newCoordFixture(t)
	path := filepath.Join(f.dir, requestFileName(KindTool, f.session, "req1"))
	require.NoError(t, os.WriteFile(path, []byte(`{"requestId": "req1", "toolNa`), 0o600))

	ctx := context.Background()
	for i := 0; i < maxParseRetries-1; i++ {
		f.coord.scan(ctx)
		assert.FileExists(t, path, "poll %d must leave a maybe-half-written file", i)
	}

	// Completing the file before the retry budget runs out lets it parse.
	req := Request{RequestID: "req1", ToolName: "Bash", CWD: "/project"}
	data, _ := json.Marshal(req)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	f.surface.decisions = []Decision{DecisionAllow}
	f.coord.scan(ctx)
	assert.True(t, f.readToolResponse(t, "req1").Allow)
}

func TestCoordinator_GarbageDiscardedAfterRetryBudget(t *testing.T) {
	f := newCoordFixture(t)
	path := filepath.Join(f.dir, requestFileName(KindTool, f.session, "req1"))
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o600))

	ctx := context.Background()
	for i := 0; i < maxParseRetries; i++ {
		f.coord.scan(ctx)
	}

	assert.NoFileExists(t, path)
	assert.NoFileExists(t, f.responsePath("req1"), "garbage must not produce a response")
}

func TestCoordinator_IgnoresOtherSessions(t *testing.T) {
	f := newCoordFixture(t, DecisionAllow)
	data, _ := json.Marshal(Request{RequestID: "req1", ToolName: "Bash"})
	other := filepath.Join(f.dir, requestFileName(KindTool, "chan-2", "req1"))
	require.NoError(t, os.WriteFile(other, data, 0o600))

	f.coord.scan(context.Background())

	assert.FileExists(t, other, "another session's request must be untouched")
	assert.Zero(t, f.surface.promptCount())
}

func TestCoordinator_QuestionSibling(t *testing.T) {
	f := newCoordFixture(t)
	f.surface.answers = map[string]any{"color": "blue"}

	req := Request{RequestID: "q1", CWD: "/project", Questions: []Question{{ID: "color", Text: "?"}}}
	data, _ := json.Marshal(req)
	path := filepath.Join(f.dir, requestFileName(KindQuestion, f.session, "q1"))
	require.NoError(t, os.WriteFile(path, data, 0o600))

	f.coord.scan(context.Background())

	var resp QuestionResponse
	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(filepath.Join(f.dir, responseFileName(KindQuestion, f.session, "q1")))
		return err == nil && json.Unmarshal(raw, &resp) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, map[string]any{"color": "blue"}, resp.Answers)
	assert.NoFileExists(t, path)
}

func TestCoordinator_PlanSibling(t *testing.T) {
	f := newCoordFixture(t)
	f.surface.approve = true
	f.surface.targetMode = "acceptEdits"

	req := Request{RequestID: "p1", CWD: "/project", Plan: "1. do the thing"}
	data, _ := json.Marshal(req)
	path := filepath.Join(f.dir, requestFileName(KindPlan, f.session, "p1"))
	require.NoError(t, os.WriteFile(path, data, 0o600))

	f.coord.scan(context.Background())

	var resp PlanResponse
	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(filepath.Join(f.dir, responseFileName(KindPlan, f.session, "p1")))
		return err == nil && json.Unmarshal(raw, &resp) == nil
	}, time.Second, 5*time.Millisecond)
	assert.True(t, resp.Approved)
	assert.Equal(t, "acceptEdits", resp.TargetMode)
	assert.NoFileExists(t, path)
}

// End to end through the poll loop rather than direct scans.
func TestCoordinator_RunDiscoversWithinPollInterval(t *testing.T) {
	dir := t.TempDir()
	surface := &scriptedSurface{decisions: []Decision{DecisionAllow}}
	surfaces := NewSurfaceRegistry()
	surfaces.Register("/project", surface)
	coord := NewCoordinator(Config{
		Dir:          dir,
		SessionID:    "chan-1",
		Surfaces:     surfaces,
		Memory:       NewMemory(),
		PollInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	time.Sleep(10 * time.Millisecond)
	data, _ := json.Marshal(Request{RequestID: "req1", ToolName: "Bash", CWD: "/project"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, requestFileName(KindTool, "chan-1", "req1")), data, 0o600))

	var resp ToolResponse
	require.Eventually(t, func() bool {
		raw, err := os.ReadFile(filepath.Join(dir, responseFileName(KindTool, "chan-1", "req1")))
		return err == nil && json.Unmarshal(raw, &resp) == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, resp.Allow)
}

func TestService_OpenCloseAndSweep(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir,
		WithPollInterval(10*time.Millisecond),
		WithIdleTimeout(time.Nanosecond),
		WithDirWatch(false),
	)

	svc.Open("chan-1")
	svc.Open("chan-1")
	svc.Open("chan-2")
	assert.Len(t, svc.OpenSessions(), 2)

	svc.CloseSession("chan-1")
	assert.Equal(t, []string{"chan-2"}, svc.OpenSessions())

	// Idle beyond the (tiny) threshold: swept.
	time.Sleep(2 * time.Millisecond)
	svc.sweep()
	assert.Empty(t, svc.OpenSessions())
}

func TestService_SharedMemoryAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, WithDirWatch(false))
	svc.Memory().RememberTool("Bash")

	decision, ok := svc.Memory().Lookup(context.Background(), "Bash", nil)
	require.True(t, ok)
	assert.True(t, decision.Allowed())
	assert.NotNil(t, svc.Surfaces())
}
