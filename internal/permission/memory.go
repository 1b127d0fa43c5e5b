package permission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/zjrosen/relay/internal/cachemanager"
)

// fineTTL bounds how long an input-specific standing decision survives.
// Coarse tool-level decisions last for the process lifetime; the fine map
// would otherwise grow without bound under varied inputs.
const fineTTL = 24 * time.Hour

// Memory holds standing allow decisions. Coarse decisions cover a whole
// tool; fine decisions cover one tool+input combination and expire.
type Memory struct {
	mu     sync.RWMutex
	coarse map[string]struct{}

	fine cachemanager.CacheManager[string, bool]
}

// NewMemory creates an empty decision memory.
func NewMemory() *Memory {
	return &Memory{
		coarse: make(map[string]struct{}),
		fine:   cachemanager.NewInMemoryCacheManager[string, bool]("permission-memory", fineTTL, time.Hour),
	}
}

// RememberTool records a tool-level always-allow decision.
func (m *Memory) RememberTool(toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coarse[toolName] = struct{}{}
}

// RememberInput records an input-specific always-allow decision. It is for
// surfaces that distinguish "always allow this exact invocation" from
// "always allow this tool"; the bundled surfaces offer only the tool-level
// grant, so nothing calls it unless a surface opts in. Lookup consults both
// scopes either way.
func (m *Memory) RememberInput(ctx context.Context, toolName string, inputs map[string]any) {
	m.fine.Set(ctx, fineKey(toolName, inputs), true, fineTTL)
}

// Lookup answers a request from standing memory: tool-level first, then the
// input-specific map, refreshing the entry's TTL on hit.
func (m *Memory) Lookup(ctx context.Context, toolName string, inputs map[string]any) (Decision, bool) {
	m.mu.RLock()
	_, coarse := m.coarse[toolName]
	m.mu.RUnlock()
	if coarse {
		return DecisionAllow, true
	}
	if _, ok := m.fine.GetWithRefresh(ctx, fineKey(toolName, inputs), fineTTL); ok {
		return DecisionAllow, true
	}
	return "", false
}

// Forget drops every standing decision for a tool.
func (m *Memory) Forget(ctx context.Context, toolName string) {
	m.mu.Lock()
	delete(m.coarse, toolName)
	m.mu.Unlock()
	// Fine entries for the tool age out via TTL; their keys are hashed and
	// cannot be enumerated per tool.
}

// fineKey builds a stable key from tool name and canonicalized inputs.
// json.Marshal sorts map keys, so equal inputs hash equally.
func fineKey(toolName string, inputs map[string]any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		data = []byte("{}")
	}
	sum := sha256.Sum256(data)
	return toolName + ":" + hex.EncodeToString(sum[:])
}
