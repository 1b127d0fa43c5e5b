package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_CoarseToolDecision(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, ok := m.Lookup(ctx, "Bash", map[string]any{"command": "ls"})
	assert.False(t, ok)

	m.RememberTool("Bash")

	decision, ok := m.Lookup(ctx, "Bash", map[string]any{"command": "anything"})
	require.True(t, ok)
	assert.True(t, decision.Allowed())

	// Coarse covers the tool regardless of inputs; other tools unaffected.
	_, ok = m.Lookup(ctx, "Write", nil)
	assert.False(t, ok)
}

func TestMemory_FineInputDecision(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	inputs := map[string]any{"command": "go test", "cwd": "/p"}
	m.RememberInput(ctx, "Bash", inputs)

	// Equal inputs hash equally regardless of construction order.
	same := map[string]any{"cwd": "/p", "command": "go test"}
	decision, ok := m.Lookup(ctx, "Bash", same)
	require.True(t, ok)
	assert.True(t, decision.Allowed())

	_, ok = m.Lookup(ctx, "Bash", map[string]any{"command": "rm -rf /"})
	assert.False(t, ok, "different inputs must not match a fine decision")
}

func TestMemory_Forget(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.RememberTool("Bash")
	m.Forget(ctx, "Bash")

	_, ok := m.Lookup(ctx, "Bash", nil)
	assert.False(t, ok)
}
