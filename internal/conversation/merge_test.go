package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func block(fields map[string]any) map[string]any { return fields }

func contentOf(t *testing.T, raw map[string]any) []any {
	t.Helper()
	msg, ok := raw["message"].(map[string]any)
	require.True(t, ok)
	content, ok := msg["content"].([]any)
	require.True(t, ok)
	return content
}

func TestMergeNilPrevReturnsCopy(t *testing.T) {
	next := map[string]any{
		"type": "assistant",
		"message": map[string]any{
			"role":    "assistant",
			"content": []any{block(map[string]any{"type": "text", "text": "hi"})},
		},
	}

	got := Merge(nil, next)
	require.NotNil(t, got)

	// Mutating the result must not alias the input's content slice.
	msg := got["message"].(map[string]any)
	msg["content"] = append(msg["content"].([]any), block(map[string]any{"type": "text", "text": "x"}))
	assert.Len(t, next["message"].(map[string]any)["content"], 1)
}

func TestMergeTopLevelFieldsOverwrite(t *testing.T) {
	prev := map[string]any{"type": "assistant", "session_id": "old"}
	next := map[string]any{"type": "assistant", "session_id": "new", "parent_tool_use_id": "t1"}

	got := Merge(prev, next)
	assert.Equal(t, "new", got["session_id"])
	assert.Equal(t, "t1", got["parent_tool_use_id"])
}

func TestMergeNestedMessageFieldsLatestWins(t *testing.T) {
	prev := map[string]any{
		"message": map[string]any{
			"stop_reason": nil,
			"usage":       map[string]any{"output_tokens": float64(0)},
			"content":     []any{},
		},
	}
	next := map[string]any{
		"message": map[string]any{
			"stop_reason": "end_turn",
			"usage":       map[string]any{"output_tokens": float64(42)},
			"content":     []any{},
		},
	}

	got := Merge(prev, next)
	msg := got["message"].(map[string]any)
	assert.Equal(t, "end_turn", msg["stop_reason"])
	assert.Equal(t, map[string]any{"output_tokens": float64(42)}, msg["usage"])
}

func TestMergeReplacesIdentityBlockInPlace(t *testing.T) {
	prev := map[string]any{
		"message": map[string]any{
			"content": []any{
				block(map[string]any{"type": "text", "text": "before"}),
				block(map[string]any{"type": "tool_use", "id": "tool-1", "name": "Bash", "input": map[string]any{}}),
			},
		},
	}
	next := map[string]any{
		"message": map[string]any{
			"content": []any{
				block(map[string]any{"type": "tool_use", "id": "tool-1", "name": "Bash", "input": map[string]any{"command": "ls"}}),
			},
		},
	}

	got := Merge(prev, next)
	content := contentOf(t, got)
	require.Len(t, content, 2)
	// Position preserved: text first, updated tool_use second.
	assert.Equal(t, "before", content[0].(map[string]any)["text"])
	assert.Equal(t, map[string]any{"command": "ls"}, content[1].(map[string]any)["input"])
}

func TestMergeToolResultIdentity(t *testing.T) {
	prev := map[string]any{
		"message": map[string]any{
			"content": []any{
				block(map[string]any{"type": "tool_result", "tool_use_id": "tool-1", "content": "partial"}),
			},
		},
	}
	next := map[string]any{
		"message": map[string]any{
			"content": []any{
				block(map[string]any{"type": "tool_result", "tool_use_id": "tool-1", "content": "full"}),
				block(map[string]any{"type": "tool_result", "tool_use_id": "tool-2", "content": "other"}),
			},
		},
	}

	got := Merge(prev, next)
	content := contentOf(t, got)
	require.Len(t, content, 2)
	assert.Equal(t, "full", content[0].(map[string]any)["content"])
	assert.Equal(t, "other", content[1].(map[string]any)["content"])
}

func TestMergeBlocksWithoutIdentityAppend(t *testing.T) {
	prev := map[string]any{
		"message": map[string]any{
			"content": []any{block(map[string]any{"type": "text", "text": "a"})},
		},
	}
	next := map[string]any{
		"message": map[string]any{
			"content": []any{block(map[string]any{"type": "text", "text": "b"})},
		},
	}

	got := Merge(prev, next)
	assert.Len(t, contentOf(t, got), 2)
}

func TestMergeMalformedContentAppends(t *testing.T) {
	prev := map[string]any{
		"message": map[string]any{
			"content": []any{block(map[string]any{"type": "text", "text": "ok"})},
		},
	}
	next := map[string]any{
		"message": map[string]any{
			"content": "not an array",
		},
	}

	got := Merge(prev, next)
	msg := got["message"].(map[string]any)
	content := msg["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "not an array", content[1])
}

func TestMergeIdempotentForIdentityBlocks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "blocks")
		content := make([]any, 0, n)
		ids := map[string]bool{}
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("tool-%d", rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("id%d", i)))
			if ids[id] {
				continue
			}
			ids[id] = true
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    id,
				"name":  rapid.StringMatching(`[A-Z][a-z]{2,8}`).Draw(t, fmt.Sprintf("name%d", i)),
				"input": map[string]any{},
			})
		}
		snapshot := map[string]any{
			"type":    "assistant",
			"message": map[string]any{"role": "assistant", "content": content},
		}

		once := Merge(nil, snapshot)
		twice := Merge(once, snapshot)

		seen := map[string]int{}
		for _, b := range twice["message"].(map[string]any)["content"].([]any) {
			id := b.(map[string]any)["id"].(string)
			seen[id]++
		}
		for id, count := range seen {
			if count != 1 {
				t.Fatalf("identity key %q appears %d times after re-merge", id, count)
			}
		}
	})
}
