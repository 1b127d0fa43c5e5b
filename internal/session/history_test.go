package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/conversation"
)

func writeTranscript(t *testing.T, root, workDir, sessionRef string, lines ...string) {
	t.Helper()
	dir := filepath.Join(root, mungeProjectDir(workDir))
	require.NoError(t, os.MkdirAll(dir, 0755))
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionRef+".jsonl"), []byte(content), 0644))
}

func TestJSONLHistory_ReadsTranscript(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, root, "/home/dev/app", "sess-1",
		`{"type":"user","uuid":"u-1","message":{"content":[{"type":"text","text":"fix the bug"}]}}`,
		`{"type":"assistant","uuid":"a-1","message":{"content":[{"type":"text","text":"done"}]}}`,
	)

	h := &JSONLHistory{Root: root}
	msgs, err := h.Messages(context.Background(), "/home/dev/app", "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, "fix the bug", msgs[0].Content)
	assert.Equal(t, "u-1", msgs[0].UUID)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
}

func TestJSONLHistory_MissingFileIsNotAnError(t *testing.T) {
	h := &JSONLHistory{Root: t.TempDir()}
	msgs, err := h.Messages(context.Background(), "/nowhere", "sess-missing")
	require.NoError(t, err)
	assert.Nil(t, msgs)
}

func TestJSONLHistory_EmptySessionRef(t *testing.T) {
	h := &JSONLHistory{Root: t.TempDir()}
	msgs, err := h.Messages(context.Background(), "/home/dev/app", "")
	require.NoError(t, err)
	assert.Nil(t, msgs)
}

func TestJSONLHistory_SkipsMalformedAndNoiseLines(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, root, "/home/dev/app", "sess-2",
		`{not json`,
		`{"type":"summary","summary":"irrelevant"}`,
		`{"type":"user","isMeta":true,"message":{"content":[{"type":"text","text":"meta"}]}}`,
		`{"type":"user","uuid":"u-9","message":{"content":[{"type":"text","text":"real"}]}}`,
	)

	h := &JSONLHistory{Root: root}
	msgs, err := h.Messages(context.Background(), "/home/dev/app", "sess-2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "real", msgs[0].Content)
}

func TestJSONLHistory_CanceledContext(t *testing.T) {
	root := t.TempDir()
	writeTranscript(t, root, "/home/dev/app", "sess-3",
		`{"type":"user","message":{"content":[{"type":"text","text":"hi"}]}}`,
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &JSONLHistory{Root: root}
	_, err := h.Messages(ctx, "/home/dev/app", "sess-3")
	assert.Error(t, err)
}

func TestMungeProjectDir(t *testing.T) {
	assert.Equal(t, "-home-dev-my-app", mungeProjectDir("/home/dev/my_app"))
	assert.Equal(t, "C--Users-dev", mungeProjectDir(`C:\Users\dev`))
}
