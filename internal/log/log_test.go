package log

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFormatsFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf)
	SetMinLevel(LevelDebug)

	Debug(CatPerm, "request discovered", "requestID", "abc", "tool", "Bash")

	line := buf.String()
	assert.Contains(t, line, "[DEBUG]")
	assert.Contains(t, line, "[perm]")
	assert.Contains(t, line, "request discovered")
	assert.Contains(t, line, "requestID=abc")
	assert.Contains(t, line, "tool=Bash")
}

func TestLogRespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf)
	SetMinLevel(LevelWarn)

	Debug(CatSession, "noisy")
	Info(CatSession, "still noisy")
	Warn(CatSession, "important")

	out := buf.String()
	assert.NotContains(t, out, "noisy")
	assert.Contains(t, out, "important")
}

func TestErrorErrAppendsError(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf)
	SetMinLevel(LevelDebug)

	ErrorErr(CatClient, "spawn failed", assert.AnError)
	assert.Contains(t, buf.String(), "error="+assert.AnError.Error())
}

func TestTailReceivesEntries(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf)
	SetMinLevel(LevelDebug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tail := Tail(ctx)

	Info(CatCLI, "hello tail")

	select {
	case ev := <-tail:
		require.True(t, strings.Contains(ev.Payload, "hello tail"))
	case <-time.After(time.Second):
		t.Fatal("no tail event received")
	}
}
