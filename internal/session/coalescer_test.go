package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/conversation"
)

type captureSink struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (c *captureSink) deliver(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func (c *captureSink) last() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snaps) == 0 {
		return Snapshot{}, false
	}
	return c.snaps[len(c.snaps)-1], true
}

func msgs(texts ...string) []conversation.Message {
	out := make([]conversation.Message, len(texts))
	for i, t := range texts {
		out[i] = conversation.Message{Role: conversation.RoleAssistant, Content: t}
	}
	return out
}

func TestCoalescer_DeliversWithinInterval(t *testing.T) {
	sink := &captureSink{}
	c := NewCoalescer(20*time.Millisecond, sink.deliver)
	defer c.Stop()

	c.Enqueue(msgs("a"))

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	snap, ok := sink.last()
	require.True(t, ok)
	assert.Equal(t, "a", snap.Messages[0].Content)
}

// Rapid enqueues inside one interval collapse to the latest snapshot.
func TestCoalescer_CollapsesRapidEnqueues(t *testing.T) {
	sink := &captureSink{}
	c := NewCoalescer(50*time.Millisecond, sink.deliver)
	defer c.Stop()

	c.Enqueue(msgs("v1"))
	c.Enqueue(msgs("v2"))
	c.Enqueue(msgs("v3"))

	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	snap, ok := sink.last()
	require.True(t, ok)
	assert.Equal(t, "v3", snap.Messages[0].Content, "only the latest snapshot should render")
	assert.LessOrEqual(t, sink.count(), 2)
}

// Liveness: under continuous enqueue, something is still delivered within
// interval plus one scheduling cycle.
func TestCoalescer_LivenessUnderContinuousEnqueue(t *testing.T) {
	sink := &captureSink{}
	c := NewCoalescer(20*time.Millisecond, sink.deliver)
	defer c.Stop()

	stop := make(chan struct{})
	go func() {
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				c.Enqueue(msgs("tick"))
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()

	require.Eventually(t, func() bool { return sink.count() >= 3 }, 2*time.Second, 10*time.Millisecond)
	close(stop)
}

func TestCoalescer_FlushDeliversImmediately(t *testing.T) {
	sink := &captureSink{}
	c := NewCoalescer(time.Hour, sink.deliver)
	defer c.Stop()

	c.Enqueue(msgs("pending"))

	called := false
	c.Flush(func() { called = true })

	assert.True(t, called)
	require.Equal(t, 1, sink.count())
	snap, _ := sink.last()
	assert.Equal(t, "pending", snap.Messages[0].Content)
}

func TestCoalescer_FlushRedeliversLastKnown(t *testing.T) {
	sink := &captureSink{}
	c := NewCoalescer(time.Millisecond, sink.deliver)
	defer c.Stop()

	c.Enqueue(msgs("final"))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)

	// Nothing pending: flush re-delivers the last snapshot so the UI can
	// sync at a turn boundary.
	c.Flush(nil)
	require.Equal(t, 2, sink.count())
	snap, _ := sink.last()
	assert.Equal(t, "final", snap.Messages[0].Content)
}

func TestCoalescer_SequenceMonotonic(t *testing.T) {
	sink := &captureSink{}
	c := NewCoalescer(time.Hour, sink.deliver)
	defer c.Stop()

	for i := 0; i < 5; i++ {
		c.Enqueue(msgs("m"))
		c.Flush(nil)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i := 1; i < len(sink.snaps); i++ {
		assert.Greater(t, sink.snaps[i].Seq, sink.snaps[i-1].Seq)
	}
}

func TestCoalescer_StreamActiveStamped(t *testing.T) {
	sink := &captureSink{}
	c := NewCoalescer(time.Hour, sink.deliver)
	defer c.Stop()

	c.SetStreamActive(true)
	c.Enqueue(msgs("streaming"))
	c.Flush(nil)

	snap, ok := sink.last()
	require.True(t, ok)
	assert.True(t, snap.StreamActive)

	c.SetStreamActive(false)
	c.Enqueue(msgs("done"))
	c.Flush(nil)
	snap, _ = sink.last()
	assert.False(t, snap.StreamActive)
}
