package session

import (
	"sync"
	"time"

	"github.com/zjrosen/relay/internal/conversation"
)

// DefaultCoalesceInterval is the minimum gap between UI deliveries.
const DefaultCoalesceInterval = 50 * time.Millisecond

// Snapshot is an immutable copy of the message list tagged with a
// monotonically increasing sequence. Only the highest surviving sequence is
// ever rendered.
type Snapshot struct {
	Seq      uint64
	Messages []conversation.Message
	// StreamActive distinguishes mid-turn deliveries, where the UI must not
	// be told loading has finished, from idle ones.
	StreamActive bool
}

// Coalescer throttles message-list delivery to the UI. Rapid enqueues within
// the interval collapse to the latest snapshot; a turn boundary flush
// bypasses the interval so the UI reflects final state without delay.
type Coalescer struct {
	deliver  func(Snapshot)
	interval time.Duration

	mu           sync.Mutex
	seq          uint64
	pending      *Snapshot
	last         *Snapshot
	timer        *time.Timer
	lastDelivery time.Time
	streamActive bool
}

// NewCoalescer creates a coalescer delivering through the given callback.
func NewCoalescer(interval time.Duration, deliver func(Snapshot)) *Coalescer {
	if interval <= 0 {
		interval = DefaultCoalesceInterval
	}
	return &Coalescer{deliver: deliver, interval: interval, lastDelivery: time.Now()}
}

// SetStreamActive records whether a streaming turn is in progress. The flag
// is stamped onto every snapshot delivered after the change.
func (c *Coalescer) SetStreamActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamActive = active
}

// StreamActive reports the current stream flag.
func (c *Coalescer) StreamActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamActive
}

// Enqueue schedules delivery of a snapshot no sooner than the interval after
// the previous delivery. Concurrent enqueues before the interval elapses
// coalesce to the latest snapshot only.
func (c *Coalescer) Enqueue(messages []conversation.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.pending = &Snapshot{Seq: c.seq, Messages: messages, StreamActive: c.streamActive}
	if c.timer != nil {
		// A scheduled delivery is pending; it picks up the newer snapshot
		// or reschedules itself.
		return
	}
	c.scheduleLocked()
}

// scheduleLocked arms the delivery timer respecting the minimum interval.
func (c *Coalescer) scheduleLocked() {
	delay := c.interval - time.Since(c.lastDelivery)
	if delay < 0 {
		delay = 0
	}
	captured := c.seq
	c.timer = time.AfterFunc(delay, func() { c.fire(captured) })
}

func (c *Coalescer) fire(captured uint64) {
	c.mu.Lock()
	c.timer = nil
	if captured != c.seq {
		// Superseded while waiting; hand off to a fresh schedule carrying
		// the newer sequence.
		c.scheduleLocked()
		c.mu.Unlock()
		return
	}
	snap := c.pending
	c.pending = nil
	if snap == nil {
		c.mu.Unlock()
		return
	}
	c.last = snap
	c.lastDelivery = time.Now()
	c.mu.Unlock()

	c.deliver(*snap)
}

// Flush forces immediate delivery of the latest pending snapshot, or the
// last delivered one if nothing is pending, then invokes callback. Used at
// turn boundaries.
func (c *Coalescer) Flush(callback func()) {
	c.mu.Lock()
	c.seq++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	snap := c.pending
	c.pending = nil
	if snap == nil {
		snap = c.last
	}
	if snap != nil {
		resnap := *snap
		resnap.Seq = c.seq
		resnap.StreamActive = c.streamActive
		c.last = &resnap
		snap = &resnap
	}
	c.lastDelivery = time.Now()
	c.mu.Unlock()

	if snap != nil {
		c.deliver(*snap)
	}
	if callback != nil {
		callback()
	}
}

// Stop cancels any scheduled delivery.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
