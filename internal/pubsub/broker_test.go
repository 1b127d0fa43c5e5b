package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub1 := b.Subscribe(ctx)
	sub2 := b.Subscribe(ctx)

	b.Publish("hello")

	for _, sub := range []<-chan Event[string]{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, "hello", ev.Payload)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerDropsWhenSubscriberFull(t *testing.T) {
	b := NewBrokerWithBuffer[int](1)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx)

	b.Publish(1)
	b.Publish(2) // dropped, buffer is full

	ev := <-sub
	assert.Equal(t, 1, ev.Payload)

	select {
	case ev, ok := <-sub:
		if ok {
			t.Fatalf("expected no second event, got %d", ev.Payload)
		}
	default:
	}
}

func TestBrokerUnsubscribeOnContextCancel(t *testing.T) {
	b := NewBroker[string]()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx)
	require.Equal(t, 1, b.SubscriberCount())

	cancel()

	// Channel closes once the cleanup goroutine runs.
	for range sub { //nolint:revive // drain until closed
	}
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerCloseClosesSubscribers(t *testing.T) {
	b := NewBroker[string]()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx)
	b.Close()

	_, ok := <-sub
	assert.False(t, ok)

	// Publish and Subscribe after Close are safe no-ops.
	b.Publish("ignored")
	late := b.Subscribe(ctx)
	_, ok = <-late
	assert.False(t, ok)
}
