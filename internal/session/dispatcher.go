package session

import (
	"sync"

	"github.com/zjrosen/relay/internal/log"
)

// Notification names delivered to the UI listener.
const (
	NotifyMessages      = "messagesUpdated"
	NotifyStateChanged  = "stateChanged"
	NotifySessionError  = "sessionError"
	NotifySlashCommands = "slashCommandsUpdated"
)

// Listener receives session notifications. Implementations run on the
// dispatcher's delivery goroutine and must not block for long.
type Listener func(fn string, args ...any)

// Dispatcher fans session notifications out to a single registered listener,
// marshaling every delivery onto one goroutine. Disposal can race with
// in-flight callbacks, so the disposed flag is re-checked immediately before
// each delivery.
type Dispatcher struct {
	mu       sync.Mutex
	listener Listener
	disposed bool

	queue chan dispatch
	done  chan struct{}
}

type dispatch struct {
	fn   string
	args []any
}

// NewDispatcher creates a dispatcher with a running delivery goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		queue: make(chan dispatch, 128),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for item := range d.queue {
		d.mu.Lock()
		listener := d.listener
		disposed := d.disposed
		d.mu.Unlock()
		if disposed || listener == nil {
			continue
		}
		listener(item.fn, item.args...)
	}
}

// SetListener registers the single UI listener, replacing any previous one.
func (d *Dispatcher) SetListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = l
}

// Notify queues a delivery. Drops silently when the queue is full or the
// dispatcher is disposed; the UI tolerates missed intermediate updates
// because every turn boundary force-flushes final state.
func (d *Dispatcher) Notify(fn string, args ...any) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	select {
	case d.queue <- dispatch{fn: fn, args: args}:
	default:
		log.Warn(log.CatSession, "dispatcher queue full, dropping", "fn", fn)
	}
}

// Dispose stops delivery. In-flight queue items are drained without being
// delivered. Safe to call more than once.
func (d *Dispatcher) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	d.mu.Unlock()
	close(d.queue)
	<-d.done
}
