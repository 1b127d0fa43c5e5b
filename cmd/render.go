package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/zjrosen/relay/internal/conversation"
	"github.com/zjrosen/relay/internal/session"
)

// renderer turns coalesced snapshots into terminal output. Assistant text
// streams incrementally; tool invocations print as one-line headers. The
// chat loop blocks on waitIdle between sending a prompt and reading the
// next one.
type renderer struct {
	out io.Writer

	mu      sync.Mutex
	printed map[int]int // message index -> bytes of Content already written
	tools   map[int]int // message index -> tool_use headers already written

	idle chan struct{}
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:     out,
		printed: make(map[int]int),
		tools:   make(map[int]int),
		idle:    make(chan struct{}, 1),
	}
}

// listen is the dispatcher callback.
func (r *renderer) listen(fn string, args ...any) {
	switch fn {
	case session.NotifyMessages:
		snap, ok := args[0].(session.Snapshot)
		if !ok {
			return
		}
		r.render(snap)
		if !snap.StreamActive {
			r.signalIdle()
		}
	case session.NotifySessionError:
		r.signalIdle()
	}
}

func (r *renderer) render(snap session.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, msg := range snap.Messages {
		switch msg.Role {
		case conversation.RoleAssistant:
			if n := r.printed[i]; len(msg.Content) > n {
				fmt.Fprint(r.out, msg.Content[n:])
				r.printed[i] = len(msg.Content)
			}
			names := toolNames(msg.Raw)
			for _, name := range names[r.tools[i]:] {
				fmt.Fprintf(r.out, "\n* %s\n", name)
			}
			r.tools[i] = len(names)
		case conversation.RoleError:
			if r.printed[i] == 0 {
				fmt.Fprintf(r.out, "\nerror: %s\n", msg.Content)
				r.printed[i] = len(msg.Content)
			}
		}
	}
	if !snap.StreamActive {
		fmt.Fprintln(r.out)
	}
}

func (r *renderer) signalIdle() {
	select {
	case r.idle <- struct{}{}:
	default:
	}
}

// waitIdle blocks until the current turn finishes delivering.
func (r *renderer) waitIdle(ctx context.Context) {
	select {
	case <-r.idle:
	case <-ctx.Done():
	}
}

// toolNames extracts tool_use block names from a provider message tree.
func toolNames(raw map[string]any) []string {
	if raw == nil {
		return nil
	}
	message, _ := raw["message"].(map[string]any)
	if message == nil {
		return nil
	}
	content, _ := message["content"].([]any)
	var names []string
	for _, block := range content {
		m, ok := block.(map[string]any)
		if !ok {
			continue
		}
		if m["type"] == "tool_use" {
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}
