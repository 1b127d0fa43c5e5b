// Package mock provides a scriptable in-memory provider for exercising the
// session layer without spawning real processes.
package mock

import (
	"context"
	"sync"

	"github.com/zjrosen/relay/internal/client"
)

// Script produces the events a mock process emits in response to one user
// turn. A nil script echoes the text back as a completed assistant turn.
type Script func(text string) []client.AgentEvent

// Client implements client.AgentClient with scripted responses.
type Client struct {
	script Script

	mu        sync.Mutex
	processes []*Process
}

// NewClient creates a mock client with the given script.
func NewClient(script Script) *Client {
	return &Client{script: script}
}

// Register installs this client in the provider registry so it can be
// launched by type like a real provider.
func (c *Client) Register() {
	client.RegisterClient(client.ClientMock, func() client.AgentClient { return c })
}

// Type returns the provider type.
func (c *Client) Type() client.ClientType {
	return client.ClientMock
}

// Spawn creates a mock process. It immediately emits an init event carrying
// a synthetic session ref.
func (c *Client) Spawn(ctx context.Context, cfg client.Config) (client.AgentProcess, error) {
	p := newProcess(ctx, cfg, c.script)
	c.mu.Lock()
	c.processes = append(c.processes, p)
	c.mu.Unlock()
	return p, nil
}

// Processes returns every process spawned so far.
func (c *Client) Processes() []*Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Process(nil), c.processes...)
}

// LastProcess returns the most recently spawned process, or nil.
func (c *Client) LastProcess() *Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.processes) == 0 {
		return nil
	}
	return c.processes[len(c.processes)-1]
}

var _ client.AgentClient = (*Client)(nil)
