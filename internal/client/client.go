// Package client provides provider-agnostic management of headless AI agent
// subprocesses: a unified event vocabulary, a per-provider translation
// contract, and shared process plumbing.
package client

import (
	"context"
	"fmt"
)

// ClientType identifies an agent provider.
type ClientType string

const (
	// ClientClaude is the Claude Code CLI provider.
	ClientClaude ClientType = "claude"
	// ClientCodex is the Codex CLI provider.
	ClientCodex ClientType = "codex"
	// ClientMock is a scriptable in-process provider for tests.
	ClientMock ClientType = "mock"
)

// AgentClient is a factory for agent subprocesses. If cfg.SessionID is set
// the spawned process resumes that session, otherwise it starts a new one.
type AgentClient interface {
	Type() ClientType
	Spawn(ctx context.Context, cfg Config) (AgentProcess, error)
}

// ErrUnknownClientType is returned for unregistered client types.
var ErrUnknownClientType = fmt.Errorf("unknown client type")

var clientRegistry = make(map[ClientType]func() AgentClient)

// RegisterClient registers a client factory. Called from provider package
// init functions.
func RegisterClient(clientType ClientType, factory func() AgentClient) {
	clientRegistry[clientType] = factory
}

// NewClient creates an AgentClient for the given type.
func NewClient(clientType ClientType) (AgentClient, error) {
	factory, ok := clientRegistry[clientType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClientType, clientType)
	}
	return factory(), nil
}

// RegisteredClients returns all registered client types.
func RegisteredClients() []ClientType {
	types := make([]ClientType, 0, len(clientRegistry))
	for t := range clientRegistry {
		types = append(types, t)
	}
	return types
}

// IsRegistered reports whether a client type has been registered.
func IsRegistered(clientType ClientType) bool {
	_, ok := clientRegistry[clientType]
	return ok
}
