package client_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/relay/internal/client"
	"github.com/zjrosen/relay/internal/client/providers/claude"
	"github.com/zjrosen/relay/internal/client/providers/codex"
)

// parserTestCase defines a provider parser to test against the contract.
type parserTestCase struct {
	name   string
	parser client.EventParser
}

func allParsers() []parserTestCase {
	return []parserTestCase{
		{"Claude", claude.NewParser()},
		{"Codex", codex.NewParser()},
	}
}

// TestAllParsers_Contract_InvalidJSON verifies that every parser returns an
// error for malformed input instead of panicking or fabricating events.
func TestAllParsers_Contract_InvalidJSON(t *testing.T) {
	for _, tc := range allParsers() {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.parser.ParseEvent([]byte("not json"))
			require.Error(t, err)
		})
	}
}

// TestAllParsers_Contract_EmptyInput verifies that nil/empty input does not
// panic.
func TestAllParsers_Contract_EmptyInput(t *testing.T) {
	for _, tc := range allParsers() {
		t.Run(tc.name, func(t *testing.T) {
			require.NotPanics(t, func() {
				_, _ = tc.parser.ParseEvent(nil)
			})
			require.NotPanics(t, func() {
				_, _ = tc.parser.ParseEvent([]byte{})
			})
		})
	}
}

// TestAllParsers_Contract_UnknownTypeIgnored verifies that unrecognized
// record types yield no events rather than errors, so new provider record
// types never break the stream.
func TestAllParsers_Contract_UnknownTypeIgnored(t *testing.T) {
	for _, tc := range allParsers() {
		t.Run(tc.name, func(t *testing.T) {
			events, err := tc.parser.ParseEvent([]byte(`{"type":"something.new"}`))
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

// TestClientRegistry verifies provider registration. The real providers
// register themselves in init.
func TestClientRegistry(t *testing.T) {
	assert.True(t, client.IsRegistered(client.ClientClaude))
	assert.True(t, client.IsRegistered(client.ClientCodex))

	c, err := client.NewClient(client.ClientClaude)
	require.NoError(t, err)
	assert.Equal(t, client.ClientClaude, c.Type())

	_, err = client.NewClient(client.ClientType("nope"))
	require.Error(t, err)
}
