package mcp

import (
	"context"
	"encoding/json"
)

// Transport defines the framed request/response channel to one MCP server.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Call sends a request and waits for a response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Events returns a channel for receiving notifications from the server.
	Events() <-chan *JSONRPCNotification

	// Connected returns whether the transport is connected.
	Connected() bool

	// Failed returns a channel closed once the transport has observed an
	// unrecoverable failure (EOF or I/O error), distinct from a deliberate
	// Close.
	Failed() <-chan struct{}
}

// NewTransport creates the transport for a server configuration. Stdio is
// the only transport this core speaks; the switch exists so a future
// transport can be added without touching callers.
func NewTransport(cfg *ServerConfig) Transport {
	return NewStdioTransport(cfg)
}
