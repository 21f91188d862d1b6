package mcp

import "errors"

// ErrTransportClosed is returned by Call once the transport has failed or
// been closed; it is the root cause wrapped into the dispatcher's
// ToolTransportError.
var ErrTransportClosed = errors.New("mcp transport closed")

// ErrCallTimeout is returned by Call when its per-invocation deadline
// elapses before a response arrives.
var ErrCallTimeout = errors.New("mcp call timed out")

// SessionStatus is the lifecycle state of one MCP session.
type SessionStatus string

const (
	StatusStarting SessionStatus = "starting"
	StatusReady    SessionStatus = "ready"
	StatusFailed   SessionStatus = "failed"
	StatusStopped  SessionStatus = "stopped"
)
