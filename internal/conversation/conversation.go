// Package conversation implements the process-wide Conversation State
// Store: the one active Conversation, appended to under a mutex and read
// by the LLM Gateway and the router through an immutable snapshot.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

func (r Role) valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	default:
		return false
	}
}

// Message is one entry in a Conversation. Messages are append-only: once
// inserted, a Message is never mutated.
type Message struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Conversation is the ordered sequence of Messages for the one active
// conversation in this process. Insertion order is preserved; Append and
// Snapshot are the only ways to observe or mutate it.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
	nowFn    func() time.Time
	log      *SQLLog
}

// New returns an empty Conversation.
func New() *Conversation {
	return &Conversation{nowFn: time.Now}
}

// AttachLog wires an optional persistence path onto an already-built
// Conversation. Every Append from this point on is also mirrored into
// log; a failure to persist is swallowed (logged by the caller, if it
// wants to) rather than failing the in-memory append, since the SQL log
// is a durability extra, not the source of truth for the running process.
func (c *Conversation) AttachLog(log *SQLLog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = log
}

// Append adds a message to the end of the conversation. CreatedAt is
// stamped by the store if the caller leaves it zero. Returns an error if
// role is not one of the recognized roles.
func (c *Conversation) Append(role Role, content string) (Message, error) {
	if !role.valid() {
		return Message{}, fmt.Errorf("conversation: invalid role %q", role)
	}

	msg := Message{
		Role:      role,
		Content:   content,
		CreatedAt: c.nowFn(),
	}

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	log := c.log
	c.mu.Unlock()

	if log != nil {
		_ = log.Record(context.Background(), msg)
	}

	return msg, nil
}

// Snapshot returns an immutable copy of the message list as it stands at
// the moment of the call. Later Appends do not affect a prior Snapshot.
func (c *Conversation) Snapshot() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages currently in the conversation.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
