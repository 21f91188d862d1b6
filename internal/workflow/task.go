// Package workflow implements the Hierarchical Workflow Engine: the
// WorkflowState machine that plans, executes, and (when a task proves too
// coarse) spawns sub-plans for one /agent invocation, down to a bounded
// recursion depth.
package workflow

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is a Task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusSuperseded Status = "superseded"
)

// Task is one node in a WorkflowState's plan. ID is a hierarchical path
// string ("1.2.3"); Depth is the number of dots in ID.
type Task struct {
	ID          string
	ParentID    string
	Depth       int
	Description string
	ToolName    string
	Params      json.RawMessage
	Status      Status
	Result      string
	Err         string
	Attempts    int
	MaxAttempts int
	NextAttemptAt time.Time
	ChildrenIDs []string

	// Compound marks a task the planner flagged as needing decomposition
	// rather than direct execution.
	Compound bool
}

// NewTask builds a Task at id with depth derived from id's dot count.
func NewTask(id, parentID, description, toolName string) *Task {
	return &Task{
		ID:          id,
		ParentID:    parentID,
		Depth:       strings.Count(id, "."),
		Description: description,
		ToolName:    toolName,
		Status:      StatusPending,
		MaxAttempts: 3,
	}
}

// ReadyAt reports whether the task's cooldown, if any, has elapsed.
func (t *Task) ReadyAt(now time.Time) bool {
	return t.NextAttemptAt.IsZero() || !t.NextAttemptAt.After(now)
}

// CompareTaskIDs orders two hierarchical task-id paths by segment-wise
// numeric comparison, so "2" sorts before "10" and "10.1" sorts after
// "10" but before "11".
func CompareTaskIDs(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if as[i] != bs[i] {
			if as[i] < bs[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	default:
		return 0
	}
}
