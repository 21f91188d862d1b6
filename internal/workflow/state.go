package workflow

import (
	"sort"
	"sync"
)

// WorkflowStatus is the overall state of one WorkflowState.
type WorkflowStatus string

const (
	WorkflowRunning     WorkflowStatus = "running"
	WorkflowNeedsReplan WorkflowStatus = "needs_replan"
	WorkflowCompleted    WorkflowStatus = "completed"
	WorkflowFailed       WorkflowStatus = "failed"
)

// MaxScratchpadBytes bounds the rolling context_synthesizer scratchpad;
// appends beyond this drop the oldest content.
const MaxScratchpadBytes = 8 << 10

// WorkflowState is owned by a single /agent invocation: the plan, its
// tasks, and the running scratchpad handed to later parameter generation.
type WorkflowState struct {
	mu sync.Mutex

	OriginalGoal string
	Tasks        map[string]*Task
	Order        []string
	CurrentTaskID string
	Status       WorkflowStatus
	Persona      string
	FinalResponse string
	FailReason   string
	scratchpad   string
}

// NewWorkflowState starts a fresh, empty workflow for goal.
func NewWorkflowState(goal, persona string) *WorkflowState {
	return &WorkflowState{
		OriginalGoal: goal,
		Tasks:        make(map[string]*Task),
		Status:       WorkflowRunning,
		Persona:      persona,
	}
}

// AddTask inserts t and keeps Order sorted by task-id path.
func (s *WorkflowState) AddTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tasks[t.ID] = t
	s.Order = append(s.Order, t.ID)
	sort.Slice(s.Order, func(i, j int) bool {
		return CompareTaskIDs(s.Order[i], s.Order[j]) < 0
	})
}

// Task returns the task at id, if any.
func (s *WorkflowState) Task(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.Tasks[id]
	return t, ok
}

// AppendScratchpad folds text into the rolling scratchpad, dropping the
// oldest bytes once MaxScratchpadBytes is exceeded.
func (s *WorkflowState) AppendScratchpad(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratchpad += text
	if len(s.scratchpad) > MaxScratchpadBytes {
		s.scratchpad = s.scratchpad[len(s.scratchpad)-MaxScratchpadBytes:]
	}
}

// Scratchpad returns the current rolling context text.
func (s *WorkflowState) Scratchpad() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scratchpad
}

// SetStatus transitions the workflow's overall status.
func (s *WorkflowState) SetStatus(status WorkflowStatus, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	if reason != "" {
		s.FailReason = reason
	}
}

// GetStatus returns the current overall status.
func (s *WorkflowState) GetStatus() WorkflowStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// recomputeParentStatus marks id's parent succeeded once every child is
// succeeded or superseded, walking up the tree.
func (s *WorkflowState) recomputeParentStatus(id string) {
	t, ok := s.Tasks[id]
	if !ok || t.ParentID == "" {
		return
	}
	parent, ok := s.Tasks[t.ParentID]
	if !ok {
		return
	}

	allDone := true
	for _, childID := range parent.ChildrenIDs {
		child, ok := s.Tasks[childID]
		if !ok {
			allDone = false
			break
		}
		if child.Status != StatusSucceeded && child.Status != StatusSuperseded {
			allDone = false
			break
		}
	}
	if allDone && parent.Status != StatusSucceeded {
		parent.Status = StatusSucceeded
		s.recomputeParentStatus(parent.ID)
	}
}

// CompleteTask records a task's outcome and, if it succeeded, re-evaluates
// its parent's completion per the "parent succeeds only once every child
// does" invariant.
func (s *WorkflowState) CompleteTask(id string, status Status, result, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.Tasks[id]
	if !ok {
		return
	}
	t.Status = status
	t.Result = result
	t.Err = errText

	if status == StatusSucceeded || status == StatusSuperseded {
		s.recomputeParentStatus(id)
	}
}

// PendingTasks returns tasks whose status is pending and whose cooldown
// has elapsed, in Order.
func (s *WorkflowState) PendingTasks(ready func(*Task) bool) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0)
	for _, id := range s.Order {
		t := s.Tasks[id]
		if t.Status == StatusPending && ready(t) {
			out = append(out, t)
		}
	}
	return out
}

// TopLevelTaskCount returns the number of tasks with no parent.
func (s *WorkflowState) TopLevelTaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.Tasks {
		if t.ParentID == "" {
			n++
		}
	}
	return n
}

// HasOutstandingTasks reports whether any task is not in a terminal state.
func (s *WorkflowState) HasOutstandingTasks() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.Tasks {
		switch t.Status {
		case StatusPending, StatusInProgress:
			return true
		}
	}
	return false
}
