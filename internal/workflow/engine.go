package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kestrel-run/deskagent/internal/logging"
	"github.com/kestrel-run/deskagent/internal/tools"
)

// ErrNeedsDecomposition is the sentinel retryOrFail records into a task's
// Err when its next attempt should be replanned into sub-tasks rather
// than retried verbatim — a complexity analyzer reads it back on the
// task's next pending pass to route it to the spawner instead of the
// executor.
const ErrNeedsDecomposition = "NeedsDecomposition"

// DefaultMaxDepth bounds sub-agent spawn recursion; a spawn attempt past
// this depth is rejected and falls through to error_fallback.
const DefaultMaxDepth = 4

// DefaultMaxPlannerRetries bounds how many times the planner may be
// re-invoked with an error hint after returning an unknown tool name.
const DefaultMaxPlannerRetries = 3

// ErrCancelled is returned by Run when ctx is cancelled mid-execution.
var ErrCancelled = errors.New("workflow: cancelled")

// PlanStub is one task the planner proposes, before it is assigned an id.
type PlanStub struct {
	Description string
	ToolName    string
	Compound    bool
}

// Planner produces an ordered plan for goal. errorHint is non-empty on a
// repair retry, carrying the previous attempt's validation failure.
type Planner interface {
	Plan(ctx context.Context, goal string, toolNames []string, errorHint string) ([]PlanStub, error)
}

// Decision is the complexity analyzer's execute-or-spawn verdict.
type Decision string

const (
	DecisionExecute Decision = "execute"
	DecisionSpawn   Decision = "spawn"
)

// ComplexityAnalyzer routes a task to direct execution or decomposition.
// Implementations are a pure function of the task.
type ComplexityAnalyzer interface {
	Analyze(t *Task) Decision
}

// ParameterGenerator produces a task's call parameters just in time,
// informed by the rolling scratchpad and the original goal.
type ParameterGenerator interface {
	Generate(ctx context.Context, t *Task, goal, scratchpad string) (json.RawMessage, error)
}

// ToolInvoker is the subset of the tool registry the engine needs.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args json.RawMessage) (string, error)
	ToolNames() []string
}

// GoalValidator asks whether the original goal is satisfied given the
// tasks executed so far.
type GoalValidator interface {
	Validate(ctx context.Context, goal string, state *WorkflowState) (bool, error)
}

// Finalizer produces the final_response once the workflow completes.
type Finalizer interface {
	Finalize(ctx context.Context, goal string, state *WorkflowState) (string, error)
}

// Engine drives one WorkflowState through the node catalogue until it
// reaches a terminal status.
type Engine struct {
	Planner    Planner
	Complexity ComplexityAnalyzer
	Params     ParameterGenerator
	Tools      ToolInvoker
	Validator  GoalValidator
	Final      Finalizer

	MaxDepth          int
	MaxPlannerRetries int

	sink  logging.Sink
	nowFn func() time.Time
}

// New builds an Engine with the documented defaults for MaxDepth and
// MaxPlannerRetries.
func New(planner Planner, complexity ComplexityAnalyzer, params ParameterGenerator, tools ToolInvoker, validator GoalValidator, final Finalizer, sink logging.Sink) *Engine {
	return &Engine{
		Planner:           planner,
		Complexity:        complexity,
		Params:            params,
		Tools:             tools,
		Validator:         validator,
		Final:             final,
		MaxDepth:          DefaultMaxDepth,
		MaxPlannerRetries: DefaultMaxPlannerRetries,
		sink:              sink,
		nowFn:             time.Now,
	}
}

// Run drives state from its initial empty plan through to completed or
// failed, honoring ctx cancellation between every node.
func (e *Engine) Run(ctx context.Context, goal, persona string) (*WorkflowState, error) {
	state := NewWorkflowState(goal, persona)

	for {
		if ctx.Err() != nil {
			state.SetStatus(WorkflowFailed, "Cancelled")
			return state, ErrCancelled
		}

		switch state.GetStatus() {
		case WorkflowCompleted:
			return state, nil
		case WorkflowFailed:
			return state, fmt.Errorf("workflow: %s", state.FailReason)
		}

		if len(state.Tasks) == 0 {
			if err := e.initialPlanner(ctx, state); err != nil {
				state.SetStatus(WorkflowFailed, err.Error())
			}
			continue
		}

		if state.CurrentTaskID == "" {
			next := e.taskPlanner(state)
			if next == nil {
				if state.HasOutstandingTasks() {
					// An in-progress task with no current pointer should not
					// happen under sequential execution; treat as a stall.
					state.SetStatus(WorkflowFailed, "stalled: outstanding task with no current pointer")
					continue
				}
				if err := e.goalValidator(ctx, state); err != nil {
					state.SetStatus(WorkflowFailed, err.Error())
				}
				continue
			}
			state.CurrentTaskID = next.ID
			next.Status = StatusInProgress
			continue
		}

		current, ok := state.Task(state.CurrentTaskID)
		if !ok {
			state.CurrentTaskID = ""
			continue
		}

		if err := e.runCurrent(ctx, state, current); err != nil {
			state.SetStatus(WorkflowFailed, err.Error())
		}
	}
}

// initialPlanner fills an empty WorkflowState's tasks from the planner's
// output, retrying with an error hint up to MaxPlannerRetries when the
// plan names a tool the registry doesn't have.
func (e *Engine) initialPlanner(ctx context.Context, state *WorkflowState) error {
	hint := ""
	knownTools := e.Tools.ToolNames()

	for attempt := 1; attempt <= e.MaxPlannerRetries+1; attempt++ {
		stubs, err := e.Planner.Plan(ctx, state.OriginalGoal, knownTools, hint)
		if err != nil {
			return fmt.Errorf("planner: %w", err)
		}

		if bad := firstUnknownTool(stubs, knownTools); bad != "" {
			if attempt > e.MaxPlannerRetries {
				return fmt.Errorf("planner: unresolved unknown tool %q after %d attempts", bad, attempt)
			}
			hint = fmt.Sprintf("unknown tool %q; choose only from the provided tool list", bad)
			continue
		}

		base := state.TopLevelTaskCount()
		for i, stub := range stubs {
			id := fmt.Sprintf("%d", base+i+1)
			t := NewTask(id, "", stub.Description, stub.ToolName)
			t.Compound = stub.Compound
			state.AddTask(t)
		}
		return nil
	}
	return fmt.Errorf("planner: exhausted retries")
}

func firstUnknownTool(stubs []PlanStub, known []string) string {
	index := make(map[string]bool, len(known))
	for _, k := range known {
		index[k] = true
	}
	for _, s := range stubs {
		if s.ToolName != "" && !index[s.ToolName] {
			return s.ToolName
		}
	}
	return ""
}

// taskPlanner picks the highest-priority pending task whose cooldown has
// elapsed, per task-id order.
func (e *Engine) taskPlanner(state *WorkflowState) *Task {
	now := e.nowFn()
	ready := state.PendingTasks(func(t *Task) bool { return t.ReadyAt(now) })
	if len(ready) == 0 {
		return nil
	}
	return ready[0]
}

// runCurrent executes the classifier → (executor|spawner) chain for the
// current task.
func (e *Engine) runCurrent(ctx context.Context, state *WorkflowState, t *Task) error {
	switch e.Complexity.Analyze(t) {
	case DecisionSpawn:
		return e.spawnSubagent(ctx, state, t)
	default:
		return e.taskExecutor(ctx, state, t)
	}
}

// spawnSubagent inserts a child sub-plan under t, rejecting the spawn if
// it would exceed MaxDepth by retrying t itself with policy "retry".
func (e *Engine) spawnSubagent(ctx context.Context, state *WorkflowState, t *Task) error {
	if t.Depth+1 > e.MaxDepth {
		return e.retryOrFail(ctx, state, t, "spawn rejected: depth cap exceeded")
	}

	stubs, err := e.Planner.Plan(ctx, t.Description, e.Tools.ToolNames(), "")
	if err != nil {
		return e.retryOrFail(ctx, state, t, fmt.Sprintf("sub-plan: %v", err))
	}
	if len(stubs) == 0 {
		stubs = []PlanStub{{Description: t.Description, ToolName: t.ToolName}}
	}

	for i, stub := range stubs {
		childID := fmt.Sprintf("%s.%d", t.ID, i+1)
		child := NewTask(childID, t.ID, stub.Description, stub.ToolName)
		child.Compound = stub.Compound
		state.AddTask(child)
		t.ChildrenIDs = append(t.ChildrenIDs, childID)
	}
	t.Status = StatusInProgress
	state.CurrentTaskID = ""
	return nil
}

// taskExecutor generates parameters just in time, invokes the tool, and
// folds the result into the scratchpad on success.
func (e *Engine) taskExecutor(ctx context.Context, state *WorkflowState, t *Task) error {
	params, err := e.Params.Generate(ctx, t, state.OriginalGoal, state.Scratchpad())
	if err != nil {
		return e.retryOrFail(ctx, state, t, err.Error())
	}
	t.Params = params

	result, err := e.Tools.Invoke(ctx, t.ToolName, params)
	if err != nil {
		if errors.Is(err, tools.ErrToolNotFound) {
			// The assigned tool doesn't exist; retrying the same call
			// would fail identically every time, so route the next
			// attempt to the spawner instead of the executor.
			return e.retryOrFail(ctx, state, t, ErrNeedsDecomposition)
		}
		return e.retryOrFail(ctx, state, t, err.Error())
	}

	t.Attempts++
	state.CompleteTask(t.ID, StatusSucceeded, result, "")
	state.AppendScratchpad(fmt.Sprintf("[%s] %s -> %s\n", t.ID, t.Description, result))
	state.CurrentTaskID = ""
	return nil
}

// retryOrFail records a failed attempt. While attempts remain, the task
// goes back to pending behind a backoff cooldown; once exhausted it routes
// to error_fallback, which marks the task (and, if it has no parent, the
// whole workflow) failed.
func (e *Engine) retryOrFail(ctx context.Context, state *WorkflowState, t *Task, errText string) error {
	t.Attempts++
	t.Err = errText
	state.CurrentTaskID = ""

	if t.Attempts < t.MaxAttempts {
		t.Status = StatusPending
		t.NextAttemptAt = cooldownSchedule(t.Attempts).Next(e.nowFn())
		return nil
	}
	return e.errorFallback(ctx, state, t)
}

// errorFallback marks t (and, if it has no parent to absorb the failure,
// the whole workflow) failed once its attempts are exhausted.
func (e *Engine) errorFallback(_ context.Context, state *WorkflowState, t *Task) error {
	state.CompleteTask(t.ID, StatusFailed, "", t.Err)
	if t.ParentID == "" {
		return fmt.Errorf("task %s failed after %d attempts: %s", t.ID, t.Attempts, t.Err)
	}
	return nil
}

// goalValidator asks whether the goal is satisfied once no pending tasks
// remain, completing or requesting a replan.
func (e *Engine) goalValidator(ctx context.Context, state *WorkflowState) error {
	satisfied, err := e.Validator.Validate(ctx, state.OriginalGoal, state)
	if err != nil {
		return fmt.Errorf("goal validator: %w", err)
	}
	if !satisfied {
		state.SetStatus(WorkflowNeedsReplan, "")
		return e.initialPlanner(ctx, state)
	}

	final, err := e.Final.Finalize(ctx, state.OriginalGoal, state)
	if err != nil {
		return fmt.Errorf("finalizer: %w", err)
	}
	state.FinalResponse = final
	state.SetStatus(WorkflowCompleted, "")
	return nil
}

// cooldownSchedule returns the cron.Schedule whose Next(now) gives a
// task's retry-cooldown due time: a linear per-attempt delay capped at
// 30s, expressed as a cron.ConstantDelaySchedule rather than hand-rolled
// duration arithmetic so the due-time check is computed the same way a
// cron-driven retry scheduler would compute it.
func cooldownSchedule(attempt int) cron.Schedule {
	d := time.Duration(attempt) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return cron.ConstantDelaySchedule{Delay: d}
}
