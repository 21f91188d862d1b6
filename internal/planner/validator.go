package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kestrel-run/deskagent/internal/conversation"
	"github.com/kestrel-run/deskagent/internal/llm"
	"github.com/kestrel-run/deskagent/internal/workflow"
)

// LLMGoalValidator asks the model whether the original goal is satisfied by
// the tasks executed so far, once no pending tasks remain.
type LLMGoalValidator struct {
	Gateway *llm.Gateway
	Model   string
}

type validatorVerdict struct {
	Satisfied bool `json:"satisfied"`
}

// Validate implements workflow.GoalValidator.
func (v *LLMGoalValidator) Validate(ctx context.Context, goal string, state *workflow.WorkflowState) (bool, error) {
	prompt := buildValidatorPrompt(goal, state)
	messages := []conversation.Message{{Role: conversation.RoleSystem, Content: prompt}}

	raw, err := v.Gateway.CompleteJSON(ctx, messages, llm.Options{Model: v.Model})
	if err != nil {
		return false, fmt.Errorf("goal validator: %w", err)
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return false, fmt.Errorf("goal validator: %w", err)
	}
	var verdict validatorVerdict
	if err := json.Unmarshal(b, &verdict); err != nil {
		return false, fmt.Errorf("goal validator: %w", err)
	}
	return verdict.Satisfied, nil
}

func buildValidatorPrompt(goal string, state *workflow.WorkflowState) string {
	var b strings.Builder
	b.WriteString("Decide whether the original goal has been fully satisfied by the work done so far. ")
	b.WriteString(`Respond with a single JSON object: {"satisfied": bool}.` + "\n\n")
	fmt.Fprintf(&b, "Original goal: %s\n", goal)
	fmt.Fprintf(&b, "Work completed:\n%s\n", state.Scratchpad())
	return b.String()
}

// LLMFinalizer produces the final_response via one more complete call over
// the gathered scratchpad, once the goal validator is satisfied.
type LLMFinalizer struct {
	Gateway *llm.Gateway
	Model   string
}

// Finalize implements workflow.Finalizer.
func (f *LLMFinalizer) Finalize(ctx context.Context, goal string, state *workflow.WorkflowState) (string, error) {
	var b strings.Builder
	b.WriteString("Write the final response to the user summarizing the outcome of the goal below, ")
	b.WriteString("using the gathered results. Respond in plain prose, not JSON.\n\n")
	fmt.Fprintf(&b, "Original goal: %s\n", goal)
	fmt.Fprintf(&b, "Results:\n%s\n", state.Scratchpad())

	messages := []conversation.Message{{Role: conversation.RoleSystem, Content: b.String()}}
	text, err := f.Gateway.Complete(ctx, messages, llm.Options{Model: f.Model})
	if err != nil {
		return "", fmt.Errorf("finalizer: %w", err)
	}
	return text, nil
}
