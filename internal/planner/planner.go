// Package planner implements the Planner & Parameter Generator: the
// complete_json-backed policies that turn a goal into task stubs, fill in
// a task's call parameters just in time, and decide whether a task should
// be executed directly or decomposed further.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kestrel-run/deskagent/internal/conversation"
	"github.com/kestrel-run/deskagent/internal/llm"
	"github.com/kestrel-run/deskagent/internal/tools"
	"github.com/kestrel-run/deskagent/internal/workflow"
)

// planStub mirrors the wire shape the planner prompt is instructed to
// return: one entry per task, before it is assigned a hierarchical id.
type planStub struct {
	Description    string `json:"description"`
	ToolName       string `json:"tool_name"`
	EstimatedDepth int    `json:"estimated_depth"`
	Compound       bool   `json:"compound"`
}

// LLMPlanner produces ordered Task stubs via Gateway.CompleteJSON.
type LLMPlanner struct {
	Gateway *llm.Gateway
	Model   string
}

// Plan asks the model for an ordered plan for goal, constrained to
// toolNames. errorHint, when non-empty, is folded into the prompt as a
// repair instruction after a prior attempt named an unknown tool.
func (p *LLMPlanner) Plan(ctx context.Context, goal string, toolNames []string, errorHint string) ([]workflow.PlanStub, error) {
	prompt := buildPlannerPrompt(goal, toolNames, errorHint)
	messages := []conversation.Message{{Role: conversation.RoleSystem, Content: prompt}}

	raw, err := p.Gateway.CompleteJSON(ctx, messages, llm.Options{Model: p.Model})
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	stubs, err := decodePlanStubs(raw)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	out := make([]workflow.PlanStub, len(stubs))
	for i, s := range stubs {
		out[i] = workflow.PlanStub{Description: s.Description, ToolName: s.ToolName, Compound: s.Compound}
	}
	return out, nil
}

func buildPlannerPrompt(goal string, toolNames []string, errorHint string) string {
	var b strings.Builder
	b.WriteString("You are the planning stage of a task-execution agent. ")
	b.WriteString("Break the goal into an ordered list of steps, each naming one tool from the catalogue below. ")
	b.WriteString("Respond with a JSON array only, each element shaped ")
	b.WriteString(`{"description": string, "tool_name": string, "estimated_depth": number, "compound": bool}. `)
	b.WriteString("Set compound=true only when a step is itself a multi-part task that should be decomposed further.\n\n")
	fmt.Fprintf(&b, "Goal: %s\n", goal)
	fmt.Fprintf(&b, "Available tools: %s\n", strings.Join(toolNames, ", "))
	if errorHint != "" {
		fmt.Fprintf(&b, "\nYour previous plan was rejected: %s. Use only the tools listed above.\n", errorHint)
	}
	return b.String()
}

// decodePlanStubs accepts either a bare JSON array or an object wrapping
// one under a "tasks"/"steps" key, since models vary in how literally they
// follow the "array only" instruction.
func decodePlanStubs(raw any) ([]planStub, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	var stubs []planStub
	if err := json.Unmarshal(b, &stubs); err == nil {
		return stubs, nil
	}

	var wrapped struct {
		Tasks []planStub `json:"tasks"`
		Steps []planStub `json:"steps"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return nil, fmt.Errorf("unrecognized plan shape: %w", err)
	}
	if len(wrapped.Tasks) > 0 {
		return wrapped.Tasks, nil
	}
	return wrapped.Steps, nil
}

// ToolCatalog is the subset of the tool registry the parameter generator
// and flat tool-selector need: schema lookup for validation.
type ToolCatalog interface {
	Get(name string) (tools.Descriptor, bool)
}
