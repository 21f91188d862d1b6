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

// LLMParameterGenerator produces a task's call parameters just in time,
// validating against the tool's arg_schema and repairing once on
// violation before giving up.
type LLMParameterGenerator struct {
	Gateway *llm.Gateway
	Tools   ToolCatalog
	Model   string
}

// Generate implements workflow.ParameterGenerator.
func (g *LLMParameterGenerator) Generate(ctx context.Context, t *workflow.Task, goal, scratchpad string) (json.RawMessage, error) {
	desc, ok := g.Tools.Get(t.ToolName)
	if !ok {
		return nil, fmt.Errorf("parameter generator: unknown tool %q", t.ToolName)
	}

	hint := ""
	for attempt := 0; attempt < 2; attempt++ {
		prompt := buildParamPrompt(t, desc, goal, scratchpad, hint)
		messages := []conversation.Message{{Role: conversation.RoleSystem, Content: prompt}}

		raw, err := g.Gateway.CompleteJSON(ctx, messages, llm.Options{Model: g.Model})
		if err != nil {
			return nil, fmt.Errorf("parameter generator: %w", err)
		}

		params, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter generator: %w", err)
		}

		if verr := desc.ArgSchema.Validate(t.ToolName, params); verr != nil {
			hint = verr.Error()
			continue
		}
		return params, nil
	}
	return nil, fmt.Errorf("parameter generator: schema violation after repair retry: %s", hint)
}

func buildParamPrompt(t *workflow.Task, desc tools.Descriptor, goal, scratchpad, hint string) string {
	var b strings.Builder
	b.WriteString("Produce the call parameters for the next tool invocation. ")
	b.WriteString("Respond with a single JSON object matching the argument schema, nothing else.\n\n")
	fmt.Fprintf(&b, "Original goal: %s\n", goal)
	fmt.Fprintf(&b, "Task: %s\n", t.Description)
	fmt.Fprintf(&b, "Tool: %s (%s)\n", desc.Name, desc.Description)
	fmt.Fprintf(&b, "Argument schema fields: %s\n", describeFields(desc))
	if scratchpad != "" {
		fmt.Fprintf(&b, "\nRecent results:\n%s\n", scratchpad)
	}
	if hint != "" {
		fmt.Fprintf(&b, "\nYour previous parameters were rejected: %s. Fix them and respond again.\n", hint)
	}
	return b.String()
}

func describeFields(desc tools.Descriptor) string {
	if len(desc.ArgSchema.Fields) == 0 {
		return "(unstructured; see tool description)"
	}
	parts := make([]string, len(desc.ArgSchema.Fields))
	for i, f := range desc.ArgSchema.Fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		parts[i] = fmt.Sprintf("%s:%s(%s)", f.Name, f.Type, req)
	}
	return strings.Join(parts, ", ")
}
