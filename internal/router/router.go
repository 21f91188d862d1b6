// Package router implements the Request Router: per input line, dispatch
// to the slash-command subsystem, a one-shot chat completion, a flat
// tool-selector call, or a full hierarchical workflow run.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kestrel-run/deskagent/internal/conversation"
	"github.com/kestrel-run/deskagent/internal/llm"
	"github.com/kestrel-run/deskagent/internal/logging"
	"github.com/kestrel-run/deskagent/internal/ratelimit"
	"github.com/kestrel-run/deskagent/internal/tools"
	"github.com/kestrel-run/deskagent/internal/workflow"
)

// Intent is the classifier's verdict for one turn.
type Intent string

const (
	IntentChat  Intent = "chat"
	IntentTool  Intent = "tool"
	IntentAgent Intent = "agent"
)

// CommandResult is the slash-command subsystem's output for one turn.
type CommandResult struct {
	Text string
}

// SlashHandler runs a "/"-prefixed line. It is owned and implemented
// outside this package; the router only dispatches to it.
type SlashHandler interface {
	Handle(ctx context.Context, line string) (CommandResult, error)
}

// ToolCatalog is the subset of the tool registry the flat tool-selector
// needs: a catalogue to choose from, and the sole invocation entry point.
type ToolCatalog interface {
	List() []tools.Descriptor
	Invoke(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Engine is the subset of the workflow engine the agent path drives.
type Engine interface {
	Run(ctx context.Context, goal, persona string) (*workflow.WorkflowState, error)
}

// Router classifies and dispatches one user input line per turn.
type Router struct {
	Gateway *llm.Gateway
	Conv    *conversation.Conversation
	Tools   ToolCatalog
	Engine  Engine
	Slash   SlashHandler
	Limiter *ratelimit.TurnLimiter

	Model   string
	Persona string

	sink logging.Sink
}

// New builds a Router. limiter, if non-nil, bounds turns per key (e.g. per
// user or channel) before any dispatch is attempted.
func New(gateway *llm.Gateway, conv *conversation.Conversation, toolCatalog ToolCatalog, engine Engine, slash SlashHandler, limiter *ratelimit.TurnLimiter, model string, sink logging.Sink) *Router {
	return &Router{
		Gateway: gateway,
		Conv:    conv,
		Tools:   toolCatalog,
		Engine:  engine,
		Slash:   slash,
		Limiter: limiter,
		Model:   model,
		sink:    sink,
	}
}

// ErrRateLimited is returned when key has exhausted its per-turn budget.
var ErrRateLimited = fmt.Errorf("router: rate limited")

// Route classifies line and dispatches it, returning the text to surface
// to the user. key identifies the calling user/channel for rate limiting.
//
// Route never returns the raw error chain for display: any failure is
// logged in full to ERROR_TRACEBACK and translated into a short
// user-facing message, which is what's returned alongside the error so
// a caller that only cares about the chat transcript can just print it.
func (r *Router) Route(ctx context.Context, key, line string) (string, error) {
	text, err := r.route(ctx, key, line)
	if err != nil {
		r.logTraceback(key, line, err)
		return userMessage(err), err
	}
	return text, nil
}

func (r *Router) route(ctx context.Context, key, line string) (string, error) {
	if r.Limiter != nil && !r.Limiter.Allow(key) {
		return "", ErrRateLimited
	}

	if strings.HasPrefix(line, "/") {
		if r.Slash == nil {
			return "", fmt.Errorf("router: no slash-command handler configured")
		}
		result, err := r.Slash.Handle(ctx, line)
		if err != nil {
			return "", fmt.Errorf("router: slash command: %w", err)
		}
		return result.Text, nil
	}

	if _, err := r.Conv.Append(conversation.RoleUser, line); err != nil {
		return "", fmt.Errorf("router: append user message: %w", err)
	}

	intent, err := r.classify(ctx, line)
	if err != nil {
		return "", fmt.Errorf("router: classify: %w", err)
	}

	switch intent {
	case IntentTool:
		return r.dispatchTool(ctx, line)
	case IntentAgent:
		return r.dispatchAgent(ctx, line)
	default:
		return r.dispatchChat(ctx)
	}
}

type classifierVerdict struct {
	Intent Intent `json:"intent"`
}

func (r *Router) classify(ctx context.Context, line string) (Intent, error) {
	prompt := "Classify the user's request as exactly one of chat, tool, or agent. " +
		`Respond with a single JSON object: {"intent": "chat"|"tool"|"agent"}. ` +
		"Use tool when a single tool call answers the request, agent when it needs a multi-step plan, " +
		"and chat otherwise.\n\nRequest: " + line

	raw, err := r.Gateway.CompleteJSON(ctx, []conversation.Message{{Role: conversation.RoleSystem, Content: prompt}}, llm.Options{Model: r.Model, Fallback: `{"intent":"chat"}`})
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	var verdict classifierVerdict
	if err := json.Unmarshal(b, &verdict); err != nil {
		return "", err
	}
	switch verdict.Intent {
	case IntentChat, IntentTool, IntentAgent:
		return verdict.Intent, nil
	default:
		return IntentChat, nil
	}
}

func (r *Router) dispatchChat(ctx context.Context) (string, error) {
	chunks, err := r.Gateway.CompleteStream(ctx, r.Conv.Snapshot(), llm.Options{Model: r.Model})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("chat: %w", chunk.Error)
		}
		b.WriteString(chunk.Text)
	}

	text := b.String()
	if _, err := r.Conv.Append(conversation.RoleAssistant, text); err != nil {
		return "", fmt.Errorf("chat: append assistant message: %w", err)
	}
	return text, nil
}

type toolSelection struct {
	ToolName string          `json:"tool_name"`
	Params   json.RawMessage `json:"params"`
}

func (r *Router) dispatchTool(ctx context.Context, line string) (string, error) {
	descriptors := r.Tools.List()
	names := make([]string, len(descriptors))
	for i, d := range descriptors {
		names[i] = fmt.Sprintf("%s: %s", d.Name, d.Description)
	}

	prompt := "Choose exactly one tool to answer the request and produce its call parameters. " +
		`Respond with a single JSON object: {"tool_name": string, "params": object}.` +
		"\n\nAvailable tools:\n" + strings.Join(names, "\n") +
		"\n\nRequest: " + line

	raw, err := r.Gateway.CompleteJSON(ctx, []conversation.Message{{Role: conversation.RoleSystem, Content: prompt}}, llm.Options{Model: r.Model})
	if err != nil {
		return "", fmt.Errorf("tool: select: %w", err)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("tool: %w", err)
	}
	var selection toolSelection
	if err := json.Unmarshal(b, &selection); err != nil {
		return "", fmt.Errorf("tool: decode selection: %w", err)
	}

	result, err := r.Tools.Invoke(ctx, selection.ToolName, selection.Params)
	if err != nil {
		return "", fmt.Errorf("tool: invoke %s: %w", selection.ToolName, err)
	}

	if _, err := r.Conv.Append(conversation.RoleTool, result); err != nil {
		return "", fmt.Errorf("tool: append result message: %w", err)
	}
	return result, nil
}

func (r *Router) dispatchAgent(ctx context.Context, goal string) (string, error) {
	state, err := r.Engine.Run(ctx, goal, r.Persona)
	if err != nil {
		return "", fmt.Errorf("agent: %w", err)
	}

	if _, err := r.Conv.Append(conversation.RoleAssistant, state.FinalResponse); err != nil {
		return "", fmt.Errorf("agent: append final response: %w", err)
	}
	return state.FinalResponse, nil
}

// logTraceback records the full error chain for one failed turn under
// ERROR_TRACEBACK, so the concise message Route returns to the caller
// never has to carry the detail a maintainer would need to debug it.
func (r *Router) logTraceback(key, line string, err error) {
	if r.sink == nil {
		return
	}
	r.sink.Emit(logging.Record{
		Level:     logging.LevelError,
		Heading:   "ERROR_TRACEBACK route",
		Body:      err.Error(),
		Timestamp: time.Now(),
		Metadata:  map[string]string{"key": key, "line": line},
	})
}

// userMessage translates a turn-level error into the short, stack-trace-free
// text the chat window shows. Anything not recognized falls back to a
// generic apology; the detail always still reached ERROR_TRACEBACK.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "You're sending messages a bit fast; give it a moment and try again."
	case errors.Is(err, llm.ErrCircuitOpen):
		return "The language model is temporarily unavailable; please try again shortly."
	case errors.Is(err, llm.ErrNoProvider):
		return "No language model is configured to handle that request."
	case errors.Is(err, llm.ErrCancelled):
		return "That request was cancelled before it finished."
	case errors.Is(err, context.DeadlineExceeded):
		return toolTimeoutMessage(err)
	default:
		return "Something went wrong handling that; it's been logged."
	}
}

// toolTimeoutMessage special-cases a tool invocation that timed out, so
// the user sees which tool stalled instead of a blanket timeout notice.
func toolTimeoutMessage(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, "tool: invoke "); idx >= 0 {
		rest := msg[idx+len("tool: invoke "):]
		if end := strings.Index(rest, ":"); end >= 0 {
			return fmt.Sprintf("The %s tool timed out; continuing without it.", rest[:end])
		}
	}
	return "That request timed out; please try again."
}
