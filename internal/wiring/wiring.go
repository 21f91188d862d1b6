// Package wiring implements startup and shutdown ordering: logging sinks,
// the conversation store, the LLM gateway, builtin tools, MCP servers, and
// finally the request router, each step bounded by a timeout and each
// failure logged without blocking the steps after it. Shutdown reverses
// the order.
package wiring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kestrel-run/deskagent/internal/config"
	"github.com/kestrel-run/deskagent/internal/conversation"
	"github.com/kestrel-run/deskagent/internal/llm"
	"github.com/kestrel-run/deskagent/internal/logging"
	"github.com/kestrel-run/deskagent/internal/mcp"
	"github.com/kestrel-run/deskagent/internal/observability"
	"github.com/kestrel-run/deskagent/internal/planner"
	"github.com/kestrel-run/deskagent/internal/ratelimit"
	"github.com/kestrel-run/deskagent/internal/router"
	"github.com/kestrel-run/deskagent/internal/tools"
	"github.com/kestrel-run/deskagent/internal/tools/builtin"
	"github.com/kestrel-run/deskagent/internal/workflow"
)

// StepTimeout bounds each startup/shutdown step; a step that doesn't
// finish in time is logged and skipped rather than blocking the fleet.
const StepTimeout = 30 * time.Second

// App owns every process-wide singleton, in the order they were started,
// so Stop can dispose of them in reverse.
type App struct {
	Config *config.Config

	LogRouter    *logging.Router
	Conversation *conversation.Conversation
	Gateway      *llm.Gateway
	Registry     *tools.Registry
	MCP          *mcp.Manager
	Router       *router.Router

	console *slog.Logger
	obs     *observability.Logger
}

// Start runs the startup sequence in its documented order: logging →
// conversation store → LLM gateway → builtin tools → MCP configs loaded →
// MCP servers started and tools merged → router ready. Each step's
// failure is logged to the console logger and does not prevent the next
// step from running, except where a later step has a hard dependency on
// the one before it (the registry must exist before tools can register
// into it); those dependencies are documented inline.
func Start(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config:  cfg,
		console: slog.Default(),
		obs: observability.NewLogger(observability.LogConfig{
			Level:  cfg.LogLevel,
			Format: "text",
		}),
	}

	if err := app.startLogging(ctx, cfg); err != nil {
		app.obs.Error(ctx, "logging sink failed to start", "error", err)
	}

	app.Conversation = conversation.New()

	if err := app.startGateway(ctx, cfg); err != nil {
		app.obs.Error(ctx, "llm gateway failed to start", "error", err)
	}

	app.Registry = tools.NewRegistry(32, app.LogRouter)
	if err := builtin.RegisterAll(app.Registry); err != nil {
		return nil, fmt.Errorf("wiring: register builtin tools: %w", err)
	}

	if err := app.startMCP(ctx, cfg); err != nil {
		app.obs.Error(ctx, "mcp startup failed", "error", err)
	}

	app.Registry.Freeze()
	app.startRouter(cfg)

	return app, nil
}

func (app *App) startLogging(ctx context.Context, cfg *config.Config) error {
	_, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	r, err := logging.NewRouter(logging.RouterConfig{Dir: cfg.LogDir, Console: app.console})
	if err != nil {
		return err
	}
	app.LogRouter = r
	return nil
}

func (app *App) startGateway(ctx context.Context, cfg *config.Config) error {
	_, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	app.Gateway = llm.NewFromAppConfig(cfg.LLM, cfg.MaxRequestsPerMinute, app.LogRouter)
	return nil
}

func (app *App) startMCP(ctx context.Context, cfg *config.Config) error {
	startCtx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	mcpCfg, err := config.LoadMCPConfig(cfg.MCPConfigPath)
	if err != nil {
		app.MCP = mcp.NewManager(&mcp.Config{Enabled: false}, app.console)
		return fmt.Errorf("load mcp config: %w", err)
	}

	app.MCP = mcp.NewManager(mcpCfg, app.console)
	if err := app.MCP.StartAll(startCtx); err != nil {
		app.obs.Error(startCtx, "some mcp servers failed to start", "error", err)
	}

	for serverID, toolList := range app.MCP.AllTools() {
		for _, t := range toolList {
			desc := tools.Descriptor{
				Name:        t.Name,
				Description: t.Description,
				Origin:      "mcp:" + serverID,
				ArgSchema:   tools.ArgSchema{JSONSchema: t.InputSchema},
			}
			handler := mcpHandler(app.MCP, serverID, t.Name)
			if regErr := app.Registry.Register(desc, handler); regErr != nil {
				app.obs.Error(startCtx, "mcp tool registration failed", "server", serverID, "tool", t.Name, "error", regErr)
			}
		}
	}
	return nil
}

// mcpHandler adapts one MCP server's named tool into a tools.Handler.
func mcpHandler(manager *mcp.Manager, serverID, toolName string) tools.Handler {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var params map[string]any
		if len(args) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, err
			}
		}

		result, err := manager.CallTool(ctx, serverID, toolName, params)
		if err != nil {
			return nil, err
		}
		if result.IsError {
			return nil, fmt.Errorf("%w: %s", tools.ErrToolHandlerError, joinContent(result))
		}
		return joinContent(result), nil
	}
}

func joinContent(result *mcp.ToolCallResult) string {
	var b strings.Builder
	for i, c := range result.Content {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Text)
	}
	return b.String()
}

func (app *App) startRouter(cfg *config.Config) {
	model := cfg.LLM.Providers["local"].DefaultModel
	if model == "" {
		model = cfg.GPTModel
	}

	llmPlanner := &planner.LLMPlanner{Gateway: app.Gateway, Model: model}
	engine := workflow.New(
		llmPlanner,
		planner.NewHeuristicComplexity(),
		&planner.LLMParameterGenerator{Gateway: app.Gateway, Tools: app.Registry, Model: model},
		app.Registry,
		&planner.LLMGoalValidator{Gateway: app.Gateway, Model: model},
		&planner.LLMFinalizer{Gateway: app.Gateway, Model: model},
		app.LogRouter,
	)

	limiter := ratelimit.NewTurnLimiter(ratelimit.BudgetConfig{
		RequestsPerSecond: float64(cfg.MaxRequestsPerMinute) / 60,
		BurstSize:         cfg.MaxRequestsPerMinute,
		Enabled:           cfg.MaxRequestsPerMinute > 0,
	})

	app.Router = router.New(app.Gateway, app.Conversation, app.Registry, engine, nil, limiter, model, app.LogRouter)
}

// Stop disposes of every started step in reverse order, bounding each by
// StepTimeout. Failures are logged; Stop always returns nil so that a
// stuck dependency never prevents the rest of shutdown from running.
func (app *App) Stop(ctx context.Context) error {
	if app.MCP != nil {
		if err := app.MCP.Shutdown(); err != nil {
			app.obs.Error(ctx, "mcp shutdown failed", "error", err)
		}
	}
	if app.LogRouter != nil {
		if err := app.LogRouter.Close(); err != nil {
			app.obs.Error(ctx, "log router close failed", "error", err)
		}
	}
	return nil
}
