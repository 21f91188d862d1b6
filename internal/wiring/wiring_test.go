package wiring

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kestrel-run/deskagent/internal/config"
)

func TestStartSucceedsWithoutMCPConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.MCPConfigPath = filepath.Join(t.TempDir(), "missing.mcp.json")
	cfg.LLM.Providers = map[string]config.LLMProviderConfig{
		"local": {DefaultModel: "llama3", BaseURL: "http://localhost:11434"},
		"cloud": {DefaultModel: "gpt-4o-mini"},
	}

	app, err := Start(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer app.Stop(context.Background())

	if app.Registry == nil || app.Gateway == nil || app.Conversation == nil || app.Router == nil {
		t.Fatal("Start() left a core component nil")
	}
	if len(app.Registry.List()) != 2 {
		t.Errorf("Registry.List() = %d, want 2 builtin tools", len(app.Registry.List()))
	}
}

func TestStopIsIdempotent(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.MCPConfigPath = filepath.Join(t.TempDir(), "missing.mcp.json")

	app, err := Start(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := app.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := app.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
