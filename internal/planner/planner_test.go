package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kestrel-run/deskagent/internal/llm"
)

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type localChatResponse struct {
	Message *localChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func newFakeLocalGateway(t *testing.T, reply string) *llm.Gateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(localChatResponse{
			Message: &localChatMessage{Role: "assistant", Content: reply},
			Done:    true,
		})
	}))
	t.Cleanup(srv.Close)

	return llm.New(llm.Config{
		Local: llm.ProviderConfig{DefaultModel: "llama3", BaseURL: srv.URL},
		Cloud: llm.ProviderConfig{DefaultModel: "gpt-4o-mini"},
	}, nil)
}

func TestPlannerPlanParsesBareArray(t *testing.T) {
	gw := newFakeLocalGateway(t, `[{"description":"search the web","tool_name":"search","estimated_depth":0}]`)
	p := &LLMPlanner{Gateway: gw, Model: "llama3"}

	stubs, err := p.Plan(context.Background(), "find the weather", []string{"search"}, "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(stubs) != 1 || stubs[0].ToolName != "search" {
		t.Fatalf("stubs = %+v", stubs)
	}
}

func TestPlannerPlanParsesWrappedTasks(t *testing.T) {
	gw := newFakeLocalGateway(t, `{"tasks":[{"description":"x","tool_name":"search"}]}`)
	p := &LLMPlanner{Gateway: gw, Model: "llama3"}

	stubs, err := p.Plan(context.Background(), "goal", []string{"search"}, "")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(stubs) != 1 {
		t.Fatalf("stubs = %+v", stubs)
	}
}

func TestPlannerPlanPropagatesHintIntoPrompt(t *testing.T) {
	gw := newFakeLocalGateway(t, `[]`)
	p := &LLMPlanner{Gateway: gw, Model: "llama3"}

	stubs, err := p.Plan(context.Background(), "goal", []string{"search"}, "unknown tool \"bogus\"")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(stubs) != 0 {
		t.Fatalf("stubs = %+v, want empty", stubs)
	}
}
