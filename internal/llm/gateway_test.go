package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kestrel-run/deskagent/internal/conversation"
)

func newTestLocalServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := localChatResponse{
			Message: &localChatMessage{Role: "assistant", Content: reply},
			Done:    true,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestGatewayCompleteSelectsLocalEndpoint(t *testing.T) {
	srv := newTestLocalServer(t, "hello from local")
	defer srv.Close()

	gw := New(Config{
		Local: ProviderConfig{DefaultModel: "llama3", BaseURL: srv.URL},
		Cloud: ProviderConfig{DefaultModel: "gpt-4o-mini"},
	}, nil)

	out, err := gw.Complete(context.Background(), []conversation.Message{{Role: conversation.RoleUser, Content: "hi"}}, Options{Model: "llama3"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hello from local" {
		t.Errorf("Complete() = %q, want %q", out, "hello from local")
	}
}

func TestGatewayCompleteUnknownModelErrors(t *testing.T) {
	gw := New(Config{
		Local: ProviderConfig{DefaultModel: "llama3"},
		Cloud: ProviderConfig{DefaultModel: "gpt-4o-mini"},
	}, nil)

	_, err := gw.Complete(context.Background(), nil, Options{Model: "mystery-model"})
	if err == nil {
		t.Fatal("expected ErrNoProvider")
	}
}

func TestGatewayCompleteJSONExtractsFromLocalReply(t *testing.T) {
	srv := newTestLocalServer(t, `{"decision":"proceed"}`)
	defer srv.Close()

	gw := New(Config{
		Local: ProviderConfig{DefaultModel: "llama3", BaseURL: srv.URL},
		Cloud: ProviderConfig{DefaultModel: "gpt-4o-mini"},
	}, nil)

	v, err := gw.CompleteJSON(context.Background(), nil, Options{Model: "llama3"})
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	m := v.(map[string]any)
	if m["decision"] != "proceed" {
		t.Errorf("decision = %v, want proceed", m["decision"])
	}
}

func TestGatewayCompleteLocalErrorStatusIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	gw := New(Config{
		Local: ProviderConfig{DefaultModel: "llama3", BaseURL: srv.URL},
		Cloud: ProviderConfig{DefaultModel: "gpt-4o-mini"},
	}, nil)
	gw.cfg.Retry.MaxAttempts = 1

	_, err := gw.Complete(context.Background(), nil, Options{Model: "llama3"})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestGatewayCompleteFallbackOnOpenCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := New(Config{
		Local: ProviderConfig{DefaultModel: "llama3", BaseURL: srv.URL},
		Cloud: ProviderConfig{DefaultModel: "gpt-4o-mini"},
	}, nil)
	gw.cfg.Retry.MaxAttempts = 1

	for i := 0; i < 5; i++ {
		_, _ = gw.Complete(context.Background(), nil, Options{Model: "llama3"})
	}

	out, err := gw.Complete(context.Background(), nil, Options{Model: "llama3", Fallback: "fallback text"})
	if err != nil {
		t.Fatalf("Complete with fallback: %v", err)
	}
	if out != "fallback text" {
		t.Errorf("Complete() = %q, want fallback text", out)
	}
}
