package planner

import (
	"context"
	"testing"

	"github.com/kestrel-run/deskagent/internal/tools"
	"github.com/kestrel-run/deskagent/internal/workflow"
)

type fakeCatalog struct {
	desc tools.Descriptor
}

func (f fakeCatalog) Get(name string) (tools.Descriptor, bool) {
	if name != f.desc.Name {
		return tools.Descriptor{}, false
	}
	return f.desc, true
}

func TestParameterGeneratorAcceptsValidParams(t *testing.T) {
	gw := newFakeLocalGateway(t, `{"query":"weather in paris"}`)
	catalog := fakeCatalog{desc: tools.Descriptor{
		Name: "search",
		ArgSchema: tools.ArgSchema{Fields: []tools.Field{
			{Name: "query", Type: tools.FieldString, Required: true},
		}},
	}}
	g := &LLMParameterGenerator{Gateway: gw, Tools: catalog, Model: "llama3"}

	task := workflow.NewTask("1", "", "find the weather", "search")
	params, err := g.Generate(context.Background(), task, "goal", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(params) != `{"query":"weather in paris"}` {
		t.Errorf("params = %s", params)
	}
}

func TestParameterGeneratorUnknownToolErrors(t *testing.T) {
	gw := newFakeLocalGateway(t, `{}`)
	catalog := fakeCatalog{desc: tools.Descriptor{Name: "search"}}
	g := &LLMParameterGenerator{Gateway: gw, Tools: catalog, Model: "llama3"}

	task := workflow.NewTask("1", "", "x", "missing-tool")
	if _, err := g.Generate(context.Background(), task, "goal", ""); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestParameterGeneratorFailsAfterRepairRetryExhausted(t *testing.T) {
	gw := newFakeLocalGateway(t, `{"wrong_field":"x"}`)
	catalog := fakeCatalog{desc: tools.Descriptor{
		Name: "search",
		ArgSchema: tools.ArgSchema{Fields: []tools.Field{
			{Name: "query", Type: tools.FieldString, Required: true},
		}},
	}}
	g := &LLMParameterGenerator{Gateway: gw, Tools: catalog, Model: "llama3"}

	task := workflow.NewTask("1", "", "find the weather", "search")
	if _, err := g.Generate(context.Background(), task, "goal", ""); err == nil {
		t.Fatal("expected schema violation error after repair retry")
	}
}
