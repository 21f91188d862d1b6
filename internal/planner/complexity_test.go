package planner

import (
	"strings"
	"testing"

	"github.com/kestrel-run/deskagent/internal/workflow"
)

func TestHeuristicComplexityExecutesShortTask(t *testing.T) {
	h := NewHeuristicComplexity()
	task := workflow.NewTask("1", "", "say hi", "chat")
	if got := h.Analyze(task); got != workflow.DecisionExecute {
		t.Errorf("Analyze() = %q, want execute", got)
	}
}

func TestHeuristicComplexitySpawnsOnCompoundFlag(t *testing.T) {
	h := NewHeuristicComplexity()
	task := workflow.NewTask("1", "", "short", "chat")
	task.Compound = true
	if got := h.Analyze(task); got != workflow.DecisionSpawn {
		t.Errorf("Analyze() = %q, want spawn", got)
	}
}

func TestHeuristicComplexitySpawnsOnLongDescription(t *testing.T) {
	h := NewHeuristicComplexity()
	task := workflow.NewTask("1", "", strings.Repeat("x", DefaultSpawnThreshold+1), "chat")
	if got := h.Analyze(task); got != workflow.DecisionSpawn {
		t.Errorf("Analyze() = %q, want spawn", got)
	}
}

func TestHeuristicComplexitySpawnsOnNeedsDecomposition(t *testing.T) {
	h := NewHeuristicComplexity()
	task := workflow.NewTask("1", "", "short", "chat")
	task.Err = workflow.ErrNeedsDecomposition
	if got := h.Analyze(task); got != workflow.DecisionSpawn {
		t.Errorf("Analyze() = %q, want spawn", got)
	}
}
