package planner

import "github.com/kestrel-run/deskagent/internal/workflow"

// DefaultSpawnThreshold is the description-length heuristic boundary
// above which a task is routed to decomposition rather than direct
// execution.
const DefaultSpawnThreshold = 240

// HeuristicComplexity is the default complexity_analyzer: a pure function
// of the task's description length, its planner-assigned Compound flag,
// and whether its previous attempt failed with NeedsDecomposition.
type HeuristicComplexity struct {
	SpawnThreshold int
}

// NewHeuristicComplexity builds an analyzer at DefaultSpawnThreshold.
func NewHeuristicComplexity() HeuristicComplexity {
	return HeuristicComplexity{SpawnThreshold: DefaultSpawnThreshold}
}

// Analyze implements workflow.ComplexityAnalyzer.
func (h HeuristicComplexity) Analyze(t *workflow.Task) workflow.Decision {
	threshold := h.SpawnThreshold
	if threshold <= 0 {
		threshold = DefaultSpawnThreshold
	}
	if t.Compound {
		return workflow.DecisionSpawn
	}
	if len(t.Description) > threshold {
		return workflow.DecisionSpawn
	}
	if t.Err == workflow.ErrNeedsDecomposition {
		return workflow.DecisionSpawn
	}
	return workflow.DecisionExecute
}
