package model

// Plan represents one parsed EXPLAIN document.
type Plan struct {
	Root *Node
	// PlanningTime and ExecutionTime are in milliseconds and stay zero
	// unless the plan was collected with ANALYZE.
	PlanningTime  float64
	ExecutionTime float64
	Settings      map[string]string
}

// Stats carries the planner estimates and, for ANALYZE plans, the measured
// figures attached to one node in the source document.
type Stats struct {
	// HasEstimates is false when the plan was collected with COSTS OFF.
	HasEstimates bool
	StartupCost  float64
	TotalCost    float64
	PlanRows     float64
	PlanWidth    float64

	HasActuals        bool
	ActualStartupTime float64
	ActualTotalTime   float64
	ActualRows        float64
	ActualLoops       float64

	WorkersPlanned  int64
	WorkersLaunched int64
}
