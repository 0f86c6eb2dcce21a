package analyzer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mickamy/planfmt/internal/model"
)

// ErrNoEstimates marks stat queries against plans collected with COSTS OFF.
var ErrNoEstimates = errors.New("analyzer: plan carries no cost estimates")

// Options configure the metadata service.
type Options struct {
	// HiddenTypes lists operator names elided from explain output at
	// every detail level below AllAttributes.
	HiddenTypes []string
}

// Analyzer answers renderer metadata queries from the statistics the
// source plan carries. It implements model.Metadata.
type Analyzer struct {
	hidden map[string]struct{}
}

// New returns an Analyzer with the given options.
func New(opts Options) *Analyzer {
	hidden := make(map[string]struct{}, len(opts.HiddenTypes))
	for _, name := range opts.HiddenTypes {
		name = strings.TrimSpace(name)
		if name != "" {
			hidden[name] = struct{}{}
		}
	}
	return &Analyzer{hidden: hidden}
}

// VisibleInExplain hides configured operator types unless the caller asked
// for everything.
func (a *Analyzer) VisibleInExplain(n *model.Node, level model.DetailLevel) bool {
	if level == model.AllAttributes {
		return true
	}
	_, hidden := a.hidden[n.Name]
	return !hidden
}

// RowCount returns the planner's row estimate for n.
func (a *Analyzer) RowCount(n *model.Node) (float64, error) {
	if !n.Stats.HasEstimates {
		return 0, fmt.Errorf("row estimate for %s#%d: %w", n.Name, n.ID, ErrNoEstimates)
	}
	return n.Stats.PlanRows, nil
}

// CumulativeCost returns the planner's cost estimate for n. Postgres
// totals already include the children, so no aggregation happens here.
func (a *Analyzer) CumulativeCost(n *model.Node) (model.Cost, error) {
	if !n.Stats.HasEstimates {
		return nil, fmt.Errorf("cost estimate for %s#%d: %w", n.Name, n.ID, ErrNoEstimates)
	}
	return Cost{Startup: n.Stats.StartupCost, Total: n.Stats.TotalCost}, nil
}

// Cost is the planner's startup and total estimate for one subtree.
type Cost struct {
	Startup float64
	Total   float64
}

// String renders the Postgres cost form, e.g. "0.00..35.50".
func (c Cost) String() string {
	return fmt.Sprintf("%.2f..%.2f", c.Startup, c.Total)
}

// Analysis contains derived cost metrics for a parsed plan.
type Analysis struct {
	Root            *NodeStats
	PlanningTimeMs  float64
	ExecutionTimeMs float64
	TotalCost       float64
	NodeCount       int
	Costliest       []*NodeStats
	DivergentNodes  []*NodeStats
	// Analyzed is true when the plan carries measured row counts.
	Analyzed bool
}

// NodeStats augments a plan node with computed cost shares.
type NodeStats struct {
	Node  *model.Node
	Depth int
	// TotalCost is cumulative, node plus children; SelfCost is the
	// node's own share of it.
	TotalCost         float64
	SelfCost          float64
	PercentSelf       float64
	PercentTotal      float64
	PlanRows          float64
	ActualRows        float64
	RowEstimateFactor float64
	Warnings          []string
	Children          []*NodeStats
}

// Analyze derives metrics for the provided plan.
func Analyze(plan *model.Plan) (*Analysis, error) {
	if plan == nil || plan.Root == nil {
		return nil, fmt.Errorf("analyze: missing plan")
	}

	root := buildStats(plan.Root, 0)
	totalCost := root.TotalCost

	annotate(root, totalCost)

	allNodes := flatten(root)

	return &Analysis{
		Root:            root,
		PlanningTimeMs:  plan.PlanningTime,
		ExecutionTimeMs: plan.ExecutionTime,
		TotalCost:       totalCost,
		NodeCount:       len(allNodes),
		Costliest:       selectCostliest(allNodes),
		DivergentNodes:  selectDivergentNodes(allNodes),
		Analyzed:        plan.Root.Stats.HasActuals,
	}, nil
}

func buildStats(node *model.Node, depth int) *NodeStats {
	stats := &NodeStats{
		Node:      node,
		Depth:     depth,
		TotalCost: node.Stats.TotalCost,
		PlanRows:  node.Stats.PlanRows,
	}

	loops := node.Stats.ActualLoops
	if loops <= 0 {
		loops = 1
	}
	stats.ActualRows = node.Stats.ActualRows * loops

	var childCost float64
	for _, childNode := range node.Children {
		child := buildStats(childNode, depth+1)
		stats.Children = append(stats.Children, child)
		childCost += child.TotalCost
	}

	// Inner sides of nested loops are costed per iteration, which can
	// push the difference below zero; clamp instead of reporting a
	// negative share.
	stats.SelfCost = stats.TotalCost - childCost
	if stats.SelfCost < 0 {
		stats.SelfCost = 0
	}

	if node.Stats.HasActuals {
		stats.RowEstimateFactor = computeEstimateFactor(stats.PlanRows, stats.ActualRows)
	} else {
		stats.RowEstimateFactor = 1
	}

	return stats
}

// annotate fills in plan-relative ratios and the warnings derived from
// them, top-down.
func annotate(node *NodeStats, total float64) {
	if total > 0 {
		node.PercentSelf = node.SelfCost / total
		node.PercentTotal = node.TotalCost / total
	}
	node.Warnings = deriveWarnings(node)
	for _, child := range node.Children {
		annotate(child, total)
	}
}

func flatten(root *NodeStats) []*NodeStats {
	var out []*NodeStats
	var walk func(*NodeStats)
	walk = func(n *NodeStats) {
		out = append(out, n)
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return out
}

func selectCostliest(nodes []*NodeStats) []*NodeStats {
	if len(nodes) == 0 {
		return nil
	}

	candidates := make([]*NodeStats, 0, len(nodes))
	for _, n := range nodes {
		if n.PercentSelf > 0 {
			candidates = append(candidates, n)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].PercentSelf > candidates[j].PercentSelf
	})

	limit := 5
	if len(candidates) < limit {
		limit = len(candidates)
	}
	cutoff := 0.10

	var out []*NodeStats
	for _, candidate := range candidates[:limit] {
		if candidate.PercentSelf < cutoff {
			break
		}
		out = append(out, candidate)
	}

	if len(out) == 0 && len(candidates) > 0 {
		out = candidates[:limit]
	}

	return out
}

func selectDivergentNodes(nodes []*NodeStats) []*NodeStats {
	var out []*NodeStats
	for _, n := range nodes {
		if math.IsInf(n.RowEstimateFactor, 1) || math.IsInf(n.RowEstimateFactor, -1) {
			out = append(out, n)
			continue
		}
		if n.RowEstimateFactor >= 2.0 || n.RowEstimateFactor <= 0.5 {
			if n.PlanRows > 0 || n.ActualRows > 0 {
				out = append(out, n)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return math.Abs(out[i].RowEstimateFactor-1) > math.Abs(out[j].RowEstimateFactor-1)
	})
	limit := 5
	if len(out) < limit {
		limit = len(out)
	}
	return out[:limit]
}

func computeEstimateFactor(estimated, actual float64) float64 {
	const epsilon = 1e-9
	if estimated <= epsilon {
		if actual <= epsilon {
			return 1
		}
		return math.Inf(1)
	}
	return actual / estimated
}

func deriveWarnings(stats *NodeStats) []string {
	var warnings []string
	if stats.PercentSelf >= 0.20 {
		warnings = append(warnings, fmt.Sprintf("self cost %.1f%% of plan", stats.PercentSelf*100))
	}
	if stats.RowEstimateFactor >= 2.0 {
		warnings = append(warnings, fmt.Sprintf("rows %.1fx higher than estimate", stats.RowEstimateFactor))
	} else if stats.RowEstimateFactor <= 0.5 {
		warnings = append(warnings, fmt.Sprintf("rows %.1fx lower than estimate", stats.RowEstimateFactor))
	}
	return warnings
}
