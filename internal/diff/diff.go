package diff

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mickamy/planfmt/internal/analyzer"
	"github.com/mickamy/planfmt/internal/config"
)

// Options configures the diff sensitivity.
type Options struct {
	MinSelfCostDelta float64
	MinPercentChange float64
	MaxItems         int
}

// Report summarises the delta between two plan analyses.
type Report struct {
	Summary      SummaryDiff      `json:"summary"`
	Regressions  []Entry          `json:"regressions"`
	Improvements []Entry          `json:"improvements"`
	Insights     []insightMessage `json:"insights"`
	Options      Options          `json:"-"`
}

// SummaryDiff covers the plan-level differences. The execution and
// planning figures stay zero unless the plans were collected with
// ANALYZE.
type SummaryDiff struct {
	BaseTotalCost    float64 `json:"base_total_cost"`
	TargetTotalCost  float64 `json:"target_total_cost"`
	DeltaTotalCost   float64 `json:"delta_total_cost"`
	PercentTotalCost float64 `json:"percent_total_cost"`

	BaseExecutionMs   float64 `json:"base_execution_ms"`
	TargetExecutionMs float64 `json:"target_execution_ms"`
	DeltaExecutionMs  float64 `json:"delta_execution_ms"`
	PercentExecution  float64 `json:"percent_execution"`
}

// Entry captures the delta for a set of nodes with the same signature.
type Entry struct {
	Signature       string  `json:"signature"`
	BaseSelfCost    float64 `json:"base_self_cost"`
	TargetSelfCost  float64 `json:"target_self_cost"`
	DeltaSelfCost   float64 `json:"delta_self_cost"`
	PercentChange   float64 `json:"percent_change"`
	BaseRows        float64 `json:"base_rows"`
	TargetRows      float64 `json:"target_rows"`
	BaseRowFactor   float64 `json:"base_row_factor"`
	TargetRowFactor float64 `json:"target_row_factor"`
}

type insightMessage struct {
	Severity string `json:"severity"`
	Icon     string `json:"icon"`
	Message  string `json:"message"`
}

// Compare builds a diff report for two plan analyses.
func Compare(base, target *analyzer.Analysis, opts Options) (*Report, error) {
	if base == nil || base.Root == nil {
		return nil, fmt.Errorf("diff: base analysis missing")
	}
	if target == nil || target.Root == nil {
		return nil, fmt.Errorf("diff: target analysis missing")
	}

	opts = applyDefaults(opts)

	baseAgg := aggregate(base.Root)
	targetAgg := aggregate(target.Root)

	signatures := unionKeys(baseAgg, targetAgg)
	var regressions, improvements []Entry
	var appeared, vanished []string

	for _, sig := range signatures {
		baseMetrics, inBase := baseAgg[sig]
		targetMetrics, inTarget := targetAgg[sig]
		if !inBase {
			appeared = append(appeared, sig)
		}
		if !inTarget {
			vanished = append(vanished, sig)
		}

		entry := buildEntry(sig, baseMetrics, targetMetrics)

		if passesRegression(entry, opts) {
			regressions = append(regressions, entry)
		} else if passesImprovement(entry, opts) {
			improvements = append(improvements, entry)
		}
	}

	sort.Slice(regressions, func(i, j int) bool {
		return regressions[i].DeltaSelfCost > regressions[j].DeltaSelfCost
	})
	sort.Slice(improvements, func(i, j int) bool {
		return improvements[i].DeltaSelfCost < improvements[j].DeltaSelfCost
	})

	if opts.MaxItems > 0 {
		if len(regressions) > opts.MaxItems {
			regressions = regressions[:opts.MaxItems]
		}
		if len(improvements) > opts.MaxItems {
			improvements = improvements[:opts.MaxItems]
		}
	}

	report := &Report{
		Summary: SummaryDiff{
			BaseTotalCost:    base.TotalCost,
			TargetTotalCost:  target.TotalCost,
			DeltaTotalCost:   target.TotalCost - base.TotalCost,
			PercentTotalCost: percentChange(base.TotalCost, target.TotalCost),

			BaseExecutionMs:   base.ExecutionTimeMs,
			TargetExecutionMs: target.ExecutionTimeMs,
			DeltaExecutionMs:  target.ExecutionTimeMs - base.ExecutionTimeMs,
			PercentExecution:  percentChange(base.ExecutionTimeMs, target.ExecutionTimeMs),
		},
		Regressions:  regressions,
		Improvements: improvements,
		Options:      opts,
	}
	report.Insights = synthesizeInsights(report, appeared, vanished)
	return report, nil
}

// Markdown renders the report as a Markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# planfmt diff\n\n")
	b.WriteString("## Summary\n")
	_, _ = fmt.Fprintf(&b, "- Total cost: %.2f → %.2f (%+.2f, %+.1f%%)\n",
		r.Summary.BaseTotalCost, r.Summary.TargetTotalCost,
		r.Summary.DeltaTotalCost, r.Summary.PercentTotalCost)
	if r.Summary.BaseExecutionMs > 0 || r.Summary.TargetExecutionMs > 0 {
		_, _ = fmt.Fprintf(&b, "- Execution: %.3f ms → %.3f ms (%+.3f ms, %+.1f%%)\n",
			r.Summary.BaseExecutionMs, r.Summary.TargetExecutionMs,
			r.Summary.DeltaExecutionMs, r.Summary.PercentExecution)
	}
	b.WriteString("\n")

	b.WriteString("### Insights\n")
	if len(r.Insights) == 0 {
		b.WriteString("- No notable plan changes detected\n")
	} else {
		for _, insight := range r.Insights {
			b.WriteString(fmt.Sprintf("- %s %s\n", insight.Icon, insight.Message))
		}
	}
	b.WriteString("\n")

	b.WriteString("### Regressions\n")
	writeEntryTable(&b, r.Regressions)
	b.WriteString("\n### Improvements\n")
	writeEntryTable(&b, r.Improvements)
	return b.String()
}

func writeEntryTable(b *strings.Builder, entries []Entry) {
	if len(entries) == 0 {
		b.WriteString("- None above threshold\n")
		return
	}
	b.WriteString("| Operator | Base self | Target self | Δ self | Δ % | Rows |\n")
	b.WriteString("|---|---:|---:|---:|---:|---|\n")
	for _, entry := range entries {
		_, _ = fmt.Fprintf(b, "| %s | %.2f | %.2f | %+.2f | %+.1f%% | %s |\n",
			entry.Signature,
			entry.BaseSelfCost,
			entry.TargetSelfCost,
			entry.DeltaSelfCost,
			entry.PercentChange,
			rowsSummary(entry))
	}
}

// JSON marshals the diff report into an indented JSON document.
func (r *Report) JSON() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil report")
	}
	type alias Report
	return json.MarshalIndent((*alias)(r), "", "  ")
}

func rowsSummary(entry Entry) string {
	base := formatRows(entry.BaseRows, entry.BaseRowFactor)
	target := formatRows(entry.TargetRows, entry.TargetRowFactor)
	return fmt.Sprintf("%s → %s", base, target)
}

// formatRows shows the estimated rows, with the actual-to-estimate factor
// when the plan was analyzed and the two disagree.
func formatRows(rows, factor float64) string {
	if math.IsInf(factor, 1) {
		return fmt.Sprintf("%.0f (∞)", rows)
	}
	if factor > 0 && factor != 1 {
		return fmt.Sprintf("%.0f (x%.2f)", rows, factor)
	}
	return fmt.Sprintf("%.0f", rows)
}

// Estimate drift bounds for target-side insight messages.
const (
	driftHighFactor = 5.0
	driftLowFactor  = 0.2
)

func synthesizeInsights(r *Report, appeared, vanished []string) []insightMessage {
	if r == nil {
		return nil
	}
	var insights []insightMessage
	maxItems := 3

	for i, entry := range r.Regressions {
		if i >= maxItems {
			break
		}
		text := fmt.Sprintf("%s self cost +%.2f (+%.1f%%)", entry.Signature, entry.DeltaSelfCost, entry.PercentChange)
		icon := "⚠️"
		level := "warning"
		if entry.PercentChange >= 50 {
			icon = "🔥"
			level = "critical"
		}
		insights = append(insights, insightMessage{Severity: level, Icon: icon, Message: text})
	}

	for i, entry := range r.Improvements {
		if i >= maxItems {
			break
		}
		text := fmt.Sprintf("%s self cost %.2f (%.1f%%)", entry.Signature, entry.DeltaSelfCost, entry.PercentChange)
		insights = append(insights, insightMessage{Severity: "improvement", Icon: "✅", Message: text})
	}

	for _, sig := range appeared {
		insights = append(insights, insightMessage{Severity: "info", Icon: "ℹ️", Message: fmt.Sprintf("new operator %s", sig)})
	}
	for _, sig := range vanished {
		insights = append(insights, insightMessage{Severity: "info", Icon: "ℹ️", Message: fmt.Sprintf("operator gone: %s", sig)})
	}

	for _, entry := range r.Regressions {
		if entry.TargetRowFactor >= driftHighFactor || (entry.TargetRowFactor > 0 && entry.TargetRowFactor <= driftLowFactor) {
			text := fmt.Sprintf("%s rows x%.1f off estimate in target", entry.Signature, entry.TargetRowFactor)
			insights = append(insights, insightMessage{Severity: "warning", Icon: "⚠️", Message: text})
		}
	}

	return insights
}

type aggregated struct {
	SelfCost   float64
	PlanRows   float64
	ActualRows float64
	Analyzed   bool
}

func aggregate(root *analyzer.NodeStats) map[string]aggregated {
	result := map[string]aggregated{}
	var walk func(*analyzer.NodeStats)
	walk = func(n *analyzer.NodeStats) {
		sig := signature(n)
		entry := result[sig]
		entry.SelfCost += n.SelfCost
		entry.PlanRows += n.PlanRows
		entry.ActualRows += n.ActualRows
		entry.Analyzed = entry.Analyzed || n.Node.Stats.HasActuals
		result[sig] = entry
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return result
}

// signature groups nodes doing the same work: operator name plus the
// relation, index and join type when present.
func signature(node *analyzer.NodeStats) string {
	parts := []string{node.Node.Name}
	for _, term := range []string{"relation", "index", "jointype"} {
		if v, ok := node.Node.Attr(term); ok {
			parts = append(parts, v.String())
		}
	}
	return strings.Join(parts, " · ")
}

func unionKeys(base, target map[string]aggregated) []string {
	seen := map[string]struct{}{}
	for k := range base {
		seen[k] = struct{}{}
	}
	for k := range target {
		seen[k] = struct{}{}
	}
	all := make([]string, 0, len(seen))
	for k := range seen {
		all = append(all, k)
	}
	sort.Strings(all)
	return all
}

func buildEntry(sig string, base, target aggregated) Entry {
	return Entry{
		Signature:       sig,
		BaseSelfCost:    base.SelfCost,
		TargetSelfCost:  target.SelfCost,
		DeltaSelfCost:   target.SelfCost - base.SelfCost,
		PercentChange:   percentChange(base.SelfCost, target.SelfCost),
		BaseRows:        base.PlanRows,
		TargetRows:      target.PlanRows,
		BaseRowFactor:   rowFactor(base),
		TargetRowFactor: rowFactor(target),
	}
}

func rowFactor(agg aggregated) float64 {
	if !agg.Analyzed {
		return 1
	}
	return ratio(agg.ActualRows, agg.PlanRows)
}

func passesRegression(entry Entry, opts Options) bool {
	return entry.DeltaSelfCost >= opts.MinSelfCostDelta && entry.PercentChange >= opts.MinPercentChange
}

func passesImprovement(entry Entry, opts Options) bool {
	return entry.DeltaSelfCost <= -opts.MinSelfCostDelta && entry.PercentChange <= -opts.MinPercentChange
}

func ratio(actual, estimated float64) float64 {
	const eps = 1e-9
	if estimated <= eps {
		if actual <= eps {
			return 1
		}
		return math.Inf(1)
	}
	return actual / estimated
}

func percentChange(base, target float64) float64 {
	const eps = 1e-9
	if math.Abs(base) <= eps {
		if math.Abs(target) <= eps {
			return 0
		}
		if target > 0 {
			return 100
		}
		return -100
	}
	return (target - base) / base * 100
}

func applyDefaults(opts Options) Options {
	cfg := config.Active().Diff
	if opts.MinSelfCostDelta <= 0 {
		opts.MinSelfCostDelta = cfg.MinSelfCostDelta
	}
	if opts.MinPercentChange <= 0 {
		opts.MinPercentChange = cfg.MinPercentChange
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = cfg.MaxItems
	}
	return opts
}
