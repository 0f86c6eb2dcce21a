package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/planfmt/internal/analyzer"
	"github.com/mickamy/planfmt/internal/model"
)

func estimated(startup, total, rows float64) model.Stats {
	return model.Stats{HasEstimates: true, StartupCost: startup, TotalCost: total, PlanRows: rows}
}

// joinPlan builds the usual hash join shape: join over a scan and a hash
// that wraps a second scan.
func joinPlan() *model.Plan {
	c := model.NewCluster()
	orders := &model.Node{ID: 2, Name: "Seq Scan", Cluster: c, Stats: estimated(0, 20.70, 1070)}
	users := &model.Node{ID: 4, Name: "Seq Scan", Cluster: c, Stats: estimated(0, 11.40, 140)}
	hash := &model.Node{ID: 3, Name: "Hash", Cluster: c, Stats: estimated(11.40, 11.40, 140), Children: []*model.Node{users}}
	join := &model.Node{ID: 1, Name: "Hash Join", Cluster: c, Stats: estimated(13.15, 37.02, 140), Children: []*model.Node{orders, hash}}
	return &model.Plan{Root: join, PlanningTime: 0.21}
}

func TestVisibleInExplain(t *testing.T) {
	t.Parallel()

	a := analyzer.New(analyzer.Options{HiddenTypes: []string{"Materialize", " Hash "}})
	mat := &model.Node{Name: "Materialize"}
	hash := &model.Node{Name: "Hash"}
	scan := &model.Node{Name: "Seq Scan"}

	require.False(t, a.VisibleInExplain(mat, model.PlanAttributes))
	require.False(t, a.VisibleInExplain(hash, model.NonCostAttributes))
	require.True(t, a.VisibleInExplain(scan, model.PlanAttributes))

	// Full detail shows everything.
	require.True(t, a.VisibleInExplain(mat, model.AllAttributes))
}

func TestRowCountAndCumulativeCost(t *testing.T) {
	t.Parallel()

	a := analyzer.New(analyzer.Options{})
	n := &model.Node{ID: 1, Name: "Seq Scan", Stats: estimated(0, 35.50, 2550)}

	rows, err := a.RowCount(n)
	require.NoError(t, err)
	require.InDelta(t, 2550, rows, 1e-9)

	cost, err := a.CumulativeCost(n)
	require.NoError(t, err)
	require.Equal(t, "0.00..35.50", cost.String())
}

func TestStatsUnavailableWithCostsOff(t *testing.T) {
	t.Parallel()

	a := analyzer.New(analyzer.Options{})
	n := &model.Node{ID: 1, Name: "Seq Scan"}

	_, err := a.RowCount(n)
	require.ErrorIs(t, err, analyzer.ErrNoEstimates)
	_, err = a.CumulativeCost(n)
	require.ErrorIs(t, err, analyzer.ErrNoEstimates)
}

func TestAnalyzeSelfCost(t *testing.T) {
	t.Parallel()

	analysis, err := analyzer.Analyze(joinPlan())
	require.NoError(t, err)

	require.Equal(t, 4, analysis.NodeCount)
	require.InDelta(t, 37.02, analysis.TotalCost, 1e-9)
	require.False(t, analysis.Analyzed)

	root := analysis.Root
	require.InDelta(t, 37.02-20.70-11.40, root.SelfCost, 1e-9)

	// The hash node repeats its input's total, so its own share clamps
	// to zero instead of going negative.
	hash := root.Children[1]
	require.Equal(t, "Hash", hash.Node.Name)
	require.InDelta(t, 0, hash.SelfCost, 1e-9)

	scan := root.Children[0]
	require.InDelta(t, 20.70, scan.SelfCost, 1e-9)
	require.InDelta(t, 20.70/37.02, scan.PercentSelf, 1e-9)
}

func TestAnalyzeCostliest(t *testing.T) {
	t.Parallel()

	analysis, err := analyzer.Analyze(joinPlan())
	require.NoError(t, err)

	require.NotEmpty(t, analysis.Costliest)
	require.Equal(t, "Seq Scan", analysis.Costliest[0].Node.Name)
	require.InDelta(t, 20.70, analysis.Costliest[0].SelfCost, 1e-9)
}

func TestAnalyzeDivergentRows(t *testing.T) {
	t.Parallel()

	c := model.NewCluster()
	scan := &model.Node{ID: 1, Name: "Seq Scan", Cluster: c, Stats: model.Stats{
		HasEstimates: true,
		TotalCost:    35.50,
		PlanRows:     10,
		HasActuals:   true,
		ActualRows:   1000,
		ActualLoops:  1,
	}}
	analysis, err := analyzer.Analyze(&model.Plan{Root: scan})
	require.NoError(t, err)

	require.True(t, analysis.Analyzed)
	require.Len(t, analysis.DivergentNodes, 1)
	require.InDelta(t, 100, analysis.DivergentNodes[0].RowEstimateFactor, 1e-9)
	require.Contains(t, analysis.Root.Warnings, "rows 100.0x higher than estimate")
}

func TestAnalyzeWithoutActualsStaysNeutral(t *testing.T) {
	t.Parallel()

	analysis, err := analyzer.Analyze(joinPlan())
	require.NoError(t, err)
	require.Empty(t, analysis.DivergentNodes)
	for _, n := range analysis.Costliest {
		require.InDelta(t, 1, n.RowEstimateFactor, 1e-9)
	}
}

func TestAnalyzeMissingPlan(t *testing.T) {
	t.Parallel()

	_, err := analyzer.Analyze(nil)
	require.Error(t, err)
	_, err = analyzer.Analyze(&model.Plan{})
	require.Error(t, err)
}
