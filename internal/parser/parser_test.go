package parser_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/planfmt/internal/model"
	"github.com/mickamy/planfmt/internal/parser"
)

const hashJoinJSON = `[
  {
    "Plan": {
      "Node Type": "Hash Join",
      "Parallel Aware": false,
      "Join Type": "Inner",
      "Startup Cost": 13.15,
      "Total Cost": 37.02,
      "Plan Rows": 140,
      "Plan Width": 72,
      "Hash Cond": "(o.user_id = u.id)",
      "Plans": [
        {
          "Node Type": "Seq Scan",
          "Parent Relationship": "Outer",
          "Parallel Aware": false,
          "Relation Name": "orders",
          "Alias": "o",
          "Startup Cost": 0.00,
          "Total Cost": 20.70,
          "Plan Rows": 1070,
          "Plan Width": 44
        },
        {
          "Node Type": "Hash",
          "Parent Relationship": "Inner",
          "Parallel Aware": false,
          "Startup Cost": 11.40,
          "Total Cost": 11.40,
          "Plan Rows": 140,
          "Plan Width": 36,
          "Plans": [
            {
              "Node Type": "Seq Scan",
              "Parent Relationship": "Outer",
              "Parallel Aware": false,
              "Relation Name": "users",
              "Alias": "u",
              "Startup Cost": 0.00,
              "Total Cost": 11.40,
              "Plan Rows": 140,
              "Plan Width": 36,
              "Filter": "(active IS TRUE)"
            }
          ]
        }
      ]
    },
    "Planning Time": 0.21
  }
]`

func terms(attrs []model.Attr) []string {
	out := make([]string, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, a.Term)
	}
	return out
}

func TestParseJSONTree(t *testing.T) {
	t.Parallel()

	plan, err := parser.ParseJSON(strings.NewReader(hashJoinJSON))
	require.NoError(t, err)
	require.NotNil(t, plan.Root)
	require.InDelta(t, 0.21, plan.PlanningTime, 1e-9)

	root := plan.Root
	require.Equal(t, 1, root.ID)
	require.Equal(t, "Hash Join", root.Name)
	require.Equal(t, []string{"jointype", "cond"}, terms(root.Attrs))

	require.Len(t, root.Children, 2)
	outer, inner := root.Children[0], root.Children[1]
	require.Equal(t, "outer", outer.Term())
	require.Equal(t, "inner", inner.Term())
	require.Equal(t, 2, outer.ID)
	require.Equal(t, 3, inner.ID)

	require.Len(t, inner.Children, 1)
	leaf := inner.Children[0]
	require.Equal(t, 4, leaf.ID)
	require.Equal(t, []string{"relation", "alias", "filter"}, terms(leaf.Attrs))
	require.Equal(t, model.Str("users"), leaf.Attrs[0].Value)
}

func TestParseJSONStats(t *testing.T) {
	t.Parallel()

	plan, err := parser.ParseJSON(strings.NewReader(hashJoinJSON))
	require.NoError(t, err)

	st := plan.Root.Stats
	require.True(t, st.HasEstimates)
	require.False(t, st.HasActuals)
	require.InDelta(t, 13.15, st.StartupCost, 1e-9)
	require.InDelta(t, 37.02, st.TotalCost, 1e-9)
	require.InDelta(t, 140, st.PlanRows, 1e-9)
}

func TestParseJSONObjectFormAndCostsOff(t *testing.T) {
	t.Parallel()

	plan, err := parser.ParseJSON(strings.NewReader(`{"Plan": {"Node Type": "Seq Scan", "Relation Name": "t"}}`))
	require.NoError(t, err)
	require.Equal(t, "Seq Scan", plan.Root.Name)
	require.False(t, plan.Root.Stats.HasEstimates)
}

func TestParseJSONActuals(t *testing.T) {
	t.Parallel()

	src := `[{"Plan": {
		"Node Type": "Seq Scan",
		"Relation Name": "t",
		"Startup Cost": 0.00,
		"Total Cost": 35.50,
		"Plan Rows": 2550,
		"Plan Width": 4,
		"Actual Startup Time": 0.009,
		"Actual Total Time": 0.210,
		"Actual Rows": 2550,
		"Actual Loops": 1
	}, "Planning Time": 0.04, "Execution Time": 0.43}]`

	plan, err := parser.ParseJSON(strings.NewReader(src))
	require.NoError(t, err)
	require.True(t, plan.Root.Stats.HasActuals)
	require.InDelta(t, 2550, plan.Root.Stats.ActualRows, 1e-9)
	require.InDelta(t, 0.43, plan.ExecutionTime, 1e-9)
}

func TestParseJSONResolvesCTE(t *testing.T) {
	t.Parallel()

	src := `[{"Plan": {
		"Node Type": "Aggregate",
		"Strategy": "Plain",
		"Startup Cost": 76.91,
		"Total Cost": 76.92,
		"Plan Rows": 1,
		"Plan Width": 8,
		"Plans": [
			{
				"Node Type": "Seq Scan",
				"Parent Relationship": "InitPlan",
				"Subplan Name": "CTE recent",
				"Relation Name": "events",
				"Filter": "(ts > now() - '1 day'::interval)",
				"Startup Cost": 0.00,
				"Total Cost": 35.50,
				"Plan Rows": 850,
				"Plan Width": 16
			},
			{
				"Node Type": "CTE Scan",
				"Parent Relationship": "Outer",
				"CTE Name": "recent",
				"Alias": "recent",
				"Startup Cost": 0.00,
				"Total Cost": 17.00,
				"Plan Rows": 850,
				"Plan Width": 8
			}
		]
	}}]`

	plan, err := parser.ParseJSON(strings.NewReader(src))
	require.NoError(t, err)

	require.Len(t, plan.Root.Children, 2)
	def, scan := plan.Root.Children[0], plan.Root.Children[1]
	require.Equal(t, "initplan", def.Term())
	require.Equal(t, "recent", scan.CTEName)
	require.Same(t, def, scan.CTE)
	require.Contains(t, terms(def.Attrs), "subplan")
}

func TestParseJSONExtraFields(t *testing.T) {
	t.Parallel()

	src := `[{"Plan": {
		"Node Type": "Index Only Scan",
		"Parallel Aware": false,
		"Async Capable": false,
		"Scan Direction": "Forward",
		"Index Name": "users_pkey",
		"Relation Name": "users",
		"Alias": "users",
		"Heap Fetches": 12,
		"Shared Hit Blocks": 400,
		"Startup Cost": 0.28,
		"Total Cost": 4.29,
		"Plan Rows": 1,
		"Plan Width": 8
	}}]`

	plan, err := parser.ParseJSON(strings.NewReader(src))
	require.NoError(t, err)

	// Fixed attrs first (alias matching the relation is dropped), then
	// extras sorted by field name; suppressed fields (parallelism flags,
	// buffer counters) never show up.
	require.Equal(t, []string{"relation", "index", "heap-fetches", "scan-direction"}, terms(plan.Root.Attrs))
	require.Equal(t, model.Int(12), plan.Root.Attrs[2].Value)
}

func TestParseJSONSettings(t *testing.T) {
	t.Parallel()

	src := `[{"Plan": {"Node Type": "Result"}, "Settings": {"work_mem": "4MB"}}]`
	plan, err := parser.ParseJSON(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"work_mem": "4MB"}, plan.Settings)
}

func TestParseJSONErrors(t *testing.T) {
	t.Parallel()

	for name, src := range map[string]string{
		"empty array":       `[]`,
		"not json":          `nope`,
		"wrong top level":   `42`,
		"missing plan":      `[{"Planning Time": 1.0}]`,
		"node without type": `[{"Plan": {"Relation Name": "t"}}]`,
	} {
		_, err := parser.ParseJSON(strings.NewReader(src))
		require.Error(t, err, "input %s", name)
	}
}
