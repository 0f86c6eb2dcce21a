package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/planfmt/internal/model"
)

// recordingWriter captures the item/done sequence a node emits.
type recordingWriter struct {
	items  []model.Attr
	done   []*model.Node
	detail model.DetailLevel
	expand bool
}

func (w *recordingWriter) Item(term string, v model.Value) model.Writer {
	w.items = append(w.items, model.Attr{Term: term, Value: v})
	return w
}

func (w *recordingWriter) Done(n *model.Node) error {
	w.done = append(w.done, n)
	return nil
}

func (w *recordingWriter) Detail() model.DetailLevel { return w.detail }
func (w *recordingWriter) Expand() bool              { return w.expand }

func TestExplainOrdersChildrenBeforeAttrs(t *testing.T) {
	t.Parallel()

	c := model.NewCluster()
	outer := &model.Node{ID: c.NextID(), Name: "Seq Scan", ParentRelationship: "Outer", Cluster: c}
	inner := &model.Node{ID: c.NextID(), Name: "Hash", ParentRelationship: "Inner", Cluster: c}
	join := &model.Node{
		ID:       c.NextID(),
		Name:     "Hash Join",
		Cluster:  c,
		Children: []*model.Node{outer, inner},
		Attrs: []model.Attr{
			{Term: "jointype", Value: model.Str("Inner")},
			{Term: "cond", Value: model.Str("(a.id = b.id)")},
		},
	}

	w := &recordingWriter{}
	require.NoError(t, join.Explain(w))

	require.Len(t, w.items, 4)
	require.Equal(t, "outer", w.items[0].Term)
	require.Equal(t, model.Ref{Node: outer}, w.items[0].Value)
	require.Equal(t, "inner", w.items[1].Term)
	require.Equal(t, model.Ref{Node: inner}, w.items[1].Value)
	require.Equal(t, "jointype", w.items[2].Term)
	require.Equal(t, "cond", w.items[3].Term)

	require.Equal(t, []*model.Node{join}, w.done)
}

func TestExplainCTEReference(t *testing.T) {
	t.Parallel()

	def := &model.Node{ID: 1, Name: "Seq Scan", Attrs: []model.Attr{
		{Term: "relation", Value: model.Str("events")},
	}}
	scan := &model.Node{ID: 2, Name: "CTE Scan", CTEName: "recent", CTE: def}

	w := &recordingWriter{}
	require.NoError(t, scan.Explain(w))
	require.Len(t, w.items, 1)
	require.Equal(t, "cte", w.items[0].Term)
	require.Equal(t, model.Str("recent"), w.items[0].Value)

	w = &recordingWriter{expand: true}
	require.NoError(t, scan.Explain(w))
	require.Equal(t, "Seq Scan(relation=[events])", w.items[0].Value.String())
}

func TestTerm(t *testing.T) {
	t.Parallel()

	require.Equal(t, "input", (&model.Node{}).Term())
	require.Equal(t, "outer", (&model.Node{ParentRelationship: "Outer"}).Term())
	require.Equal(t, "subplan", (&model.Node{ParentRelationship: "SubPlan"}).Term())
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	bare := &model.Node{Name: "Materialize"}
	require.Equal(t, "Materialize", bare.Describe())

	scan := &model.Node{Name: "Index Scan", Attrs: []model.Attr{
		{Term: "relation", Value: model.Str("users")},
		{Term: "index", Value: model.Str("users_pkey")},
	}}
	require.Equal(t, "Index Scan(relation=[users], index=[users_pkey])", scan.Describe())
}

func TestNumString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "100.0", model.Num(100).String())
	require.Equal(t, "0.0", model.Num(0).String())
	require.Equal(t, "80.5", model.Num(80.5).String())
	require.Equal(t, "1e+21", model.Num(1e21).String())
}

func TestValueStrings(t *testing.T) {
	t.Parallel()

	require.Equal(t, "id, name", model.Strs{"id", "name"}.String())
	require.Equal(t, "42", model.Int(42).String())
	require.Equal(t, "true", model.Bool(true).String())
	require.Equal(t, "Sort#7", model.Ref{Node: &model.Node{ID: 7, Name: "Sort"}}.String())
}

func TestClusterIDs(t *testing.T) {
	t.Parallel()

	c := model.NewCluster()
	require.Equal(t, 1, c.NextID())
	require.Equal(t, 2, c.NextID())
	require.Equal(t, 3, c.NextID())
}

func TestClusterMetadataFallback(t *testing.T) {
	t.Parallel()

	c := model.NewCluster()
	md := c.Metadata()
	require.True(t, md.VisibleInExplain(&model.Node{}, model.AllAttributes))

	_, err := md.RowCount(&model.Node{})
	require.ErrorIs(t, err, model.ErrNoMetadata)
	_, err = md.CumulativeCost(&model.Node{})
	require.ErrorIs(t, err, model.ErrNoMetadata)
}

func TestParseDetailLevel(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]model.DetailLevel{
		"":         model.PlanAttributes,
		"plan":     model.PlanAttributes,
		"none":     model.NoAttributes,
		"noncost":  model.NonCostAttributes,
		"non-cost": model.NonCostAttributes,
		"ALL":      model.AllAttributes,
	} {
		got, err := model.ParseDetailLevel(in)
		require.NoError(t, err, "input %q", in)
		require.Equal(t, want, got, "input %q", in)
	}

	_, err := model.ParseDetailLevel("verbose")
	require.Error(t, err)
}
