package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mickamy/planfmt/internal/model"
)

// ParseJSON reads a PostgreSQL EXPLAIN (FORMAT JSON) document and produces
// a plan tree ready for rendering.
func ParseJSON(r io.Reader) (*model.Plan, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var payload any
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode explain json: %w", err)
	}

	entry, err := pickFirstEntry(payload)
	if err != nil {
		return nil, err
	}

	planMapVal, ok := entry["Plan"]
	if !ok {
		return nil, errors.New("explain json: missing Plan root")
	}

	planMap, err := asObject(planMapVal)
	if err != nil {
		return nil, fmt.Errorf("explain json: invalid Plan node: %w", err)
	}

	cluster := model.NewCluster()
	root, err := parseNode(planMap, cluster)
	if err != nil {
		return nil, err
	}
	resolveCTEs(root)

	return &model.Plan{
		Root:          root,
		PlanningTime:  asFloat(entry["Planning Time"]),
		ExecutionTime: asFloat(entry["Execution Time"]),
		Settings:      parseSettings(entry["Settings"]),
	}, nil
}

func pickFirstEntry(payload any) (map[string]any, error) {
	switch v := payload.(type) {
	case []any:
		if len(v) == 0 {
			return nil, errors.New("explain json: empty payload")
		}
		obj, err := asObject(v[0])
		if err != nil {
			return nil, fmt.Errorf("explain json: invalid entry: %w", err)
		}
		return obj, nil
	case map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("explain json: unexpected top-level type %T", payload)
	}
}

// parseNode builds one node and its subtree. Ids are assigned pre-order,
// parent before children.
func parseNode(data map[string]any, cluster *model.Cluster) (*model.Node, error) {
	name := asString(data["Node Type"])
	if name == "" {
		return nil, errors.New("explain json: node without Node Type")
	}

	node := &model.Node{
		ID:                 cluster.NextID(),
		Name:               name,
		ParentRelationship: asString(data["Parent Relationship"]),
		Cluster:            cluster,
		Stats:              parseStats(data),
		CTEName:            asString(data["CTE Name"]),
		Attrs:              parseAttrs(data),
	}

	for i, childVal := range asSlice(data["Plans"]) {
		childMap, err := asObject(childVal)
		if err != nil {
			return nil, fmt.Errorf("parse child plan %d of %s#%d: %w", i, node.Name, node.ID, err)
		}
		child, err := parseNode(childMap, cluster)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	return node, nil
}

func parseStats(data map[string]any) model.Stats {
	_, hasEstimates := data["Total Cost"]
	_, hasActuals := data["Actual Rows"]
	return model.Stats{
		HasEstimates: hasEstimates,
		StartupCost:  asFloat(data["Startup Cost"]),
		TotalCost:    asFloat(data["Total Cost"]),
		PlanRows:     asFloat(data["Plan Rows"]),
		PlanWidth:    asFloat(data["Plan Width"]),

		HasActuals:        hasActuals,
		ActualStartupTime: asFloat(data["Actual Startup Time"]),
		ActualTotalTime:   asFloat(data["Actual Total Time"]),
		ActualRows:        asFloat(data["Actual Rows"]),
		ActualLoops:       asFloat(data["Actual Loops"]),

		WorkersPlanned:  asInt64(data["Workers Planned"]),
		WorkersLaunched: asInt64(data["Workers Launched"]),
	}
}

// parseAttrs collects the descriptive attributes of one node in a fixed
// order: identity fields first (relation, function, alias, index), then
// join shape, then conditions and keys, then any remaining scalar fields
// sorted by name.
func parseAttrs(data map[string]any) []model.Attr {
	var attrs []model.Attr
	add := func(term string, v model.Value) {
		attrs = append(attrs, model.Attr{Term: term, Value: v})
	}

	rel := asString(data["Relation Name"])
	if rel != "" {
		add("relation", model.Str(rel))
	}
	if fn := asString(data["Function Name"]); fn != "" {
		add("function", model.Str(fn))
	}
	if alias := asString(data["Alias"]); alias != "" && alias != rel {
		add("alias", model.Str(alias))
	}
	if idx := asString(data["Index Name"]); idx != "" {
		add("index", model.Str(idx))
	}
	if jt := asString(data["Join Type"]); jt != "" {
		add("jointype", model.Str(jt))
	}
	for _, key := range []string{"Hash Cond", "Merge Cond", "Index Cond"} {
		if cond := asString(data[key]); cond != "" {
			add("cond", model.Str(cond))
		}
	}
	if cond := asString(data["Recheck Cond"]); cond != "" {
		add("recheck", model.Str(cond))
	}
	if f := asString(data["Join Filter"]); f != "" {
		add("joinfilter", model.Str(f))
	}
	if f := asString(data["Filter"]); f != "" {
		add("filter", model.Str(f))
	}
	if keys := asStringSlice(data["Sort Key"]); len(keys) > 0 {
		add("key", model.Strs(keys))
	}
	if keys := asStringSlice(data["Group Key"]); len(keys) > 0 {
		add("key", model.Strs(keys))
	}
	if out := asStringSlice(data["Output"]); len(out) > 0 {
		add("output", model.Strs(out))
	}
	if sp := asString(data["Subplan Name"]); sp != "" {
		add("subplan", model.Str(sp))
	}

	extra := make([]string, 0, len(data))
	for k := range data {
		if _, ok := knownFields[k]; ok {
			continue
		}
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		if v, ok := extraValue(data[k]); ok {
			add(extraTerm(k), v)
		}
	}

	return attrs
}

// knownFields are consumed structurally (or deliberately suppressed, like
// per-node buffer counters) and never turned into generic attributes.
var knownFields = map[string]struct{}{
	"Node Type":           {},
	"Parent Relationship": {},
	"Plans":               {},
	"CTE Name":            {},

	"Startup Cost":        {},
	"Total Cost":          {},
	"Plan Rows":           {},
	"Plan Width":          {},
	"Actual Startup Time": {},
	"Actual Total Time":   {},
	"Actual Rows":         {},
	"Actual Loops":        {},
	"Workers Planned":     {},
	"Workers Launched":    {},

	"Relation Name": {},
	"Function Name": {},
	"Alias":         {},
	"Index Name":    {},
	"Join Type":     {},
	"Hash Cond":     {},
	"Merge Cond":    {},
	"Index Cond":    {},
	"Recheck Cond":  {},
	"Join Filter":   {},
	"Filter":        {},
	"Sort Key":      {},
	"Group Key":     {},
	"Output":        {},
	"Subplan Name":  {},

	"Parallel Aware": {},
	"Async Capable":  {},

	"Shared Hit Blocks":     {},
	"Shared Read Blocks":    {},
	"Shared Dirtied Blocks": {},
	"Shared Written Blocks": {},
	"Local Hit Blocks":      {},
	"Local Read Blocks":     {},
	"Local Dirtied Blocks":  {},
	"Local Written Blocks":  {},
	"Temp Read Blocks":      {},
	"Temp Written Blocks":   {},
	"I/O Read Time":         {},
	"I/O Write Time":        {},
	"Block Read Time":       {},
}

// extraTerm turns an EXPLAIN field name into an attribute term, e.g.
// "Heap Fetches" becomes "heap-fetches".
func extraTerm(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, " ", "-"))
}

// extraValue maps a scalar or string-list field to an attribute value.
// Objects and mixed lists (worker details and the like) are skipped.
func extraValue(val any) (model.Value, bool) {
	switch v := val.(type) {
	case string:
		return model.Str(v), true
	case bool:
		return model.Bool(v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return model.Int(i), true
		}
		if f, err := v.Float64(); err == nil {
			return model.Num(f), true
		}
		return model.Str(v.String()), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return model.Strs(out), true
	default:
		return nil, false
	}
}

// resolveCTEs links nodes that read a common table expression to the
// subplan defining it, so renderers can expand the reference in place.
func resolveCTEs(root *model.Node) {
	defs := map[string]*model.Node{}
	var collect func(*model.Node)
	collect = func(n *model.Node) {
		for _, a := range n.Attrs {
			if a.Term == "subplan" {
				if cte, ok := strings.CutPrefix(a.Value.String(), "CTE "); ok {
					defs[cte] = n
				}
			}
		}
		for _, c := range n.Children {
			collect(c)
		}
	}
	collect(root)

	if len(defs) == 0 {
		return
	}

	var link func(*model.Node)
	link = func(n *model.Node) {
		if n.CTEName != "" {
			n.CTE = defs[n.CTEName]
		}
		for _, c := range n.Children {
			link(c)
		}
	}
	link(root)
}

func parseSettings(val any) map[string]string {
	if val == nil {
		return nil
	}

	result := map[string]string{}
	switch typed := val.(type) {
	case []any:
		for _, entry := range typed {
			item, err := asObject(entry)
			if err != nil {
				continue
			}
			name := asString(item["Name"])
			if name == "" {
				name = asString(item["name"])
			}
			value := asString(item["Setting"])
			if value == "" {
				value = asString(item["value"])
			}
			if name != "" && value != "" {
				result[name] = value
			}
		}
	case map[string]any:
		for k, v := range typed {
			result[k] = fmt.Sprint(v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func asObject(val any) (map[string]any, error) {
	if val == nil {
		return nil, errors.New("nil object")
	}
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", val)
	}
	return obj, nil
}

func asSlice(val any) []any {
	if val == nil {
		return nil
	}
	switch v := val.(type) {
	case []any:
		return v
	default:
		return nil
	}
}

func asString(val any) string {
	if val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func asStringSlice(val any) []string {
	if val == nil {
		return nil
	}
	switch v := val.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, asString(item))
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case string:
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return nil
	}
}

func asFloat(val any) float64 {
	if val == nil {
		return 0
	}
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		if v == "" {
			return 0
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func asInt64(val any) int64 {
	if val == nil {
		return 0
	}
	switch v := val.(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	case json.Number:
		i, err := v.Int64()
		if err == nil {
			return i
		}
		f, err := v.Float64()
		if err != nil {
			return 0
		}
		return int64(math.Round(f))
	case string:
		if v == "" {
			return 0
		}
		if strings.ContainsRune(v, '.') {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0
			}
			return int64(math.Round(f))
		}
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
