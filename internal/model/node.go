package model

import "strings"

// Node is one operator in a plan tree. Nodes are built by a parser, or by
// hand in tests, and are read-only as far as renderers are concerned.
type Node struct {
	ID   int
	Name string
	// ParentRelationship is the raw role reported by the source plan,
	// e.g. "Outer" or "Inner". Term derives the structural attribute
	// term from it.
	ParentRelationship string
	Attrs              []Attr
	Children           []*Node
	Cluster            *Cluster
	Stats              Stats
	// CTEName names the common table expression a CTE Scan reads; CTE
	// points at the subplan defining it once the parser resolves it.
	CTEName string
	CTE     *Node
}

// Attr is one named attribute in a node's description.
type Attr struct {
	Term  string
	Value Value
}

// Metadata returns the metadata service of the owning cluster, falling
// back to the no-op stub for nodes built without one.
func (n *Node) Metadata() Metadata {
	if n.Cluster == nil {
		return noMetadata{}
	}
	return n.Cluster.Metadata()
}

// Term returns the attribute term linking n to its parent: the lower-cased
// parent relationship, or "input" when the source plan did not report one.
func (n *Node) Term() string {
	if n.ParentRelationship == "" {
		return "input"
	}
	return strings.ToLower(n.ParentRelationship)
}

// Attr returns the value of the first attribute with the given term.
func (n *Node) Attr(term string) (Value, bool) {
	for _, a := range n.Attrs {
		if a.Term == term {
			return a.Value, true
		}
	}
	return nil, false
}

// Explain describes n to the writer: one item per child in child order,
// then the descriptive attributes, closed with a single Done call.
func (n *Node) Explain(w Writer) error {
	for _, child := range n.Children {
		w.Item(child.Term(), Ref{Node: child})
	}
	for _, a := range n.Attrs {
		w.Item(a.Term, a.Value)
	}
	switch {
	case n.CTE != nil && w.Expand():
		w.Item("cte", Sub{E: n.CTE})
	case n.CTEName != "":
		w.Item("cte", Str(n.CTEName))
	}
	return w.Done(n)
}

// Describe returns the compact one-line form of n, such as
// "Index Scan(index=[users_pkey])". Children are not included.
func (n *Node) Describe() string {
	if len(n.Attrs) == 0 {
		return n.Name
	}
	var b strings.Builder
	b.WriteString(n.Name)
	b.WriteByte('(')
	for i, a := range n.Attrs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.Term)
		b.WriteString("=[")
		b.WriteString(a.Value.String())
		b.WriteByte(']')
	}
	b.WriteByte(')')
	return b.String()
}

// Cluster groups the nodes of one plan: it hands out node ids and holds
// the metadata service renderers consult.
type Cluster struct {
	nextID int
	md     Metadata
}

// NewCluster returns an empty cluster. Ids start at 1.
func NewCluster() *Cluster {
	return &Cluster{nextID: 1}
}

// NextID returns a fresh node id.
func (c *Cluster) NextID() int {
	id := c.nextID
	c.nextID++
	return id
}

// Metadata returns the attached metadata service. A cluster without one
// falls back to a stub that keeps every node visible and has no
// statistics.
func (c *Cluster) Metadata() Metadata {
	if c.md == nil {
		return noMetadata{}
	}
	return c.md
}

// SetMetadata attaches the metadata service consulted during rendering.
func (c *Cluster) SetMetadata(md Metadata) {
	c.md = md
}
