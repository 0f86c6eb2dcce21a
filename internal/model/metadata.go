package model

import "errors"

// Metadata answers questions about plan nodes that cannot be read off the
// tree itself, such as cost estimates and visibility.
type Metadata interface {
	// VisibleInExplain reports whether n gets its own output line at the
	// given detail level. Children of an elided node surface at the
	// parent's depth.
	VisibleInExplain(n *Node, level DetailLevel) bool
	// RowCount estimates the number of rows n emits.
	RowCount(n *Node) (float64, error)
	// CumulativeCost estimates the cost of n and its entire subtree.
	CumulativeCost(n *Node) (Cost, error)
}

// Cost is an opaque cost estimate. Renderers print it and never look
// inside.
type Cost interface {
	String() string
}

// ErrNoMetadata is returned for stat queries against a cluster that has no
// metadata service attached.
var ErrNoMetadata = errors.New("model: cluster has no metadata service")

type noMetadata struct{}

func (noMetadata) VisibleInExplain(*Node, DetailLevel) bool { return true }
func (noMetadata) RowCount(*Node) (float64, error)          { return 0, ErrNoMetadata }
func (noMetadata) CumulativeCost(*Node) (Cost, error)       { return nil, ErrNoMetadata }
