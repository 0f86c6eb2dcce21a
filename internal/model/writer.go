package model

import (
	"fmt"
	"strings"
)

// DetailLevel selects how much annotation a rendered plan line carries.
type DetailLevel int

const (
	// PlanAttributes shows the attributes that shape the plan. This is
	// the default level.
	PlanAttributes DetailLevel = iota
	// NoAttributes shows bare operator names.
	NoAttributes
	// NonCostAttributes shows every attribute except cost estimates and
	// tags each line with the node id.
	NonCostAttributes
	// AllAttributes adds row count and cumulative cost to every line.
	AllAttributes
)

// String returns the flag and config spelling of the level.
func (l DetailLevel) String() string {
	switch l {
	case NoAttributes:
		return "none"
	case NonCostAttributes:
		return "noncost"
	case AllAttributes:
		return "all"
	default:
		return "plan"
	}
}

// ParseDetailLevel maps a flag or config value to a DetailLevel.
func ParseDetailLevel(s string) (DetailLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plan":
		return PlanAttributes, nil
	case "none":
		return NoAttributes, nil
	case "noncost", "non-cost":
		return NonCostAttributes, nil
	case "all":
		return AllAttributes, nil
	default:
		return PlanAttributes, fmt.Errorf("unknown detail level %q", s)
	}
}

// Writer receives one node description at a time: a sequence of Item calls,
// then a single Done. Item only accumulates and cannot fail; rendering
// happens in Done.
type Writer interface {
	// Item appends one attribute to the pending description and returns
	// the writer for chaining.
	Item(term string, v Value) Writer
	// Done renders the pending description for n, including its children,
	// and clears the accumulated attributes.
	Done(n *Node) error
	// Detail reports the active detail level.
	Detail() DetailLevel
	// Expand reports whether nested explainables are expanded in place
	// rather than referenced by name.
	Expand() bool
}
