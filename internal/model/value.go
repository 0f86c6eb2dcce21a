package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a single attribute value. The concrete type tells renderers how
// to treat it: Ref marks a structural child reference and stays out of
// attribute clauses, Sub wraps a nested explainable, everything else is
// literal text.
type Value interface {
	fmt.Stringer
	value()
}

// Explainable is anything with a compact one-line description, suitable
// for inlining into an attribute clause.
type Explainable interface {
	Describe() string
}

// Str is a literal string value.
type Str string

func (v Str) String() string { return string(v) }
func (Str) value()           {}

// Strs is a list value rendered comma-separated.
type Strs []string

func (v Strs) String() string { return strings.Join(v, ", ") }
func (Strs) value()           {}

// Int is an integer value.
type Int int64

func (v Int) String() string { return strconv.FormatInt(int64(v), 10) }
func (Int) value()           {}

// Bool is a boolean value.
type Bool bool

func (v Bool) String() string { return strconv.FormatBool(bool(v)) }
func (Bool) value()           {}

// Num is a floating-point value. Integral values keep an explicit decimal
// part, so a row count of 100 renders as "100.0".
type Num float64

func (v Num) String() string {
	s := strconv.FormatFloat(float64(v), 'g', -1, 64)
	if strings.ContainsAny(s, ".eEIN") { // decimal part, exponent, Inf or NaN
		return s
	}
	return s + ".0"
}
func (Num) value() {}

// Ref is a reference to a child node. Attribute clauses skip Refs; the
// consistency check requires them to line up with the node's children.
type Ref struct {
	Node *Node
}

func (v Ref) String() string {
	if v.Node == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s#%d", v.Node.Name, v.Node.ID)
}
func (Ref) value() {}

// Sub wraps a nested explainable, rendered through its Describe form.
type Sub struct {
	E Explainable
}

func (v Sub) String() string {
	if v.E == nil {
		return "<nil>"
	}
	return v.E.Describe()
}
func (Sub) value() {}
