package text

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mickamy/planfmt/internal/model"
)

// indentStep is how many columns one tree level adds.
const indentStep = 2

// Options controls how the text renderer behaves. The zero value renders
// plan-level attributes, prefixes each line with the node id, and keeps
// nested explainables as opaque references.
type Options struct {
	Detail     model.DetailLevel
	NoIDPrefix bool
	Expand     bool
}

// Writer renders one line per visible plan node. It implements
// model.Writer: a node describes itself through Item calls and a final
// Done, which checks the description against the tree, prints the node's
// line and recurses into its children one indentation step deeper.
//
// A Writer is single-session state: the attribute buffer and indentation
// depth are unsynchronized, so use one Writer per goroutine.
type Writer struct {
	out      io.Writer
	detail   model.DetailLevel
	idPrefix bool
	expand   bool
	spacer   Spacer
	buf      []model.Attr
}

// NewWriter returns a Writer printing to out.
func NewWriter(out io.Writer, opts Options) *Writer {
	return &Writer{
		out:      out,
		detail:   opts.Detail,
		idPrefix: !opts.NoIDPrefix,
		expand:   opts.Expand,
	}
}

// Render writes the whole plan tree to out.
func Render(out io.Writer, p *model.Plan, opts Options) error {
	if out == nil {
		return errors.New("render: writer is nil")
	}
	if p == nil || p.Root == nil {
		return errors.New("render: empty plan")
	}
	return p.Root.Explain(NewWriter(out, opts))
}

// Detail reports the active detail level.
func (w *Writer) Detail() model.DetailLevel { return w.detail }

// Expand reports whether nested explainables are expanded in place.
func (w *Writer) Expand() bool { return w.expand }

// Item buffers one attribute. It never validates and never writes output.
func (w *Writer) Item(term string, v model.Value) model.Writer {
	w.buf = append(w.buf, model.Attr{Term: term, Value: v})
	return w
}

// Inline renders the buffered attributes as a single parenthesised clause,
// child references included, without touching the output sink.
func (w *Writer) Inline() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, a := range w.buf {
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

// Done checks the buffered description against n's children, clears the
// buffer, renders n's subtree and flushes the sink.
func (w *Writer) Done(n *model.Node) error {
	if n == nil {
		return errors.New("render: done without a node")
	}
	if err := w.checkInputs(n); err != nil {
		return err
	}
	attrs := w.buf
	w.buf = nil
	if err := w.render(n, attrs); err != nil {
		return err
	}
	return w.flush()
}

// render emits the line for n followed by its children. Nodes the
// metadata service hides produce no line of their own; their children
// surface at the current depth instead.
func (w *Writer) render(n *model.Node, attrs []model.Attr) error {
	md := n.Metadata()
	if !md.VisibleInExplain(n, w.detail) {
		return w.renderChildren(n)
	}

	var b strings.Builder
	w.spacer.Pad(&b)
	if w.idPrefix {
		fmt.Fprintf(&b, "%d:", n.ID)
	}
	b.WriteString(n.Name)

	if w.detail != model.NoAttributes {
		written := 0
		for _, a := range attrs {
			if _, ok := a.Value.(model.Ref); ok {
				continue
			}
			if written == 0 {
				b.WriteByte('(')
			} else {
				b.WriteString(", ")
			}
			written++
			b.WriteString(a.Term)
			b.WriteString("=[")
			b.WriteString(a.Value.String())
			b.WriteByte(']')
		}
		if written > 0 {
			b.WriteByte(')')
		}
	}

	if w.detail == model.AllAttributes {
		rows, err := md.RowCount(n)
		if err != nil {
			return fmt.Errorf("render: row count for %s#%d: %w", n.Name, n.ID, err)
		}
		cost, err := md.CumulativeCost(n)
		if err != nil {
			return fmt.Errorf("render: cumulative cost for %s#%d: %w", n.Name, n.ID, err)
		}
		b.WriteString(": rowcount = ")
		b.WriteString(model.Num(rows).String())
		b.WriteString(", cumulative cost = ")
		b.WriteString(cost.String())
	}
	if (w.detail == model.NonCostAttributes || w.detail == model.AllAttributes) && !w.idPrefix {
		fmt.Fprintf(&b, ", id = %d", n.ID)
	}

	if _, err := fmt.Fprintln(w.out, b.String()); err != nil {
		return fmt.Errorf("render: write plan line: %w", err)
	}

	w.spacer.Add(indentStep)
	defer w.spacer.Subtract(indentStep)
	return w.renderChildren(n)
}

// renderChildren walks the children through their own Explain/Done cycle,
// each starting from an empty attribute buffer.
func (w *Writer) renderChildren(n *model.Node) error {
	for _, child := range n.Children {
		if err := child.Explain(w); err != nil {
			return err
		}
	}
	return nil
}

// flush pushes buffered output through when the sink supports it.
func (w *Writer) flush() error {
	f, ok := w.out.(interface{ Flush() error })
	if !ok {
		return nil
	}
	if err := f.Flush(); err != nil {
		return fmt.Errorf("render: flush: %w", err)
	}
	return nil
}

// MismatchError reports a structural mismatch between the attributes a
// node registered and the children it actually has. It signals a bug in
// the plan builder, not bad input, so rendering aborts before the node
// produces any output.
type MismatchError struct {
	Node   *model.Node
	Index  int
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("render: %s#%d child %d: %s", e.Node.Name, e.Node.ID, e.Index, e.Reason)
}

// checkInputs verifies the buffered attributes start with one Ref per
// child, reference-identical and in child order. A single leading
// "subset" attribute is tolerated ahead of the child references.
func (w *Writer) checkInputs(n *model.Node) error {
	pos := 0
	if len(w.buf) > 0 && w.buf[0].Term == "subset" {
		pos++
	}
	for i, child := range n.Children {
		want := model.Ref{Node: child}
		if pos >= len(w.buf) {
			return &MismatchError{Node: n, Index: i, Reason: fmt.Sprintf("child %s was not registered", want)}
		}
		got, ok := w.buf[pos].Value.(model.Ref)
		if !ok {
			return &MismatchError{Node: n, Index: i, Reason: fmt.Sprintf("attribute %q registered where child %s was expected", w.buf[pos].Term, want)}
		}
		if got.Node != child {
			return &MismatchError{Node: n, Index: i, Reason: fmt.Sprintf("registered %s, expected child %s", got, want)}
		}
		pos++
	}
	return nil
}
