package text

import "strings"

// Spacer tracks the renderer's current indentation column. Depth never
// goes below zero.
type Spacer struct {
	depth int
}

// Add widens the indentation by n columns.
func (s *Spacer) Add(n int) {
	s.depth += n
	if s.depth < 0 {
		s.depth = 0
	}
}

// Subtract narrows the indentation by n columns, stopping at zero.
func (s *Spacer) Subtract(n int) {
	s.Add(-n)
}

// Depth returns the current indentation width in columns.
func (s *Spacer) Depth() int { return s.depth }

// Pad writes the current indentation into b.
func (s *Spacer) Pad(b *strings.Builder) {
	b.WriteString(strings.Repeat(" ", s.depth))
}
