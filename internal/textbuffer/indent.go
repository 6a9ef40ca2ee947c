package textbuffer

import "strings"

// DefaultIndentWidth is the indent step IndentSelection uses when the
// caller passes a non-positive width.
const DefaultIndentWidth = 4

// IndentSelection inserts width spaces at column 0 of every line the span
// touches, inside its own transaction bracket. A selection ending at
// column 0 of a line stops short of that line, matching the usual
// selection-indent behavior: selecting up to the start of a line does not
// indent it.
func (buf *Buffer) IndentSelection(span Span, width int) {
	if width <= 0 {
		width = DefaultIndentWidth
	}
	endLine := span.End.Line
	if span.End.Column == 0 && endLine > span.Start.Line {
		endLine--
	}
	indent := strings.Repeat(" ", width)

	buf.StartEditing()
	for line := span.Start.Line; line <= endLine; line++ {
		buf.InsertText(Position{Line: line, Column: 0}, indent)
	}
	buf.FinishEditing()
}
