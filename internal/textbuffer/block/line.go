// Package block implements TextLine (component A) and Block (component B).
package block

import "unicode/utf16"

// TextLine is a single line of text plus its metadata. Columns index UTF-16
// code units, matching the wire behavior of the swap file's per-column
// offsets (see the Unicode-boundaries design note).
type TextLine struct {
	units       []uint16
	modified    bool
	savedOnDisk bool
	attrs       []byte
}

// NewTextLine constructs a line from a UTF-8 string.
func NewTextLine(text string) TextLine {
	return TextLine{units: utf16.Encode([]rune(text))}
}

// Text returns the line's content as a UTF-8 string.
func (l *TextLine) Text() string {
	return string(utf16.Decode(l.units))
}

// SetText replaces the line's content wholesale.
func (l *TextLine) SetText(text string) {
	l.units = utf16.Encode([]rune(text))
}

// Units returns the raw UTF-16 code units backing the line.
func (l *TextLine) Units() []uint16 { return l.units }

// Len returns the line length in UTF-16 code units.
func (l *TextLine) Len() int { return len(l.units) }

// Modified reports whether the line has changed since the last save.
func (l *TextLine) Modified() bool { return l.modified }

// MarkAsModified sets or clears the modified flag.
func (l *TextLine) MarkAsModified(v bool) { l.modified = v }

// SavedOnDisk reports whether this exact content was on disk at some revision.
func (l *TextLine) SavedOnDisk() bool { return l.savedOnDisk }

// MarkAsSavedOnDisk sets or clears the saved-on-disk flag.
func (l *TextLine) MarkAsSavedOnDisk(v bool) { l.savedOnDisk = v }

// Attributes returns the opaque per-line attribute payload.
func (l *TextLine) Attributes() []byte { return l.attrs }

// SetAttributes replaces the opaque per-line attribute payload.
func (l *TextLine) SetAttributes(a []byte) { l.attrs = a }

// FirstNonWhitespaceColumn returns the column of the first non-whitespace
// code unit, or Len() if the line is all whitespace.
func (l *TextLine) FirstNonWhitespaceColumn() int {
	for i, u := range l.units {
		if u != ' ' && u != '\t' {
			return i
		}
	}
	return len(l.units)
}

// checkColumn panics when col lies outside [0, Len()]. A column past the
// line length is a caller bug, reported the same way the buffer reports an
// out-of-range line.
func (l *TextLine) checkColumn(col int) {
	if col < 0 || col > len(l.units) {
		panic("block: column out of range for line")
	}
}

// InsertAt splices units into the line at col, which must be in [0, Len()].
func (l *TextLine) InsertAt(col int, units []uint16) {
	l.checkColumn(col)
	out := make([]uint16, 0, len(l.units)+len(units))
	out = append(out, l.units[:col]...)
	out = append(out, units...)
	out = append(out, l.units[col:]...)
	l.units = out
}

// SplitOff removes and returns the suffix starting at col, leaving the
// receiver holding only the prefix. Used by wrapLine.
func (l *TextLine) SplitOff(col int) []uint16 {
	l.checkColumn(col)
	suffix := append([]uint16(nil), l.units[col:]...)
	l.units = l.units[:col]
	return suffix
}

// Append appends units to the end of the line's content. Used by unwrapLine.
func (l *TextLine) Append(units []uint16) {
	l.units = append(l.units, units...)
}

// Remove deletes the code units in [start, end) and returns them.
func (l *TextLine) Remove(start, end int) []uint16 {
	l.checkColumn(start)
	l.checkColumn(end)
	if start > end {
		panic("block: remove span is reversed")
	}
	removed := append([]uint16(nil), l.units[start:end]...)
	l.units = append(l.units[:start], l.units[end:]...)
	return removed
}
