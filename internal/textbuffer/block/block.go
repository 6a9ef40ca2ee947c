package block

import (
	"sort"
	"unicode/utf16"

	"github.com/dshills/katecore/internal/textbuffer/cursor"
	"github.com/dshills/katecore/internal/textbuffer/textrange"
)

// Hooks is the callback surface a Block needs from its owning buffer. A
// Block never stores a pointer back to the buffer (see the cursor
// package's doc comment for why): it receives a Hooks value on every
// mutating call instead.
type Hooks interface {
	// StartLine returns the document line number of a block's first line.
	StartLine(blockIndex int) int
	// FixStartLines corrects the cached start-line of every block at or
	// after fromBlockIndex by delta. Must run before any range
	// revalidation, or range lookups read stale block offsets.
	FixStartLines(fromBlockIndex, delta int)
	// RecordWrapLine appends a history/swap-journal entry for a wrapLine.
	RecordWrapLine(docLine, col int)
	// RecordUnwrapLine appends a history/swap-journal entry for an unwrapLine.
	RecordUnwrapLine(docLine, prevLineLength int)
	// RecordInsertText appends a history/swap-journal entry for an insertText.
	RecordInsertText(docLine, col int, text string, prevLineLength int)
	// RecordRemoveText appends a history/swap-journal entry for a removeText.
	RecordRemoveText(docLine, startCol, endCol, prevLineLength int)
	// RangeInvalidated tells the buffer a range died during cursor fixup,
	// so it can drop the range and its endpoint cursors from every index
	// (including blocks this one cannot see).
	RangeInvalidated(r *textrange.Range)
}

// Block is a contiguous run of at most 2*B lines (component B). It owns
// the cursors anchored within its line range and caches ranges that lie
// entirely on one of its lines.
type Block struct {
	index int
	lines []TextLine

	cursors []*cursor.Cursor // sorted by (line, column)

	// lineRanges[i] holds ranges whose start and end both lie on in-block
	// line i, the O(1) line-query fast path.
	lineRanges [][]*textrange.Range
	// overflowRanges holds ranges that span more than one line within this
	// block (but not across block boundaries); scanned linearly.
	overflowRanges []*textrange.Range
}

// New creates an empty block at the given index.
func New(index int) *Block {
	return &Block{index: index}
}

// Index returns the block's position in the buffer's block slice.
func (b *Block) Index() int { return b.index }

// SetIndex updates the block's cached index, used when neighboring blocks
// are inserted/removed and every later block is renumbered.
func (b *Block) SetIndex(i int) { b.index = i }

// Lines returns the number of lines in the block.
func (b *Block) Lines() int { return len(b.lines) }

// Line returns the in-block line at offset i.
func (b *Block) Line(i int) *TextLine { return &b.lines[i] }

// SetLineMetaData overwrites line i's metadata but preserves its text;
// callers pass a template line carrying only flags/attributes.
func (b *Block) SetLineMetaData(i int, meta TextLine) {
	text := b.lines[i].units
	b.lines[i] = meta
	b.lines[i].units = text
}

// AppendLine appends a new line built from raw text; used by Buffer.Load.
func (b *Block) AppendLine(text string) {
	b.lines = append(b.lines, NewTextLine(text))
}

// ClearLines empties the block's line storage (cursors/ranges must already
// have been evacuated by the caller).
func (b *Block) ClearLines() { b.lines = nil }

// ClearBlockContent evacuates the block for a buffer-wide clear: free
// cursors move to target at (0,0); cursors owned by a Range are left in
// place for the caller's range-invalidation pass. Lines and range caches
// are dropped.
func (b *Block) ClearBlockContent(target *Block) {
	for _, c := range b.cursors {
		if !c.OwnedByRange() {
			target.RegisterCursor(c, 0, 0)
		}
	}
	b.cursors = nil
	b.lines = nil
	b.lineRanges = nil
	b.overflowRanges = nil
}

// AllRanges returns every range filed in this block's caches.
func (b *Block) AllRanges() []*textrange.Range {
	var out []*textrange.Range
	for _, rs := range b.lineRanges {
		out = append(out, rs...)
	}
	out = append(out, b.overflowRanges...)
	return out
}

// Text concatenates every line in the block, each followed by a newline.
func (b *Block) Text() string {
	var out []uint16
	for i := range b.lines {
		out = append(out, b.lines[i].units...)
		out = append(out, '\n')
	}
	return string(utf16.Decode(out))
}

// RegisterCursor adds a cursor to this block's set, keeping it sorted.
func (b *Block) RegisterCursor(c *cursor.Cursor, lineInBlock, column int) {
	c.Relocate(b.index, lineInBlock, column)
	i := sort.Search(len(b.cursors), func(i int) bool { return cursor.Less(c, b.cursors[i]) })
	b.cursors = append(b.cursors, nil)
	copy(b.cursors[i+1:], b.cursors[i:])
	b.cursors[i] = c
}

// UnregisterCursor removes a cursor from this block's set.
func (b *Block) UnregisterCursor(c *cursor.Cursor) {
	for i, bc := range b.cursors {
		if bc == c {
			b.cursors = append(b.cursors[:i], b.cursors[i+1:]...)
			return
		}
	}
}

// Cursors returns the block's cursor set (read-only use expected).
func (b *Block) Cursors() []*cursor.Cursor { return b.cursors }

// RegisterRange files a range into the per-line cache or the overflow list
// depending on whether its endpoints share an in-block line. Both
// endpoints must already be relocated into this block.
func (b *Block) RegisterRange(r *textrange.Range) {
	if r.Start().BlockIndex() == r.End().BlockIndex() && r.Start().Line() == r.End().Line() {
		line := r.Start().Line()
		for len(b.lineRanges) <= line {
			b.lineRanges = append(b.lineRanges, nil)
		}
		b.lineRanges[line] = append(b.lineRanges[line], r)
		return
	}
	b.overflowRanges = append(b.overflowRanges, r)
}

// UnregisterRange removes a range from whichever cache holds it.
func (b *Block) UnregisterRange(r *textrange.Range) {
	for line, rs := range b.lineRanges {
		for i, rr := range rs {
			if rr == r {
				b.lineRanges[line] = append(rs[:i], rs[i+1:]...)
				return
			}
		}
	}
	for i, rr := range b.overflowRanges {
		if rr == r {
			b.overflowRanges = append(b.overflowRanges[:i], b.overflowRanges[i+1:]...)
			return
		}
	}
}

// RangesForLine returns every range touching in-block line, combining the
// per-line cache with a linear scan of the overflow list.
func (b *Block) RangesForLine(line int) []*textrange.Range {
	var out []*textrange.Range
	if line < len(b.lineRanges) {
		out = append(out, b.lineRanges[line]...)
	}
	for _, r := range b.overflowRanges {
		if r.Start().Line() <= line && line <= r.End().Line() {
			out = append(out, r)
		}
	}
	return out
}

// MarkModifiedLinesAsSaved flips savedOnDisk for every modified line and
// clears the modified flag, invoked block-by-block by Buffer.Save.
func (b *Block) MarkModifiedLinesAsSaved() {
	for i := range b.lines {
		if b.lines[i].modified {
			b.lines[i].modified = false
			b.lines[i].savedOnDisk = true
		}
	}
}

// touchedRange marks r for a deferred Revalidate pass exactly once.
func touchedRange(seen map[*textrange.Range]bool, touched *[]*textrange.Range, r *textrange.Range) {
	if r == nil || seen[r] {
		return
	}
	seen[r] = true
	r.MarkRevalidationRequired()
	*touched = append(*touched, r)
}

func revalidateAll(hooks Hooks, touched []*textrange.Range) {
	for _, r := range touched {
		if !r.RevalidationPending() {
			continue
		}
		if becameInvalid, _ := r.Revalidate(); becameInvalid {
			hooks.RangeInvalidated(r)
		}
	}
}

// RangeOwnerLookup maps a cursor to the range that owns it as an endpoint,
// if any. Buffer wires this in, since Cursor carries no back-reference to
// its Range.
type RangeOwnerLookup func(c *cursor.Cursor) *textrange.Range

// WrapLine splits line at column, inserting a new line holding the suffix.
// line is the in-block offset (already resolved by the buffer via
// blockForLine); hooks.FixStartLines must run before any range
// revalidation.
func (b *Block) WrapLine(hooks Hooks, line, column int, owner RangeOwnerLookup) {
	b.lines[line].checkColumn(column)
	docLine := hooks.StartLine(b.index) + line
	text := append([]uint16(nil), b.lines[line].units...)

	b.lines = append(b.lines, TextLine{})
	copy(b.lines[line+2:], b.lines[line+1:])
	b.lines[line+1] = TextLine{}

	switch {
	case column > 0 || len(text) == 0 || b.lines[line].modified:
		b.lines[line+1].modified = true
	case b.lines[line].savedOnDisk:
		b.lines[line+1].savedOnDisk = true
	}

	if column < len(text) {
		b.lines[line+1].units = append([]uint16(nil), text[column:]...)
		b.lines[line].units = append([]uint16(nil), text[:column]...)
		b.lines[line].modified = true
	}

	// Fix start lines for every following block now, before any range
	// revalidation reads them.
	hooks.FixStartLines(b.index+1, 1)
	hooks.RecordWrapLine(docLine, column)

	if len(b.cursors) == 0 {
		return
	}

	seen := map[*textrange.Range]bool{}
	var touched []*textrange.Range
	for _, c := range b.cursors {
		switch {
		case c.Line() < line:
			continue
		case c.Line() > line:
			c.ShiftLine(1)
		default:
			if c.Column() <= column {
				if c.Column() < column || !c.MoveOnInsert() {
					continue
				}
			}
			c.ShiftLine(1)
			c.ShiftColumn(-column)
		}
		touchedRange(seen, &touched, owner(c))
	}
	resortCursors(b.cursors)
	revalidateAll(hooks, touched)
}

// UnwrapLine merges in-block line into its predecessor. If line == 0, the
// predecessor is the last line of prevBlock (which must be non-nil and
// non-empty); otherwise the merge happens wholly inside this block.
func (b *Block) UnwrapLine(hooks Hooks, line int, prevBlock *Block, owner RangeOwnerLookup) {
	if line == 0 {
		b.unwrapAcrossBlocks(hooks, prevBlock, owner)
		return
	}

	docLine := hooks.StartLine(b.index) + line
	prevLen := b.lines[line-1].Len()
	curLen := b.lines[line].Len()

	if curLen > 0 {
		b.lines[line-1].Append(b.lines[line].units)
	}
	lineChanged := (prevLen > 0 && b.lines[line-1].modified) ||
		(curLen > 0 && (prevLen > 0 || b.lines[line].modified))
	b.lines[line-1].modified = lineChanged
	if prevLen == 0 && b.lines[line].savedOnDisk {
		b.lines[line-1].savedOnDisk = true
	}

	b.lines = append(b.lines[:line], b.lines[line+1:]...)

	hooks.FixStartLines(b.index+1, -1)
	hooks.RecordUnwrapLine(docLine, prevLen)

	if len(b.cursors) == 0 {
		return
	}

	seen := map[*textrange.Range]bool{}
	var touched []*textrange.Range
	for _, c := range b.cursors {
		if c.Line() < line {
			continue
		}
		if c.Line() == line {
			c.ShiftColumn(prevLen)
		}
		c.ShiftLine(-1)
		touchedRange(seen, &touched, owner(c))
	}
	resortCursors(b.cursors)
	revalidateAll(hooks, touched)
}

func (b *Block) unwrapAcrossBlocks(hooks Hooks, prevBlock *Block, owner RangeOwnerLookup) {
	docLine := hooks.StartLine(b.index)
	lastOfPrev := prevBlock.Lines() - 1
	oldFirst := b.lines[0]
	prevLen := prevBlock.lines[lastOfPrev].Len()

	b.lines[0] = prevBlock.lines[lastOfPrev]
	prevBlock.lines = prevBlock.lines[:lastOfPrev]

	if oldFirst.Len() > 0 {
		b.lines[0].Append(oldFirst.units)
		b.lines[0].modified = true
	}

	hooks.FixStartLines(b.index, -1)
	hooks.RecordUnwrapLine(docLine, prevLen)

	if len(b.cursors) == 0 && len(prevBlock.cursors) == 0 {
		return
	}

	seen := map[*textrange.Range]bool{}
	var touched []*textrange.Range
	for _, c := range b.cursors {
		if c.Line() == 0 {
			c.ShiftColumn(prevLen)
			touchedRange(seen, &touched, owner(c))
		}
	}

	var migrated []*cursor.Cursor
	kept := prevBlock.cursors[:0]
	for _, c := range prevBlock.cursors {
		if c.Line() == lastOfPrev {
			c.Relocate(b.index, 0, c.Column())
			migrated = append(migrated, c)
			touchedRange(seen, &touched, owner(c))
		} else {
			kept = append(kept, c)
		}
	}
	prevBlock.cursors = kept
	b.cursors = append(b.cursors, migrated...)
	resortCursors(b.cursors)

	revalidateAll(hooks, touched)
}

// InsertText splices text into line at column.
func (b *Block) InsertText(hooks Hooks, line, column int, text string, owner RangeOwnerLookup) {
	docLine := hooks.StartLine(b.index) + line
	units := utf16.Encode([]rune(text))
	oldLen := b.lines[line].Len()
	b.lines[line].modified = true
	b.lines[line].InsertAt(column, units)

	hooks.RecordInsertText(docLine, column, text, oldLen)

	if len(b.cursors) == 0 {
		return
	}

	newLen := b.lines[line].Len()
	seen := map[*textrange.Range]bool{}
	var touched []*textrange.Range
	for _, c := range b.cursors {
		if c.Line() != line {
			continue
		}
		if c.Column() <= column {
			if c.Column() < column || !c.MoveOnInsert() {
				continue
			}
		}
		switch {
		case c.Column() <= oldLen:
			c.ShiftColumn(len(units))
		case c.Column() < newLen:
			c.SetColumn(newLen)
		}
		if r := owner(c); r != nil && (r.Feedback() != nil || r.Start().Line() == r.End().Line()) {
			touchedRange(seen, &touched, r)
		}
	}
	revalidateAll(hooks, touched)
}

// RemoveText deletes the code units in [startCol, endCol) on line and
// returns the removed text.
func (b *Block) RemoveText(hooks Hooks, line, startCol, endCol int, owner RangeOwnerLookup) string {
	docLine := hooks.StartLine(b.index) + line
	oldLen := b.lines[line].Len()
	removed := b.lines[line].Remove(startCol, endCol)
	b.lines[line].modified = true

	hooks.RecordRemoveText(docLine, startCol, endCol, oldLen)

	if len(b.cursors) != 0 {
		seen := map[*textrange.Range]bool{}
		var touched []*textrange.Range
		for _, c := range b.cursors {
			if c.Line() != line || c.Column() <= startCol {
				continue
			}
			if c.Column() <= endCol {
				c.SetColumn(startCol)
			} else {
				c.ShiftColumn(-(endCol - startCol))
			}
			if r := owner(c); r != nil && (r.Feedback() != nil || r.Start().Line() == r.End().Line()) {
				touchedRange(seen, &touched, r)
			}
		}
		revalidateAll(hooks, touched)
	}

	return string(utf16.Decode(removed))
}

// SplitBlock moves lines [fromLine:] (and their cursors and same-line
// ranges) into a fresh block, which the caller inserts immediately after
// this one. Ranges that now span the split are returned so the buffer can
// register them in its multi-block index.
func (b *Block) SplitBlock(fromLine, newIndex int) (*Block, []*textrange.Range) {
	nb := New(newIndex)
	nb.lines = append(nb.lines, b.lines[fromLine:]...)
	b.lines = b.lines[:fromLine]

	kept := b.cursors[:0]
	for _, c := range b.cursors {
		if c.Line() >= fromLine {
			c.Relocate(newIndex, c.Line()-fromLine, c.Column())
			nb.cursors = append(nb.cursors, c)
		} else {
			kept = append(kept, c)
		}
	}
	b.cursors = kept
	resortCursors(nb.cursors)

	// Same-line ranges on moved lines re-file in the new block's cache.
	if len(b.lineRanges) > fromLine {
		nb.lineRanges = append(nb.lineRanges, b.lineRanges[fromLine:]...)
		b.lineRanges = b.lineRanges[:fromLine]
	}

	// Multi-line ranges: stay, move, or get promoted to the buffer index
	// depending on where their (already relocated) endpoints landed.
	var promoted []*textrange.Range
	keptOverflow := b.overflowRanges[:0]
	for _, r := range b.overflowRanges {
		switch {
		case r.Start().BlockIndex() != r.End().BlockIndex():
			promoted = append(promoted, r)
		case r.Start().BlockIndex() == newIndex:
			nb.overflowRanges = append(nb.overflowRanges, r)
		default:
			keptOverflow = append(keptOverflow, r)
		}
	}
	b.overflowRanges = keptOverflow
	return nb, promoted
}

// MergeBlock appends this block's lines, cursors, and range caches onto
// target, rebasing line offsets by target's current line count.
func (b *Block) MergeBlock(target *Block) {
	base := target.Lines()
	for _, c := range b.cursors {
		c.Relocate(target.index, c.Line()+base, c.Column())
	}
	target.cursors = append(target.cursors, b.cursors...)
	resortCursors(target.cursors)
	b.cursors = nil

	target.lines = append(target.lines, b.lines...)
	b.lines = nil

	for len(target.lineRanges) < base {
		target.lineRanges = append(target.lineRanges, nil)
	}
	target.lineRanges = append(target.lineRanges, b.lineRanges...)
	b.lineRanges = nil
	target.overflowRanges = append(target.overflowRanges, b.overflowRanges...)
	b.overflowRanges = nil
}

func resortCursors(cs []*cursor.Cursor) {
	sort.SliceStable(cs, func(i, j int) bool { return cursor.Less(cs[i], cs[j]) })
}
