// Package cursor implements auto-tracking document positions (component D).
//
// A Cursor never stores a pointer to its owning block. Instead it stores
// the block's index in the buffer's block slice, following the
// arena-indexed addressing scheme: the owning Buffer resolves the index
// against its own slice, which keeps this package free of any dependency
// on block or buffer types and avoids the ownership cycle that a raw
// pointer back-reference would create.
package cursor

// InsertBehavior controls whether a cursor moves when text is inserted
// exactly at its position.
type InsertBehavior int

const (
	// StayOnInsert keeps the cursor before text inserted at its position.
	StayOnInsert InsertBehavior = iota
	// MoveOnInsert advances the cursor past text inserted at its position.
	MoveOnInsert
)

// invalidBlockIndex marks a Cursor with no owning block.
const invalidBlockIndex = -1

// Cursor is a position tracked across edits. Zero value is invalid.
type Cursor struct {
	blockIndex   int
	line         int // line offset within the owning block
	column       int
	behavior     InsertBehavior
	ownedByRange bool
}

// New creates a detached, invalid cursor with the given insert behavior.
func New(behavior InsertBehavior) *Cursor {
	return &Cursor{blockIndex: invalidBlockIndex, behavior: behavior}
}

// Valid reports whether the cursor currently resolves to a block.
func (c *Cursor) Valid() bool { return c.blockIndex != invalidBlockIndex }

// BlockIndex returns the owning block's index, or -1 if invalid.
func (c *Cursor) BlockIndex() int { return c.blockIndex }

// Line returns the line offset within the owning block.
func (c *Cursor) Line() int { return c.line }

// Column returns the column (UTF-16 code unit offset within the line).
func (c *Cursor) Column() int { return c.column }

// Behavior returns the cursor's insert-behavior policy.
func (c *Cursor) Behavior() InsertBehavior { return c.behavior }

// MoveOnInsert reports whether the cursor advances on insert-at-position.
func (c *Cursor) MoveOnInsert() bool { return c.behavior == MoveOnInsert }

// OwnedByRange reports whether a Range owns this cursor as an endpoint.
// Block-level invalidation of an owned cursor defers to the Range rather
// than moving the cursor into the buffer's free invalid-cursor set.
func (c *Cursor) OwnedByRange() bool { return c.ownedByRange }

// SetOwnedByRange marks whether a Range owns this cursor as an endpoint.
func (c *Cursor) SetOwnedByRange(owned bool) { c.ownedByRange = owned }

// Relocate moves the cursor to an explicit block/line/column, validating it.
func (c *Cursor) Relocate(blockIndex, line, column int) {
	c.blockIndex = blockIndex
	c.line = line
	c.column = column
}

// Invalidate marks the cursor as not bound to any block.
func (c *Cursor) Invalidate() {
	c.blockIndex = invalidBlockIndex
	c.line = 0
	c.column = 0
}

// ShiftLine adjusts the in-block line offset by delta.
func (c *Cursor) ShiftLine(delta int) { c.line += delta }

// SetLine sets the in-block line offset directly.
func (c *Cursor) SetLine(line int) { c.line = line }

// SetColumn sets the column directly.
func (c *Cursor) SetColumn(col int) { c.column = col }

// ShiftColumn adjusts the column by delta.
func (c *Cursor) ShiftColumn(delta int) { c.column += delta }

// SetBlockIndex re-homes the cursor to a different block without touching
// line/column; used when a block is renumbered (split/merge neighbors).
func (c *Cursor) SetBlockIndex(idx int) { c.blockIndex = idx }

// Less orders cursors lexicographically by (blockIndex, line, column),
// which is equivalent to document order for cursors read between edits
// (block indices are kept contiguous and monotonic along the document).
func Less(a, b *Cursor) bool {
	if a.blockIndex != b.blockIndex {
		return a.blockIndex < b.blockIndex
	}
	if a.line != b.line {
		return a.line < b.line
	}
	return a.column < b.column
}

// Equal reports whether a and b address the same block/line/column.
func Equal(a, b *Cursor) bool {
	return a.blockIndex == b.blockIndex && a.line == b.line && a.column == b.column
}
