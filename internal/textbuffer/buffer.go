// Package textbuffer is the core text-engine façade: an ordered sequence
// of Blocks addressed by line number (component C), exposing the edit
// primitives used by every higher-level command (component I).
//
// # Architecture
//
// The buffer is built on several sub-packages, each a leaf with no import
// cycle back to this one:
//
//   - block: TextLine + Block, the line storage and per-block cursor/range
//     bookkeeping.
//   - cursor: auto-tracking positions, addressed by block index rather
//     than pointer (see the cursor package doc comment).
//   - textrange: pairs of cursors with attribute/feedback metadata.
//   - history: the reversible edit log used to remap positions across
//     revisions.
//   - folding: the nested fold-range tree (used independently of Buffer;
//     wired together by the owning editor through the Buffer's line
//     coordinates and Digest()).
//   - swap: the crash-recovery journal.
//   - digest: the git-blob-compatible content hash.
//
// # Thread Safety
//
// Buffer follows a single-writer model: a caller must bracket every
// mutation with StartEditing/FinishEditing, and structural primitives
// panic if called outside that bracket. A sync.RWMutex at the façade level
// lets read accessors run
// concurrently with a writer that is between transactions; it does not
// make concurrent *writers* safe, since the domain model assumes exactly
// one.
//
// # Basic Usage
//
//	buf := textbuffer.New()
//	buf.StartEditing()
//	buf.InsertText(textbuffer.Position{Line: 0, Column: 0}, "hello")
//	buf.FinishEditing()
//	text := buf.Text()
package textbuffer

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf16"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"

	"github.com/dshills/katecore/internal/textbuffer/block"
	"github.com/dshills/katecore/internal/textbuffer/cursor"
	"github.com/dshills/katecore/internal/textbuffer/digest"
	"github.com/dshills/katecore/internal/textbuffer/history"
	"github.com/dshills/katecore/internal/textbuffer/swap"
	"github.com/dshills/katecore/internal/textbuffer/textrange"
)

// LineEnding is the end-of-line byte sequence used by Save.
type LineEnding int

const (
	Unix LineEnding = iota // "\n"
	Dos                     // "\r\n"
	Mac                     // "\r"
)

func (e LineEnding) bytes() string {
	switch e {
	case Dos:
		return "\r\n"
	case Mac:
		return "\r"
	default:
		return "\n"
	}
}

// Position is a (line, column) pair in document coordinates, the public
// address type for the edit-primitive façade. Columns are UTF-16
// code units.
type Position struct {
	Line   int
	Column int
}

// Span is a pair of document positions, used by RemoveText and by range
// construction.
type Span struct {
	Start Position
	End   Position
}

// EditObserver is notified once per transaction, after every primitive in
// it has applied, with the changed-line bounds. Folding culling and
// swap-journal sync-timer arming are registered this way. Observers may
// read the Buffer but must not open a transaction: a reentrancy flag makes
// StartEditing panic while observers run.
type EditObserver func(minLine, maxLine int)

// Buffer is the ordered sequence of Blocks (component C).
type Buffer struct {
	mu sync.RWMutex

	id uuid.UUID

	blocks        []*block.Block
	startLines    []int // startLines[i] == document line of blocks[i]'s first line
	lines         int
	lastUsedBlock atomic.Int32 // blockForLine's one-entry cache

	revision int64
	editDepth int
	minChangedLine, maxChangedLine int

	lineEnding      LineEnding
	bom             bool
	lineLengthLimit int
	blockSize       int
	newLineAtEOF    bool

	lastDigest        digest.Digest
	lastSavedRevision int64

	ranges         map[uint64]*textrange.Range // multi-block range index
	invalidCursors map[*cursor.Cursor]bool

	hist *history.Log

	journal      *swap.Journal
	swapDir      string
	syncInterval time.Duration
	syncTimer    *time.Timer

	observers  []EditObserver
	reentrant  bool

	readOnly bool
	logger   *slog.Logger

	lastIOError string

	codec         encoding.Encoding
	fallbackCodec encoding.Encoding
	loader        Loader
	saver         Saver
	privilegeHelper PrivilegeHelper
	swapPathDeriver SwapPathDeriver
}

// New creates an empty buffer: one empty line, upholding the invariant
// that lines >= 1 always.
func New(opts ...Option) *Buffer {
	buf := &Buffer{
		id:              uuid.New(),
		blockSize:       DefaultBlockSize,
		lineLengthLimit: DefaultLineLengthLimit,
		newLineAtEOF:    true,
		syncInterval:    DefaultSyncInterval,
		hist:            history.New(),
		ranges:          make(map[uint64]*textrange.Range),
		invalidCursors:  make(map[*cursor.Cursor]bool),
		logger:          slog.Default(),
		lines:           1,
		codec:           defaultCodec,
		fallbackCodec:   defaultFallbackCodec,
		loader:          fsLoader{},
		saver:           fsSaver{},
	}
	for _, o := range opts {
		o(buf)
	}
	buf.logger = buf.logger.With("buffer_id", buf.id.String())
	b0 := block.New(0)
	b0.AppendLine("")
	buf.blocks = []*block.Block{b0}
	buf.startLines = []int{0}
	buf.lastDigest = digest.Of(nil)
	return buf
}

// ID returns the buffer's per-instance correlation identifier, attached to
// every structured log line it emits.
func (buf *Buffer) ID() uuid.UUID { return buf.id }

// Revision returns the current monotonically increasing revision.
func (buf *Buffer) Revision() int64 {
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	return buf.revision
}

// Lines returns the total number of lines (>= 1).
func (buf *Buffer) Lines() int {
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	return buf.lines
}

// Digest returns the content digest recorded at the last Load or Save.
func (buf *Buffer) Digest() digest.Digest {
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	return buf.lastDigest
}

// History returns the buffer's reversible edit log (component F).
func (buf *Buffer) History() *history.Log { return buf.hist }

// LockRevision pins rev so the history log will not trim entries at or
// after it, letting an asynchronous consumer hold a stable coordinate
// space while it works.
func (buf *Buffer) LockRevision(rev int64) { buf.hist.LockRevision(rev) }

// UnlockRevision releases one lock acquired by LockRevision.
func (buf *Buffer) UnlockRevision(rev int64) { buf.hist.UnlockRevision(rev) }

// LastIOError returns the last-cause string recorded alongside a failed
// file operation.
func (buf *Buffer) LastIOError() string {
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	return buf.lastIOError
}

// LineEnding returns the end-of-line mode remembered from the last Load
// (or set explicitly), used by Save.
func (buf *Buffer) LineEnding() LineEnding {
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	return buf.lineEnding
}

// SetLineEnding overrides the end-of-line mode Save will use.
func (buf *Buffer) SetLineEnding(e LineEnding) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.lineEnding = e
}

// BOM reports whether Save will emit a byte-order mark.
func (buf *Buffer) BOM() bool {
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	return buf.bom
}

// SetBOM overrides the byte-order-mark flag.
func (buf *Buffer) SetBOM(v bool) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.bom = v
}

// AddObserver registers an EditObserver, invoked after every outermost
// FinishEditing that changed content.
func (buf *Buffer) AddObserver(o EditObserver) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.observers = append(buf.observers, o)
}

// Line returns the text of document line n.
func (buf *Buffer) Line(n int) (string, error) {
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	bl, _, lineInBlock, err := buf.blockForLine(n)
	if err != nil {
		return "", err
	}
	return bl.Line(lineInBlock).Text(), nil
}

// Text returns the full document content, lines joined with "\n".
func (buf *Buffer) Text() string {
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	var out string
	for i, bl := range buf.blocks {
		t := bl.Text()
		if i == len(buf.blocks)-1 {
			t = t[:max0(len(t)-1)] // drop the block's own trailing separator on the last line
		}
		out += t
	}
	return out
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// StartEditing begins (or nests into) a transaction. Only the outermost
// pair fires the edit bracket against the swap journal.
func (buf *Buffer) StartEditing() {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.reentrant {
		panic("textbuffer: observer re-entered the buffer")
	}
	if buf.editDepth == 0 {
		buf.minChangedLine, buf.maxChangedLine = -1, -1
		if buf.journal != nil {
			if err := buf.journal.StartEdit(); err != nil {
				buf.logger.Warn("swap journal start failed", "error", err)
			}
		}
	}
	buf.editDepth++
}

// FinishEditing ends (or un-nests from) a transaction. On the outermost
// exit, if content changed, asserts minChangedLine/maxChangedLine are set
// and in range, then fires registered observers and arms the journal sync
// timer.
func (buf *Buffer) FinishEditing() {
	buf.mu.Lock()
	if buf.editDepth == 0 {
		buf.mu.Unlock()
		panic("textbuffer: FinishEditing called without a matching StartEditing")
	}
	buf.editDepth--
	outer := buf.editDepth == 0
	minLine, maxLine := buf.minChangedLine, buf.maxChangedLine
	changed := minLine >= 0
	if outer && changed {
		if minLine < 0 || maxLine >= buf.lines {
			buf.mu.Unlock()
			panic("textbuffer: changed-line range out of bounds at FinishEditing")
		}
	}
	var journal *swap.Journal
	if outer {
		journal = buf.journal
	}
	buf.mu.Unlock()

	if outer && journal != nil && changed {
		if err := journal.FinishEdit(); err != nil {
			buf.logger.Warn("swap journal finish failed", "error", err)
		}
		buf.armSyncTimer()
	}

	if outer && changed {
		buf.fireObservers(minLine, maxLine)
	}
}

func (buf *Buffer) fireObservers(minLine, maxLine int) {
	buf.mu.Lock()
	if buf.reentrant {
		buf.mu.Unlock()
		panic("textbuffer: observer re-entered the buffer")
	}
	buf.reentrant = true
	observers := append([]EditObserver(nil), buf.observers...)
	buf.mu.Unlock()

	for _, o := range observers {
		o(minLine, maxLine)
	}

	buf.mu.Lock()
	buf.reentrant = false
	buf.mu.Unlock()
}

func (buf *Buffer) armSyncTimer() {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.syncTimer != nil {
		buf.syncTimer.Stop()
	}
	interval := buf.syncInterval
	journal := buf.journal
	buf.syncTimer = time.AfterFunc(interval, func() {
		if journal != nil {
			if err := journal.Sync(); err != nil {
				buf.logger.Warn("swap journal sync failed", "error", err)
			}
		}
	})
}

func (buf *Buffer) requireEditDepth() {
	if buf.readOnly {
		panic(ErrReadOnly)
	}
	if buf.editDepth == 0 {
		panic("textbuffer: structural primitive called outside StartEditing/FinishEditing")
	}
}

func (buf *Buffer) touchLine(line int) {
	if buf.minChangedLine < 0 || line < buf.minChangedLine {
		buf.minChangedLine = line
	}
	if line > buf.maxChangedLine {
		buf.maxChangedLine = line
	}
}

// blockForLine resolves a document line to its owning block, block index,
// and in-block line offset: a one-entry cache of the last used block, then
// binary search over startLines. The cache is atomic so read
// accessors sharing buf.mu.RLock stay race-free.
func (buf *Buffer) blockForLine(line int) (*block.Block, int, int, error) {
	if line < 0 || line >= buf.lines {
		return nil, 0, 0, ErrLineOutOfRange
	}
	if i := int(buf.lastUsedBlock.Load()); i < len(buf.blocks) {
		start := buf.startLines[i]
		if start <= line && line < start+buf.blocks[i].Lines() {
			return buf.blocks[i], i, line - start, nil
		}
	}
	i := sort.Search(len(buf.startLines), func(i int) bool { return buf.startLines[i] > line }) - 1
	buf.lastUsedBlock.Store(int32(i))
	return buf.blocks[i], i, line - buf.startLines[i], nil
}

// --- block.Hooks implementation -------------------------------------------------

func (buf *Buffer) StartLine(blockIndex int) int { return buf.startLines[blockIndex] }

func (buf *Buffer) FixStartLines(fromBlockIndex, delta int) {
	for i := fromBlockIndex; i < len(buf.startLines); i++ {
		buf.startLines[i] += delta
	}
}

func (buf *Buffer) RecordWrapLine(docLine, col int) {
	buf.revision++
	buf.hist.Append(history.Entry{Revision: buf.revision, Kind: history.WrapLine, Line: docLine, Column: col})
	if buf.journal != nil {
		if err := buf.journal.RecordWrapLine(docLine, col); err != nil {
			buf.logger.Warn("swap record failed", "op", "wrapLine", "error", err)
		}
	}
}

func (buf *Buffer) RecordUnwrapLine(docLine, prevLineLength int) {
	buf.revision++
	buf.hist.Append(history.Entry{Revision: buf.revision, Kind: history.UnwrapLine, Line: docLine, PrevLineLength: prevLineLength})
	if buf.journal != nil {
		if err := buf.journal.RecordUnwrapLine(docLine); err != nil {
			buf.logger.Warn("swap record failed", "op", "unwrapLine", "error", err)
		}
	}
}

func (buf *Buffer) RecordInsertText(docLine, col int, text string, prevLineLength int) {
	buf.revision++
	buf.hist.Append(history.Entry{Revision: buf.revision, Kind: history.InsertText, Line: docLine, Column: col, Len: len(utf16.Encode([]rune(text))), PrevLineLength: prevLineLength})
	if buf.journal != nil {
		if err := buf.journal.RecordInsertText(docLine, col, text); err != nil {
			buf.logger.Warn("swap record failed", "op", "insertText", "error", err)
		}
	}
}

func (buf *Buffer) RecordRemoveText(docLine, startCol, endCol, prevLineLength int) {
	buf.revision++
	buf.hist.Append(history.Entry{Revision: buf.revision, Kind: history.RemoveText, Line: docLine, Column: startCol, Len: endCol - startCol, PrevLineLength: prevLineLength})
	if buf.journal != nil {
		if err := buf.journal.RecordRemoveText(docLine, startCol, endCol); err != nil {
			buf.logger.Warn("swap record failed", "op", "removeText", "error", err)
		}
	}
}

// RangeInvalidated drops a range that died during cursor fixup from every
// index: the multi-block map, every block's range cache, and every block's
// cursor list (the endpoints' cached block indices are stale by the time
// this runs, so the sweep matches by pointer).
func (buf *Buffer) RangeInvalidated(r *textrange.Range) {
	delete(buf.ranges, r.ID())
	for _, bl := range buf.blocks {
		bl.UnregisterRange(r)
		bl.UnregisterCursor(r.Start())
		bl.UnregisterCursor(r.End())
	}
}

// rangeOwner resolves the Range that owns c as an endpoint, if any, by
// scanning the (typically small) multi-block and per-block range sets.
// Buffer is the only place that can answer this, since Cursor has no
// back-reference to its owning Range.
func (buf *Buffer) rangeOwner(c *cursor.Cursor) *textrange.Range {
	if !c.OwnedByRange() {
		return nil
	}
	for _, r := range buf.ranges {
		if r.Start() == c || r.End() == c {
			return r
		}
	}
	for _, bl := range buf.blocks {
		for line := 0; line < bl.Lines(); line++ {
			for _, r := range bl.RangesForLine(line) {
				if r.Start() == c || r.End() == c {
					return r
				}
			}
		}
	}
	return nil
}

// WrapLine splits the line at position into two.
func (buf *Buffer) WrapLine(position Position) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.requireEditDepth()

	bl, idx, lineInBlock, err := buf.blockForLine(position.Line)
	if err != nil {
		panic(err)
	}
	buf.lines++
	buf.touchLine(position.Line)
	buf.touchLine(position.Line + 1)
	bl.WrapLine(buf, lineInBlock, position.Column, buf.rangeOwner)
	buf.balanceBlock(idx)
}

// UnwrapLine merges document line into its predecessor.
func (buf *Buffer) UnwrapLine(line int) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.requireEditDepth()

	bl, idx, lineInBlock, err := buf.blockForLine(line)
	if err != nil {
		panic(err)
	}
	buf.lines--
	buf.touchLine(max0(line - 1))
	if line < buf.lines {
		buf.touchLine(line)
	} else {
		buf.touchLine(buf.lines - 1)
	}

	if lineInBlock == 0 {
		if idx == 0 {
			panic("textbuffer: cannot unwrap the document's first line")
		}
		prev := buf.blocks[idx-1]
		bl.UnwrapLine(buf, 0, prev, buf.rangeOwner)
		if prev.Lines() == 0 {
			buf.removeBlock(idx - 1)
			idx--
		}
	} else {
		bl.UnwrapLine(buf, lineInBlock, nil, buf.rangeOwner)
	}
	buf.balanceBlock(idx)
}

// InsertText splices text into the document at position.
func (buf *Buffer) InsertText(position Position, text string) {
	if text == "" {
		return
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.requireEditDepth()

	bl, _, lineInBlock, err := buf.blockForLine(position.Line)
	if err != nil {
		panic(err)
	}
	buf.touchLine(position.Line)
	bl.InsertText(buf, lineInBlock, position.Column, text, buf.rangeOwner)
}

// RemoveText deletes the single-line span and returns the removed text.
func (buf *Buffer) RemoveText(span Span) string {
	if span.Start.Line != span.End.Line {
		panic("textbuffer: removeText only supports single-line ranges")
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.requireEditDepth()

	bl, _, lineInBlock, err := buf.blockForLine(span.Start.Line)
	if err != nil {
		panic(err)
	}
	buf.touchLine(span.Start.Line)
	return bl.RemoveText(buf, lineInBlock, span.Start.Column, span.End.Column, buf.rangeOwner)
}

// balanceBlock restores the block-size bounds: split an overgrown block
// at B, or merge an
// undersized (non-first) block with its predecessor.
func (buf *Buffer) balanceBlock(idx int) {
	bl := buf.blocks[idx]
	switch {
	case bl.Lines() >= 2*buf.blockSize:
		nb, promoted := bl.SplitBlock(buf.blockSize, idx+1)
		buf.insertBlock(idx+1, nb)
		for _, r := range promoted {
			r.SetSpansMultipleBlocks(true)
			buf.ranges[r.ID()] = r
		}
	case idx > 0 && 2*bl.Lines() <= buf.blockSize:
		bl.MergeBlock(buf.blocks[idx-1])
		buf.removeBlock(idx)
		buf.demoteMergedRanges()
		// The merged block may itself have crossed the split threshold.
		if buf.blocks[idx-1].Lines() >= 2*buf.blockSize {
			buf.balanceBlock(idx - 1)
		}
	}
}

// demoteMergedRanges moves multi-block-indexed ranges whose endpoints now
// share a block back into that block's cache, so the multi-block index
// only ever holds ranges that genuinely cross blocks.
func (buf *Buffer) demoteMergedRanges() {
	for id, r := range buf.ranges {
		if r.Start().Valid() && r.End().Valid() && r.Start().BlockIndex() == r.End().BlockIndex() {
			delete(buf.ranges, id)
			r.SetSpansMultipleBlocks(false)
			buf.blocks[r.Start().BlockIndex()].RegisterRange(r)
		}
	}
}

// insertBlock inserts nb at position idx and renumbers every block (and
// every cursor cached against it) from idx onward.
func (buf *Buffer) insertBlock(idx int, nb *block.Block) {
	buf.blocks = append(buf.blocks, nil)
	copy(buf.blocks[idx+1:], buf.blocks[idx:])
	buf.blocks[idx] = nb
	buf.startLines = append(buf.startLines, 0)
	copy(buf.startLines[idx+1:], buf.startLines[idx:])
	buf.renumberFrom(idx)
}

// removeBlock deletes the (now empty) block at idx and renumbers.
func (buf *Buffer) removeBlock(idx int) {
	buf.blocks = append(buf.blocks[:idx], buf.blocks[idx+1:]...)
	buf.startLines = append(buf.startLines[:idx], buf.startLines[idx+1:]...)
	buf.renumberFrom(idx)
}

// renumberFrom recomputes index and startLine for every block from idx
// onward, patching the blockIndex cached on every cursor those blocks own
// (cursors have no pointer back to their block, per the arena-indexed
// design, so a renumbered block must push its new index to them).
func (buf *Buffer) renumberFrom(idx int) {
	start := 0
	if idx > 0 {
		start = buf.startLines[idx-1] + buf.blocks[idx-1].Lines()
	}
	for i := idx; i < len(buf.blocks); i++ {
		buf.blocks[i].SetIndex(i)
		buf.startLines[i] = start
		for _, c := range buf.blocks[i].Cursors() {
			c.SetBlockIndex(i)
		}
		start += buf.blocks[i].Lines()
	}
}

// CreateCursor creates a new auto-tracking cursor anchored at position and
// registers it with the owning block (component D).
func (buf *Buffer) CreateCursor(position Position, behavior cursor.InsertBehavior) (*cursor.Cursor, error) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	bl, _, lineInBlock, err := buf.blockForLine(position.Line)
	if err != nil {
		return nil, err
	}
	c := cursor.New(behavior)
	bl.RegisterCursor(c, lineInBlock, position.Column)
	return c, nil
}

// RemoveCursor detaches a cursor created with CreateCursor. A cursor owned
// by a Range must be removed through the Range instead.
func (buf *Buffer) RemoveCursor(c *cursor.Cursor) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if !c.Valid() {
		delete(buf.invalidCursors, c)
		return
	}
	buf.blocks[c.BlockIndex()].UnregisterCursor(c)
}

// CreateRange creates a new auto-tracking Range spanning span, registering
// both endpoint cursors and, for a single-block span, filing it with the
// owning block (its per-line cache for a one-line span, its overflow list
// otherwise); a span crossing blocks is filed only in the
// buffer-level multi-block index.
func (buf *Buffer) CreateRange(span Span, startBehavior, endBehavior cursor.InsertBehavior, emptyBehavior textrange.EmptyBehavior) (*textrange.Range, error) {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	startBlock, startIdx, startLine, err := buf.blockForLine(span.Start.Line)
	if err != nil {
		return nil, err
	}
	endBlock, endIdx, endLine, err := buf.blockForLine(span.End.Line)
	if err != nil {
		return nil, err
	}

	r := textrange.New(startBehavior, endBehavior, emptyBehavior)
	startBlock.RegisterCursor(r.Start(), startLine, span.Start.Column)
	endBlock.RegisterCursor(r.End(), endLine, span.End.Column)

	if startIdx == endIdx {
		startBlock.RegisterRange(r)
	} else {
		r.SetSpansMultipleBlocks(true)
		buf.ranges[r.ID()] = r
	}
	r.Revalidate()
	if !r.Valid() {
		// A degenerate span under InvalidateIfEmpty dies immediately.
		buf.RangeInvalidated(r)
	}
	return r, nil
}

// RemoveRange detaches a Range created with CreateRange.
func (buf *Buffer) RemoveRange(r *textrange.Range) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if r.SpansMultipleBlocks() {
		delete(buf.ranges, r.ID())
	} else if r.Start().Valid() {
		buf.blocks[r.Start().BlockIndex()].UnregisterRange(r)
	}
	if r.Start().Valid() {
		buf.blocks[r.Start().BlockIndex()].UnregisterCursor(r.Start())
	}
	if r.End().Valid() {
		buf.blocks[r.End().BlockIndex()].UnregisterCursor(r.End())
	}
}

// RangesForLine returns every range (single-block and multi-block) that
// touches document line.
func (buf *Buffer) RangesForLine(line int) []*textrange.Range {
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	bl, _, lineInBlock, err := buf.blockForLine(line)
	if err != nil {
		return nil
	}
	out := bl.RangesForLine(lineInBlock)
	for _, r := range buf.ranges {
		if buf.rangeTouchesLine(r, line) {
			out = append(out, r)
		}
	}
	return out
}

func (buf *Buffer) rangeTouchesLine(r *textrange.Range, line int) bool {
	startDoc := buf.startLines[r.Start().BlockIndex()] + r.Start().Line()
	endDoc := buf.startLines[r.End().BlockIndex()] + r.End().Line()
	return startDoc <= line && line <= endDoc
}

// Clear resets the buffer to a single empty line, invalidating every
// range; free cursors survive, relocated to (0,0).
func (buf *Buffer) Clear() {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	buf.clearLocked()
}

// clearLocked is Clear()'s body, callable by Load while buf.mu is already
// held (Load's read-modify-write needs the lock for its whole duration).
func (buf *Buffer) clearLocked() {
	if buf.editDepth != 0 {
		panic("textbuffer: Clear called inside an editing transaction")
	}

	invalidateRange := func(r *textrange.Range) {
		r.Start().Invalidate()
		r.End().Invalidate()
		r.Revalidate()
	}
	for _, r := range buf.ranges {
		invalidateRange(r)
	}
	for _, bl := range buf.blocks {
		for _, r := range bl.AllRanges() {
			invalidateRange(r)
		}
	}
	buf.ranges = make(map[uint64]*textrange.Range)
	buf.invalidCursors = make(map[*cursor.Cursor]bool)

	// Free cursors survive a clear relocated to (0,0); range-owned ones
	// died with their range above.
	b0 := block.New(0)
	b0.AppendLine("")
	for _, bl := range buf.blocks {
		bl.ClearBlockContent(b0)
	}
	buf.blocks = []*block.Block{b0}
	buf.startLines = []int{0}
	buf.lines = 1
	buf.revision = 0
	buf.hist.Reset()
	buf.bom = false
	buf.minChangedLine, buf.maxChangedLine = 0, 0
}

// CursorPosition resolves c to document coordinates; ok is false for an
// invalid cursor.
func (buf *Buffer) CursorPosition(c *cursor.Cursor) (Position, bool) {
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	if !c.Valid() {
		return Position{}, false
	}
	return Position{Line: buf.startLines[c.BlockIndex()] + c.Line(), Column: c.Column()}, true
}

// SetCursorPosition moves c: an out-of-range target line
// invalidates the cursor (a free one lands in the buffer's invalid set,
// a range-owned one takes its whole Range down atomically); otherwise the
// cursor migrates between blocks as needed, with the column clamped to
// the target line's length.
func (buf *Buffer) SetCursorPosition(c *cursor.Cursor, pos Position) {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	bl, _, lineInBlock, err := buf.blockForLine(pos.Line)
	if err != nil {
		buf.invalidateCursorLocked(c)
		return
	}
	if c.Valid() {
		buf.blocks[c.BlockIndex()].UnregisterCursor(c)
	}
	col := pos.Column
	if n := bl.Line(lineInBlock).Len(); col > n {
		col = n
	}
	bl.RegisterCursor(c, lineInBlock, col)
}

// invalidateCursorLocked implements the cursor invalidation rule, resolving
// the owning Range (if any) while the cursor's coordinates are still live.
func (buf *Buffer) invalidateCursorLocked(c *cursor.Cursor) {
	r := buf.rangeOwner(c)
	if c.Valid() {
		buf.blocks[c.BlockIndex()].UnregisterCursor(c)
	}
	if r == nil {
		c.Invalidate()
		if !c.OwnedByRange() {
			buf.invalidCursors[c] = true
		}
		return
	}

	other := r.Start()
	if other == c {
		other = r.End()
	}
	if r.SpansMultipleBlocks() {
		delete(buf.ranges, r.ID())
	} else if other.Valid() {
		buf.blocks[other.BlockIndex()].UnregisterRange(r)
	}
	if other.Valid() {
		buf.blocks[other.BlockIndex()].UnregisterCursor(other)
	}
	c.Invalidate()
	r.Revalidate()
}
