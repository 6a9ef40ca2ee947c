package folding

import (
	"errors"
	"testing"
)

func lineRange(startLine, endLine int) Range {
	return Range{Start: Position{Line: startLine}, End: Position{Line: endLine}}
}

func mustFold(t *testing.T, tree *Tree, r Range, flags Flag, wantID int) {
	t.Helper()
	id, err := tree.NewFoldingRange(r, flags)
	if err != nil {
		t.Fatalf("NewFoldingRange(%v) error: %v", r, err)
	}
	if id != wantID {
		t.Fatalf("NewFoldingRange(%v) = %d, want %d", r, id, wantID)
	}
}

func TestNewFoldingRangeRejectsDegenerate(t *testing.T) {
	tree := New(nil)
	if _, err := tree.NewFoldingRange(lineRange(5, 5), 0); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("empty range: err = %v, want ErrInvalidRange", err)
	}
	if _, err := tree.NewFoldingRange(lineRange(9, 5), 0); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("reversed range: err = %v, want ErrInvalidRange", err)
	}
}

// TestFoldingNesting walks the nesting scenario over a 100-line document:
// insertion, rejection of partial overlap, containment re-parenting, and
// the visible-line arithmetic over the folded-topmost list.
func TestFoldingNesting(t *testing.T) {
	const totalLines = 100
	tree := New(nil)

	mustFold(t, tree, lineRange(5, 10), 0, 0)
	if err := tree.FoldRange(0); err != nil {
		t.Fatalf("FoldRange(0): %v", err)
	}
	if got := tree.VisibleLineCount(totalLines); got != 95 {
		t.Errorf("visible = %d, want 95", got)
	}

	mustFold(t, tree, lineRange(20, 30), Folded, 1)
	if got := tree.VisibleLineCount(totalLines); got != 85 {
		t.Errorf("visible = %d, want 85", got)
	}

	// Partial overlaps with both existing folds are rejected.
	if _, err := tree.NewFoldingRange(lineRange(6, 15), Folded); !errors.Is(err, ErrOverlap) {
		t.Errorf("partial overlap (6,15): err = %v, want ErrOverlap", err)
	}
	if _, err := tree.NewFoldingRange(lineRange(15, 25), Folded); !errors.Is(err, ErrOverlap) {
		t.Errorf("partial overlap (15,25): err = %v, want ErrOverlap", err)
	}

	// (15,35) strictly contains (20,30): the existing fold is re-parented
	// under the new node.
	mustFold(t, tree, lineRange(15, 35), Folded, 2)
	if got := tree.VisibleLineCount(totalLines); got != 75 {
		t.Errorf("visible = %d, want 75", got)
	}

	mustFold(t, tree, lineRange(0, 50), Folded, 3)
	if got := tree.VisibleLineCount(totalLines); got != 50 {
		t.Errorf("visible = %d, want 50", got)
	}

	// Two more folds starting on line 20 at different columns.
	mustFold(t, tree, Range{Start: Position{20, 5}, End: Position{24, 0}}, Folded, 4)
	mustFold(t, tree, Range{Start: Position{20, 3}, End: Position{25, 0}}, Folded, 5)

	ids := tree.StartingOnLine(20)
	if len(ids) != 3 {
		t.Fatalf("StartingOnLine(20) = %v, want three ids", ids)
	}
	seen := map[int]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, want := range []int{1, 4, 5} {
		if !seen[want] {
			t.Errorf("StartingOnLine(20) missing id %d: %v", want, ids)
		}
	}
}

func TestFoldedTopmostSkipsNestedFolds(t *testing.T) {
	tree := New(nil)
	mustFold(t, tree, lineRange(10, 40), Folded, 0)
	mustFold(t, tree, lineRange(15, 20), Folded, 1)

	top := tree.FoldedTopmost()
	if len(top) != 1 {
		t.Fatalf("FoldedTopmost() = %v, want one range", top)
	}
	if top[0].Start.Line != 10 || top[0].End.Line != 40 {
		t.Errorf("topmost = %v, want [10, 40]", top[0])
	}
}

func TestVisibleLineMapping(t *testing.T) {
	tree := New(nil)
	mustFold(t, tree, lineRange(5, 10), Folded, 0)
	mustFold(t, tree, lineRange(20, 30), Folded, 1)

	if tree.IsLineVisible(5) != true {
		t.Error("fold start line should stay visible")
	}
	for i := 6; i <= 10; i++ {
		if tree.IsLineVisible(i) {
			t.Errorf("line %d should be hidden", i)
		}
	}
	if !tree.IsLineVisible(11) {
		t.Error("line 11 should be visible")
	}

	if got := tree.VisibleLineToLine(5); got != 5 {
		t.Errorf("VisibleLineToLine(5) = %d, want 5", got)
	}
	for i := 6; i <= 15; i++ {
		if got := tree.VisibleLineToLine(i); got != i+5 {
			t.Errorf("VisibleLineToLine(%d) = %d, want %d", i, got, i+5)
		}
	}
	for i := 16; i <= 50; i++ {
		if got := tree.VisibleLineToLine(i); got != i+15 {
			t.Errorf("VisibleLineToLine(%d) = %d, want %d", i, got, i+15)
		}
	}

	if got := tree.LineToVisibleLine(5); got != 5 {
		t.Errorf("LineToVisibleLine(5) = %d, want 5", got)
	}
	for i := 11; i <= 20; i++ {
		if got := tree.LineToVisibleLine(i); got != i-5 {
			t.Errorf("LineToVisibleLine(%d) = %d, want %d", i, got, i-5)
		}
	}
	for i := 31; i <= 40; i++ {
		if got := tree.LineToVisibleLine(i); got != i-15 {
			t.Errorf("LineToVisibleLine(%d) = %d, want %d", i, got, i-15)
		}
	}
	// Hidden lines fall back to the fold's visible start line.
	for i := 6; i <= 10; i++ {
		if got := tree.LineToVisibleLine(i); got != 5 {
			t.Errorf("LineToVisibleLine(%d) = %d, want 5", i, got)
		}
	}
}

func TestUnfoldRemovesNonPersistent(t *testing.T) {
	tree := New(nil)
	mustFold(t, tree, lineRange(5, 10), Folded, 0)
	if err := tree.UnfoldRange(0, false); err != nil {
		t.Fatalf("UnfoldRange: %v", err)
	}
	// Non-persistent nodes leave the tree on unfold.
	if err := tree.FoldRange(0); !errors.Is(err, ErrUnknownID) {
		t.Errorf("refolding a removed node: err = %v, want ErrUnknownID", err)
	}
}

func TestUnfoldKeepsPersistent(t *testing.T) {
	tree := New(nil)
	mustFold(t, tree, lineRange(5, 10), Persistent|Folded, 0)
	if err := tree.UnfoldRange(0, false); err != nil {
		t.Fatalf("UnfoldRange: %v", err)
	}
	if err := tree.FoldRange(0); err != nil {
		t.Errorf("persistent node should survive unfold: %v", err)
	}

	// remove=true overrides persistence; children re-parent upward.
	mustFold(t, tree, lineRange(6, 8), Persistent, 1)
	if err := tree.UnfoldRange(0, true); err != nil {
		t.Fatalf("UnfoldRange(remove): %v", err)
	}
	if len(tree.StartingOnLine(6)) != 1 {
		t.Error("child should survive its parent's removal")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	sum := "abc123"
	checksum := func() string { return sum }

	tree := New(checksum)
	mustFold(t, tree, lineRange(5, 10), Folded, 0)
	mustFold(t, tree, lineRange(20, 30), Folded, 1)
	mustFold(t, tree, lineRange(15, 35), Folded, 2)
	mustFold(t, tree, lineRange(0, 50), Folded, 3)

	exported, err := tree.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	wantDump := tree.Dump()

	fresh := New(checksum)
	if err := fresh.Import(exported); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got := fresh.Dump(); got != wantDump {
		t.Errorf("round-trip dump mismatch:\n got %s\nwant %s", got, wantDump)
	}
}

func TestImportRejectsChecksumMismatch(t *testing.T) {
	tree := New(func() string { return "current" })
	mustFold(t, tree, lineRange(1, 2), 0, 0)
	exported, err := tree.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	other := New(func() string { return "different" })
	if err := other.Import(exported); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Import with stale checksum: err = %v, want ErrDigestMismatch", err)
	}
}

func TestImportRejectsDegenerateEntries(t *testing.T) {
	tree := New(nil)
	payload := `{"checksum":"","ranges":[{"startLine":9,"startColumn":0,"endLine":5,"endColumn":0,"flags":0}]}`
	if err := tree.Import(payload); !errors.Is(err, ErrMalformedImport) {
		t.Errorf("err = %v, want ErrMalformedImport", err)
	}
}

func TestCullStaleStarts(t *testing.T) {
	tree := New(nil)
	mustFold(t, tree, lineRange(5, 10), Folded, 0)
	mustFold(t, tree, lineRange(6, 8), Folded, 1)
	mustFold(t, tree, lineRange(20, 30), Folded, 2)

	// Only line 20 still reads as a fold start: the (5,10) node and its
	// child are culled, the child first (no stale re-parenting).
	tree.CullStaleStarts(func(line int) bool { return line == 20 })

	if len(tree.StartingOnLine(5)) != 0 || len(tree.StartingOnLine(6)) != 0 {
		t.Error("stale folds should have been culled")
	}
	if len(tree.StartingOnLine(20)) != 1 {
		t.Error("fresh fold should survive the cull")
	}
}
