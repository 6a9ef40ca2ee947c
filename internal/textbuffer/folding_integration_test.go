package textbuffer

import (
	"strings"
	"testing"

	"github.com/dshills/katecore/internal/textbuffer/folding"
)

// The folding tree is wired to a buffer through an edit observer that
// culls folds whose start line no longer reads as a fold start, and
// through the digest callback that ties exported fold state to the
// document content.
func TestFoldingCulledOnEditFinish(t *testing.T) {
	buf := New()
	edit(buf, func() {
		for i := 0; i < 5; i++ {
			buf.InsertText(Position{Line: i, Column: 0}, "func x() {")
			buf.WrapLine(Position{Line: i, Column: 10})
		}
	})

	tree := folding.New(func() string { return string(buf.Digest()) })
	isFoldStart := func(line int) bool {
		text, err := buf.Line(line)
		return err == nil && strings.HasSuffix(text, "{")
	}
	buf.AddObserver(func(minLine, maxLine int) {
		tree.CullStaleStarts(isFoldStart)
	})

	id, err := tree.NewFoldingRange(
		folding.Range{Start: folding.Position{Line: 1}, End: folding.Position{Line: 3}},
		folding.Folded)
	if err != nil {
		t.Fatalf("NewFoldingRange: %v", err)
	}

	// An edit elsewhere leaves the fold alone.
	edit(buf, func() {
		buf.InsertText(Position{Line: 4, Column: 0}, "//")
	})
	if len(tree.StartingOnLine(1)) != 1 {
		t.Fatal("fold should survive an unrelated edit")
	}

	// Removing the brace invalidates line 1 as a fold start; the observer
	// culls the fold when the transaction finishes.
	edit(buf, func() {
		buf.RemoveText(Span{Start: Position{Line: 1, Column: 9}, End: Position{Line: 1, Column: 10}})
	})
	if len(tree.StartingOnLine(1)) != 0 {
		t.Error("stale fold should be culled on edit finish")
	}
	if err := tree.FoldRange(id); err == nil {
		t.Error("culled fold id should no longer resolve")
	}
}

func TestFoldingExportTiedToBufferDigest(t *testing.T) {
	docPath := writeTemp(t, "doc.txt", []byte("a {\nb\n}\n"))
	buf := New()
	if ok, _, _, _ := buf.Load(docPath, false); !ok {
		t.Fatal("Load failed")
	}

	tree := folding.New(func() string { return string(buf.Digest()) })
	if _, err := tree.NewFoldingRange(
		folding.Range{Start: folding.Position{Line: 0}, End: folding.Position{Line: 2}},
		folding.Persistent); err != nil {
		t.Fatal(err)
	}
	exported, err := tree.Export()
	if err != nil {
		t.Fatal(err)
	}

	// Same document content: import succeeds.
	same := folding.New(func() string { return string(buf.Digest()) })
	if err := same.Import(exported); err != nil {
		t.Errorf("import against the same digest should succeed: %v", err)
	}

	// Changed document content: stale state is rejected.
	edit(buf, func() {
		buf.InsertText(Position{Line: 0, Column: 0}, "x")
	})
	if !buf.Save(docPath) {
		t.Fatalf("Save failed: %s", buf.LastIOError())
	}
	changed := folding.New(func() string { return string(buf.Digest()) })
	if err := changed.Import(exported); err == nil {
		t.Error("import against a different digest should be rejected")
	}
}
