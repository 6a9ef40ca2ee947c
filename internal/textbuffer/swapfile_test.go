package textbuffer

import (
	"errors"
	"os"
	"testing"

	"github.com/dshills/katecore/internal/textbuffer/digest"
	"github.com/dshills/katecore/internal/textbuffer/swap"
)

// crash simulates the process dying: the journal's write handle closes
// but the file stays on disk.
func crash(buf *Buffer) {
	if buf.journal != nil {
		buf.journal.Close()
		buf.journal = nil
	}
	if buf.syncTimer != nil {
		buf.syncTimer.Stop()
		buf.syncTimer = nil
	}
}

func TestRecoverReplaysJournal(t *testing.T) {
	docPath := writeTemp(t, "doc.txt", []byte("original"))

	// Session one: load, record an insert, crash without saving.
	first := New()
	if ok, _, _, _ := first.Load(docPath, false); !ok {
		t.Fatal("Load failed")
	}
	if err := first.EnableSwapJournal(docPath); err != nil {
		t.Fatalf("EnableSwapJournal: %v", err)
	}
	edit(first, func() {
		first.InsertText(Position{Line: 0, Column: 0}, "ABC")
	})
	crash(first)

	swapPath := swap.PathFor(docPath, "")
	if _, err := os.Stat(swapPath); err != nil {
		t.Fatalf("journal file should exist after the crash: %v", err)
	}

	// Session two: load the unchanged file, recover.
	second := New()
	if ok, _, _, _ := second.Load(docPath, false); !ok {
		t.Fatal("reload failed")
	}
	outcome, err := second.RecoverSwapJournal(docPath)
	if err != nil {
		t.Fatalf("RecoverSwapJournal: %v", err)
	}
	if outcome.Truncated {
		t.Error("a cleanly bracketed journal should not report truncation")
	}
	if second.Text() != "ABCoriginal" {
		t.Errorf("recovered text = %q, want ABCoriginal", second.Text())
	}
	if outcome.LastRedo != (Position{Line: 0, Column: 3}) {
		t.Errorf("last redo = %v, want (0, 3)", outcome.LastRedo)
	}
	// Recovered content is unsaved work.
	if !second.blocks[0].Line(0).Modified() {
		t.Error("recovered line should be marked modified")
	}
	if _, err := os.Stat(swapPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("journal should be removed after successful recovery")
	}
}

func TestRecoverDigestMismatchDiscardsJournal(t *testing.T) {
	docPath := writeTemp(t, "doc.txt", []byte("original"))
	swapPath := swap.PathFor(docPath, "")

	// A journal recorded against different document content.
	j, err := swap.Open(swapPath, digest.Of([]byte("something else")))
	if err != nil {
		t.Fatal(err)
	}
	j.StartEdit()
	j.RecordInsertText(0, 0, "ABC")
	j.FinishEdit()
	j.Close()

	buf := New()
	if ok, _, _, _ := buf.Load(docPath, false); !ok {
		t.Fatal("Load failed")
	}
	if _, err := buf.RecoverSwapJournal(docPath); !errors.Is(err, swap.ErrDigestMismatch) {
		t.Fatalf("err = %v, want ErrDigestMismatch", err)
	}
	if buf.Text() != "original" {
		t.Errorf("document should be untouched, got %q", buf.Text())
	}
	if _, err := os.Stat(swapPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale journal should be discarded")
	}
}

func TestRecoverTruncatedJournalAppliesPartially(t *testing.T) {
	docPath := writeTemp(t, "doc.txt", []byte("original"))
	swapPath := swap.PathFor(docPath, "")

	raw, _ := os.ReadFile(docPath)
	j, err := swap.Open(swapPath, digest.Of(raw))
	if err != nil {
		t.Fatal(err)
	}
	j.StartEdit()
	j.RecordInsertText(0, 0, "ABC")
	// Crash before FinishEdit: the bracket never closes.
	j.Close()

	buf := New()
	if ok, _, _, _ := buf.Load(docPath, false); !ok {
		t.Fatal("Load failed")
	}
	outcome, err := buf.RecoverSwapJournal(docPath)
	if err != nil {
		t.Fatalf("RecoverSwapJournal: %v", err)
	}
	if !outcome.Truncated {
		t.Error("unbalanced bracket should report truncation")
	}
	if buf.Text() != "ABCoriginal" {
		t.Errorf("partial recovery should still apply, got %q", buf.Text())
	}
}

func TestSaveRemovesJournal(t *testing.T) {
	docPath := writeTemp(t, "doc.txt", []byte("x"))
	buf := New()
	if ok, _, _, _ := buf.Load(docPath, false); !ok {
		t.Fatal("Load failed")
	}
	if err := buf.EnableSwapJournal(docPath); err != nil {
		t.Fatal(err)
	}
	edit(buf, func() {
		buf.InsertText(Position{Line: 0, Column: 1}, "y")
	})

	swapPath := swap.PathFor(docPath, "")
	if _, err := os.Stat(swapPath); err != nil {
		t.Fatalf("journal should exist while dirty: %v", err)
	}
	if !buf.Save(docPath) {
		t.Fatalf("Save failed: %s", buf.LastIOError())
	}
	if _, err := os.Stat(swapPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("clean save should remove the journal")
	}
}

func TestCloseSwapJournalWithoutRecovery(t *testing.T) {
	docPath := writeTemp(t, "doc.txt", []byte("x"))
	buf := New()
	buf.Load(docPath, false)
	if err := buf.EnableSwapJournal(docPath); err != nil {
		t.Fatal(err)
	}
	buf.CloseSwapJournal()
	if _, err := os.Stat(swap.PathFor(docPath, "")); !errors.Is(err, os.ErrNotExist) {
		t.Error("closing without recovery should remove the journal")
	}
}

// Replaying a recorded session into a second buffer loaded from the same
// starting state reproduces the writer's final content byte for byte.
func TestJournalReplayEquivalence(t *testing.T) {
	docPath := writeTemp(t, "doc.txt", []byte("hello\nworld\n"))

	writer := New()
	if ok, _, _, _ := writer.Load(docPath, false); !ok {
		t.Fatal("Load failed")
	}
	if err := writer.EnableSwapJournal(docPath); err != nil {
		t.Fatal(err)
	}
	edit(writer, func() {
		writer.InsertText(Position{Line: 0, Column: 5}, ", there")
		writer.WrapLine(Position{Line: 0, Column: 5})
		writer.RemoveText(Span{Start: Position{Line: 1, Column: 0}, End: Position{Line: 1, Column: 2}})
	})
	edit(writer, func() {
		writer.UnwrapLine(1)
		writer.InsertText(Position{Line: 1, Column: 0}, ">> ")
	})
	wantText := writer.Text()
	crash(writer)

	replica := New()
	if ok, _, _, _ := replica.Load(docPath, false); !ok {
		t.Fatal("replica load failed")
	}
	if _, err := replica.RecoverSwapJournal(docPath); err != nil {
		t.Fatalf("RecoverSwapJournal: %v", err)
	}
	if replica.Text() != wantText {
		t.Errorf("replayed text = %q, want %q", replica.Text(), wantText)
	}
}

func TestEnableSwapJournalInPresetDir(t *testing.T) {
	docPath := writeTemp(t, "doc.txt", []byte("x"))
	swapDir := t.TempDir()

	buf := New(WithSwapDir(swapDir))
	buf.Load(docPath, false)
	if err := buf.EnableSwapJournal(docPath); err != nil {
		t.Fatal(err)
	}
	defer buf.CloseSwapJournal()

	if _, err := os.Stat(swap.PathFor(docPath, swapDir)); err != nil {
		t.Errorf("journal should live under the preset dir: %v", err)
	}
}
