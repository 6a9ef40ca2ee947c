package textbuffer

import (
	"errors"

	"github.com/dshills/katecore/internal/textbuffer/swap"
)

// swapPathLocked derives the journal path for docPath, honoring an
// injected SwapPathDeriver before the default derivation.
func (buf *Buffer) swapPathLocked(docPath string) string {
	if buf.swapPathDeriver != nil {
		return buf.swapPathDeriver.SwapPath(docPath)
	}
	return swap.PathFor(docPath, buf.swapDir)
}

// EnableSwapJournal opens a fresh crash-recovery journal for the document
// at docPath, headed with the buffer's current content digest. Subsequent
// transactions record their primitives into it until Save removes it or
// CloseSwapJournal discards it.
func (buf *Buffer) EnableSwapJournal(docPath string) error {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.journal != nil {
		if err := buf.journal.Close(); err != nil {
			buf.logger.Warn("closing previous swap journal failed", "error", err)
		}
	}
	path := buf.swapPathLocked(docPath)
	j, err := swap.Open(path, buf.lastDigest)
	if err != nil {
		buf.lastIOError = err.Error()
		buf.logger.Warn("opening swap journal failed", "path", path, "error", err)
		return err
	}
	buf.journal = j
	return nil
}

// CloseSwapJournal closes and removes the journal without recovering from
// it, the document-close-without-recovery arm of the journal lifecycle.
func (buf *Buffer) CloseSwapJournal() {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if buf.syncTimer != nil {
		buf.syncTimer.Stop()
		buf.syncTimer = nil
	}
	if buf.journal == nil {
		return
	}
	path := buf.journal.PathOnDisk()
	if err := buf.journal.Close(); err != nil {
		buf.logger.Warn("closing swap journal failed", "error", err)
	}
	buf.journal = nil
	if err := removeSwapFile(path); err != nil {
		buf.logger.Warn("removing swap journal failed", "path", path, "error", err)
	}
}

// RecoveryOutcome summarizes a RecoverSwapJournal pass: whether the replay
// ended mid-transaction, and where the caller should position the caret
// (the last-redo cursor).
type RecoveryOutcome struct {
	Truncated bool
	LastRedo  Position
}

// RecoverSwapJournal replays the journal derived for docPath into the
// buffer. The journal header's digest must match the buffer's current
// content digest (the document must already be loaded at its last-saved
// state); on mismatch the journal is discarded untouched and
// swap.ErrDigestMismatch is returned, leaving the buffer unmodified. An
// unbalanced bracket yields a partial recovery with Truncated set. A
// recovered document is always left with its replayed lines marked
// modified, never savedOnDisk: the result is not known to match anything
// on disk.
// On success the swap file is removed.
func (buf *Buffer) RecoverSwapJournal(docPath string) (RecoveryOutcome, error) {
	buf.mu.RLock()
	path := buf.swapPathLocked(docPath)
	current := buf.lastDigest
	buf.mu.RUnlock()

	result, err := swap.Recover(path, current)
	if err != nil {
		if errors.Is(err, swap.ErrDigestMismatch) || errors.Is(err, swap.ErrBadMagic) {
			buf.logger.Warn("swap journal discarded", "path", path, "error", err)
			if rmErr := removeSwapFile(path); rmErr != nil {
				buf.logger.Warn("removing stale swap journal failed", "path", path, "error", rmErr)
			}
		}
		return RecoveryOutcome{}, err
	}

	depth := 0
	for _, rec := range result.Records {
		switch rec.Token {
		case 'S':
			buf.StartEditing()
			depth++
		case 'E':
			if depth > 0 {
				buf.FinishEditing()
				depth--
			}
		case 'W':
			buf.WrapLine(Position{Line: int(rec.Line), Column: int(rec.Col)})
		case 'U':
			buf.UnwrapLine(int(rec.Line))
		case 'I':
			buf.InsertText(Position{Line: int(rec.Line), Column: int(rec.Col)}, string(rec.Text))
		case 'R':
			buf.RemoveText(Span{
				Start: Position{Line: int(rec.Line), Column: int(rec.Col)},
				End:   Position{Line: int(rec.Line), Column: int(rec.EndCol)},
			})
		}
	}
	// Balance a bracket the crash left open so the buffer is usable.
	for depth > 0 {
		buf.FinishEditing()
		depth--
	}

	if result.Truncated {
		buf.logger.Warn("swap journal replay truncated mid-transaction", "path", path)
	}

	if err := removeSwapFile(path); err != nil {
		buf.logger.Warn("removing swap journal after recovery failed", "path", path, "error", err)
	}

	return RecoveryOutcome{
		Truncated: result.Truncated,
		LastRedo:  Position{Line: result.LastRedoLine, Column: result.LastRedoColumn},
	}, nil
}

// removeSwapFile deletes a journal file, tolerating its absence.
func removeSwapFile(path string) error { return swap.Remove(path) }
