package textbuffer

import "errors"

// Errors returned by Buffer operations. Structural precondition violations
// (edit outside a transaction, out-of-range line/column) are not in this
// list: those panic instead of returning an error, since they indicate a
// caller bug rather than a recoverable condition.
var (
	// ErrLineOutOfRange indicates a requested line does not exist.
	ErrLineOutOfRange = errors.New("textbuffer: line out of range")

	// ErrReadOnly indicates a write operation on a read-only buffer.
	ErrReadOnly = errors.New("textbuffer: buffer is read-only")

	// ErrNoJournal indicates a swap-journal operation was attempted before
	// EnableSwapJournal opened one.
	ErrNoJournal = errors.New("textbuffer: no swap journal configured")

	// ErrRevisionNotFound indicates a transform was requested against a
	// revision the history log no longer retains.
	ErrRevisionNotFound = errors.New("textbuffer: revision not found")
)
