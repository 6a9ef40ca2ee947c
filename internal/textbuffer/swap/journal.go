// Package swap implements the crash-recovery journal (component H): an
// append-only on-disk record of edit primitives between saves, replayed
// to reconstruct unsaved work after a crash.
package swap

import (
	"bufio"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf16"

	"github.com/dshills/katecore/internal/textbuffer/digest"
)

// Magic is the fixed file header string.
const Magic = "Kate Swap File 2.0"

// State is the journal's lifecycle state machine.
type State int

const (
	Idle State = iota
	Recording
	Synced
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Recording:
		return "Recording"
	case Synced:
		return "Synced"
	default:
		return "Unknown"
	}
}

// Token codes for the on-disk record format.
const (
	tokenStart       = 'S'
	tokenFinish      = 'E'
	tokenWrapLine    = 'W'
	tokenUnwrapLine  = 'U'
	tokenInsertText  = 'I'
	tokenRemoveText  = 'R'
)

// Errors.
var (
	ErrDigestMismatch = errors.New("swap: header digest does not match current document")
	ErrBadMagic        = errors.New("swap: bad or missing magic header")
	ErrNotRecording    = errors.New("swap: record called while not in Recording state")
)

// Record is one decoded journal entry.
type Record struct {
	Token byte
	Line  int32
	Col   int32
	EndCol int32
	Text  []byte
}

// Journal manages one document's swap file: a binary log plus the small
// state machine that gates when records may be appended.
type Journal struct {
	path  string
	file  *os.File
	w     *bufio.Writer
	state State
	dirty bool

	// pendingStart defers the 'S' token until the first record of the
	// transaction, so an edit bracket that mutated nothing leaves no trace
	// in the journal.
	pendingStart bool
}

// PathOnDisk returns the path the journal file was opened at.
func (j *Journal) PathOnDisk() string { return j.path }

// PathFor derives the swap file path: either co-located with the
// document as `.<name>.kate-swp`, or under dir (if non-empty) as
// `<sha1(full path)>-<name>.kate-swp`.
func PathFor(docPath, dir string) string {
	name := filepath.Base(docPath)
	if dir == "" {
		return filepath.Join(filepath.Dir(docPath), "."+name+".kate-swp")
	}
	sum := sha1.Sum([]byte(docPath))
	return filepath.Join(dir, fmt.Sprintf("%x-%s.kate-swp", sum, name))
}

// Open creates (or truncates) the journal file and writes the header:
// magic string followed by the document's current content digest.
func Open(path string, docDigest digest.Digest) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	j := &Journal{path: path, file: f, w: bufio.NewWriter(f), state: Idle}
	if err := j.writeHeader(docDigest); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) writeHeader(docDigest digest.Digest) error {
	if _, err := j.w.WriteString(Magic); err != nil {
		return err
	}
	if err := writeBytes(j.w, []byte(docDigest)); err != nil {
		return err
	}
	return j.w.Flush()
}

// StartEdit transitions Idle/Synced -> Recording, tying the transition to
// the buffer's transaction bracket. The 'S' token itself is written
// lazily by the first record, so empty transactions leave no trace.
func (j *Journal) StartEdit() error {
	j.state = Recording
	j.pendingStart = true
	return nil
}

// FinishEdit appends the 'E' token (if the bracket recorded anything); it
// does not change the state, which stays Recording until Sync sets Synced.
// The caller arms the sync timer afterward.
func (j *Journal) FinishEdit() error {
	if j.pendingStart {
		j.pendingStart = false
		return nil
	}
	if err := j.appendToken(tokenFinish); err != nil {
		return err
	}
	j.dirty = true
	return nil
}

func (j *Journal) appendToken(tok byte) error {
	if err := j.w.WriteByte(tok); err != nil {
		return err
	}
	return j.w.Flush()
}

// RecordWrapLine appends a 'W' record. Must be called inside Recording.
func (j *Journal) RecordWrapLine(line, col int) error {
	return j.record(tokenWrapLine, int32(line), int32(col), 0, nil)
}

// RecordUnwrapLine appends a 'U' record.
func (j *Journal) RecordUnwrapLine(line int) error {
	return j.record(tokenUnwrapLine, int32(line), 0, 0, nil)
}

// RecordInsertText appends an 'I' record with length-prefixed UTF-8 text.
func (j *Journal) RecordInsertText(line, col int, text string) error {
	return j.record(tokenInsertText, int32(line), int32(col), 0, []byte(text))
}

// RecordRemoveText appends an 'R' record.
func (j *Journal) RecordRemoveText(line, startCol, endCol int) error {
	return j.record(tokenRemoveText, int32(line), int32(startCol), int32(endCol), nil)
}

func (j *Journal) record(tok byte, line, col, endCol int32, text []byte) error {
	if j.state != Recording {
		return ErrNotRecording
	}
	if j.pendingStart {
		j.pendingStart = false
		if err := j.w.WriteByte(tokenStart); err != nil {
			return err
		}
	}
	if err := j.w.WriteByte(tok); err != nil {
		return err
	}
	if err := binary.Write(j.w, binary.BigEndian, line); err != nil {
		return err
	}
	switch tok {
	case tokenWrapLine, tokenInsertText:
		if err := binary.Write(j.w, binary.BigEndian, col); err != nil {
			return err
		}
	case tokenRemoveText:
		if err := binary.Write(j.w, binary.BigEndian, col); err != nil {
			return err
		}
		if err := binary.Write(j.w, binary.BigEndian, endCol); err != nil {
			return err
		}
	}
	if tok == tokenInsertText {
		if err := writeBytes(j.w, text); err != nil {
			return err
		}
	}
	j.dirty = true
	return j.w.Flush()
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// Sync issues fdatasync/fsync on the journal's file descriptor iff data is
// dirty since the last sync.
func (j *Journal) Sync() error {
	if !j.dirty {
		return nil
	}
	if err := j.w.Flush(); err != nil {
		return err
	}
	if err := fdatasync(j.file); err != nil {
		return err
	}
	j.dirty = false
	j.state = Synced
	return nil
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	if err := j.w.Flush(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// Remove deletes the swap file from disk, per the lifecycle rule that it
// is removed on clean save, on close without recovery, and after recovery.
func Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RecoveryResult summarizes a replay pass.
type RecoveryResult struct {
	Records          []Record
	Truncated        bool
	LastRedoLine     int
	LastRedoColumn   int
}

// Recover reads path, verifies the header against currentDigest, and
// decodes every record. A digest mismatch discards the journal outright
// (ErrDigestMismatch). An unbalanced Start/Finish bracket at EOF yields a
// partial result with Truncated set; the caller must treat the document
// as modified (never savedOnDisk) whenever Truncated is true.
func Recover(path string, currentDigest digest.Digest) (RecoveryResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return RecoveryResult{}, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != Magic {
		return RecoveryResult{}, ErrBadMagic
	}
	storedDigest, err := readBytes(r)
	if err != nil {
		return RecoveryResult{}, err
	}
	if digest.Digest(storedDigest) != currentDigest {
		return RecoveryResult{}, ErrDigestMismatch
	}

	var result RecoveryResult
	depth := 0
	for {
		tok, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Truncated = true
			break
		}
		switch tok {
		case tokenStart:
			depth++
			result.Records = append(result.Records, Record{Token: tok})
		case tokenFinish:
			depth--
			result.Records = append(result.Records, Record{Token: tok})
		case tokenWrapLine:
			rec, err := readLineCol(r, tok)
			if err != nil {
				result.Truncated = true
				goto done
			}
			result.Records = append(result.Records, rec)
			result.LastRedoLine, result.LastRedoColumn = int(rec.Line)+1, 0
		case tokenUnwrapLine:
			line, err := readInt32(r)
			if err != nil {
				result.Truncated = true
				goto done
			}
			result.Records = append(result.Records, Record{Token: tok, Line: line})
			result.LastRedoLine, result.LastRedoColumn = int(line), 0
		case tokenInsertText:
			rec, err := readLineCol(r, tok)
			if err != nil {
				result.Truncated = true
				goto done
			}
			text, err := readBytes(r)
			if err != nil {
				result.Truncated = true
				goto done
			}
			rec.Text = text
			result.Records = append(result.Records, rec)
			result.LastRedoLine, result.LastRedoColumn = int(rec.Line), int(rec.Col)+len(utf16.Encode([]rune(string(text))))
		case tokenRemoveText:
			line, err := readInt32(r)
			if err != nil {
				result.Truncated = true
				goto done
			}
			start, err := readInt32(r)
			if err != nil {
				result.Truncated = true
				goto done
			}
			end, err := readInt32(r)
			if err != nil {
				result.Truncated = true
				goto done
			}
			result.Records = append(result.Records, Record{Token: tok, Line: line, Col: start, EndCol: end})
			result.LastRedoLine, result.LastRedoColumn = int(line), int(start)
		default:
			result.Truncated = true
			goto done
		}
	}
done:
	if depth != 0 {
		result.Truncated = true
	}
	return result, nil
}

func readLineCol(r *bufio.Reader, tok byte) (Record, error) {
	line, err := readInt32(r)
	if err != nil {
		return Record{}, err
	}
	col, err := readInt32(r)
	if err != nil {
		return Record{}, err
	}
	return Record{Token: tok, Line: line, Col: col}, nil
}

func readInt32(r io.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
