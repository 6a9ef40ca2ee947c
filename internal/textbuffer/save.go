package textbuffer

import (
	"errors"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	xtransform "golang.org/x/text/transform"

	"github.com/dshills/katecore/internal/textbuffer/digest"
)

// ErrNoPrivilegeHelper's message is what LastIOError reports after Save
// returns false because a write failed for permission reasons and no
// PrivilegeHelper has been configured.
var ErrNoPrivilegeHelper = errors.New("textbuffer: write denied and no privilege helper configured")

// Save writes the document to path: the content is encoded
// with the current codec, end-of-line mode, and BOM flag, written to
// path (escalating through the privilege helper on a permission
// failure), and on success the journal is removed, every line's modified
// flag is cleared and savedOnDisk set, and the current revision is
// recorded as last-saved.
func (buf *Buffer) Save(path string) bool {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	data := buf.encodeLocked()

	if err := buf.saver.WriteFile(path, data); err != nil {
		if !errors.Is(err, os.ErrPermission) {
			buf.lastIOError = err.Error()
			buf.logger.Warn("save failed", "path", path, "error", err)
			return false
		}
		if buf.privilegeHelper == nil {
			buf.lastIOError = ErrNoPrivilegeHelper.Error()
			buf.logger.Warn("save denied, no privilege helper configured", "path", path)
			return false
		}
		if !buf.escalatedSaveLocked(path, data) {
			return false
		}
	}

	if buf.journal != nil {
		journalPath := buf.journal.PathOnDisk()
		if err := buf.journal.Close(); err != nil {
			buf.logger.Warn("closing swap journal after save failed", "error", err)
		}
		buf.journal = nil
		if err := removeSwapFile(journalPath); err != nil {
			buf.logger.Warn("removing swap journal after save failed", "error", err)
		}
	}

	buf.lastDigest = digest.Of(data)
	buf.lastSavedRevision = buf.revision
	for _, bl := range buf.blocks {
		bl.MarkModifiedLinesAsSaved()
	}
	return true
}

// escalatedSaveLocked stages data to a temp file and issues the
// privilege-helper RPC to move it over path. The buffer is frozen for the
// duration: Save holds buf.mu throughout.
func (buf *Buffer) escalatedSaveLocked(path string, data []byte) bool {
	tmp, err := os.CreateTemp("", "katecore-save-*")
	if err != nil {
		buf.lastIOError = err.Error()
		return false
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		buf.lastIOError = err.Error()
		return false
	}
	if err := tmp.Close(); err != nil {
		buf.lastIOError = err.Error()
		return false
	}

	sum := digest.Of(data)
	if err := buf.privilegeHelper.Escalate(tmpPath, path, sum, os.Getuid(), os.Getgid()); err != nil {
		buf.lastIOError = err.Error()
		buf.logger.Warn("privilege-helper escalation failed", "path", path, "error", err)
		return false
	}
	return true
}

// encodeLocked renders the document to bytes per the current codec,
// line-ending mode, and BOM/newline-at-EOF policy. A whitespace-only last
// line still counts as non-empty for the trailing-newline decision.
func (buf *Buffer) encodeLocked() []byte {
	eol := buf.lineEnding.bytes()
	var sb strings.Builder

	lastNonEmpty := false
	for bi, bl := range buf.blocks {
		for li := 0; li < bl.Lines(); li++ {
			line := bl.Line(li)
			sb.WriteString(line.Text())
			isLast := bi == len(buf.blocks)-1 && li == bl.Lines()-1
			lastNonEmpty = line.Len() > 0
			if !isLast {
				sb.WriteString(eol)
			}
		}
	}
	if buf.newLineAtEOF && lastNonEmpty {
		sb.WriteString(eol)
	}

	out := encodeWithCodec(sb.String(), buf.codec)
	if buf.bom && buf.codec == defaultCodec {
		// The UTF-8 BOM is not emitted by x/text's UTF8 encoder (it is a
		// no-op transform); codecs constructed with an explicit BOM policy
		// (golang.org/x/text/encoding/unicode.UTF16/UTF32) already emit
		// their own BOM from NewEncoder, so only the plain-UTF-8 default
		// needs this forced prefix.
		out = append([]byte{0xEF, 0xBB, 0xBF}, out...)
	}
	return out
}

// encodeWithCodec renders s through enc's encoder, falling back to the raw
// UTF-8 bytes if the encoder cannot represent the text (mirrors Load's
// decode-error handling: the caller already validated round-trip-ability
// via the codec chosen at Load time).
func encodeWithCodec(s string, enc encoding.Encoding) []byte {
	out, _, err := xtransform.Bytes(enc.NewEncoder(), []byte(s))
	if err != nil {
		return []byte(s)
	}
	return out
}
