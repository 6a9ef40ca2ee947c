package textbuffer

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"golang.org/x/text/encoding"
	xunicode "golang.org/x/text/encoding/unicode"
	xtransform "golang.org/x/text/transform"

	"github.com/dshills/katecore/internal/textbuffer/block"
	"github.com/dshills/katecore/internal/textbuffer/digest"
)

// Load replaces the buffer's content with the file at path: the buffer is
// always cleared first, then populated using up to four decode rounds
// (enforceCodec forces exactly one).
//
// Returns success, whether any decode round saw encoding errors, whether
// any line was wrapped for exceeding the line-length limit, and the
// longest raw line length seen before wrapping.
func (buf *Buffer) Load(path string, enforceCodec bool) (success, encodingErrors, tooLongWrapped bool, longestLineSeen int) {
	buf.mu.Lock()
	defer buf.mu.Unlock()

	buf.clearLocked()

	raw, err := buf.loader.ReadFile(path)
	if err != nil {
		buf.lastIOError = err.Error()
		buf.logger.Warn("load failed to read file", "path", path, "error", err)
		return false, false, false, 0
	}

	rounds := 4
	if enforceCodec {
		rounds = 1
	}

	var text string
	for i := 0; i < rounds; i++ {
		final := i == rounds-1
		var hadErrors bool
		switch i {
		case 0, 3:
			text, hadErrors = decodeWithCodec(raw, buf.codec)
		case 1:
			text, hadErrors = decodeAutodetect(raw)
		case 2:
			text, hadErrors = decodeWithCodec(raw, buf.fallbackCodec)
		}
		encodingErrors = encodingErrors || hadErrors
		if !hadErrors || final {
			break
		}
	}

	buf.bom = buf.bom || hasBOM(raw)
	if eol := detectLineEnding(text); eol >= 0 {
		buf.lineEnding = eol
	}

	lines := splitLines(text)

	b0 := buf.blocks[0]
	b0.ClearLines()
	buf.lines = 0
	blockIdx := 0

	for _, lineText := range lines {
		units := utf16.Encode([]rune(lineText))
		if longestLineSeen < len(units) {
			longestLineSeen = len(units)
		}

		for {
			if buf.lineLengthLimit <= 0 || len(units) <= buf.lineLengthLimit {
				buf.appendLoadedLine(&blockIdx, string(utf16.Decode(units)))
				break
			}
			wp := wrapPoint(units, buf.lineLengthLimit)
			buf.appendLoadedLine(&blockIdx, string(utf16.Decode(units[:wp])))
			tooLongWrapped = true
			units = units[wp:]
		}
	}

	buf.lastDigest = digest.Of(raw)
	buf.revision = 0
	buf.lastSavedRevision = 0
	return true, encodingErrors, tooLongWrapped, longestLineSeen
}

// appendLoadedLine appends text as a new line to the block at *blockIdx,
// opening a fresh block once the current one reaches the target block
// size B, so a freshly loaded document starts out balanced.
func (buf *Buffer) appendLoadedLine(blockIdx *int, text string) {
	cur := buf.blocks[*blockIdx]
	if cur.Lines() >= buf.blockSize {
		nb := block.New(*blockIdx + 1)
		buf.blocks = append(buf.blocks, nb)
		buf.startLines = append(buf.startLines, buf.lines)
		*blockIdx++
		cur = nb
	}
	cur.AppendLine(text)
	buf.lines++
}

// decodeWithCodec decodes raw using enc (honoring a byte-order mark over
// the codec choice, and stripping it), reporting whether the result shows
// a decode failure. x/text decoders substitute U+FFFD rather than
// failing, so a substitution that was not already present in the input
// counts as a decode error for the retry chain's purposes.
func decodeWithCodec(raw []byte, enc encoding.Encoding) (string, bool) {
	out, _, err := xtransform.Bytes(xunicode.BOMOverride(enc.NewDecoder()), raw)
	if err != nil {
		return string(raw), true
	}
	if !utf8.Valid(out) {
		return string(out), true
	}
	// bytes.ContainsRune(raw, utf8.RuneError) would also match any invalid
	// byte in raw, so look for the encoded U+FFFD sequence itself.
	if bytes.ContainsRune(out, utf8.RuneError) && !bytes.Contains(raw, []byte(string(utf8.RuneError))) {
		return string(out), true
	}
	return string(out), false
}

// decodeAutodetect implements round 1 of the detection retry order: use
// the byte-order mark to pick UTF-8/UTF-16 if one is present (a UTF-32
// BOM is not recognised),
// otherwise assume UTF-8 (encoding.Nop passes bytes through unchanged,
// which is correct for already-UTF-8 text and surfaces an EncodingError
// for anything else via the utf8.Valid check in decodeWithCodec).
func decodeAutodetect(raw []byte) (string, bool) {
	return decodeWithCodec(raw, encoding.Nop)
}

func hasBOM(raw []byte) bool {
	switch {
	case len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF:
		return true
	case len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0xFE:
		return true
	case len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF:
		return true
	default:
		return false
	}
}

func detectLineEnding(text string) LineEnding {
	i := strings.IndexAny(text, "\r\n")
	if i < 0 {
		return LineEnding(-1)
	}
	if text[i] == '\n' {
		return Unix
	}
	if i+1 < len(text) && text[i+1] == '\n' {
		return Dos
	}
	return Mac
}

func splitLines(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

// wrapPoint returns the code-unit offset to split units at when they
// exceed a line-length limit: search
// the last 10% of the limit for a grapheme-cluster boundary ending in
// whitespace (preferred) or punctuation, falling back to a hard wrap
// exactly at limit. uniseg supplies the grapheme boundaries so the search
// never proposes a split inside a multi-rune cluster.
func wrapPoint(units []uint16, limit int) int {
	if limit <= 0 || len(units) <= limit {
		return len(units)
	}
	windowStart := limit - limit/10
	if windowStart < 0 {
		windowStart = 0
	}

	text := string(utf16.Decode(units))
	lastSpace, lastPunct := -1, -1
	pos := 0
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		rs := g.Runes()
		for _, r := range rs {
			pos += utf16Len(r)
		}
		if pos > limit {
			break
		}
		if pos < windowStart {
			continue
		}
		switch {
		case unicode.IsSpace(rs[0]):
			lastSpace = pos
		case unicode.IsPunct(rs[0]):
			lastPunct = pos
		}
	}
	switch {
	case lastSpace >= 0:
		return lastSpace
	case lastPunct >= 0:
		return lastPunct
	default:
		return limit
	}
}

func utf16Len(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}
