package textbuffer

import (
	"log/slog"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Default configuration values.
const (
	DefaultBlockSize       = 64
	DefaultLineLengthLimit = 4096
	DefaultSyncInterval    = 15 * time.Second
)

// Option configures a Buffer during creation.
type Option func(*Buffer)

// WithBlockSize sets the target block size B (typically 64).
func WithBlockSize(b int) Option {
	return func(buf *Buffer) {
		if b > 0 {
			buf.blockSize = b
		}
	}
}

// WithLineLengthLimit sets the load-time line-wrap threshold.
func WithLineLengthLimit(n int) Option {
	return func(buf *Buffer) {
		if n > 0 {
			buf.lineLengthLimit = n
		}
	}
}

// WithSwapDir sets the directory swap files are derived into when not
// co-located with the document.
func WithSwapDir(dir string) Option {
	return func(buf *Buffer) { buf.swapDir = dir }
}

// WithSyncInterval sets the swap-journal sync-timer period (default 15s).
func WithSyncInterval(d time.Duration) Option {
	return func(buf *Buffer) {
		if d > 0 {
			buf.syncInterval = d
		}
	}
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(buf *Buffer) {
		if l != nil {
			buf.logger = l
		}
	}
}

// WithReadOnly creates a read-only buffer; mutating primitives panic with
// ErrReadOnly before touching any state.
func WithReadOnly() Option {
	return func(buf *Buffer) { buf.readOnly = true }
}

// WithNewLineAtEOF controls whether Save appends a trailing newline when
// the last line is non-empty (a whitespace-only line counts as non-empty).
func WithNewLineAtEOF(v bool) Option {
	return func(buf *Buffer) { buf.newLineAtEOF = v }
}

// UTF-8 is the preferred codec for new/unspecified documents,
// Windows-1252 the fallback used when autodetection and the primary codec
// both fail to round-trip cleanly.
var (
	defaultCodec         encoding.Encoding = unicode.UTF8
	defaultFallbackCodec encoding.Encoding = charmap.Windows1252
)

// WithEncoding sets the text codec Load tries first (round 0 and 3 of the
// detection retry order).
func WithEncoding(enc encoding.Encoding) Option {
	return func(buf *Buffer) {
		if enc != nil {
			buf.codec = enc
		}
	}
}

// WithFallbackEncoding sets the codec Load falls back to (round 2) when the
// user codec and BOM/prober autodetection both fail to decode cleanly.
func WithFallbackEncoding(enc encoding.Encoding) Option {
	return func(buf *Buffer) {
		if enc != nil {
			buf.fallbackCodec = enc
		}
	}
}

// WithLoader overrides the file-read collaborator, defaulting
// to the local filesystem.
func WithLoader(l Loader) Option {
	return func(buf *Buffer) {
		if l != nil {
			buf.loader = l
		}
	}
}

// WithSaver overrides the file-write collaborator, defaulting
// to the local filesystem.
func WithSaver(s Saver) Option {
	return func(buf *Buffer) {
		if s != nil {
			buf.saver = s
		}
	}
}

// WithPrivilegeHelper attaches the out-of-process privileged-save
// collaborator consulted when a direct Save
// write fails for permission reasons. Without one, a permission failure is
// reported as a plain IOError.
func WithPrivilegeHelper(h PrivilegeHelper) Option {
	return func(buf *Buffer) { buf.privilegeHelper = h }
}

// WithSwapPathDeriver overrides swap-file path derivation; default is
// PathFor(docPath, swapDir) from the swap package.
func WithSwapPathDeriver(d SwapPathDeriver) Option {
	return func(buf *Buffer) { buf.swapPathDeriver = d }
}
