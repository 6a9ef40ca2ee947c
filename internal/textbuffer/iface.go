package textbuffer

import "github.com/dshills/katecore/internal/textbuffer/digest"

// Loader abstracts the file-read side of the load contract so tests and
// alternative hosts (virtual filesystems, remote buffers) can substitute
// their own source without the core depending on *os.File directly.
type Loader interface {
	// ReadFile returns the raw bytes at path.
	ReadFile(path string) ([]byte, error)
}

// Saver abstracts the file-write side of the save contract.
type Saver interface {
	// WriteFile writes data to path, creating or truncating it.
	WriteFile(path string, data []byte) error
}

// PrivilegeHelper models the out-of-process privileged-save collaborator
// helper process: the in-process side stages a
// temp file and issues a synchronous RPC to move it over the target with
// matching ownership, used only when a direct write fails for permission
// reasons.
type PrivilegeHelper interface {
	// Escalate moves sourceFile over targetFile, preserving ownerID/groupID,
	// and verifies checksum after the move. The buffer is frozen (no new
	// transactions accepted) for the duration of this call.
	Escalate(sourceFile, targetFile string, checksum digest.Digest, ownerID, groupID int) error
}

// SwapPathDeriver abstracts swap-file path derivation so a host can
// override the co-located-vs-preset-directory policy without the core
// depending on a concrete filesystem layout.
type SwapPathDeriver interface {
	// SwapPath returns the path the swap journal should be opened at for
	// the document at docPath.
	SwapPath(docPath string) string
}
