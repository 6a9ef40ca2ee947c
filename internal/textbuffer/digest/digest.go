// Package digest computes the git-blob-compatible content digest used to
// detect out-of-band changes: a SHA-1 over `blob <size>\0<contents>`,
// byte-compatible with `git hash-object`.
package digest

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// Digest is a hex-encoded git-blob SHA-1.
type Digest string

// Of computes the git-blob digest of contents.
func Of(contents []byte) Digest {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(contents))
	h.Write(contents)
	return Digest(hex.EncodeToString(h.Sum(nil)))
}

// Empty is the digest of a zero-length document.
var Empty = Of(nil)
