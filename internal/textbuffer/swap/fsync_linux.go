//go:build linux

package swap

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync issues fdatasync(2) on f's descriptor, skipping the metadata
// flush a full fsync would pay for.
func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
