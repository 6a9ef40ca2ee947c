package textbuffer

import "os"

// fsLoader is the default Loader, reading directly from the local
// filesystem.
type fsLoader struct{}

func (fsLoader) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// fsSaver is the default Saver, writing directly to the local filesystem.
// Buffer.save uses os.WriteFile's own permission-checking behavior to
// decide whether to attempt privilege escalation.
type fsSaver struct{}

func (fsSaver) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
