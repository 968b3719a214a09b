package integrity

import (
	"io"
	"io/fs"
)

// FilesystemManager provides an interface for filesystem operations.
// It abstracts file access to enable testing without touching the real filesystem.
type FilesystemManager interface {
	// Abs returns the absolute form of rawPath. The path need not exist.
	Abs(rawPath string) (string, error)

	// Open opens a file for reading. A missing file yields an error
	// matching fs.ErrNotExist.
	Open(path string) (io.ReadCloser, error)

	// Stat returns fresh file info for a path.
	Stat(path string) (fs.FileInfo, error)

	// WriteFile replaces the content of path with the bytes read from r.
	WriteFile(path string, r io.Reader) error
}
