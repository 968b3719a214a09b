package integrity

import (
	"errors"
	"io"
)

// ErrContentNotFound is returned by a Vault when no blob exists under a key.
var ErrContentNotFound = errors.New("content not found")

// Vault provides an interface for backup blob storage backends.
// Blobs are keyed by a namespace (the plural object kind, e.g. "files") and
// the reference checksum of the content they hold.
type Vault interface {
	// PutContent stores a blob under namespace/checksum, replacing any
	// existing blob. size is the number of bytes that will be read from r.
	PutContent(namespace, checksum string, r io.Reader, size int64) error

	// GetContent retrieves the blob under namespace/checksum and writes it to w.
	// Returns an error matching ErrContentNotFound when there is none.
	GetContent(namespace, checksum string, w io.Writer) error

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
