package integrity

import "io"

// Sealer protects backup blobs at rest. Seal runs on every stored blob and
// Open on every retrieved one, so both must be inverse to each other.
type Sealer interface {
	// Seal reads plaintext from r and writes the sealed form to w.
	Seal(r io.Reader, w io.Writer) error

	// Open reads a sealed blob from r and writes the plaintext to w.
	Open(r io.Reader, w io.Writer) error
}
