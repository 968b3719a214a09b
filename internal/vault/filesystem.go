package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"integrity-go/internal/integrity"
)

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// Blobs are stored one file per key:
//
//	<root>/
//	  files/
//	    <checksum>
//	  tables/
//	    <checksum>
type FileSystemVault struct {
	root string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	return &FileSystemVault{root: root}, nil
}

// PutContent stores a blob, replacing any existing blob under the same key.
func (v *FileSystemVault) PutContent(namespace, checksum string, r io.Reader, size int64) error {
	if err := validateKey(namespace, checksum); err != nil {
		return err
	}
	dir := filepath.Join(v.root, namespace)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create namespace directory: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, checksum), r, size)
}

// GetContent retrieves a blob and writes it to w.
func (v *FileSystemVault) GetContent(namespace, checksum string, w io.Writer) error {
	if err := validateKey(namespace, checksum); err != nil {
		return err
	}

	f, err := os.Open(filepath.Join(v.root, namespace, checksum))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s/%s", integrity.ErrContentNotFound, namespace, checksum)
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault root is an accessible directory.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}
	return nil
}

// writeFileAtomic writes r to destPath through a temp file in the same
// directory and a rename, so readers never see a partial blob.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemVault implements integrity.Vault interface
var _ integrity.Vault = (*FileSystemVault)(nil)
