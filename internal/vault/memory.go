package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"integrity-go/internal/integrity"
)

// MemoryVault is an in-memory implementation of the Vault interface, useful
// for tests and throwaway sessions. It is safe for concurrent use.
type MemoryVault struct {
	mu    sync.RWMutex
	blobs map[string][]byte // "namespace/checksum" -> blob
}

// NewMemoryVault creates a new empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{blobs: make(map[string][]byte)}
}

func memoryKey(namespace, checksum string) string {
	return namespace + "/" + checksum
}

// PutContent stores a blob, replacing any existing blob under the same key.
func (m *MemoryVault) PutContent(namespace, checksum string, r io.Reader, size int64) error {
	if err := validateKey(namespace, checksum); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[memoryKey(namespace, checksum)] = data
	return nil
}

// GetContent retrieves a blob and writes it to w.
func (m *MemoryVault) GetContent(namespace, checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.blobs[memoryKey(namespace, checksum)]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s/%s", integrity.ErrContentNotFound, namespace, checksum)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryVault implements integrity.Vault interface
var _ integrity.Vault = (*MemoryVault)(nil)
