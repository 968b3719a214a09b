package testutil

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sync"
	"time"

	"integrity-go/internal/integrity"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
}

// MockFilesystemManager is an in-memory filesystem for testing. Relative
// paths resolve against /work.
type MockFilesystemManager struct {
	mu    sync.Mutex
	files map[string]*MockFile

	// FailWrites makes WriteFile fail when set.
	FailWrites bool
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files: make(map[string]*MockFile),
	}
}

// AddFile adds or replaces a file in the mock filesystem.
func (m *MockFilesystemManager) AddFile(p string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[m.abs(p)] = &MockFile{
		Content:     bytes.Clone(content),
		Permissions: 0644,
		ModTime:     time.Now(),
	}
}

// RemoveFile deletes a file from the mock filesystem.
func (m *MockFilesystemManager) RemoveFile(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, m.abs(p))
}

// Content returns the current content of a file and whether it exists.
func (m *MockFilesystemManager) Content(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[m.abs(p)]
	if !ok {
		return nil, false
	}
	return bytes.Clone(f.Content), true
}

func (m *MockFilesystemManager) abs(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join("/work", p)
}

func (m *MockFilesystemManager) Abs(rawPath string) (string, error) {
	if rawPath == "" {
		return "", fmt.Errorf("empty path")
	}
	return m.abs(rawPath), nil
}

func (m *MockFilesystemManager) Open(p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(file.Content))), nil
}

func (m *MockFilesystemManager) Stat(p string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
	}
	return &mockFileInfo{
		name:    path.Base(p),
		size:    int64(len(file.Content)),
		mode:    file.Permissions,
		modTime: file.ModTime,
	}, nil
}

func (m *MockFilesystemManager) WriteFile(p string, r io.Reader) error {
	if m.FailWrites {
		return fmt.Errorf("write %s: read-only filesystem", p)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	perm := fs.FileMode(0644)
	if existing, ok := m.files[p]; ok {
		perm = existing.Permissions
	}
	m.files[p] = &MockFile{Content: data, Permissions: perm, ModTime: time.Now()}
	return nil
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return false }
func (m *mockFileInfo) Sys() any           { return nil }

// Compile-time check
var _ integrity.FilesystemManager = (*MockFilesystemManager)(nil)
