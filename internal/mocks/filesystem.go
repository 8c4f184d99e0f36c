// Package mocks provides mock implementations for testing.
package mocks

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mcdonaldj/zipstage/internal/ports"
)

// MockFileSystem implements ports.FileSystem for testing.
// It is safe for concurrent use.
type MockFileSystem struct {
	mu sync.Mutex

	// Files maps paths to file contents
	Files map[string][]byte
	// Stats maps paths to FileInfo for Stat; directories live here
	Stats map[string]os.FileInfo
	// Errors maps paths to errors (for simulating failures)
	Errors map[string]error
	// WalkEntries contains entries to return during Walk
	WalkEntries []WalkEntry

	// Call tracking
	MkdirCalls     []string
	RemoveAllCalls []string
}

// WalkEntry represents a file or directory entry for Walk testing.
type WalkEntry struct {
	Path string
	Info os.FileInfo
	Err  error
}

// NewMockFileSystem creates a new mock filesystem.
func NewMockFileSystem() *MockFileSystem {
	return &MockFileSystem{
		Files:  make(map[string][]byte),
		Stats:  make(map[string]os.FileInfo),
		Errors: make(map[string]error),
	}
}

// AddDir marks path as an existing directory.
func (m *MockFileSystem) AddDir(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats[path] = &mockFileInfo{name: filepath.Base(path), isDir: true, mode: fs.ModeDir | 0o755}
}

// AddFile stores content at path.
func (m *MockFileSystem) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[path] = content
}

// Stat returns file info for the named file.
func (m *MockFileSystem) Stat(name string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	if info, ok := m.Stats[name]; ok {
		return info, nil
	}
	// Check if we have file content (implies file exists)
	if content, ok := m.Files[name]; ok {
		return &mockFileInfo{name: filepath.Base(name), size: int64(len(content)), mode: 0o644}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// Mkdir creates a single directory, failing with fs.ErrExist if present.
func (m *MockFileSystem) Mkdir(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MkdirCalls = append(m.MkdirCalls, path)
	if err, ok := m.Errors[path]; ok {
		return err
	}
	if _, ok := m.Stats[path]; ok {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
	}
	m.Stats[path] = &mockFileInfo{name: filepath.Base(path), isDir: true, mode: fs.ModeDir | perm}
	return nil
}

// ReadFile reads the named file and returns the contents.
func (m *MockFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	if content, ok := m.Files[name]; ok {
		return content, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// RemoveAll removes path and any children it contains.
func (m *MockFileSystem) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveAllCalls = append(m.RemoveAllCalls, path)
	if err, ok := m.Errors[path]; ok {
		return err
	}
	prefix := path + string(filepath.Separator)
	for k := range m.Files {
		if k == path || strings.HasPrefix(k, prefix) {
			delete(m.Files, k)
		}
	}
	for k := range m.Stats {
		if k == path || strings.HasPrefix(k, prefix) {
			delete(m.Stats, k)
		}
	}
	return nil
}

// Open opens the named file for reading.
func (m *MockFileSystem) Open(name string) (fs.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	content, ok := m.Files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &mockFile{name: name, reader: bytes.NewReader(content), size: int64(len(content))}, nil
}

// Create returns a writer whose content lands in Files when closed.
func (m *MockFileSystem) Create(name string, perm os.FileMode) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors[name]; ok {
		return nil, err
	}
	m.Files[name] = []byte{}
	return &mockWriter{fs: m, name: name}, nil
}

// Walk walks the configured entries under root, calling fn for each.
func (m *MockFileSystem) Walk(root string, fn ports.WalkFunc) error {
	m.mu.Lock()
	entries := append([]WalkEntry(nil), m.WalkEntries...)
	m.mu.Unlock()

	for _, entry := range entries {
		if strings.HasPrefix(entry.Path, root) {
			if err := fn(entry.Path, entry.Info, entry.Err); err != nil {
				if err == filepath.SkipDir || err == filepath.SkipAll {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// mockWriter buffers writes and commits them on Close.
type mockWriter struct {
	fs   *MockFileSystem
	name string
	buf  bytes.Buffer
}

func (w *mockWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *mockWriter) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.fs.Files[w.name] = w.buf.Bytes()
	return nil
}

// NewFileInfo returns an os.FileInfo for use in Stats and WalkEntries.
func NewFileInfo(name string, size int64, isDir bool) os.FileInfo {
	mode := os.FileMode(0o644)
	if isDir {
		mode = fs.ModeDir | 0o755
	}
	return &mockFileInfo{name: name, size: size, isDir: isDir, mode: mode}
}

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *mockFileInfo) Name() string       { return fi.name }
func (fi *mockFileInfo) Size() int64        { return fi.size }
func (fi *mockFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *mockFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *mockFileInfo) IsDir() bool        { return fi.isDir }
func (fi *mockFileInfo) Sys() interface{}   { return nil }

// mockFile implements fs.File for testing.
type mockFile struct {
	name   string
	reader *bytes.Reader
	size   int64
}

func (f *mockFile) Stat() (fs.FileInfo, error) {
	return &mockFileInfo{name: filepath.Base(f.name), size: f.size, mode: 0o644}, nil
}

func (f *mockFile) Read(p []byte) (int, error) { return f.reader.Read(p) }

func (f *mockFile) Close() error { return nil }

// Compile-time check that MockFileSystem implements ports.FileSystem.
var _ ports.FileSystem = (*MockFileSystem)(nil)
