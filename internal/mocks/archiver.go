package mocks

import (
	"sync"
	"time"

	"github.com/mcdonaldj/zipstage/internal/ports"
)

// MockArchiver implements ports.Archiver for testing.
// It is safe for concurrent use.
type MockArchiver struct {
	mu sync.Mutex

	// CreateCalls records calls to CreateFromDir
	CreateCalls []CreateCall
	// ExtractCalls records calls to Extract
	ExtractCalls []ExtractCall
	// PackCalls records calls to PackEntry
	PackCalls []PackCall
	// ListResults maps zip paths to file listings
	ListResults map[string]map[string]ports.FileInfo
	// ReadResults maps "zipPath:name" to content
	ReadResults map[string][]byte
	// Errors maps method names to errors
	Errors map[string]error
	// CreateResult is the default file count to return
	CreateResult int
	// UnpackResult and UnpackEntries are returned from UnpackFirst
	UnpackResult  []byte
	UnpackEntries int

	// OnCreate, when set, runs inside CreateFromDir before it returns.
	// Tests use it to inspect staging state or to block.
	OnCreate func(call CreateCall)
}

// CreateCall records parameters of a CreateFromDir call.
type CreateCall struct {
	SourceDir   string
	DestPath    string
	IncludeRoot bool
}

// ExtractCall records parameters of an Extract call.
type ExtractCall struct {
	ZipPath string
	DestDir string
}

// PackCall records parameters of a PackEntry call.
type PackCall struct {
	Name     string
	Data     []byte
	Modified time.Time
}

// NewMockArchiver creates a new mock archiver.
func NewMockArchiver() *MockArchiver {
	return &MockArchiver{
		ListResults:   make(map[string]map[string]ports.FileInfo),
		ReadResults:   make(map[string][]byte),
		Errors:        make(map[string]error),
		CreateResult:  1, // Default to 1 file
		UnpackEntries: 1,
	}
}

// CreateFromDir records the call and returns CreateResult.
func (m *MockArchiver) CreateFromDir(sourceDir, destPath string, includeRoot bool) (int, error) {
	call := CreateCall{SourceDir: sourceDir, DestPath: destPath, IncludeRoot: includeRoot}

	m.mu.Lock()
	m.CreateCalls = append(m.CreateCalls, call)
	hook := m.OnCreate
	err, failed := m.Errors["CreateFromDir"]
	result := m.CreateResult
	m.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if failed {
		return 0, err
	}
	return result, nil
}

// Extract records the call.
func (m *MockArchiver) Extract(zipPath, destDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExtractCalls = append(m.ExtractCalls, ExtractCall{
		ZipPath: zipPath,
		DestDir: destDir,
	})
	if err, ok := m.Errors["Extract"]; ok {
		return err
	}
	return nil
}

// List returns the configured listing for zipPath.
func (m *MockArchiver) List(zipPath string) (map[string]ports.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors["List"]; ok {
		return nil, err
	}
	if result, ok := m.ListResults[zipPath]; ok {
		return result, nil
	}
	return make(map[string]ports.FileInfo), nil
}

// ReadFile returns the configured content for "zipPath:name".
func (m *MockArchiver) ReadFile(zipPath, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors["ReadFile"]; ok {
		return nil, err
	}
	return m.ReadResults[zipPath+":"+name], nil
}

// PackEntry records the call and returns the data itself as the "archive".
func (m *MockArchiver) PackEntry(name string, data []byte, modified time.Time) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PackCalls = append(m.PackCalls, PackCall{Name: name, Data: data, Modified: modified})
	if err, ok := m.Errors["PackEntry"]; ok {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// UnpackFirst returns UnpackResult and UnpackEntries.
func (m *MockArchiver) UnpackFirst(data []byte) ([]byte, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.Errors["UnpackFirst"]; ok {
		return nil, 0, err
	}
	return m.UnpackResult, m.UnpackEntries, nil
}

// Calls returns a snapshot of the recorded CreateFromDir calls.
func (m *MockArchiver) Calls() []CreateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CreateCall(nil), m.CreateCalls...)
}

// Compile-time check that MockArchiver implements ports.Archiver.
var _ ports.Archiver = (*MockArchiver)(nil)
