package ports

import "time"

// Archiver abstracts the ZIP library for testability.
// Production code uses the ZipArchiver adapter; tests use MockArchiver.
type Archiver interface {
	// CreateFromDir writes a zip archive of sourceDir to destPath and returns
	// the number of files archived. With includeRoot the base name of
	// sourceDir becomes the top-level directory inside the archive; without
	// it the directory's contents sit at the archive root.
	CreateFromDir(sourceDir, destPath string, includeRoot bool) (fileCount int, err error)

	// Extract recreates the archived tree under destDir.
	Extract(zipPath, destDir string) error

	// List returns the file entries of an archive keyed by entry name.
	List(zipPath string) (map[string]FileInfo, error)

	// ReadFile returns the content of one named entry.
	ReadFile(zipPath, name string) ([]byte, error)

	// PackEntry serializes data as the single entry name of an in-memory archive.
	PackEntry(name string, data []byte, modified time.Time) ([]byte, error)

	// UnpackFirst returns the content of the first file entry of an in-memory
	// archive, together with the total number of file entries.
	UnpackFirst(data []byte) (content []byte, entries int, err error)
}

// FileInfo contains metadata about a file in an archive.
type FileInfo struct {
	Size  int64
	CRC32 uint32
}
