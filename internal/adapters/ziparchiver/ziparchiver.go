// Package ziparchiver provides an archiver adapter on top of klauspost/compress/zip.
package ziparchiver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dchest/safefile"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/mcdonaldj/zipstage/internal/ports"
	"github.com/mcdonaldj/zipstage/internal/ziperr"
)

// DefaultLevel is the flate level used when none is configured.
const DefaultLevel = 3

// MaxDecompressSize is the default limit on a single entry's uncompressed size (10GB).
// This prevents decompression bomb attacks (G110).
const MaxDecompressSize = 10 * 1024 * 1024 * 1024 // 10GB

// ZipArchiver implements ports.Archiver using klauspost/compress/zip.
type ZipArchiver struct {
	level   int
	maxSize uint64
	logger  *slog.Logger
}

// Option configures a ZipArchiver.
type Option func(*ZipArchiver)

// WithLevel sets the flate compression level (1..9).
func WithLevel(level int) Option {
	return func(a *ZipArchiver) {
		a.level = level
	}
}

// WithMaxDecompressSize caps the uncompressed size of any single entry.
func WithMaxDecompressSize(n uint64) Option {
	return func(a *ZipArchiver) {
		a.maxSize = n
	}
}

// WithLogger sets the logger for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(a *ZipArchiver) {
		a.logger = logger
	}
}

// New creates a new ZipArchiver adapter.
func New(opts ...Option) *ZipArchiver {
	a := &ZipArchiver{
		level:   DefaultLevel,
		maxSize: MaxDecompressSize,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.level < flate.BestSpeed || a.level > flate.BestCompression {
		a.level = DefaultLevel
	}
	return a
}

// newWriter returns a zip writer whose Deflate method uses the configured level.
func (a *ZipArchiver) newWriter(w io.Writer) *zip.Writer {
	zw := zip.NewWriter(w)
	level := a.level
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
	return zw
}

// CreateFromDir writes a zip archive of sourceDir to destPath.
// The archive is written to a temporary sibling and renamed into place only
// once complete, so a failure never leaves a partial archive at destPath.
func (a *ZipArchiver) CreateFromDir(sourceDir, destPath string, includeRoot bool) (int, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return 0, ziperr.FromFS("create", sourceDir, err)
	}
	if !info.IsDir() {
		return 0, ziperr.Errorf("create", sourceDir, ziperr.IOFailure, "not a directory")
	}

	out, err := safefile.Create(destPath, 0o644)
	if err != nil {
		return 0, ziperr.New("create", destPath, ziperr.IOFailure, err)
	}
	defer func() { _ = out.Close() }() // Removes the temp file unless committed

	w := a.newWriter(out)
	skip := map[string]bool{
		filepath.Clean(out.Name()): true,
		filepath.Clean(destPath):   true,
	}
	fileCount, walkErr := a.addTree(w, sourceDir, includeRoot, skip)

	// Close zip writer first to flush the central directory
	if closeErr := w.Close(); closeErr != nil && walkErr == nil {
		walkErr = ziperr.New("create", destPath, ziperr.IOFailure, fmt.Errorf("closing zip writer: %w", closeErr))
	}
	if walkErr != nil {
		return 0, walkErr
	}

	if err := out.Commit(); err != nil {
		return 0, ziperr.New("create", destPath, ziperr.IOFailure, fmt.Errorf("committing archive: %w", err))
	}

	a.logger.Debug("archive created",
		slog.String("source", sourceDir),
		slog.String("dest", destPath),
		slog.Int("files", fileCount))
	return fileCount, nil
}

// addTree walks sourceDir and writes every directory and regular file into w.
func (a *ZipArchiver) addTree(w *zip.Writer, sourceDir string, includeRoot bool, skip map[string]bool) (int, error) {
	baseName := filepath.Base(filepath.Clean(sourceDir))
	fileCount := 0

	err := filepath.Walk(sourceDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return ziperr.FromFS("create", p, err)
		}
		if skip[filepath.Clean(p)] {
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return ziperr.New("create", p, ziperr.IOFailure, err)
		}
		name := filepath.ToSlash(relPath)
		if includeRoot {
			name = path.Join(baseName, name)
		} else if relPath == "." {
			return nil
		}

		if info.IsDir() {
			// Explicit directory entries keep empty directories on round trip
			_, err := w.CreateHeader(&zip.FileHeader{
				Name:     name + "/",
				Method:   zip.Store,
				Modified: info.ModTime(),
			})
			if err != nil {
				return ziperr.New("create", p, ziperr.IOFailure, err)
			}
			return nil
		}

		if !info.Mode().IsRegular() {
			a.logger.Debug("skipping non-regular file", slog.String("path", p))
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return ziperr.New("create", p, ziperr.IOFailure, err)
		}
		header.Name = name
		header.Method = zip.Deflate

		writer, err := w.CreateHeader(header)
		if err != nil {
			return ziperr.New("create", p, ziperr.IOFailure, err)
		}

		file, err := os.Open(p)
		if err != nil {
			return ziperr.FromFS("create", p, err)
		}
		_, copyErr := io.Copy(writer, file)
		_ = file.Close() // Close immediately, don't defer in loop
		if copyErr != nil {
			return ziperr.New("create", p, ziperr.IOFailure, copyErr)
		}

		fileCount++
		return nil
	})

	return fileCount, err
}

// Extract extracts a zip archive to destDir.
func (a *ZipArchiver) Extract(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return classify("extract", zipPath, err)
	}
	defer func() { _ = r.Close() }()

	// Get cleaned absolute path for destination
	absDestDir, err := filepath.Abs(destDir)
	if err != nil {
		return ziperr.New("extract", destDir, ziperr.IOFailure, fmt.Errorf("resolving destination path: %w", err))
	}
	absDestDir = filepath.Clean(absDestDir)

	if err := os.MkdirAll(absDestDir, 0o755); err != nil {
		return ziperr.New("extract", destDir, ziperr.IOFailure, err)
	}

	for _, f := range r.File {
		// SECURITY: Block symlinks to prevent symlink attacks
		if f.Mode()&os.ModeSymlink != 0 {
			return ziperr.Errorf("extract", zipPath, ziperr.FormatFailure, "symlink entries not supported: %s", f.Name)
		}

		fpath := filepath.Join(absDestDir, filepath.FromSlash(f.Name))

		// SECURITY: Check for ZipSlip vulnerability
		if !isWithinDir(absDestDir, fpath) {
			return ziperr.Errorf("extract", zipPath, ziperr.FormatFailure, "invalid file path (path traversal detected): %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0o755); err != nil {
				return ziperr.New("extract", fpath, ziperr.IOFailure, fmt.Errorf("creating directory: %w", err))
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return ziperr.New("extract", fpath, ziperr.IOFailure, fmt.Errorf("creating parent directory: %w", err))
		}

		if err := a.extractFile(f, fpath); err != nil {
			return classify("extract", f.Name, err)
		}
	}

	a.logger.Debug("archive extracted",
		slog.String("archive", zipPath),
		slog.String("dest", destDir),
		slog.Int("entries", len(r.File)))
	return nil
}

// extractFile extracts a single file from the zip.
func (a *ZipArchiver) extractFile(f *zip.File, destPath string) error {
	if err := a.checkSize(f); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return ziperr.New("extract", destPath, ziperr.IOFailure, err)
	}
	defer func() { _ = outFile.Close() }()

	if err := copyLimited(outFile, rc, f.UncompressedSize64); err != nil {
		return err
	}
	return nil
}

// checkSize rejects entries whose declared size exceeds the configured limit.
func (a *ZipArchiver) checkSize(f *zip.File) error {
	if f.UncompressedSize64 > a.maxSize {
		return ziperr.Errorf("extract", f.Name, ziperr.FormatFailure,
			"file too large: %d bytes exceeds limit of %d bytes", f.UncompressedSize64, a.maxSize)
	}
	return nil
}

// copyLimited copies at most declared bytes and fails if the entry holds more.
func copyLimited(dst io.Writer, src io.Reader, declared uint64) error {
	limit := int64(math.MaxInt64)
	if declared < math.MaxInt64 {
		limit = int64(declared) + 1 // one extra byte detects overflow
	}
	written, err := io.Copy(dst, io.LimitReader(src, limit))
	if err != nil {
		return err
	}
	if uint64(written) > declared {
		return ziperr.Errorf("extract", "", ziperr.FormatFailure, "decompressed size exceeds declared size")
	}
	return nil
}

// isWithinDir checks if the target path is within the base directory.
func isWithinDir(absBaseDir, targetPath string) bool {
	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return false
	}
	absTarget = filepath.Clean(absTarget)

	return strings.HasPrefix(absTarget, absBaseDir+string(filepath.Separator)) ||
		absTarget == absBaseDir
}

// List returns the file entries of the archive keyed by entry name.
func (a *ZipArchiver) List(zipPath string) (map[string]ports.FileInfo, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, classify("list", zipPath, err)
	}
	defer func() { _ = r.Close() }()

	files := make(map[string]ports.FileInfo)
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}

		// Safe conversion: check for overflow before uint64 -> int64
		size := int64(0)
		if f.UncompressedSize64 <= math.MaxInt64 {
			size = int64(f.UncompressedSize64)
		}
		files[f.Name] = ports.FileInfo{
			Size:  size,
			CRC32: f.CRC32,
		}
	}

	return files, nil
}

// ReadFile reads the contents of one named entry.
func (a *ZipArchiver) ReadFile(zipPath, name string) ([]byte, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, classify("read", zipPath, err)
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if f.Name == name {
			content, err := a.readEntry(f)
			if err != nil {
				return nil, classify("read", name, err)
			}
			return content, nil
		}
	}

	return nil, ziperr.Errorf("read", zipPath, ziperr.NotFound, "entry not found in archive: %s", name)
}

// PackEntry serializes data as the single entry name of an in-memory archive.
func (a *ZipArchiver) PackEntry(name string, data []byte, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	w := a.newWriter(&buf)

	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	}
	header.SetMode(0o644)

	fw, err := w.CreateHeader(header)
	if err != nil {
		return nil, ziperr.New("pack", name, ziperr.IOFailure, err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, ziperr.New("pack", name, ziperr.IOFailure, err)
	}
	if err := w.Close(); err != nil {
		return nil, ziperr.New("pack", name, ziperr.IOFailure, fmt.Errorf("closing zip writer: %w", err))
	}

	return buf.Bytes(), nil
}

// UnpackFirst returns the content of the first file entry of an in-memory archive.
func (a *ZipArchiver) UnpackFirst(data []byte) ([]byte, int, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, ziperr.New("unpack", "", ziperr.FormatFailure, err)
	}

	var first *zip.File
	entries := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if first == nil {
			first = f
		}
		entries++
	}
	if first == nil {
		return nil, 0, ziperr.New("unpack", "", ziperr.EmptyArchive, nil)
	}

	content, err := a.readEntry(first)
	if err != nil {
		return nil, entries, classify("unpack", first.Name, err)
	}
	return content, entries, nil
}

// readEntry decompresses one entry into memory, honoring the size limit.
func (a *ZipArchiver) readEntry(f *zip.File) ([]byte, error) {
	if err := a.checkSize(f); err != nil {
		return nil, err
	}

	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var buf bytes.Buffer
	if err := copyLimited(&buf, rc, f.UncompressedSize64); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// classify maps zip and filesystem errors onto ziperr kinds.
func classify(op, p string, err error) error {
	var corrupt flate.CorruptInputError
	switch {
	case errors.Is(err, zip.ErrFormat),
		errors.Is(err, zip.ErrAlgorithm),
		errors.Is(err, zip.ErrChecksum),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &corrupt):
		return ziperr.New(op, p, ziperr.FormatFailure, err)
	default:
		return ziperr.FromFS(op, p, err)
	}
}

// Compile-time check that ZipArchiver implements ports.Archiver.
var _ ports.Archiver = (*ZipArchiver)(nil)
