// Package verify compares an archive against the files it was built from.
package verify

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash/crc32"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/mcdonaldj/zipstage/internal/ports"
	"github.com/mcdonaldj/zipstage/internal/ziperr"
)

// Change statuses. The archive is the baseline, the source is current.
const (
	StatusAdded    = 'A'
	StatusModified = 'M'
	StatusDeleted  = 'D'
)

// Change is one file that differs between source and archive.
type Change struct {
	Path        string
	Status      rune
	SourceSize  int64
	ArchiveSize int64
}

// Report is the outcome of Compare.
type Report struct {
	Source  string
	Archive string
	SHA256  string
	Changes []Change

	Matched  int
	Added    int
	Modified int
	Deleted  int
}

// Clean reports whether the archive matches the source exactly.
func (r *Report) Clean() bool {
	return len(r.Changes) == 0
}

// DiffLine is a single line of a file diff.
type DiffLine struct {
	ArchiveLine int  // 0 if added
	SourceLine  int  // 0 if deleted
	Type        rune // '+' added, '-' deleted, ' ' unchanged
	Content     string
}

// FileDiff is the line diff of one file between archive and source.
type FileDiff struct {
	Path     string
	Lines    []DiffLine
	IsBinary bool
}

// Service compares sources with archives.
type Service struct {
	fs       ports.FileSystem
	archiver ports.Archiver
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a verification service.
func New(fs ports.FileSystem, archiver ports.Archiver, opts ...Option) *Service {
	s := &Service{
		fs:       fs,
		archiver: archiver,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compare checks every file under sourcePath against the archive by size
// and CRC32. A directory source is expected under its own name in the
// archive; a single file at the archive root.
func (s *Service) Compare(sourcePath, archivePath string) (*Report, error) {
	info, err := s.fs.Stat(sourcePath)
	if err != nil {
		return nil, ziperr.FromFS("verify", sourcePath, err)
	}

	source, err := s.scanSource(sourcePath, info)
	if err != nil {
		return nil, err
	}

	listing, err := s.archiver.List(archivePath)
	if err != nil {
		return nil, err
	}
	archived := listing
	if info.IsDir() {
		archived = stripRoot(listing, filepath.Base(sourcePath))
	}

	sum, err := s.checksum(archivePath)
	if err != nil {
		return nil, err
	}

	report := &Report{Source: sourcePath, Archive: archivePath, SHA256: sum}

	all := make(map[string]bool, len(source)+len(archived))
	for p := range source {
		all[p] = true
	}
	for p := range archived {
		all[p] = true
	}

	for p := range all {
		src, inSource := source[p]
		arc, inArchive := archived[p]

		change := Change{Path: p}
		switch {
		case inSource && !inArchive:
			change.Status = StatusAdded
			change.SourceSize = src.Size
			report.Added++
		case !inSource && inArchive:
			change.Status = StatusDeleted
			change.ArchiveSize = arc.Size
			report.Deleted++
		case src.CRC32 != arc.CRC32 || src.Size != arc.Size:
			change.Status = StatusModified
			change.SourceSize = src.Size
			change.ArchiveSize = arc.Size
			report.Modified++
		default:
			report.Matched++
			continue
		}
		report.Changes = append(report.Changes, change)
	}

	// M, A, D then by path
	order := map[rune]int{StatusModified: 0, StatusAdded: 1, StatusDeleted: 2}
	sort.Slice(report.Changes, func(i, j int) bool {
		ci, cj := report.Changes[i], report.Changes[j]
		if ci.Status != cj.Status {
			return order[ci.Status] < order[cj.Status]
		}
		return ci.Path < cj.Path
	})

	s.logger.Debug("verified archive",
		slog.String("archive", archivePath),
		slog.Int("matched", report.Matched),
		slog.Int("changes", len(report.Changes)))
	return report, nil
}

// scanSource returns size and CRC32 for every regular file of the source,
// keyed by slash-separated path relative to the source root.
func (s *Service) scanSource(sourcePath string, info os.FileInfo) (map[string]ports.FileInfo, error) {
	files := make(map[string]ports.FileInfo)

	if !info.IsDir() {
		fi, err := s.fileCRC(sourcePath)
		if err != nil {
			return nil, err
		}
		files[filepath.Base(sourcePath)] = fi
		return files, nil
	}

	err := s.fs.Walk(sourcePath, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(sourcePath, p)
		if err != nil {
			return err
		}
		sum, err := s.fileCRC(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, ziperr.FromFS("verify", sourcePath, err)
	}
	return files, nil
}

func (s *Service) fileCRC(p string) (ports.FileInfo, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		return ports.FileInfo{}, ziperr.FromFS("verify", p, err)
	}
	defer func() { _ = f.Close() }()

	h := crc32.NewIEEE()
	n, err := io.Copy(h, f)
	if err != nil {
		return ports.FileInfo{}, ziperr.New("verify", p, ziperr.IOFailure, err)
	}
	return ports.FileInfo{Size: n, CRC32: h.Sum32()}, nil
}

// checksum returns the hex SHA-256 of the archive file.
func (s *Service) checksum(archivePath string) (string, error) {
	f, err := s.fs.Open(archivePath)
	if err != nil {
		return "", ziperr.FromFS("verify", archivePath, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", ziperr.New("verify", archivePath, ziperr.IOFailure, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// stripRoot removes the leading root/ from entry names. Entries outside the
// root keep their full name.
func stripRoot(listing map[string]ports.FileInfo, root string) map[string]ports.FileInfo {
	prefix := root + "/"
	out := make(map[string]ports.FileInfo, len(listing))
	for name, fi := range listing {
		out[strings.TrimPrefix(name, prefix)] = fi
	}
	return out
}

// FileDiff returns the line diff of relPath between the archive and the
// source. A file present on only one side diffs against empty content.
// For a single-file source, relPath is the archive entry name.
func (s *Service) FileDiff(sourcePath, archivePath, relPath string) (*FileDiff, error) {
	info, err := s.fs.Stat(sourcePath)
	if err != nil {
		return nil, ziperr.FromFS("diff", sourcePath, err)
	}
	if _, err := s.fs.Stat(archivePath); err != nil {
		return nil, ziperr.FromFS("diff", archivePath, err)
	}

	onDisk, entry := sourcePath, relPath
	if info.IsDir() {
		onDisk = filepath.Join(sourcePath, filepath.FromSlash(relPath))
		entry = path.Join(filepath.Base(sourcePath), relPath)
	}

	current, err := s.fs.ReadFile(onDisk)
	inSource := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, ziperr.FromFS("diff", onDisk, err)
	}

	archived, err := s.archiver.ReadFile(archivePath, entry)
	inArchive := err == nil
	if err != nil && !errors.Is(err, ziperr.NotFound) {
		return nil, err
	}

	if !inSource && !inArchive {
		return nil, ziperr.Errorf("diff", relPath, ziperr.NotFound, "not in source or archive")
	}

	result := &FileDiff{Path: relPath}
	if IsBinary(archived) || IsBinary(current) {
		result.IsBinary = true
		return result, nil
	}

	result.Lines = lineDiff(string(archived), string(current))
	return result, nil
}

// lineDiff diffs whole lines of old against cur.
func lineDiff(old, cur string) []DiffLine {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(old, cur)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out []DiffLine
	oldLine, newLine := 0, 0
	for _, d := range diffs {
		for _, text := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldLine++
				newLine++
				out = append(out, DiffLine{ArchiveLine: oldLine, SourceLine: newLine, Type: ' ', Content: text})
			case diffmatchpatch.DiffDelete:
				oldLine++
				out = append(out, DiffLine{ArchiveLine: oldLine, Type: '-', Content: text})
			case diffmatchpatch.DiffInsert:
				newLine++
				out = append(out, DiffLine{SourceLine: newLine, Type: '+', Content: text})
			}
		}
	}
	return out
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// IsBinary reports whether content looks like binary data: a NUL byte or
// invalid UTF-8 within the first 8000 bytes.
func IsBinary(content []byte) bool {
	sample := content
	if len(sample) > 8000 {
		sample = sample[:8000]
		// Don't count a rune split by the cut as invalid.
		for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(sample); i++ {
			sample = sample[:len(sample)-1]
		}
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return true
	}
	return !utf8.Valid(sample)
}
