// Package dispatch turns "archive this path" into calls on a directory-oriented
// archiver, staging single files into a private directory first.
package dispatch

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mcdonaldj/zipstage/internal/adapters/osfs"
	"github.com/mcdonaldj/zipstage/internal/adapters/ziparchiver"
	"github.com/mcdonaldj/zipstage/internal/config"
	"github.com/mcdonaldj/zipstage/internal/ports"
	"github.com/mcdonaldj/zipstage/internal/ziperr"
)

// DefaultStagePrefix names staging directories when no prefix is configured.
const DefaultStagePrefix = "zipstage"

// Dispatcher provides archive operations with injected dependencies.
type Dispatcher struct {
	fs          ports.FileSystem
	archiver    ports.Archiver
	logger      *slog.Logger
	now         func() time.Time
	suffix      func() string
	stagePrefix string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithClock sets the time source used to stamp in-memory entries.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithSuffix sets the generator for the unique part of staging directory names.
func WithSuffix(suffix func() string) Option {
	return func(d *Dispatcher) {
		d.suffix = suffix
	}
}

// WithStagePrefix sets the marker embedded in staging directory names.
func WithStagePrefix(prefix string) Option {
	return func(d *Dispatcher) {
		d.stagePrefix = prefix
	}
}

// New creates a dispatcher over the given filesystem and archiver.
func New(fs ports.FileSystem, archiver ports.Archiver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		fs:          fs,
		archiver:    archiver,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		suffix:      uuid.NewString,
		stagePrefix: DefaultStagePrefix,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDefault creates a dispatcher with real production dependencies.
func NewDefault(cfg *config.Config, logger *slog.Logger) *Dispatcher {
	return New(
		osfs.New(),
		ziparchiver.New(
			ziparchiver.WithLevel(cfg.CompressionLevel),
			ziparchiver.WithMaxDecompressSize(cfg.MaxDecompressSize),
			ziparchiver.WithLogger(logger),
		),
		WithLogger(logger),
		WithStagePrefix(cfg.StagePrefix),
	)
}

// CreateArchive writes sourcePath, a file or a directory, to the archive at
// destPath and returns the number of files archived.
//
// A directory is archived with its own name as the archive root. A single
// file ends up as the only entry at the archive root, under its own name.
func (d *Dispatcher) CreateArchive(sourcePath, destPath string) (int, error) {
	info, err := d.fs.Stat(sourcePath)
	if err != nil {
		return 0, ziperr.FromFS("create", sourcePath, err)
	}

	if info.IsDir() {
		d.logger.Info("archiving directory",
			slog.String("source", sourcePath),
			slog.String("dest", destPath))
		return d.archiver.CreateFromDir(sourcePath, destPath, true)
	}

	if !info.Mode().IsRegular() {
		return 0, ziperr.Errorf("create", sourcePath, ziperr.IOFailure, "not a regular file or directory")
	}

	d.logger.Info("archiving file",
		slog.String("source", sourcePath),
		slog.String("dest", destPath))
	return d.createFromFile(sourcePath, destPath, info.Mode().Perm())
}

// createFromFile stages a single file so the directory archiver can take it.
func (d *Dispatcher) createFromFile(sourcePath, destPath string, perm fs.FileMode) (count int, err error) {
	stageDir := d.stagePath(sourcePath)

	// Mkdir is exclusive: an existing staging directory belongs to someone else.
	if err := d.fs.Mkdir(stageDir, 0o700); err != nil {
		return 0, ziperr.FromFS("stage", stageDir, err)
	}
	defer func() {
		if rmErr := d.fs.RemoveAll(stageDir); rmErr != nil {
			d.logger.Warn("staging directory left behind",
				slog.String("path", stageDir),
				slog.Any("error", rmErr))
			if err == nil {
				count = 0
				err = ziperr.New("stage", stageDir, ziperr.IOFailure, fmt.Errorf("removing staging directory: %w", rmErr))
			}
		}
	}()

	staged := filepath.Join(stageDir, filepath.Base(sourcePath))
	if err := d.copyFile(sourcePath, staged, perm); err != nil {
		return 0, err
	}

	return d.archiver.CreateFromDir(stageDir, destPath, false)
}

// stagePath returns a sibling of sourcePath: .<base>.<prefix>-<suffix>
func (d *Dispatcher) stagePath(sourcePath string) string {
	base := filepath.Base(sourcePath)
	name := fmt.Sprintf(".%s.%s-%s", base, d.stagePrefix, d.suffix())
	return filepath.Join(filepath.Dir(sourcePath), name)
}

func (d *Dispatcher) copyFile(src, dst string, perm fs.FileMode) error {
	in, err := d.fs.Open(src)
	if err != nil {
		return ziperr.FromFS("stage", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := d.fs.Create(dst, perm)
	if err != nil {
		return ziperr.New("stage", dst, ziperr.IOFailure, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return ziperr.New("stage", dst, ziperr.IOFailure, err)
	}
	if err := out.Close(); err != nil {
		return ziperr.New("stage", dst, ziperr.IOFailure, err)
	}
	return nil
}

// ExtractArchive recreates the archived tree under destDir.
func (d *Dispatcher) ExtractArchive(archivePath, destDir string) error {
	if _, err := d.fs.Stat(archivePath); err != nil {
		return ziperr.FromFS("extract", archivePath, err)
	}

	d.logger.Info("extracting archive",
		slog.String("archive", archivePath),
		slog.String("dest", destDir))
	return d.archiver.Extract(archivePath, destDir)
}

// CreateArchiveFromBytes wraps data as the single entry entryName of an
// in-memory archive stamped with the current time.
func (d *Dispatcher) CreateArchiveFromBytes(data []byte, entryName string) ([]byte, error) {
	return d.archiver.PackEntry(entryName, data, d.now())
}

// ExtractArchiveBytes returns the content of the first file entry of an
// in-memory archive. Further entries are ignored.
func (d *Dispatcher) ExtractArchiveBytes(data []byte) ([]byte, error) {
	content, entries, err := d.archiver.UnpackFirst(data)
	if err != nil {
		return nil, err
	}
	if entries > 1 {
		d.logger.Warn("archive has more than one entry, using the first",
			slog.Int("entries", entries))
	}
	return content, nil
}
