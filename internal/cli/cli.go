// Package cli provides the command-line interface with injectable io.Writer for testing.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"

	"github.com/mcdonaldj/zipstage/internal/adapters/osfs"
	"github.com/mcdonaldj/zipstage/internal/adapters/ziparchiver"
	"github.com/mcdonaldj/zipstage/internal/config"
	"github.com/mcdonaldj/zipstage/internal/dispatch"
	"github.com/mcdonaldj/zipstage/internal/future"
	"github.com/mcdonaldj/zipstage/internal/ports"
	"github.com/mcdonaldj/zipstage/internal/scheduler"
	"github.com/mcdonaldj/zipstage/internal/tui"
	"github.com/mcdonaldj/zipstage/internal/verify"
	"github.com/mcdonaldj/zipstage/internal/worker"
	"github.com/mcdonaldj/zipstage/internal/ziperr"
)

// ConfigService provides configuration operations for the CLI.
type ConfigService interface {
	Load() (*config.Config, error)
	Save(cfg *config.Config) error
	ConfigPath() (string, error)
	DefaultConfig() (*config.Config, error)
}

// ArchiveService provides the synchronous archive operations.
type ArchiveService interface {
	CreateArchive(sourcePath, destPath string) (int, error)
	ExtractArchive(archivePath, destDir string) error
	CreateArchiveFromBytes(data []byte, entryName string) ([]byte, error)
	ExtractArchiveBytes(data []byte) ([]byte, error)
}

// AsyncService runs archive operations in the background.
type AsyncService interface {
	CreateArchive(sourcePath, destPath string) (*future.Future[int], error)
	ExtractArchive(archivePath, destDir string) (*future.Future[struct{}], error)
	Close()
}

// VerifyService compares archives with their sources.
type VerifyService interface {
	Compare(sourcePath, archivePath string) (*verify.Report, error)
	FileDiff(sourcePath, archivePath, relPath string) (*verify.FileDiff, error)
}

// CLI represents the command-line interface with injectable dependencies.
type CLI struct {
	Out     io.Writer // Standard output
	Err     io.Writer // Standard error
	Version string    // Application version
	Args    []string  // Command arguments (like os.Args)

	// Exit function for testability (defaults to os.Exit)
	Exit func(code int)

	// Injectable dependencies (nil means use defaults)
	ConfigSvc  ConfigService
	ArchiveSvc ArchiveService
	AsyncSvc   AsyncService
	VerifySvc  VerifyService
	FS         ports.FileSystem

	// Watch shows the job monitor (defaults to tui.Run)
	Watch func(m *tui.Model) error

	cfg    *config.Config
	logger *slog.Logger

	// Color functions (can be disabled for testing)
	green  func(a ...interface{}) string
	yellow func(a ...interface{}) string
	cyan   func(a ...interface{}) string
	gray   func(a ...interface{}) string
	red    func(a ...interface{}) string
}

// New creates a new CLI with default settings.
func New(version string) *CLI {
	return &CLI{
		Out:     os.Stdout,
		Err:     os.Stderr,
		Version: version,
		Args:    os.Args,
		Exit:    os.Exit,
		green:   color.New(color.FgGreen, color.Bold).SprintFunc(),
		yellow:  color.New(color.FgYellow).SprintFunc(),
		cyan:    color.New(color.FgCyan).SprintFunc(),
		gray:    color.New(color.FgHiBlack).SprintFunc(),
		red:     color.New(color.FgRed).SprintFunc(),
	}
}

// NewForTesting creates a CLI configured for testing (no colors, captured output).
func NewForTesting(out, errOut io.Writer, args []string) *CLI {
	noColor := func(a ...interface{}) string { return fmt.Sprint(a...) }
	return &CLI{
		Out:     out,
		Err:     errOut,
		Version: "test",
		Args:    args,
		Exit:    func(int) {},
		green:   noColor,
		yellow:  noColor,
		cyan:    noColor,
		gray:    noColor,
		red:     noColor,
	}
}

// defaultConfigService wraps the config package functions.
type defaultConfigService struct{}

func (d *defaultConfigService) Load() (*config.Config, error)          { return config.Load() }
func (d *defaultConfigService) Save(cfg *config.Config) error          { return cfg.Save() }
func (d *defaultConfigService) ConfigPath() (string, error)            { return config.ConfigPath() }
func (d *defaultConfigService) DefaultConfig() (*config.Config, error) { return config.DefaultConfig() }

func (c *CLI) configSvc() ConfigService {
	if c.ConfigSvc != nil {
		return c.ConfigSvc
	}
	return &defaultConfigService{}
}

// load reads the config once and builds the logger from it.
func (c *CLI) load() bool {
	if c.cfg != nil {
		return true
	}
	cfg, err := c.configSvc().Load()
	if err != nil {
		fmt.Fprintf(c.Err, "Error loading config: %v\n", err)
		c.Exit(1)
		return false
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	c.cfg = cfg
	c.logger = slog.New(slog.NewTextHandler(c.Err, &slog.HandlerOptions{Level: level}))
	return true
}

func (c *CLI) archiveSvc() ArchiveService {
	if c.ArchiveSvc == nil {
		c.ArchiveSvc = dispatch.NewDefault(c.cfg, c.logger)
	}
	return c.ArchiveSvc
}

func (c *CLI) asyncSvc() AsyncService {
	if c.AsyncSvc == nil {
		pool := worker.New(c.cfg.Workers, c.cfg.QueueDepth, worker.WithLogger(c.logger))
		c.AsyncSvc = dispatch.NewAsync(dispatch.NewDefault(c.cfg, c.logger), pool)
	}
	return c.AsyncSvc
}

func (c *CLI) verifySvc() VerifyService {
	if c.VerifySvc == nil {
		archiver := ziparchiver.New(
			ziparchiver.WithMaxDecompressSize(c.cfg.MaxDecompressSize),
			ziparchiver.WithLogger(c.logger))
		c.VerifySvc = verify.New(c.fs(), archiver, verify.WithLogger(c.logger))
	}
	return c.VerifySvc
}

func (c *CLI) fs() ports.FileSystem {
	if c.FS == nil {
		c.FS = osfs.New()
	}
	return c.FS
}

func (c *CLI) watch(m *tui.Model) error {
	if c.Watch != nil {
		return c.Watch(m)
	}
	return tui.Run(m, tea.WithOutput(c.Out))
}

// Run executes the CLI with the configured arguments.
func (c *CLI) Run() {
	if len(c.Args) < 2 {
		fmt.Fprintln(c.Out, "No command specified. Use 'zipstage help' for usage.")
		return
	}

	switch c.Args[1] {
	case "create":
		c.RunCreate()
	case "extract":
		c.RunExtract()
	case "pack":
		c.RunPack()
	case "unpack":
		c.RunUnpack()
	case "verify":
		c.RunVerify()
	case "watch":
		c.RunWatch()
	case "init":
		c.InitConfig()
	case "config":
		c.ShowConfig()
	case "version", "-v", "--version":
		fmt.Fprintf(c.Out, "zipstage v%s\n", c.Version)
	case "help", "-h", "--help":
		c.PrintUsage()
	default:
		fmt.Fprintf(c.Err, "Unknown command: %s\n", c.Args[1])
		c.PrintUsage()
		c.Exit(1)
	}
}

// PrintUsage prints the help message.
func (c *CLI) PrintUsage() {
	fmt.Fprintln(c.Out, `zipstage - Archive files and directories as ZIP

Usage:
  zipstage create <source> <dest.zip> [--async]     Archive a file or directory
  zipstage extract <archive.zip> <dir> [--async]    Extract an archive into dir
  zipstage pack <file> <entry> <out.zip>            Wrap a file as a single entry
  zipstage unpack <archive.zip> <out>               Write the first entry to out
  zipstage verify <source> <archive.zip> [--diff]   Compare an archive with its source
  zipstage watch create|extract <a> <b> [<a> <b>...]
                                                    Run jobs with a live monitor
  zipstage init                                     Create default config file
  zipstage config                                   Show effective config
  zipstage version, -v                              Show version
  zipstage help, -h                                 Show this help

Config: ~/.zipstage/config.yaml (override with ZIPSTAGE_CONFIG)`)
}

// fail reports err with its kind and exits 1.
func (c *CLI) fail(what string, err error) {
	fmt.Fprintf(c.Err, "%s %s failed (%s): %v\n", c.red("x"), what, ziperr.KindOf(err), err)
	c.Exit(1)
}

// splitFlags separates --flags from positional arguments.
func splitFlags(args []string) (positional []string, flags map[string]bool) {
	flags = make(map[string]bool)
	for _, arg := range args {
		if strings.HasPrefix(arg, "--") {
			flags[strings.TrimPrefix(arg, "--")] = true
			continue
		}
		positional = append(positional, arg)
	}
	return positional, flags
}

// InitConfig creates the default config file.
func (c *CLI) InitConfig() {
	svc := c.configSvc()
	cfg, err := svc.DefaultConfig()
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}
	if err := svc.Save(cfg); err != nil {
		fmt.Fprintf(c.Err, "Error saving config: %v\n", err)
		c.Exit(1)
		return
	}
	path, err := svc.ConfigPath()
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}
	fmt.Fprintf(c.Out, "Created config at %s\n", path)
}

// ShowConfig prints the effective configuration.
func (c *CLI) ShowConfig() {
	if !c.load() {
		return
	}
	path, err := c.configSvc().ConfigPath()
	if err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}

	fmt.Fprintln(c.Out, "zipstage config:")
	fmt.Fprintf(c.Out, "  File:         %s\n", path)
	fmt.Fprintf(c.Out, "  Workers:      %d\n", c.cfg.Workers)
	fmt.Fprintf(c.Out, "  Queue depth:  %d\n", c.cfg.QueueDepth)
	fmt.Fprintf(c.Out, "  Compression:  %d\n", c.cfg.CompressionLevel)
	fmt.Fprintf(c.Out, "  Max unpack:   %s\n", formatSize(int64(c.cfg.MaxDecompressSize)))
	fmt.Fprintf(c.Out, "  Stage prefix: %s\n", c.cfg.StagePrefix)
	fmt.Fprintf(c.Out, "  Log level:    %s\n", c.cfg.LogLevel)
	fmt.Fprintf(c.Out, "  Poll:         %s\n", c.cfg.PollInterval)
}

// RunCreate archives a file or directory.
func (c *CLI) RunCreate() {
	args, flags := splitFlags(c.Args[2:])
	if len(args) != 2 {
		fmt.Fprintln(c.Out, "Usage: zipstage create <source> <dest.zip> [--async]")
		c.Exit(1)
		return
	}
	if !c.load() {
		return
	}
	source, dest := args[0], args[1]

	fmt.Fprintf(c.Out, "%s Archiving %s...\n", c.cyan("=>"), source)

	var count int
	if flags["async"] {
		f, err := c.asyncSvc().CreateArchive(source, dest)
		if err != nil {
			c.fail("create", err)
			return
		}
		if err := c.await(f); err != nil {
			c.fail("create", err)
			return
		}
		count, _ = f.Result()
	} else {
		var err error
		count, err = c.archiveSvc().CreateArchive(source, dest)
		if err != nil {
			c.fail("create", err)
			return
		}
	}

	fmt.Fprintf(c.Out, "%s %s %s\n", c.green("*"), dest, c.gray(fmt.Sprintf("(%d files)", count)))
}

// RunExtract extracts an archive into a directory.
func (c *CLI) RunExtract() {
	args, flags := splitFlags(c.Args[2:])
	if len(args) != 2 {
		fmt.Fprintln(c.Out, "Usage: zipstage extract <archive.zip> <dir> [--async]")
		c.Exit(1)
		return
	}
	if !c.load() {
		return
	}
	archive, dest := args[0], args[1]

	fmt.Fprintf(c.Out, "%s Extracting %s...\n", c.cyan("=>"), archive)

	if flags["async"] {
		f, err := c.asyncSvc().ExtractArchive(archive, dest)
		if err != nil {
			c.fail("extract", err)
			return
		}
		if err := c.await(f); err != nil {
			c.fail("extract", err)
			return
		}
	} else if err := c.archiveSvc().ExtractArchive(archive, dest); err != nil {
		c.fail("extract", err)
		return
	}

	fmt.Fprintf(c.Out, "%s Extracted to %s\n", c.green("*"), dest)
}

// await polls p from a cooperative scheduler, printing a dot per pending tick.
func (c *CLI) await(p tui.Pollable) error {
	defer c.asyncSvc().Close()

	interval, _ := c.cfg.Interval()
	sched := scheduler.New(scheduler.WithLogger(c.logger))
	sched.WaitFor(scheduler.Func(func() bool {
		if p.KeepWaiting() {
			fmt.Fprint(c.Out, c.gray("."))
			return true
		}
		return false
	}), nil)

	if err := sched.Run(context.Background(), interval); err != nil {
		return err
	}
	if sched.Frame() > 1 {
		fmt.Fprintln(c.Out)
	}
	return p.Err()
}

// RunPack wraps one file as the single entry of a new archive.
func (c *CLI) RunPack() {
	if len(c.Args) != 5 {
		fmt.Fprintln(c.Out, "Usage: zipstage pack <file> <entry> <out.zip>")
		c.Exit(1)
		return
	}
	if !c.load() {
		return
	}
	file, entry, out := c.Args[2], c.Args[3], c.Args[4]

	data, err := c.fs().ReadFile(file)
	if err != nil {
		c.fail("pack", ziperr.FromFS("pack", file, err))
		return
	}
	packed, err := c.archiveSvc().CreateArchiveFromBytes(data, entry)
	if err != nil {
		c.fail("pack", err)
		return
	}
	if err := c.writeFile(out, packed); err != nil {
		c.fail("pack", err)
		return
	}

	fmt.Fprintf(c.Out, "%s Packed %s as %s into %s %s\n",
		c.green("*"), file, c.cyan(entry), out, c.yellow(formatSize(int64(len(packed)))))
}

// RunUnpack writes the first entry of an archive to a file.
func (c *CLI) RunUnpack() {
	if len(c.Args) != 4 {
		fmt.Fprintln(c.Out, "Usage: zipstage unpack <archive.zip> <out>")
		c.Exit(1)
		return
	}
	if !c.load() {
		return
	}
	archive, out := c.Args[2], c.Args[3]

	data, err := c.fs().ReadFile(archive)
	if err != nil {
		c.fail("unpack", ziperr.FromFS("unpack", archive, err))
		return
	}
	content, err := c.archiveSvc().ExtractArchiveBytes(data)
	if err != nil {
		c.fail("unpack", err)
		return
	}
	if err := c.writeFile(out, content); err != nil {
		c.fail("unpack", err)
		return
	}

	fmt.Fprintf(c.Out, "%s Unpacked %s to %s %s\n",
		c.green("*"), archive, out, c.yellow(formatSize(int64(len(content)))))
}

func (c *CLI) writeFile(path string, data []byte) error {
	w, err := c.fs().Create(path, 0o644)
	if err != nil {
		return ziperr.FromFS("write", path, err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return ziperr.New("write", path, ziperr.IOFailure, err)
	}
	if err := w.Close(); err != nil {
		return ziperr.New("write", path, ziperr.IOFailure, err)
	}
	return nil
}

// RunVerify compares an archive with its source and exits 1 on any difference.
func (c *CLI) RunVerify() {
	args, flags := splitFlags(c.Args[2:])
	if len(args) != 2 {
		fmt.Fprintln(c.Out, "Usage: zipstage verify <source> <archive.zip> [--diff]")
		c.Exit(1)
		return
	}
	if !c.load() {
		return
	}
	source, archive := args[0], args[1]
	svc := c.verifySvc()

	report, err := svc.Compare(source, archive)
	if err != nil {
		c.fail("verify", err)
		return
	}

	fmt.Fprintf(c.Out, "%s %s\n", c.gray("sha256"), report.SHA256)

	if report.Clean() {
		fmt.Fprintf(c.Out, "%s %s matches %s (%d files)\n", c.green("*"), archive, source, report.Matched)
		return
	}

	fmt.Fprintln(c.Out)
	for _, ch := range report.Changes {
		switch ch.Status {
		case verify.StatusModified:
			fmt.Fprintf(c.Out, "  %s %s %s\n", c.yellow("M"), ch.Path,
				c.gray(fmt.Sprintf("%s -> %s", formatSize(ch.ArchiveSize), formatSize(ch.SourceSize))))
		case verify.StatusAdded:
			fmt.Fprintf(c.Out, "  %s %s\n", c.green("A"), ch.Path)
		case verify.StatusDeleted:
			fmt.Fprintf(c.Out, "  %s %s\n", c.red("D"), ch.Path)
		}

		if flags["diff"] && ch.Status == verify.StatusModified {
			c.printFileDiff(svc, source, archive, ch.Path)
		}
	}

	fmt.Fprintln(c.Out)
	fmt.Fprintf(c.Out, "Differs: %s modified, %s added, %s deleted, %d unchanged\n",
		c.yellow(fmt.Sprintf("%d", report.Modified)),
		c.green(fmt.Sprintf("%d", report.Added)),
		c.red(fmt.Sprintf("%d", report.Deleted)),
		report.Matched)
	c.Exit(1)
}

func (c *CLI) printFileDiff(svc VerifyService, source, archive, rel string) {
	diff, err := svc.FileDiff(source, archive, rel)
	if err != nil {
		fmt.Fprintf(c.Out, "      %s\n", c.red(fmt.Sprintf("diff failed: %v", err)))
		return
	}
	if diff.IsBinary {
		fmt.Fprintf(c.Out, "      %s\n", c.gray("binary file"))
		return
	}
	for _, line := range diff.Lines {
		switch line.Type {
		case '+':
			fmt.Fprintf(c.Out, "      %s\n", c.green("+"+line.Content))
		case '-':
			fmt.Fprintf(c.Out, "      %s\n", c.red("-"+line.Content))
		}
	}
}

// RunWatch starts one or more background jobs and shows them in the monitor.
func (c *CLI) RunWatch() {
	if len(c.Args) < 5 || (len(c.Args)-3)%2 != 0 {
		fmt.Fprintln(c.Out, "Usage: zipstage watch create|extract <a> <b> [<a> <b>...]")
		c.Exit(1)
		return
	}
	op := c.Args[2]
	if op != "create" && op != "extract" {
		fmt.Fprintf(c.Err, "Unknown watch operation: %s\n", op)
		c.Exit(1)
		return
	}
	if !c.load() {
		return
	}

	async := c.asyncSvc()
	defer async.Close()

	interval, _ := c.cfg.Interval()
	model := tui.NewModel(scheduler.New(scheduler.WithLogger(c.logger)), interval)

	pairs := c.Args[3:]
	for i := 0; i < len(pairs); i += 2 {
		a, b := pairs[i], pairs[i+1]

		var (
			p   tui.Pollable
			err error
		)
		if op == "create" {
			var f *future.Future[int]
			f, err = async.CreateArchive(a, b)
			p = f
		} else {
			var f *future.Future[struct{}]
			f, err = async.ExtractArchive(a, b)
			p = f
		}
		if err != nil {
			c.fail(op, err)
			return
		}
		model.Watch(op, a+" -> "+b, p)
	}

	if err := c.watch(model); err != nil {
		fmt.Fprintf(c.Err, "Error: %v\n", err)
		c.Exit(1)
		return
	}
	if failed := model.Failed(); failed > 0 {
		fmt.Fprintf(c.Err, "%s %d of %d jobs failed\n", c.red("x"), failed, len(model.Jobs()))
		c.Exit(1)
	}
}

// formatSize formats bytes as human-readable
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// Compile-time checks that the production types satisfy the CLI services.
var (
	_ ArchiveService = (*dispatch.Dispatcher)(nil)
	_ AsyncService   = (*dispatch.Async)(nil)
	_ VerifyService  = (*verify.Service)(nil)
)
