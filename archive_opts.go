package xar

import (
	"io"
	"log/slog"
	"time"
)

// DefaultMaxTOCSize is the default limit on the compressed and the
// uncompressed TOC when opening an archive.
const DefaultMaxTOCSize = 64 << 20

type setting struct {
	key   string
	value string
}

type config struct {
	logger       *slog.Logger
	handler      ErrorHandler
	fs           FileSystem
	spoolDir     string
	memorySpool  bool
	extractRoot  string
	stdout       io.Writer
	maxTOCSize   uint64
	settings     []setting
	creationTime time.Time
}

func defaultConfig() config {
	return config{
		fs:          OSFileSystem{},
		extractRoot: ".",
		maxTOCSize:  DefaultMaxTOCSize,
	}
}

// Option configures an Archive.
type Option func(*config)

// WithLogger sets the logger for archive operations.
//
// Every condition passed to the error handler is also logged here at the
// level matching its severity. If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithErrorHandler sets the handler that decides whether processing
// continues after a reported condition. See [DefaultErrorHandler].
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *config) {
		c.handler = h
	}
}

// WithFileSystem sets the collaborator used by AddFromPath and Add to stat
// and read source files (default: [OSFileSystem]).
func WithFileSystem(fsys FileSystem) Option {
	return func(c *config) {
		c.fs = fsys
	}
}

// WithSpoolDir sets the directory for the temporary heap spool used while
// writing (default: os.TempDir()).
func WithSpoolDir(dir string) Option {
	return func(c *config) {
		c.spoolDir = dir
	}
}

// WithMemorySpool keeps the heap in memory instead of a temporary file
// while writing.
func WithMemorySpool(enabled bool) Option {
	return func(c *config) {
		c.memorySpool = enabled
	}
}

// WithExtractRoot sets the directory Extract writes below (default: ".").
func WithExtractRoot(dir string) Option {
	return func(c *config) {
		c.extractRoot = dir
	}
}

// WithStdout sets the writer used when the extract-stdout option is on
// (default: os.Stdout).
func WithStdout(w io.Writer) Option {
	return func(c *config) {
		c.stdout = w
	}
}

// WithMaxTOCSize limits the compressed and uncompressed TOC size accepted
// by Open. Set limit to 0 to disable the limit.
func WithMaxTOCSize(limit uint64) Option {
	return func(c *config) {
		c.maxTOCSize = limit
	}
}

// WithSetting sets a string option as if by SetOption once the archive is
// constructed. Invalid values make the constructor fail.
func WithSetting(key, value string) Option {
	return func(c *config) {
		c.settings = append(c.settings, setting{key: key, value: value})
	}
}

// WithCreationTime records t as the archive creation-time in the TOC.
//
// No creation time is written by default, so archives built from the same
// entries are byte-identical.
func WithCreationTime(t time.Time) Option {
	return func(c *config) {
		c.creationTime = t
	}
}
