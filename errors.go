package xar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"

	"github.com/meigma/xar/internal/xartype"
)

// Error categories. Every error returned by this package matches exactly
// one of them with errors.Is.
var (
	// ErrFormat is returned for archives that cannot be trusted: bad header,
	// truncated or malformed TOC, heap references outside the archive.
	ErrFormat = xartype.ErrFormat

	// ErrIntegrity is returned when a TOC or entry checksum does not match.
	ErrIntegrity = xartype.ErrIntegrity

	// ErrCodec is returned for unsupported compression or digest algorithms.
	ErrCodec = xartype.ErrCodec

	// ErrResource is returned for I/O failures on the underlying stream.
	ErrResource = xartype.ErrResource

	// ErrUsage is returned when the API is misused.
	ErrUsage = xartype.ErrUsage
)

// Specific errors re-exported from internal/xartype.
var (
	ErrBadMagic         = xartype.ErrBadMagic
	ErrBadHeaderSize    = xartype.ErrBadHeaderSize
	ErrBadVersion       = xartype.ErrBadVersion
	ErrTruncated        = xartype.ErrTruncated
	ErrOutOfRange       = xartype.ErrOutOfRange
	ErrSizeOverflow     = xartype.ErrSizeOverflow
	ErrMalformedTOC     = xartype.ErrMalformedTOC
	ErrChecksumMismatch = xartype.ErrChecksumMismatch
	ErrHashMismatch     = xartype.ErrHashMismatch
	ErrDecompression    = xartype.ErrDecompression

	ErrUnknownAlgorithm   = xartype.ErrUnknownAlgorithm
	ErrUnknownCompression = xartype.ErrUnknownCompression
	ErrCompressionArg     = xartype.ErrCompressionArg

	ErrWrongMode       = xartype.ErrWrongMode
	ErrClosed          = xartype.ErrClosed
	ErrPropertyExists  = xartype.ErrPropertyExists
	ErrStreamEnded     = xartype.ErrStreamEnded
	ErrSignatureLength = xartype.ErrSignatureLength
	ErrNoTOCChecksum   = xartype.ErrNoTOCChecksum
	ErrReadOnlyOption  = xartype.ErrReadOnlyOption
	ErrInvalidOption   = xartype.ErrInvalidOption
	ErrForeignEntry    = xartype.ErrForeignEntry
	ErrNoData          = xartype.ErrNoData
	ErrInvalidName     = xartype.ErrInvalidName
)

// Severity ranks a reported condition.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityNormal
	SeverityWarning
	SeverityNonfatal
	SeverityFatal
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityNormal:
		return "normal"
	case SeverityWarning:
		return "warning"
	case SeverityNonfatal:
		return "nonfatal"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

func (s Severity) level() slog.Level {
	switch {
	case s <= SeverityDebug:
		return slog.LevelDebug
	case s <= SeverityNormal:
		return slog.LevelInfo
	case s == SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// ErrorClass tells whether a condition arose while creating or extracting.
type ErrorClass int

const (
	ClassCreation ErrorClass = iota
	ClassExtraction
)

// String returns the class name.
func (c ErrorClass) String() string {
	if c == ClassExtraction {
		return "extraction"
	}
	return "creation"
}

// ErrorContext describes one reported condition.
type ErrorContext struct {
	// Archive is the archive being processed.
	Archive *Archive

	// Entry is the entry being processed, if any.
	Entry *Entry

	// Message is a human-readable description.
	Message string

	// Errno is the captured OS error number, zero when none applies.
	Errno syscall.Errno

	// Err is the underlying error.
	Err error
}

// ErrorHandler receives every reported condition. Its return value decides
// whether processing continues; it is ignored for SeverityFatal, which
// always aborts.
type ErrorHandler func(sev Severity, class ErrorClass, ctx *ErrorContext) bool

// DefaultErrorHandler aborts on nonfatal and fatal conditions and
// continues otherwise.
func DefaultErrorHandler(sev Severity, _ ErrorClass, _ *ErrorContext) bool {
	return sev < SeverityNonfatal
}

// Error is returned when a reported condition aborts an operation.
type Error struct {
	Op       string
	Path     string
	Severity Severity
	Class    ErrorClass
	Errno    syscall.Errno
	Err      error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Path == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// report passes a condition through the error protocol. It returns nil when
// processing may continue and an *Error otherwise.
func (a *Archive) report(sev Severity, class ErrorClass, op string, e *Entry, err error) error {
	var errno syscall.Errno
	errors.As(err, &errno)

	var path string
	if e != nil {
		path = e.Path()
	}
	a.log().Log(context.Background(), sev.level(), "xar: "+op,
		"severity", sev.String(),
		"class", class.String(),
		"path", path,
		"error", err,
	)

	ctx := &ErrorContext{Archive: a, Entry: e, Message: err.Error(), Errno: errno, Err: err}
	handler := a.cfg.handler
	if handler == nil {
		handler = DefaultErrorHandler
	}
	if handler(sev, class, ctx) && sev != SeverityFatal {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	return &Error{Op: op, Path: path, Severity: sev, Class: class, Errno: errno, Err: err}
}

// fail reports err at SeverityFatal and returns the resulting *Error.
func (a *Archive) fail(class ErrorClass, op string, e *Entry, err error) error {
	return a.report(SeverityFatal, class, op, e, err)
}
