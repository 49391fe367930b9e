// Package xartype holds the error taxonomy shared by the archive engine
// and its internal packages.
package xartype

import "errors"

// Error categories. Every sentinel below unwraps to exactly one of these.
var (
	// ErrFormat marks an archive that cannot be trusted: bad header,
	// truncated TOC, heap references outside the archive.
	ErrFormat = errors.New("xar: malformed archive")

	// ErrIntegrity marks a checksum mismatch on the TOC or an entry.
	ErrIntegrity = errors.New("xar: integrity check failed")

	// ErrCodec marks an unsupported or unavailable algorithm.
	ErrCodec = errors.New("xar: unsupported algorithm")

	// ErrResource marks an I/O failure on the underlying stream.
	ErrResource = errors.New("xar: i/o failure")

	// ErrUsage marks misuse of the API.
	ErrUsage = errors.New("xar: invalid use")
)

// Format errors.
var (
	ErrBadMagic      = kind(ErrFormat, "xar: bad header magic")
	ErrBadHeaderSize = kind(ErrFormat, "xar: bad header size")
	ErrBadVersion    = kind(ErrFormat, "xar: unsupported header version")
	ErrTruncated     = kind(ErrFormat, "xar: truncated archive")
	ErrOutOfRange    = kind(ErrFormat, "xar: heap reference out of range")
	ErrSizeOverflow  = kind(ErrFormat, "xar: size overflow")
	ErrMalformedTOC  = kind(ErrFormat, "xar: malformed table of contents")
)

// Integrity errors.
var (
	ErrChecksumMismatch = kind(ErrIntegrity, "xar: toc checksum mismatch")
	ErrHashMismatch     = kind(ErrIntegrity, "xar: hash verification failed")
	ErrDecompression    = kind(ErrIntegrity, "xar: decompression failed")
)

// Codec errors.
var (
	ErrUnknownAlgorithm   = kind(ErrCodec, "xar: unknown checksum algorithm")
	ErrUnknownCompression = kind(ErrCodec, "xar: unknown compression")
	ErrCompressionArg     = kind(ErrCodec, "xar: invalid compression argument")
)

// Usage errors.
var (
	ErrWrongMode       = kind(ErrUsage, "xar: operation not allowed in this mode")
	ErrClosed          = kind(ErrUsage, "xar: archive closed")
	ErrPropertyExists  = kind(ErrUsage, "xar: property already exists")
	ErrStreamEnded     = kind(ErrUsage, "xar: stream already ended")
	ErrSignatureLength = kind(ErrUsage, "xar: signature length differs from claimed length")
	ErrNoTOCChecksum   = kind(ErrUsage, "xar: signing requires a toc checksum")
	ErrReadOnlyOption  = kind(ErrUsage, "xar: option is read only")
	ErrInvalidOption   = kind(ErrUsage, "xar: invalid option value")
	ErrForeignEntry    = kind(ErrUsage, "xar: entry belongs to another archive")
	ErrNoData          = kind(ErrUsage, "xar: entry has no data")
	ErrInvalidName     = kind(ErrUsage, "xar: invalid name")
)

type kindError struct {
	msg  string
	kind error
}

func kind(k error, msg string) error {
	return &kindError{msg: msg, kind: k}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }
