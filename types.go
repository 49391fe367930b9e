package xar

import (
	"github.com/meigma/xar/internal/toc"
)

// --- Re-exports from internal/toc ---

// Entry is one file, directory, link or special file in an archive.
//
// Entries are owned by their archive and must not be used after it is
// closed. Property and attribute accessors are promoted from the embedded
// property tree: Get, Set, Create, Unset, Property, Attr, SetAttr,
// Attributes and Properties.
type Entry = toc.Entry

// Property is a named value with ordered attributes and child properties.
type Property = toc.Property

// Attr is a named value attached to a property.
type Attr = toc.Attr

// Subdoc is a named property tree attached to the archive as a whole.
type Subdoc = toc.Subdoc

// Cursor walks one traversal domain: files, properties, attributes,
// subdocuments or signatures.
type Cursor[T any] = toc.Cursor[T]

// Entry types.
const (
	TypeFile      = toc.TypeFile
	TypeDirectory = toc.TypeDirectory
	TypeSymlink   = toc.TypeSymlink
	TypeHardlink  = toc.TypeHardlink
	TypeFIFO      = toc.TypeFIFO
	TypeCharDev   = toc.TypeCharDev
	TypeBlockDev  = toc.TypeBlockDev
	TypeSocket    = toc.TypeSocket
)
