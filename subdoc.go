package xar

import (
	"fmt"

	"github.com/meigma/xar/internal/toc"
)

// NewSubdocument adds a named XML subdocument to the TOC. Adding a name
// that already exists replaces the earlier subdocument in place.
func (a *Archive) NewSubdocument(name string) (*Subdoc, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if name == "" || !toc.ValidText(name) {
		return nil, fmt.Errorf("%w: subdocument %q", ErrInvalidName, name)
	}
	return a.doc.NewSubdocument(name), nil
}

// Subdocument returns the subdocument called name.
func (a *Archive) Subdocument(name string) (*Subdoc, bool) {
	return a.doc.Subdocument(name)
}

// Subdocuments returns a cursor over every subdocument in insertion order.
func (a *Archive) Subdocuments() *Cursor[*Subdoc] {
	return a.doc.Subdocuments()
}

// RemoveSubdocument deletes the subdocument called name and reports whether
// it existed.
func (a *Archive) RemoveSubdocument(name string) bool {
	if a.closed {
		return false
	}
	return a.doc.RemoveSubdocument(name)
}
