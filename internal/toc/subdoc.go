package toc

import (
	"bytes"
	"fmt"

	"github.com/meigma/xar/internal/xartype"
)

// Subdoc is a named property tree attached to the archive rather than to
// an entry.
type Subdoc struct {
	Node

	name string

	// Attrs holds attributes of the subdoc element other than its name.
	Attrs []Attr
}

// Name returns the subdocument name.
func (s *Subdoc) Name() string {
	return s.name
}

// CopyOut serializes the subdocument as a standalone XML element.
func (s *Subdoc) CopyOut() ([]byte, error) {
	var buf bytes.Buffer
	enc := newEncoder(&buf)
	if err := enc.subdoc(s); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CopyIn replaces the properties with those parsed from b. b is either a
// subdoc element as produced by CopyOut or a sequence of property
// elements.
func (s *Subdoc) CopyIn(b []byte) error {
	roots, err := parseFragment(b)
	if err != nil {
		return err
	}
	if len(roots) == 1 && roots[0].Key == elemSubdoc {
		var attrs []Attr
		for _, a := range roots[0].Attrs {
			if a.Name != attrSubdocName {
				attrs = append(attrs, a)
			}
		}
		s.Attrs = attrs
		s.props = roots[0].Children
		return nil
	}
	for _, r := range roots {
		if r.Key == elemSubdoc {
			return fmt.Errorf("%w: nested subdoc element", xartype.ErrMalformedTOC)
		}
	}
	s.props = roots
	return nil
}
