package toc

import (
	"strconv"
	"strings"
)

// Document is the whole table of contents.
type Document struct {
	// Props holds toc-level properties such as creation-time, along with
	// any toc children that are not files, checksums or signatures.
	Props Node

	// Checksum locates the TOC checksum, nil when the TOC is unchecked.
	Checksum *ChecksumInfo

	// Signatures in insertion order.
	Signatures []*Signature

	// Extra holds children of the xar element other than toc and subdoc.
	Extra []*Property

	roots   []*Entry
	subdocs []*Subdoc
	byID    map[string]*Entry
	nextID  uint64
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{byID: make(map[string]*Entry), nextID: 1}
}

// NewEntry appends a child named name under parent (nil for top level)
// and assigns it the next free id.
func (d *Document) NewEntry(parent *Entry, name string) *Entry {
	e := d.attach(parent, d.allocID())
	e.SetName(name)
	return e
}

func (d *Document) attach(parent *Entry, id string) *Entry {
	e := &Entry{id: id, parent: parent, doc: d}
	if parent == nil {
		d.roots = append(d.roots, e)
	} else {
		parent.children = append(parent.children, e)
	}
	d.byID[id] = e
	return e
}

func (d *Document) allocID() string {
	for {
		id := strconv.FormatUint(d.nextID, 10)
		d.nextID++
		if _, taken := d.byID[id]; !taken {
			return id
		}
	}
}

// Roots returns the top-level entries.
func (d *Document) Roots() []*Entry {
	return d.roots
}

// EntryByID returns the entry with the given id.
func (d *Document) EntryByID(id string) (*Entry, bool) {
	e, ok := d.byID[id]
	return e, ok
}

// Entries returns every entry in depth-first pre-order.
func (d *Document) Entries() []*Entry {
	var out []*Entry
	var walk func([]*Entry)
	walk = func(es []*Entry) {
		for _, e := range es {
			out = append(out, e)
			walk(e.children)
		}
	}
	walk(d.roots)
	return out
}

// Files returns a pre-order cursor over every entry.
func (d *Document) Files() *Cursor[*Entry] {
	return NewCursor(d.Entries())
}

// Len returns the number of entries.
func (d *Document) Len() int {
	return len(d.byID)
}

// Lookup resolves a slash-separated path. With repeated sibling names the
// first match in insertion order wins.
func (d *Document) Lookup(path string) (*Entry, bool) {
	parts := splitKey(path, "/")
	if len(parts) == 0 {
		return nil, false
	}
	level := d.roots
	var cur *Entry
	for _, part := range parts {
		cur = nil
		for _, e := range level {
			if e.Name() == part {
				cur = e
				break
			}
		}
		if cur == nil {
			return nil, false
		}
		level = cur.children
	}
	return cur, true
}

// NewSubdocument adds a subdocument. An existing subdocument with the same
// name is replaced in place, keeping its position.
func (d *Document) NewSubdocument(name string) *Subdoc {
	s := &Subdoc{name: name}
	for i, old := range d.subdocs {
		if old.name == name {
			d.subdocs[i] = s
			return s
		}
	}
	d.subdocs = append(d.subdocs, s)
	return s
}

// Subdocument returns the subdocument named name.
func (d *Document) Subdocument(name string) (*Subdoc, bool) {
	for _, s := range d.subdocs {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// RemoveSubdocument deletes the subdocument named name.
func (d *Document) RemoveSubdocument(name string) bool {
	for i, s := range d.subdocs {
		if s.name == name {
			d.subdocs = append(d.subdocs[:i], d.subdocs[i+1:]...)
			return true
		}
	}
	return false
}

// Subdocuments returns a cursor over subdocuments in insertion order.
func (d *Document) Subdocuments() *Cursor[*Subdoc] {
	return NewCursor(d.subdocs)
}

// AddSignature appends a signature.
func (d *Document) AddSignature(s *Signature) {
	d.Signatures = append(d.Signatures, s)
}

// ReservedSize returns the heap bytes taken by the TOC checksum and the
// signatures, which precede every payload.
func (d *Document) ReservedSize() uint64 {
	var n uint64
	if d.Checksum != nil {
		n += d.Checksum.Size
	}
	for _, s := range d.Signatures {
		n += s.Length
	}
	return n
}

// CleanPath normalizes a slash-separated archive path.
func CleanPath(p string) string {
	return strings.Join(splitKey(p, "/"), "/")
}
