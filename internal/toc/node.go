// Package toc models the table of contents of an archive: entries,
// their property and attribute trees, subdocuments and signatures, and the
// XML form they are stored in.
package toc

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/meigma/xar/internal/xartype"
)

// Attr is a named value attached to a property.
type Attr struct {
	Name  string
	Value string
}

// Property is a named value with ordered attributes and ordered child
// properties. Keys that the engine does not understand are kept as-is.
type Property struct {
	Key      string
	Value    string
	Attrs    []Attr
	Children []*Property
}

// Attr returns the value of the named attribute.
func (p *Property) Attr(name string) (string, bool) {
	for _, a := range p.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets an attribute, replacing it in place when it exists.
func (p *Property) SetAttr(name, value string) {
	for i := range p.Attrs {
		if p.Attrs[i].Name == name {
			p.Attrs[i].Value = value
			return
		}
	}
	p.Attrs = append(p.Attrs, Attr{Name: name, Value: value})
}

// UnsetAttr removes an attribute.
func (p *Property) UnsetAttr(name string) bool {
	for i := range p.Attrs {
		if p.Attrs[i].Name == name {
			p.Attrs = append(p.Attrs[:i], p.Attrs[i+1:]...)
			return true
		}
	}
	return false
}

// Child returns the first child with the given key.
func (p *Property) Child(key string) *Property {
	for _, c := range p.Children {
		if c.Key == key {
			return c
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p *Property) Clone() *Property {
	c := &Property{Key: p.Key, Value: p.Value}
	if len(p.Attrs) > 0 {
		c.Attrs = append([]Attr(nil), p.Attrs...)
	}
	for _, child := range p.Children {
		c.Children = append(c.Children, child.Clone())
	}
	return c
}

// Node is an ordered property tree. Entries and subdocuments embed it.
//
// Keys are slash-separated paths such as "data/size". A lookup that finds
// nothing under the slash form retries with dots as separators, so
// "data.size" resolves the same property.
type Node struct {
	props []*Property
}

// Props returns the top-level properties. The slice is shared.
func (n *Node) Props() []*Property {
	return n.props
}

// AppendProp adds a top-level property after the existing ones.
func (n *Node) AppendProp(p *Property) {
	n.props = append(n.props, p)
}

// ResetProps replaces every property.
func (n *Node) ResetProps(props []*Property) {
	n.props = props
}

// Property returns the property at key.
func (n *Node) Property(key string) (*Property, bool) {
	if p := n.find(splitKey(key, "/")); p != nil {
		return p, true
	}
	if strings.Contains(key, ".") {
		if p := n.find(splitKey(key, ".")); p != nil {
			return p, true
		}
	}
	return nil, false
}

// Get returns the value of the property at key.
func (n *Node) Get(key string) (string, bool) {
	p, ok := n.Property(key)
	if !ok {
		return "", false
	}
	return p.Value, true
}

// Set sets the value at key, creating it and any missing parents.
func (n *Node) Set(key, value string) (*Property, error) {
	parts, err := checkKey(key)
	if err != nil {
		return nil, err
	}
	if p, ok := n.Property(key); ok {
		p.Value = value
		return p, nil
	}
	p := n.create(parts)
	p.Value = value
	return p, nil
}

// Create adds the property at key, failing with ErrPropertyExists when it
// is already present.
func (n *Node) Create(key, value string) (*Property, error) {
	parts, err := checkKey(key)
	if err != nil {
		return nil, err
	}
	if _, ok := n.Property(key); ok {
		return nil, fmt.Errorf("%w: %s", xartype.ErrPropertyExists, key)
	}
	p := n.create(parts)
	p.Value = value
	return p, nil
}

// Unset removes the property at key and everything below it.
func (n *Node) Unset(key string) bool {
	parts := splitKey(key, "/")
	if n.unset(parts) {
		return true
	}
	if strings.Contains(key, ".") {
		return n.unset(splitKey(key, "."))
	}
	return false
}

// Attr returns an attribute of the property at key.
func (n *Node) Attr(key, name string) (string, bool) {
	p, ok := n.Property(key)
	if !ok {
		return "", false
	}
	return p.Attr(name)
}

// SetAttr sets an attribute on the property at key, creating the property
// with an empty value when it does not exist.
func (n *Node) SetAttr(key, name, value string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: attribute name %q", xartype.ErrInvalidName, name)
	}
	if !ValidText(value) {
		return fmt.Errorf("%w: attribute value %q", xartype.ErrInvalidName, value)
	}
	p, ok := n.Property(key)
	if !ok {
		var err error
		if p, err = n.Set(key, ""); err != nil {
			return err
		}
	}
	p.SetAttr(name, value)
	return nil
}

// Attributes returns a cursor over the attributes of the property at key.
func (n *Node) Attributes(key string) *Cursor[Attr] {
	p, ok := n.Property(key)
	if !ok {
		return NewCursor[Attr](nil)
	}
	return NewCursor(p.Attrs)
}

// Properties returns a cursor over the full key of every property in
// pre-order.
func (n *Node) Properties() *Cursor[string] {
	var keys []string
	var walk func(prefix string, props []*Property)
	walk = func(prefix string, props []*Property) {
		for _, p := range props {
			k := p.Key
			if prefix != "" {
				k = prefix + "/" + p.Key
			}
			keys = append(keys, k)
			walk(k, p.Children)
		}
	}
	walk("", n.props)
	return NewCursor(keys)
}

func (n *Node) find(parts []string) *Property {
	if len(parts) == 0 {
		return nil
	}
	level := n.props
	var cur *Property
	for _, part := range parts {
		cur = nil
		for _, p := range level {
			if p.Key == part {
				cur = p
				break
			}
		}
		if cur == nil {
			return nil
		}
		level = cur.Children
	}
	return cur
}

func (n *Node) create(parts []string) *Property {
	level := &n.props
	var cur *Property
	for _, part := range parts {
		cur = nil
		for _, p := range *level {
			if p.Key == part {
				cur = p
				break
			}
		}
		if cur == nil {
			cur = &Property{Key: part}
			*level = append(*level, cur)
		}
		level = &cur.Children
	}
	return cur
}

func (n *Node) unset(parts []string) bool {
	if len(parts) == 0 {
		return false
	}
	level := &n.props
	for i, part := range parts {
		idx := -1
		for j, p := range *level {
			if p.Key == part {
				idx = j
				break
			}
		}
		if idx < 0 {
			return false
		}
		if i == len(parts)-1 {
			*level = append((*level)[:idx], (*level)[idx+1:]...)
			return true
		}
		level = &(*level)[idx].Children
	}
	return false
}

func checkKey(key string) ([]string, error) {
	parts := splitKey(key, "/")
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty property key", xartype.ErrInvalidName)
	}
	for _, part := range parts {
		if !ValidName(part) {
			return nil, fmt.Errorf("%w: property key %q", xartype.ErrInvalidName, key)
		}
	}
	return parts, nil
}

// ValidName reports whether s can be used as an element or attribute name.
func ValidName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == ':' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r)):
		default:
			return false
		}
	}
	return true
}

func splitKey(key, sep string) []string {
	var parts []string
	for _, p := range strings.Split(key, sep) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
