package toc

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/meigma/xar/internal/xartype"
)

const (
	elemXAR        = "xar"
	elemTOC        = "toc"
	elemFile       = "file"
	elemSubdoc     = "subdoc"
	elemChecksum   = "checksum"
	elemSignature  = "signature"
	elemOffset     = "offset"
	elemSize       = "size"
	elemKeyInfo    = "KeyInfo"
	elemX509Data   = "X509Data"
	elemX509Cert   = "X509Certificate"
	attrSubdocName = "subdoc_name"
	attrXMLNS      = "xmlns"

	xmldsigNS = "http://www.w3.org/2000/09/xmldsig#"
)

// Marshal renders the document as XML. The output is deterministic: the
// same document always produces the same bytes.
func Marshal(d *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := newEncoder(&buf)
	if err := enc.EncodeToken(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="UTF-8"`)}); err != nil {
		return nil, err
	}
	if err := enc.start(elemXAR, nil); err != nil {
		return nil, err
	}
	if err := enc.toc(d); err != nil {
		return nil, err
	}
	for _, s := range d.subdocs {
		if err := enc.subdoc(s); err != nil {
			return nil, err
		}
	}
	if err := enc.properties(d.Extra); err != nil {
		return nil, err
	}
	if err := enc.end(elemXAR); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

type encoder struct {
	*xml.Encoder
}

func newEncoder(w io.Writer) *encoder {
	e := xml.NewEncoder(w)
	e.Indent("", "  ")
	return &encoder{Encoder: e}
}

func (e *encoder) start(name string, attrs []Attr) error {
	se := xml.StartElement{Name: xml.Name{Local: name}}
	for _, a := range attrs {
		se.Attr = append(se.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: a.Value})
	}
	return e.EncodeToken(se)
}

func (e *encoder) end(name string) error {
	return e.EncodeToken(xml.EndElement{Name: xml.Name{Local: name}})
}

func (e *encoder) text(s string) error {
	if s == "" {
		return nil
	}
	return e.EncodeToken(xml.CharData(s))
}

func (e *encoder) leaf(name, value string) error {
	if err := e.start(name, nil); err != nil {
		return err
	}
	if err := e.text(value); err != nil {
		return err
	}
	return e.end(name)
}

func (e *encoder) property(p *Property) error {
	attrs, value := p.Attrs, p.Value
	if needsEncoding(p) {
		attrs = append(append([]Attr(nil), attrs...), Attr{Name: AttrEncType, Value: EncTypeBase64})
		value = base64.StdEncoding.EncodeToString([]byte(value))
	}
	if err := e.start(p.Key, attrs); err != nil {
		return err
	}
	if err := e.text(value); err != nil {
		return err
	}
	for _, c := range p.Children {
		if err := e.property(c); err != nil {
			return err
		}
	}
	return e.end(p.Key)
}

// needsEncoding reports whether the value of p would not survive a
// round trip as character data. Text ahead of child elements is followed
// by indentation, so a blank value there is ambiguous as well.
func needsEncoding(p *Property) bool {
	if p.Value == "" {
		return false
	}
	if _, ok := p.Attr(AttrEncType); ok {
		return false
	}
	if !ValidText(p.Value) {
		return true
	}
	return len(p.Children) > 0 && strings.TrimSpace(p.Value) == ""
}

func (e *encoder) toc(d *Document) error {
	if err := e.start(elemTOC, nil); err != nil {
		return err
	}
	for _, p := range d.Props.props {
		if err := e.property(p); err != nil {
			return err
		}
	}
	if d.Checksum != nil {
		if err := e.checksum(d.Checksum); err != nil {
			return err
		}
	}
	for _, s := range d.Signatures {
		if err := e.signature(s); err != nil {
			return err
		}
	}
	for _, en := range d.roots {
		if err := e.entry(en); err != nil {
			return err
		}
	}
	return e.end(elemTOC)
}

func (e *encoder) checksum(c *ChecksumInfo) error {
	attrs := append([]Attr{{Name: AttrStyle, Value: c.Style}}, c.Attrs...)
	if err := e.start(elemChecksum, attrs); err != nil {
		return err
	}
	if err := e.leaf(elemOffset, strconv.FormatUint(c.Offset, 10)); err != nil {
		return err
	}
	if err := e.leaf(elemSize, strconv.FormatUint(c.Size, 10)); err != nil {
		return err
	}
	if err := e.properties(c.Extra); err != nil {
		return err
	}
	return e.end(elemChecksum)
}

func (e *encoder) signature(s *Signature) error {
	attrs := append([]Attr{{Name: AttrStyle, Value: s.Style}}, s.Attrs...)
	if err := e.start(elemSignature, attrs); err != nil {
		return err
	}
	if err := e.leaf(elemOffset, strconv.FormatUint(s.Offset, 10)); err != nil {
		return err
	}
	if err := e.leaf(elemSize, strconv.FormatUint(s.Length, 10)); err != nil {
		return err
	}
	if len(s.Certificates) > 0 || len(s.X509Extra) > 0 || len(s.KeyInfo) > 0 {
		if err := e.keyInfo(s); err != nil {
			return err
		}
	}
	if err := e.properties(s.Extra); err != nil {
		return err
	}
	return e.end(elemSignature)
}

func (e *encoder) keyInfo(s *Signature) error {
	if err := e.start(elemKeyInfo, []Attr{{Name: attrXMLNS, Value: xmldsigNS}}); err != nil {
		return err
	}
	if len(s.Certificates) > 0 || len(s.X509Extra) > 0 {
		if err := e.start(elemX509Data, nil); err != nil {
			return err
		}
		for _, der := range s.Certificates {
			if err := e.leaf(elemX509Cert, base64.StdEncoding.EncodeToString(der)); err != nil {
				return err
			}
		}
		if err := e.properties(s.X509Extra); err != nil {
			return err
		}
		if err := e.end(elemX509Data); err != nil {
			return err
		}
	}
	if err := e.properties(s.KeyInfo); err != nil {
		return err
	}
	return e.end(elemKeyInfo)
}

func (e *encoder) properties(ps []*Property) error {
	for _, p := range ps {
		if err := e.property(p); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) entry(en *Entry) error {
	attrs := append([]Attr{{Name: AttrID, Value: en.id}}, en.Attrs...)
	if err := e.start(elemFile, attrs); err != nil {
		return err
	}
	for _, p := range en.props {
		if err := e.property(p); err != nil {
			return err
		}
	}
	for _, c := range en.children {
		if err := e.entry(c); err != nil {
			return err
		}
	}
	return e.end(elemFile)
}

func (e *encoder) subdoc(s *Subdoc) error {
	attrs := append([]Attr{{Name: attrSubdocName, Value: s.name}}, s.Attrs...)
	if err := e.start(elemSubdoc, attrs); err != nil {
		return err
	}
	for _, p := range s.props {
		if err := e.property(p); err != nil {
			return err
		}
	}
	return e.end(elemSubdoc)
}

// Unmarshal parses an XML table of contents.
func Unmarshal(b []byte) (*Document, error) {
	roots, err := parseFragment(b)
	if err != nil {
		return nil, err
	}
	if len(roots) != 1 || roots[0].Key != elemXAR {
		return nil, fmt.Errorf("%w: missing xar root element", xartype.ErrMalformedTOC)
	}

	d := NewDocument()
	seenTOC := false
	for _, c := range roots[0].Children {
		switch c.Key {
		case elemTOC:
			if seenTOC {
				return nil, fmt.Errorf("%w: duplicate toc element", xartype.ErrMalformedTOC)
			}
			seenTOC = true
			if err := d.parseTOC(c); err != nil {
				return nil, err
			}
		case elemSubdoc:
			name, _ := c.Attr(attrSubdocName)
			s := d.NewSubdocument(name)
			for _, a := range c.Attrs {
				if a.Name != attrSubdocName {
					s.Attrs = append(s.Attrs, a)
				}
			}
			s.props = c.Children
		default:
			d.Extra = append(d.Extra, c)
		}
	}
	if !seenTOC {
		return nil, fmt.Errorf("%w: missing toc element", xartype.ErrMalformedTOC)
	}
	return d, nil
}

func (d *Document) parseTOC(t *Property) error {
	for _, c := range t.Children {
		switch c.Key {
		case elemChecksum:
			if d.Checksum != nil {
				return fmt.Errorf("%w: duplicate checksum element", xartype.ErrMalformedTOC)
			}
			info, err := parseChecksum(c)
			if err != nil {
				return err
			}
			d.Checksum = info
		case elemSignature:
			s, err := parseSignature(c)
			if err != nil {
				return err
			}
			d.Signatures = append(d.Signatures, s)
		case elemFile:
			if err := d.parseFile(nil, c); err != nil {
				return err
			}
		default:
			d.Props.props = append(d.Props.props, c)
		}
	}
	return nil
}

func (d *Document) parseFile(parent *Entry, p *Property) error {
	id, _ := p.Attr(AttrID)
	if id == "" {
		id = d.allocID()
	} else if _, dup := d.byID[id]; dup {
		return fmt.Errorf("%w: duplicate file id %q", xartype.ErrMalformedTOC, id)
	}
	if n, err := strconv.ParseUint(id, 10, 64); err == nil && n >= d.nextID {
		d.nextID = n + 1
	}
	e := d.attach(parent, id)
	for _, a := range p.Attrs {
		if a.Name != AttrID {
			e.Attrs = append(e.Attrs, a)
		}
	}
	for _, c := range p.Children {
		if c.Key == elemFile {
			if err := d.parseFile(e, c); err != nil {
				return err
			}
			continue
		}
		e.props = append(e.props, c)
	}
	return nil
}

func parseChecksum(p *Property) (*ChecksumInfo, error) {
	style, _ := p.Attr(AttrStyle)
	info := &ChecksumInfo{Style: style, Attrs: otherAttrs(p.Attrs, AttrStyle)}
	var err error
	if info.Offset, err = childUint(p, elemOffset); err != nil {
		return nil, err
	}
	if info.Size, err = childUint(p, elemSize); err != nil {
		return nil, err
	}
	for _, c := range p.Children {
		if c.Key != elemOffset && c.Key != elemSize {
			info.Extra = append(info.Extra, c)
		}
	}
	return info, nil
}

func parseSignature(p *Property) (*Signature, error) {
	style, _ := p.Attr(AttrStyle)
	s := &Signature{Style: style, Attrs: otherAttrs(p.Attrs, AttrStyle)}
	for _, c := range p.Children {
		switch c.Key {
		case elemOffset:
			n, err := parseUint(c)
			if err != nil {
				return nil, err
			}
			s.Offset = n
		case elemSize:
			n, err := parseUint(c)
			if err != nil {
				return nil, err
			}
			s.Length = n
		case elemKeyInfo:
			if err := s.parseKeyInfo(c); err != nil {
				return nil, err
			}
		default:
			s.Extra = append(s.Extra, c)
		}
	}
	return s, nil
}

func (s *Signature) parseKeyInfo(p *Property) error {
	for _, data := range p.Children {
		if data.Key != elemX509Data {
			s.KeyInfo = append(s.KeyInfo, data)
			continue
		}
		for _, cert := range data.Children {
			if cert.Key != elemX509Cert {
				s.X509Extra = append(s.X509Extra, cert)
				continue
			}
			der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(cert.Value), ""))
			if err != nil {
				return fmt.Errorf("%w: certificate: %w", xartype.ErrMalformedTOC, err)
			}
			s.Certificates = append(s.Certificates, der)
		}
	}
	return nil
}

func otherAttrs(attrs []Attr, skip string) []Attr {
	var out []Attr
	for _, a := range attrs {
		if a.Name != skip {
			out = append(out, a)
		}
	}
	return out
}

func childUint(p *Property, key string) (uint64, error) {
	c := p.Child(key)
	if c == nil {
		return 0, fmt.Errorf("%w: %s missing %s", xartype.ErrMalformedTOC, p.Key, key)
	}
	return parseUint(c)
}

func parseUint(p *Property) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(p.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", xartype.ErrMalformedTOC, p.Key, err)
	}
	return n, nil
}

type frame struct {
	p    *Property
	text strings.Builder
}

// value returns the text written before the first child element. For a
// parent element the indentation ahead of that child is dropped.
func (f *frame) value() string {
	s := f.text.String()
	if len(f.p.Children) == 0 {
		return s
	}
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if i := strings.LastIndexByte(s, '\n'); i >= 0 && strings.Trim(s[i+1:], " \t") == "" {
		return s[:i]
	}
	return s
}

// decodeValue replaces a base64 value with its decoded form. A value that
// does not decode is kept as written, attribute included.
func decodeValue(p *Property) {
	enc, ok := p.Attr(AttrEncType)
	if !ok || enc != EncTypeBase64 {
		return
	}
	b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(p.Value), ""))
	if err != nil {
		return
	}
	p.Value = string(b)
	p.UnsetAttr(AttrEncType)
}

// parseFragment reads XML into generic property trees, keeping element
// and attribute names exactly as written, namespace prefixes included.
func parseFragment(b []byte) ([]*Property, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))
	var roots []*Property
	var stack []*frame
	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", xartype.ErrMalformedTOC, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p := &Property{Key: qname(t.Name)}
			for _, a := range t.Attr {
				p.Attrs = append(p.Attrs, Attr{Name: qname(a.Name), Value: a.Value})
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1].p
				parent.Children = append(parent.Children, p)
			} else {
				roots = append(roots, p)
			}
			stack = append(stack, &frame{p: p})
		case xml.EndElement:
			if len(stack) == 0 || stack[len(stack)-1].p.Key != qname(t.Name) {
				return nil, fmt.Errorf("%w: unexpected </%s>", xartype.ErrMalformedTOC, qname(t.Name))
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			f.p.Value = f.value()
			decodeValue(f.p)
		case xml.CharData:
			if len(stack) > 0 {
				if f := stack[len(stack)-1]; len(f.p.Children) == 0 {
					f.text.Write(t)
				}
			} else if len(bytes.TrimSpace(t)) > 0 {
				return nil, fmt.Errorf("%w: text outside of an element", xartype.ErrMalformedTOC)
			}
		}
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unclosed <%s>", xartype.ErrMalformedTOC, stack[len(stack)-1].p.Key)
	}
	return roots, nil
}

func qname(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
