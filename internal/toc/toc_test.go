package toc

import (
	"encoding/base64"
	"io/fs"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/xar/internal/xartype"
)

func TestNodeSetGet(t *testing.T) {
	t.Parallel()

	var n Node
	_, err := n.Set("data/size", "10")
	require.NoError(t, err)
	_, err = n.Set("data/length", "7")
	require.NoError(t, err)

	v, ok := n.Get("data/size")
	require.True(t, ok)
	assert.Equal(t, "10", v)

	v, ok = n.Get("data.size")
	require.True(t, ok)
	assert.Equal(t, "10", v)

	require.Len(t, n.Props(), 1)
	assert.Len(t, n.Props()[0].Children, 2)

	_, err = n.Set("data/size", "11")
	require.NoError(t, err)
	v, _ = n.Get("data/size")
	assert.Equal(t, "11", v)

	_, ok = n.Get("data/offset")
	assert.False(t, ok)
}

func TestNodeCreate(t *testing.T) {
	t.Parallel()

	var n Node
	_, err := n.Create("mode", "0644")
	require.NoError(t, err)

	_, err = n.Create("mode", "0600")
	require.ErrorIs(t, err, xartype.ErrPropertyExists)
	require.ErrorIs(t, err, xartype.ErrUsage)

	v, _ := n.Get("mode")
	assert.Equal(t, "0644", v)
}

func TestNodeInvalidKeys(t *testing.T) {
	t.Parallel()

	var n Node
	for _, key := range []string{"", "/", "has space", "1abc", "a/<b>"} {
		_, err := n.Set(key, "v")
		require.ErrorIs(t, err, xartype.ErrInvalidName, key)
	}
	require.ErrorIs(t, n.SetAttr("ok", "bad name", "v"), xartype.ErrInvalidName)
}

func TestNodeUnset(t *testing.T) {
	t.Parallel()

	var n Node
	_, _ = n.Set("data/size", "1")
	_, _ = n.Set("data/offset", "2")
	_, _ = n.Set("mode", "0644")

	assert.True(t, n.Unset("data.size"))
	_, ok := n.Get("data/size")
	assert.False(t, ok)
	_, ok = n.Get("data/offset")
	assert.True(t, ok)

	assert.True(t, n.Unset("data"))
	_, ok = n.Get("data/offset")
	assert.False(t, ok)
	assert.False(t, n.Unset("missing"))
}

func TestNodeAttributes(t *testing.T) {
	t.Parallel()

	var n Node
	require.NoError(t, n.SetAttr("data/encoding", "style", "application/x-gzip"))
	require.NoError(t, n.SetAttr("data/encoding", "level", "9"))
	require.NoError(t, n.SetAttr("data/encoding", "style", "application/zlib"))

	v, ok := n.Attr("data/encoding", "style")
	require.True(t, ok)
	assert.Equal(t, "application/zlib", v)

	var names []string
	for a := range n.Attributes("data/encoding").All() {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"style", "level"}, names)

	assert.True(t, n.Attributes("missing").Done())
}

func TestNodeProperties(t *testing.T) {
	t.Parallel()

	var n Node
	_, _ = n.Set("name", "a")
	_, _ = n.Set("data/size", "1")
	_, _ = n.Set("data/offset", "0")
	_, _ = n.Set("mode", "0644")

	c := n.Properties()
	assert.Equal(t, 5, c.Len())
	assert.Equal(t, []string{"name", "data", "data/size", "data/offset", "mode"}, slices.Collect(c.All()))
	_, ok := c.Next()
	assert.False(t, ok)
	assert.True(t, c.Done())
}

func TestCursorSnapshot(t *testing.T) {
	t.Parallel()

	items := []int{1, 2, 3}
	c := NewCursor(items)
	items[0] = 100

	v, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.False(t, c.Done())
	assert.Equal(t, []int{2, 3}, slices.Collect(c.All()))
	assert.True(t, c.Done())
}

func TestDocumentTree(t *testing.T) {
	t.Parallel()

	d := NewDocument()
	dir := d.NewEntry(nil, "dir")
	a := d.NewEntry(dir, "a")
	b := d.NewEntry(dir, "b")
	dupe := d.NewEntry(dir, "a")
	top := d.NewEntry(nil, "top")

	assert.Equal(t, "1", dir.ID())
	assert.Equal(t, "dir/a", a.Path())
	assert.Same(t, dir, a.Parent())
	assert.Same(t, a, dir.Child("a"))
	assert.NotSame(t, dupe, dir.Child("a"))

	var paths []string
	for e := range d.Files().All() {
		paths = append(paths, e.Path())
	}
	assert.Equal(t, []string{"dir", "dir/a", "dir/b", "dir/a", "top"}, paths)

	got, ok := d.Lookup("/dir//b")
	require.True(t, ok)
	assert.Same(t, b, got)
	got, ok = d.Lookup("dir/a")
	require.True(t, ok)
	assert.Same(t, a, got)
	_, ok = d.Lookup("dir/zzz")
	assert.False(t, ok)

	byID, ok := d.EntryByID(top.ID())
	require.True(t, ok)
	assert.Same(t, top, byID)
	assert.Equal(t, 5, d.Len())
	assert.Same(t, d, top.Document())
}

func TestEntryNameEncoding(t *testing.T) {
	t.Parallel()

	d := NewDocument()
	plain := d.NewEntry(nil, "héllo.txt")
	weird := d.NewEntry(nil, "bad\x01name\xff")

	assert.Equal(t, "héllo.txt", plain.Name())
	_, ok := plain.Attr(KeyName, AttrEncType)
	assert.False(t, ok)

	assert.Equal(t, "bad\x01name\xff", weird.Name())
	got, ok := d.Lookup("bad\x01name\xff")
	require.True(t, ok)
	assert.Same(t, weird, got)

	out, err := Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(out), `<name enctype="base64">`+base64.StdEncoding.EncodeToString([]byte("bad\x01name\xff"))+`</name>`)
	assert.Contains(t, string(out), "<name>héllo.txt</name>")

	back, err := Unmarshal(out)
	require.NoError(t, err)
	got, ok = back.Lookup("bad\x01name\xff")
	require.True(t, ok)
	_, ok = got.Attr(KeyName, AttrEncType)
	assert.False(t, ok)

	weird.SetName("fine")
	_, ok = weird.Attr(KeyName, AttrEncType)
	assert.False(t, ok)
	assert.Equal(t, "fine", weird.Name())
}

func TestEntryAccessors(t *testing.T) {
	t.Parallel()

	d := NewDocument()
	e := d.NewEntry(nil, "f")
	assert.Equal(t, TypeFile, e.Type())

	_, _ = e.Set(KeyType, TypeSymlink)
	_, _ = e.Set(KeyMode, FormatMode(0o755|fs.ModeSetuid))
	_, _ = e.Set(KeyUID, "501")
	_, _ = e.Set(KeyGroup, "staff")
	_, _ = e.Set(KeyDataSize, "42")
	mtime := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	e.SetTime(KeyMTime, mtime)

	assert.Equal(t, TypeSymlink, e.Type())
	m, ok := e.Mode()
	require.True(t, ok)
	assert.Equal(t, 0o755|fs.ModeSetuid, m)
	v, _ := e.Get(KeyMode)
	assert.Equal(t, "04755", v)
	assert.Equal(t, "501", e.Owner())
	assert.Equal(t, "staff", e.Group())
	uid, ok := e.UID()
	require.True(t, ok)
	assert.Equal(t, 501, uid)
	size, ok := e.Size()
	require.True(t, ok)
	assert.Equal(t, uint64(42), size)
	got, ok := e.ModTime()
	require.True(t, ok)
	assert.True(t, mtime.Equal(got))
	assert.False(t, e.HasData())
}

func TestSubdocuments(t *testing.T) {
	t.Parallel()

	d := NewDocument()
	first := d.NewSubdocument("one")
	_, _ = first.Set("k", "v1")
	d.NewSubdocument("two")

	replaced := d.NewSubdocument("one")
	_, _ = replaced.Set("k", "v2")

	var names []string
	for s := range d.Subdocuments().All() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"one", "two"}, names)

	s, ok := d.Subdocument("one")
	require.True(t, ok)
	v, _ := s.Get("k")
	assert.Equal(t, "v2", v)

	assert.True(t, d.RemoveSubdocument("two"))
	assert.False(t, d.RemoveSubdocument("two"))
	assert.Equal(t, 1, d.Subdocuments().Len())
}

func TestSubdocCopyInOut(t *testing.T) {
	t.Parallel()

	d := NewDocument()
	s := d.NewSubdocument("meta")
	_, _ = s.Set("info/author", "someone")
	require.NoError(t, s.SetAttr("info", "lang", "en"))

	out, err := s.CopyOut()
	require.NoError(t, err)
	assert.Contains(t, string(out), `<subdoc subdoc_name="meta">`)

	other := d.NewSubdocument("copy")
	require.NoError(t, other.CopyIn(out))
	v, _ := other.Get("info/author")
	assert.Equal(t, "someone", v)
	lang, _ := other.Attr("info", "lang")
	assert.Equal(t, "en", lang)
	assert.Equal(t, "copy", other.Name())

	require.NoError(t, other.CopyIn([]byte("<a>1</a><b><c>2</c></b>")))
	assert.Equal(t, []string{"a", "b", "b/c"}, slices.Collect(other.Properties().All()))

	require.ErrorIs(t, other.CopyIn([]byte("<a>")), xartype.ErrMalformedTOC)
}

func TestSignatureCertificates(t *testing.T) {
	t.Parallel()

	s := &Signature{Style: "RSA", Length: 256}
	s.AddCertificate([]byte{1, 2, 3})
	s.AddCertificate([]byte{4, 5})

	c, err := s.Certificate(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, c)
	_, err = s.Certificate(2)
	require.ErrorIs(t, err, xartype.ErrUsage)

	_, err = s.ParseCertificates()
	require.Error(t, err)
}

func buildDocument() *Document {
	d := NewDocument()
	_, _ = d.Props.Set("creation-time", "2024-01-01T00:00:00")
	d.Checksum = &ChecksumInfo{Style: "sha1", Offset: 0, Size: 20}
	sig := &Signature{Style: "RSA", Offset: 20, Length: 4}
	sig.AddCertificate([]byte("cert-one"))
	sig.AddCertificate([]byte("cert-two"))
	d.AddSignature(sig)

	dir := d.NewEntry(nil, "dir")
	_, _ = dir.Set(KeyType, TypeDirectory)
	f := d.NewEntry(dir, "a.txt")
	_, _ = f.Set(KeyType, TypeFile)
	_, _ = f.Set(KeyDataOffset, "24")
	_, _ = f.Set(KeyDataLength, "10")
	_, _ = f.Set(KeyDataSize, "10")
	_ = f.SetAttr(KeyDataEncoding, AttrStyle, "application/octet-stream")
	_, _ = f.Set(KeyExtractedSum, "abc")
	_ = f.SetAttr(KeyExtractedSum, AttrStyle, "sha1")
	_ = f.SetAttr("custom", "z", "last")
	_ = f.SetAttr("custom", "a", "first")
	f.Attrs = []Attr{{Name: "x-future", Value: "1"}}
	d.NewEntry(nil, "\x00binary")

	sub := d.NewSubdocument("extra")
	_, _ = sub.Set("deep/er", " padded value ")
	return d
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	d := buildDocument()
	b, err := Marshal(d)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), `<?xml version="1.0" encoding="UTF-8"?>`))

	got, err := Unmarshal(b)
	require.NoError(t, err)

	require.NotNil(t, got.Checksum)
	assert.Equal(t, *d.Checksum, *got.Checksum)
	require.Len(t, got.Signatures, 1)
	assert.Equal(t, d.Signatures[0].Certificates, got.Signatures[0].Certificates)
	assert.Equal(t, uint64(20), got.Signatures[0].Offset)
	assert.Equal(t, uint64(4), got.Signatures[0].Length)
	assert.Equal(t, uint64(24), got.ReservedSize())

	ct, _ := got.Props.Get("creation-time")
	assert.Equal(t, "2024-01-01T00:00:00", ct)

	want := d.Entries()
	have := got.Entries()
	require.Len(t, have, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID(), have[i].ID())
		assert.Equal(t, want[i].Path(), have[i].Path())
		assert.Equal(t, want[i].Props(), have[i].Props())
		assert.Equal(t, want[i].Attrs, have[i].Attrs)
	}

	sub, ok := got.Subdocument("extra")
	require.True(t, ok)
	v, _ := sub.Get("deep/er")
	assert.Equal(t, " padded value ", v)

	again, err := Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(again))
}

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	a, err := Marshal(buildDocument())
	require.NoError(t, err)
	b, err := Marshal(buildDocument())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUnmarshalPreservesUnknown(t *testing.T) {
	t.Parallel()

	src := `<?xml version="1.0" encoding="UTF-8"?>
<xar>
  <toc>
    <x-future-prop kind="new">value</x-future-prop>
    <signature style="RSA">
      <offset>20</offset>
      <size>128</size>
      <x-timestamp>now</x-timestamp>
    </signature>
    <file id="7" x-flag="on">
      <name>a</name>
      <x-unknown><deeper q="1">v</deeper></x-unknown>
      <file id="9">
        <name>b</name>
      </file>
    </file>
  </toc>
  <x-sidecar>data</x-sidecar>
</xar>`
	d, err := Unmarshal([]byte(src))
	require.NoError(t, err)

	v, ok := d.Props.Get("x-future-prop")
	require.True(t, ok)
	assert.Equal(t, "value", v)
	kind, _ := d.Props.Attr("x-future-prop", "kind")
	assert.Equal(t, "new", kind)

	require.Len(t, d.Signatures[0].Extra, 1)
	assert.Equal(t, "x-timestamp", d.Signatures[0].Extra[0].Key)

	a, ok := d.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, []Attr{{Name: "x-flag", Value: "on"}}, a.Attrs)
	q, ok := a.Attr("x-unknown/deeper", "q")
	require.True(t, ok)
	assert.Equal(t, "1", q)
	require.Len(t, d.Extra, 1)

	// New entries never reuse parsed ids.
	n := d.NewEntry(nil, "new")
	assert.Equal(t, "10", n.ID())

	out, err := Marshal(d)
	require.NoError(t, err)
	for _, s := range []string{`x-flag="on"`, `<deeper q="1">v</deeper>`, `<x-timestamp>now</x-timestamp>`, `<x-sidecar>data</x-sidecar>`} {
		assert.Contains(t, string(out), s)
	}
}

func TestMarshalPreservesValues(t *testing.T) {
	t.Parallel()

	values := map[string]string{
		"meta/ctrl":    "a\x01b",
		"meta/badutf8": "a\xffb",
		"meta/cr":      "line\r\n",
		"meta/tab":     "\tindented",
		"parent":       " padded ",
		"blank":        "  ",
		"multi":        "x\n  ",
		"link":         "target\x02",
		"user":         "\xfeuser",
	}
	d := NewDocument()
	e := d.NewEntry(nil, "f")
	for key, v := range values {
		_, err := e.Set(key, v)
		require.NoError(t, err)
	}
	for _, key := range []string{"parent/child", "blank/kid", "multi/c"} {
		_, err := e.Set(key, "c")
		require.NoError(t, err)
	}

	b, err := Marshal(d)
	require.NoError(t, err)
	got, err := Unmarshal(b)
	require.NoError(t, err)
	back, ok := got.Lookup("f")
	require.True(t, ok)

	for key, want := range values {
		v, ok := back.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, want, v, key)
		_, ok = back.Attr(key, AttrEncType)
		assert.False(t, ok, key)
	}
	c, _ := back.Get("parent/child")
	assert.Equal(t, "c", c)

	again, err := Marshal(got)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(again))
}

func TestParentValueIndentation(t *testing.T) {
	t.Parallel()

	src := "<xar><toc><file id=\"1\"><name>f</name>" +
		"<data>\n\t\t<length>4</length>\n\t</data>" +
		"<note>kept\n    <x/></note>" +
		"<enc enctype=\"base64\">aGk=<y/></enc>" +
		"<bad enctype=\"base64\">!!</bad>" +
		"</file></toc></xar>"
	d, err := Unmarshal([]byte(src))
	require.NoError(t, err)
	f, ok := d.Lookup("f")
	require.True(t, ok)

	v, _ := f.Get("data")
	assert.Empty(t, v)
	v, _ = f.Get("note")
	assert.Equal(t, "kept", v)
	v, _ = f.Get("enc")
	assert.Equal(t, "hi", v)
	v, _ = f.Get("bad")
	assert.Equal(t, "!!", v)
	enc, ok := f.Attr("bad", AttrEncType)
	require.True(t, ok)
	assert.Equal(t, EncTypeBase64, enc)
}

func TestSetAttrRejectsNonText(t *testing.T) {
	t.Parallel()

	e := NewDocument().NewEntry(nil, "f")
	err := e.SetAttr("meta", "k", "a\x01b")
	require.ErrorIs(t, err, xartype.ErrInvalidName)
	require.NoError(t, e.SetAttr("meta", "k", "fine"))
}

func TestChecksumSignaturePassthrough(t *testing.T) {
	t.Parallel()

	src := `<xar><toc>
<checksum style="sha1" future="x"><offset>0</offset><size>20</size><hint>h</hint></checksum>
<signature style="RSA" vendor="v"><offset>20</offset><size>4</size>
<KeyInfo xmlns="http://www.w3.org/2000/09/xmldsig#"><X509Data><X509Certificate>AQID</X509Certificate><X509SubjectName>CN=x</X509SubjectName></X509Data><KeyName>signer</KeyName></KeyInfo>
</signature>
</toc></xar>`
	d, err := Unmarshal([]byte(src))
	require.NoError(t, err)

	require.NotNil(t, d.Checksum)
	assert.Equal(t, []Attr{{Name: "future", Value: "x"}}, d.Checksum.Attrs)
	require.Len(t, d.Checksum.Extra, 1)
	assert.Equal(t, "hint", d.Checksum.Extra[0].Key)

	require.Len(t, d.Signatures, 1)
	sig := d.Signatures[0]
	assert.Equal(t, []Attr{{Name: "vendor", Value: "v"}}, sig.Attrs)
	assert.Equal(t, [][]byte{{1, 2, 3}}, sig.Certificates)
	require.Len(t, sig.KeyInfo, 1)
	assert.Equal(t, "KeyName", sig.KeyInfo[0].Key)
	require.Len(t, sig.X509Extra, 1)
	assert.Equal(t, "X509SubjectName", sig.X509Extra[0].Key)

	out, err := Marshal(d)
	require.NoError(t, err)
	for _, s := range []string{
		`<checksum style="sha1" future="x">`,
		`<hint>h</hint>`,
		`<signature style="RSA" vendor="v">`,
		`<KeyName>signer</KeyName>`,
		`<X509SubjectName>CN=x</X509SubjectName>`,
		`<X509Certificate>AQID</X509Certificate>`,
	} {
		assert.Contains(t, string(out), s)
	}

	back, err := Unmarshal(out)
	require.NoError(t, err)
	assert.Equal(t, d.Checksum, back.Checksum)
	assert.Equal(t, d.Signatures, back.Signatures)
}

func TestUnmarshalRejects(t *testing.T) {
	t.Parallel()

	for name, src := range map[string]string{
		"not xml":       "garbage <",
		"wrong root":    "<other/>",
		"no toc":        "<xar></xar>",
		"two tocs":      "<xar><toc/><toc/></xar>",
		"unclosed":      "<xar><toc>",
		"duplicate id":  `<xar><toc><file id="1"/><file id="1"/></toc></xar>`,
		"bad checksum":  `<xar><toc><checksum style="sha1"><offset>x</offset><size>20</size></checksum></toc></xar>`,
		"checksum size": `<xar><toc><checksum style="sha1"><offset>0</offset></checksum></toc></xar>`,
		"bad cert":      `<xar><toc><signature><KeyInfo><X509Data><X509Certificate>!!</X509Certificate></X509Data></KeyInfo></signature></toc></xar>`,
	} {
		_, err := Unmarshal([]byte(src))
		require.ErrorIs(t, err, xartype.ErrMalformedTOC, name)
		assert.ErrorIs(t, err, xartype.ErrFormat, name)
	}
}

func TestValidText(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidText("plain\ttext\n"))
	assert.False(t, ValidText("cr\r"))
	assert.False(t, ValidText("nul\x00"))
	assert.False(t, ValidText("\xff"))
}
