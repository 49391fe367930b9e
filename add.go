package xar

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/meigma/xar/internal/pathutil"
	"github.com/meigma/xar/internal/toc"
)

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: entry name %q", ErrInvalidName, name)
	}
	return nil
}

func (a *Archive) prepareAdd(parent *Entry, name string) error {
	if err := a.writable(); err != nil {
		return err
	}
	if parent != nil {
		if err := a.owns(parent); err != nil {
			return err
		}
	}
	return checkName(name)
}

// AddEntry adds an entry without payload under parent (nil for top level).
func (a *Archive) AddEntry(parent *Entry, name string, info EntryInfo) (*Entry, error) {
	if err := a.prepareAdd(parent, name); err != nil {
		return nil, a.fail(ClassCreation, "add", nil, err)
	}
	e := a.doc.NewEntry(parent, name)
	a.applyInfo(e, info)
	return e, nil
}

// AddDirectory adds a directory entry.
func (a *Archive) AddDirectory(parent *Entry, name string, info EntryInfo) (*Entry, error) {
	info.Type = TypeDirectory
	if info.Mode == 0 {
		info.Mode = 0o755
	}
	return a.AddEntry(parent, name, info)
}

// AddFromBytes adds a regular file holding b with mode 0644.
func (a *Archive) AddFromBytes(parent *Entry, name string, b []byte) (*Entry, error) {
	return a.AddFromReader(parent, name, EntryInfo{Type: TypeFile, Mode: 0o644}, bytes.NewReader(b))
}

// AddFromReader adds a regular file whose payload is read from r until EOF.
func (a *Archive) AddFromReader(parent *Entry, name string, info EntryInfo, r io.Reader) (*Entry, error) {
	if err := a.prepareAdd(parent, name); err != nil {
		return nil, a.fail(ClassCreation, "add", nil, err)
	}
	if info.Type != "" && info.Type != TypeFile {
		return nil, a.fail(ClassCreation, "add", nil, fmt.Errorf("%w: payload for %s entry", ErrUsage, info.Type))
	}
	data, err := a.encodePayload(r)
	if err != nil {
		return nil, a.fail(ClassCreation, "add", nil, err)
	}
	info.Type = TypeFile
	e := a.doc.NewEntry(parent, name)
	a.applyInfo(e, info)
	e.AppendProp(data)
	return e, nil
}

// AddFromPath adds the filesystem object at path as name under parent,
// using the archive's FileSystem. Regular files sharing an inode become
// hardlink entries pointing at the first one added.
func (a *Archive) AddFromPath(parent *Entry, name, path string) (*Entry, error) {
	if err := a.prepareAdd(parent, name); err != nil {
		return nil, a.fail(ClassCreation, "add", nil, err)
	}
	info, err := a.cfg.fs.Stat(path)
	if err != nil {
		return nil, a.fail(ClassCreation, "stat "+path, nil, fmt.Errorf("%w: %w", ErrResource, err))
	}

	var e *Entry
	switch {
	case info.Type == TypeFile && info.Links > 1 && a.inodes[info.Inode] != nil:
		orig := a.inodes[info.Inode]
		e = a.doc.NewEntry(parent, name)
		info.Type = TypeHardlink
		a.applyInfo(e, info)
		_ = e.SetAttr(toc.KeyType, toc.AttrLink, orig.ID()) //nolint:errcheck // constant key
		return e, nil

	case info.Type == TypeFile:
		f, err := a.cfg.fs.Open(path)
		if err != nil {
			return nil, a.fail(ClassCreation, "open "+path, nil, fmt.Errorf("%w: %w", ErrResource, err))
		}
		data, err := a.encodePayload(f)
		_ = f.Close() //nolint:errcheck // read-only
		if err != nil {
			return nil, a.fail(ClassCreation, "add "+path, nil, err)
		}
		e = a.doc.NewEntry(parent, name)
		a.applyInfo(e, info)
		if info.Links > 1 && info.Inode != 0 {
			_ = e.SetAttr(toc.KeyType, toc.AttrLink, "original") //nolint:errcheck // constant key
			a.inodes[info.Inode] = e
		}
		e.AppendProp(data)

	default:
		e = a.doc.NewEntry(parent, name)
		a.applyInfo(e, info)
	}

	xattrs, err := a.cfg.fs.Xattrs(path)
	if err != nil {
		if rerr := a.report(SeverityWarning, ClassCreation, "xattrs", e, fmt.Errorf("%w: %w", ErrResource, err)); rerr != nil {
			return e, rerr
		}
	}
	for _, x := range xattrs {
		if err := a.AddExtendedAttribute(e, x.Name, x.Value); err != nil {
			return e, err
		}
	}
	return e, nil
}

// Add adds path and every missing ancestor directory. Existing ancestors
// are reused, so adding "a/b" then "a/c" yields one "a".
func (a *Archive) Add(path string) (*Entry, error) {
	if err := a.writable(); err != nil {
		return nil, a.fail(ClassCreation, "add", nil, err)
	}
	slash := filepath.ToSlash(path)
	parts := pathutil.Split(slash)
	if len(parts) == 0 || !pathutil.Safe(strings.Join(parts, "/")) {
		return nil, a.fail(ClassCreation, "add", nil, fmt.Errorf("%w: path %q", ErrInvalidName, path))
	}
	prefix := ""
	if strings.HasPrefix(slash, "/") {
		prefix = "/"
	}

	var parent *Entry
	for i, part := range parts {
		var existing *Entry
		if parent == nil {
			existing, _ = a.doc.Lookup(part)
		} else {
			existing = parent.Child(part)
		}
		if existing != nil {
			parent = existing
			continue
		}
		src := filepath.FromSlash(prefix + strings.Join(parts[:i+1], "/"))
		e, err := a.AddFromPath(parent, part, src)
		if err != nil {
			return nil, err
		}
		parent = e
	}
	return parent, nil
}

// AddFromArchive copies srcEntry from another archive open for reading.
//
// The payload is copied verbatim when its encoding already matches this
// archive's compression or recompress is off. Otherwise it is decoded,
// verified and re-encoded.
func (a *Archive) AddFromArchive(parent *Entry, name string, src *Archive, srcEntry *Entry) (*Entry, error) {
	if err := a.prepareAdd(parent, name); err != nil {
		return nil, a.fail(ClassCreation, "add", nil, err)
	}
	if src == nil || src.mode != modeRead {
		return nil, a.fail(ClassCreation, "add", nil, fmt.Errorf("%w: source archive is not open for reading", ErrWrongMode))
	}
	if src.closed {
		return nil, a.fail(ClassCreation, "add", nil, ErrClosed)
	}
	if err := src.owns(srcEntry); err != nil {
		return nil, a.fail(ClassCreation, "add", nil, err)
	}

	var props []*toc.Property
	for _, p := range srcEntry.Props() {
		if p.Key == toc.KeyName {
			continue
		}
		c := p.Clone()
		switch c.Key {
		case toc.KeyType:
			if err := a.relink(c, src); err != nil {
				return nil, a.fail(ClassCreation, "add", srcEntry, err)
			}
		case toc.KeyData:
			data, err := a.copyData(src, p)
			if err != nil {
				return nil, a.fail(ClassCreation, "add", srcEntry, err)
			}
			c = data
		case toc.KeyEA:
			for i, child := range c.Children {
				if child.Key != toc.KeyData {
					continue
				}
				data, err := a.copyData(src, p.Children[i])
				if err != nil {
					return nil, a.fail(ClassCreation, "add", srcEntry, err)
				}
				c.Children[i] = data
			}
		}
		props = append(props, c)
	}

	e := a.doc.NewEntry(parent, name)
	e.Attrs = append([]toc.Attr(nil), srcEntry.Attrs...)
	for _, p := range props {
		e.AppendProp(p)
	}
	a.copies[copyKey{src.doc, srcEntry.ID()}] = e
	return e, nil
}

// copyKey identifies an entry copied in from another archive.
type copyKey struct {
	doc *toc.Document
	id  string
}

// relink points a copied hardlink at the copy of its target. The target
// must have been copied from the same source archive first.
func (a *Archive) relink(typ *toc.Property, src *Archive) error {
	id, ok := typ.Attr(toc.AttrLink)
	if !ok || id == "original" {
		return nil
	}
	target, ok := a.copies[copyKey{src.doc, id}]
	if !ok {
		return fmt.Errorf("%w: hardlink target %q has not been copied", ErrUsage, id)
	}
	typ.SetAttr(toc.AttrLink, target.ID())
	return nil
}

func (a *Archive) copyData(src *Archive, p *toc.Property) (*toc.Property, error) {
	ref, err := parseData(p)
	if err != nil {
		return nil, err
	}
	if ref.alg != a.compressionAlgorithm() && a.optBool(OptRecompress) {
		pr, err := src.openData(p)
		if err != nil {
			return nil, err
		}
		defer pr.Close()
		return a.encodePayload(pr)
	}

	sec, err := src.heapR.Section(ref.offset, ref.length)
	if err != nil {
		return nil, err
	}
	block, err := a.heapW.Begin(ref.style)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyBuffer(block, sec, make([]byte, a.optInt(OptReadSize, defaultReadSize))); err != nil {
		_ = block.Abort() //nolint:errcheck // original error wins
		return nil, fmt.Errorf("%w: copy payload: %w", ErrResource, err)
	}
	ext, _, err := block.Commit()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}

	out := p.Clone()
	off := out.Child(dataOffset)
	off.Value = strconv.FormatUint(ext.Offset, 10)
	a.offsets = append(a.offsets, off)
	return out, nil
}

// AddExtendedAttribute attaches a named fork holding data to e.
func (a *Archive) AddExtendedAttribute(e *Entry, name string, data []byte) error {
	if err := a.writable(); err != nil {
		return a.fail(ClassCreation, "add attribute", e, err)
	}
	if err := a.owns(e); err != nil {
		return a.fail(ClassCreation, "add attribute", nil, err)
	}
	if name == "" || !toc.ValidText(name) {
		return a.fail(ClassCreation, "add attribute", e, fmt.Errorf("%w: attribute %q", ErrInvalidName, name))
	}
	prop, err := a.encodePayload(bytes.NewReader(data))
	if err != nil {
		return a.fail(ClassCreation, "add attribute", e, err)
	}
	ea := &toc.Property{
		Key:   toc.KeyEA,
		Attrs: []toc.Attr{{Name: toc.AttrID, Value: strconv.Itoa(a.eaSeq)}},
		Children: []*toc.Property{
			{Key: toc.KeyName, Value: name},
			prop,
		},
	}
	a.eaSeq++
	e.AppendProp(ea)
	return nil
}

// applyInfo records metadata on a fresh entry, honoring ownership and the
// property filters.
func (a *Archive) applyInfo(e *Entry, info EntryInfo) {
	set := func(key, value string) {
		if a.recordable(strings.SplitN(key, "/", 2)[0]) {
			_, _ = e.Set(key, value) //nolint:errcheck // constant keys
		}
	}
	typ := info.Type
	if typ == "" {
		typ = TypeFile
	}
	_, _ = e.Set(toc.KeyType, typ) //nolint:errcheck // constant key

	if typ == TypeSymlink {
		set(toc.KeyLink, info.LinkTarget)
	}
	if info.Mode != 0 || typ == TypeFile || typ == TypeDirectory {
		set(toc.KeyMode, toc.FormatMode(info.Mode))
	}
	ownership, _ := a.Option(OptOwnership)
	if info.OwnerSet {
		set(toc.KeyUID, strconv.Itoa(info.UID))
	}
	if ownership == OwnershipSymbolic && info.User != "" {
		set(toc.KeyUser, info.User)
	}
	if info.OwnerSet {
		set(toc.KeyGID, strconv.Itoa(info.GID))
	}
	if ownership == OwnershipSymbolic && info.Group != "" {
		set(toc.KeyGroup, info.Group)
	}
	for _, t := range []struct {
		key string
		at  time.Time
	}{
		{toc.KeyATime, info.AccessTime},
		{toc.KeyMTime, info.ModTime},
		{toc.KeyCTime, info.ChangeTime},
	} {
		if !t.at.IsZero() && a.recordable(t.key) {
			e.SetTime(t.key, t.at)
		}
	}
	if typ == TypeCharDev || typ == TypeBlockDev {
		set(toc.KeyDeviceMajor, strconv.FormatUint(uint64(info.DeviceMajor), 10))
		set(toc.KeyDeviceMinor, strconv.FormatUint(uint64(info.DeviceMinor), 10))
	}
	if info.Inode != 0 {
		set(toc.KeyInode, strconv.FormatUint(info.Inode, 10))
	}
}
