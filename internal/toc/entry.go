package toc

import (
	"encoding/base64"
	"io/fs"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Entry types as recorded in the "type" property.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
	TypeSymlink   = "symlink"
	TypeHardlink  = "hardlink"
	TypeFIFO      = "fifo"
	TypeCharDev   = "character special"
	TypeBlockDev  = "block special"
	TypeSocket    = "socket"
)

// Well-known property keys.
const (
	KeyName         = "name"
	KeyType         = "type"
	KeyMode         = "mode"
	KeyUID          = "uid"
	KeyGID          = "gid"
	KeyUser         = "user"
	KeyGroup        = "group"
	KeyMTime        = "mtime"
	KeyATime        = "atime"
	KeyCTime        = "ctime"
	KeyLink         = "link"
	KeyDevice       = "device"
	KeyDeviceMajor  = "device/major"
	KeyDeviceMinor  = "device/minor"
	KeyInode        = "inode"
	KeyData         = "data"
	KeyDataLength   = "data/length"
	KeyDataOffset   = "data/offset"
	KeyDataSize     = "data/size"
	KeyDataEncoding = "data/encoding"
	KeyArchivedSum  = "data/archived-checksum"
	KeyExtractedSum = "data/extracted-checksum"
	KeyEA           = "ea"
)

// Attribute names used by the engine.
const (
	AttrStyle   = "style"
	AttrEncType = "enctype"
	AttrID      = "id"
	AttrLink    = "link"

	EncTypeBase64 = "base64"
)

// TimeFormat is the layout of time properties.
const TimeFormat = "2006-01-02T15:04:05Z"

// Entry is one file, directory, link or special file in the tree.
type Entry struct {
	Node

	id       string
	parent   *Entry
	children []*Entry
	doc      *Document

	// Attrs holds attributes of the file element other than its id.
	Attrs []Attr
}

// ID returns the entry's unique identifier.
func (e *Entry) ID() string {
	return e.id
}

// Parent returns the parent entry, or nil for top-level entries.
func (e *Entry) Parent() *Entry {
	return e.parent
}

// Children returns the direct children in insertion order.
func (e *Entry) Children() []*Entry {
	return e.children
}

// Document returns the document that owns the entry.
func (e *Entry) Document() *Document {
	return e.doc
}

// Child returns the first child named name.
func (e *Entry) Child(name string) *Entry {
	for _, c := range e.children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// Name returns the decoded entry name.
func (e *Entry) Name() string {
	p, ok := e.Property(KeyName)
	if !ok {
		return ""
	}
	if enc, ok := p.Attr(AttrEncType); ok && enc == EncTypeBase64 {
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(p.Value))
		if err != nil {
			return p.Value
		}
		return string(b)
	}
	return p.Value
}

// SetName stores name. Names that cannot be carried as XML text are
// written base64 encoded by Marshal.
func (e *Entry) SetName(name string) {
	p, _ := e.Set(KeyName, name) //nolint:errcheck // constant key
	p.UnsetAttr(AttrEncType)
}

// Path returns the slash-separated path from the top of the tree.
func (e *Entry) Path() string {
	var parts []string
	for cur := e; cur != nil; cur = cur.parent {
		parts = append(parts, cur.Name())
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Type returns the entry type, defaulting to TypeFile.
func (e *Entry) Type() string {
	if t, ok := e.Get(KeyType); ok && t != "" {
		return t
	}
	return TypeFile
}

// Size returns the uncompressed payload size.
func (e *Entry) Size() (uint64, bool) {
	return e.uintProp(KeyDataSize)
}

// Length returns the archived payload length.
func (e *Entry) Length() (uint64, bool) {
	return e.uintProp(KeyDataLength)
}

// Offset returns the payload's heap offset.
func (e *Entry) Offset() (uint64, bool) {
	return e.uintProp(KeyDataOffset)
}

// HasData reports whether the entry carries a payload reference.
func (e *Entry) HasData() bool {
	_, ok := e.Property(KeyDataOffset)
	return ok
}

// Mode returns the permission and special bits stored in "mode".
func (e *Entry) Mode() (fs.FileMode, bool) {
	v, ok := e.Get(KeyMode)
	if !ok {
		return 0, false
	}
	m, err := strconv.ParseUint(strings.TrimSpace(v), 8, 32)
	if err != nil {
		return 0, false
	}
	return FromUnixMode(uint32(m)), true
}

// Owner returns the symbolic user name, falling back to the uid.
func (e *Entry) Owner() string {
	if v, ok := e.Get(KeyUser); ok && v != "" {
		return v
	}
	v, _ := e.Get(KeyUID)
	return v
}

// Group returns the symbolic group name, falling back to the gid.
func (e *Entry) Group() string {
	if v, ok := e.Get(KeyGroup); ok && v != "" {
		return v
	}
	v, _ := e.Get(KeyGID)
	return v
}

// UID returns the numeric owner.
func (e *Entry) UID() (int, bool) {
	return e.intProp(KeyUID)
}

// GID returns the numeric group.
func (e *Entry) GID() (int, bool) {
	return e.intProp(KeyGID)
}

// ModTime returns the modification time.
func (e *Entry) ModTime() (time.Time, bool) {
	return e.Time(KeyMTime)
}

// Time parses a time property.
func (e *Entry) Time(key string) (time.Time, bool) {
	v, ok := e.Get(key)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(TimeFormat, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetTime stores t in UTC.
func (e *Entry) SetTime(key string, t time.Time) {
	_, _ = e.Set(key, t.UTC().Format(TimeFormat)) //nolint:errcheck // constant key
}

// ExtendedAttributes returns the extended attribute forks in order.
func (e *Entry) ExtendedAttributes() []*Property {
	var out []*Property
	for _, p := range e.props {
		if p.Key == KeyEA {
			out = append(out, p)
		}
	}
	return out
}

// ExtendedAttribute returns the fork named name.
func (e *Entry) ExtendedAttribute(name string) *Property {
	for _, p := range e.ExtendedAttributes() {
		if n := p.Child(KeyName); n != nil && n.Value == name {
			return p
		}
	}
	return nil
}

func (e *Entry) uintProp(key string) (uint64, bool) {
	v, ok := e.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (e *Entry) intProp(key string) (int, bool) {
	v, ok := e.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ValidText reports whether s can be stored as XML character data and read
// back unchanged.
func ValidText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n':
		case r == '\r':
			return false
		case r >= 0x20 && r <= 0xD7FF:
		case r >= 0xE000 && r <= 0xFFFD:
		case r >= 0x10000 && r <= 0x10FFFF:
		default:
			return false
		}
	}
	return true
}

// Unix mode bits for setuid, setgid and sticky.
const (
	modeSetuid = 0o4000
	modeSetgid = 0o2000
	modeSticky = 0o1000
)

// FromUnixMode converts stored mode bits to an fs.FileMode.
func FromUnixMode(m uint32) fs.FileMode {
	mode := fs.FileMode(m & 0o777)
	if m&modeSetuid != 0 {
		mode |= fs.ModeSetuid
	}
	if m&modeSetgid != 0 {
		mode |= fs.ModeSetgid
	}
	if m&modeSticky != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

// UnixMode converts an fs.FileMode to stored mode bits.
func UnixMode(mode fs.FileMode) uint32 {
	m := uint32(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		m |= modeSetuid
	}
	if mode&fs.ModeSetgid != 0 {
		m |= modeSetgid
	}
	if mode&fs.ModeSticky != 0 {
		m |= modeSticky
	}
	return m
}

// FormatMode renders mode bits the way they are stored.
func FormatMode(mode fs.FileMode) string {
	return "0" + strconv.FormatUint(uint64(UnixMode(mode)), 8)
}
