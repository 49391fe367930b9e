package xar

import (
	"io"
	"io/fs"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/meigma/xar/internal/platform"
)

// EntryInfo is the metadata recorded for an entry.
//
// Zero values are omitted from the TOC, except Mode for files and
// directories.
type EntryInfo struct {
	// Type is one of the Type* constants (default: TypeFile).
	Type string

	// Mode holds permission, setuid, setgid and sticky bits.
	Mode fs.FileMode

	// UID and GID are recorded when OwnerSet is true.
	UID, GID int
	OwnerSet bool

	// User and Group are recorded under symbolic ownership.
	User, Group string

	ModTime    time.Time
	AccessTime time.Time
	ChangeTime time.Time

	// LinkTarget is the target of a symlink.
	LinkTarget string

	// DeviceMajor and DeviceMinor identify character and block devices.
	DeviceMajor, DeviceMinor uint32

	// Inode and Links identify hard links among entries added from paths.
	Inode uint64
	Links uint64
}

// FileSystem is the collaborator AddFromPath uses to inspect and read
// source files. Implementations decide how owners are named.
type FileSystem interface {
	// Stat describes path without following a final symlink.
	Stat(path string) (EntryInfo, error)

	// Open opens a regular file for reading.
	Open(path string) (io.ReadCloser, error)

	// Xattrs lists the extended attributes of path.
	Xattrs(path string) ([]Xattr, error)
}

// Xattr is one extended attribute.
type Xattr = platform.Xattr

// OSFileSystem reads from the local filesystem.
type OSFileSystem struct{}

var _ FileSystem = OSFileSystem{}

// Stat implements FileSystem.
func (OSFileSystem) Stat(path string) (EntryInfo, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return EntryInfo{}, err
	}
	info := InfoFromFileInfo(fi)
	if info.Type == TypeSymlink {
		target, err := os.Readlink(path)
		if err != nil {
			return EntryInfo{}, err
		}
		info.LinkTarget = target
	}
	if u, err := user.LookupId(strconv.Itoa(info.UID)); err == nil {
		info.User = u.Username
	}
	if g, err := user.LookupGroupId(strconv.Itoa(info.GID)); err == nil {
		info.Group = g.Name
	}
	return info, nil
}

// Open implements FileSystem.
func (OSFileSystem) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Xattrs implements FileSystem.
func (OSFileSystem) Xattrs(path string) ([]Xattr, error) {
	return platform.ListXattrs(path)
}

// InfoFromFileInfo converts an fs.FileInfo into EntryInfo. Owner names are
// left empty.
func InfoFromFileInfo(fi fs.FileInfo) EntryInfo {
	m := fi.Mode()
	info := EntryInfo{
		Type:    typeFromMode(m),
		Mode:    m & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky),
		ModTime: fi.ModTime(),
	}
	if fi.Sys() != nil {
		uid, gid := platform.FileOwner(fi)
		info.UID, info.GID, info.OwnerSet = int(uid), int(gid), true
	}
	if atime, ctime, ok := platform.StatTimes(fi); ok {
		info.AccessTime, info.ChangeTime = atime, ctime
	}
	if ino, nlink, ok := platform.Inode(fi); ok {
		info.Inode, info.Links = ino, nlink
	}
	if info.Type == TypeCharDev || info.Type == TypeBlockDev {
		if major, minor, ok := platform.Device(fi); ok {
			info.DeviceMajor, info.DeviceMinor = major, minor
		}
	}
	return info
}

func typeFromMode(m fs.FileMode) string {
	switch {
	case m.IsDir():
		return TypeDirectory
	case m&fs.ModeSymlink != 0:
		return TypeSymlink
	case m&fs.ModeNamedPipe != 0:
		return TypeFIFO
	case m&fs.ModeSocket != 0:
		return TypeSocket
	case m&fs.ModeCharDevice != 0:
		return TypeCharDev
	case m&fs.ModeDevice != 0:
		return TypeBlockDev
	default:
		return TypeFile
	}
}
