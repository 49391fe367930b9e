//go:build unix

package platform

import (
	"io/fs"
	"syscall"

	"golang.org/x/sys/unix"
)

// FileOwner extracts UID and GID from file info on Unix systems.
func FileOwner(info fs.FileInfo) (uid, gid uint32) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Uid, stat.Gid
	}
	return 0, 0
}

// Inode returns the inode number and link count of a file.
func Inode(info fs.FileInfo) (ino, nlink uint64, ok bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return uint64(stat.Ino), uint64(stat.Nlink), true //nolint:unconvert // width differs per platform
}

// Device returns the major and minor numbers of a device node.
func Device(info fs.FileInfo) (major, minor uint32, ok bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	rdev := uint64(stat.Rdev) //nolint:gosec,unconvert // width differs per platform
	return unix.Major(rdev), unix.Minor(rdev), true
}
