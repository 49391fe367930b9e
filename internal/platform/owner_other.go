//go:build !unix

package platform

import "io/fs"

// FileOwner returns zero UID/GID on non-Unix systems.
func FileOwner(info fs.FileInfo) (uid, gid uint32) {
	return 0, 0
}

// Inode is not available on non-Unix systems.
func Inode(info fs.FileInfo) (ino, nlink uint64, ok bool) {
	return 0, 0, false
}

// Device is not available on non-Unix systems.
func Device(info fs.FileInfo) (major, minor uint32, ok bool) {
	return 0, 0, false
}
