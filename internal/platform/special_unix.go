//go:build linux || darwin

package platform

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Xattr is one extended attribute.
type Xattr struct {
	Name  string
	Value []byte
}

// Mkfifo creates a named pipe.
func Mkfifo(path string, perm uint32) error {
	return unix.Mkfifo(path, perm)
}

// Mknod creates a character (char=true) or block device node.
func Mknod(path string, perm uint32, char bool, major, minor uint32) error {
	mode := perm | unix.S_IFBLK
	if char {
		mode = perm | unix.S_IFCHR
	}
	return unix.Mknod(path, mode, int(unix.Mkdev(major, minor))) //nolint:gosec // device numbers fit
}

// SetXattr sets an extended attribute without following symlinks.
func SetXattr(path, name string, value []byte) error {
	return unix.Lsetxattr(path, name, value, 0)
}

// ListXattrs returns every extended attribute of path in the order the
// filesystem reports them.
func ListXattrs(path string) ([]Xattr, error) {
	size, err := unix.Llistxattr(path, nil)
	if err != nil {
		if errors.Is(err, unix.ENOTSUP) {
			return nil, nil
		}
		return nil, fmt.Errorf("list xattrs: %w", err)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	size, err = unix.Llistxattr(path, buf)
	if err != nil {
		return nil, fmt.Errorf("list xattrs: %w", err)
	}
	var out []Xattr
	for _, name := range splitNames(buf[:size]) {
		n, err := unix.Lgetxattr(path, name, nil)
		if err != nil {
			return nil, fmt.Errorf("get xattr %s: %w", name, err)
		}
		val := make([]byte, n)
		if n > 0 {
			if n, err = unix.Lgetxattr(path, name, val); err != nil {
				return nil, fmt.Errorf("get xattr %s: %w", name, err)
			}
		}
		out = append(out, Xattr{Name: name, Value: val[:n]})
	}
	return out, nil
}

func splitNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
