//go:build !(linux || darwin)

package platform

import "errors"

// Xattr is one extended attribute.
type Xattr struct {
	Name  string
	Value []byte
}

// Mkfifo is not supported on this platform.
func Mkfifo(path string, perm uint32) error {
	return errors.ErrUnsupported
}

// Mknod is not supported on this platform.
func Mknod(path string, perm uint32, char bool, major, minor uint32) error {
	return errors.ErrUnsupported
}

// SetXattr is not supported on this platform.
func SetXattr(path, name string, value []byte) error {
	return errors.ErrUnsupported
}

// ListXattrs reports no attributes on this platform.
func ListXattrs(path string) ([]Xattr, error) {
	return nil, nil
}
