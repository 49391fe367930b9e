//go:build !linux && !darwin

package platform

import (
	"io/fs"
	"time"
)

// StatTimes is not available on this platform.
func StatTimes(info fs.FileInfo) (atime, ctime time.Time, ok bool) {
	return time.Time{}, time.Time{}, false
}
