//go:build linux

package platform

import (
	"io/fs"
	"syscall"
	"time"
)

// StatTimes returns the access and change times of a file.
func StatTimes(info fs.FileInfo) (atime, ctime time.Time, ok bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(stat.Atim.Unix()), time.Unix(stat.Ctim.Unix()), true
}
