//go:build !windows

package tailwatcher

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode number so rotation (rename-then-create) can
// be distinguished from in-place truncation: a rename preserves neither
// inode identity across old/new file.
func inodeOf(info os.FileInfo) uint64 {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return st.Ino
}
