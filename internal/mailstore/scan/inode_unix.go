//go:build unix

package scan

import (
	"io/fs"
	"syscall"
)

// inodeOf extracts the inode number backing info, used to order the lazy
// header parse pass the way spinning-media seek locality wants (spec
// §4.E).
func inodeOf(info fs.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Ino)
	}
	return 0
}
