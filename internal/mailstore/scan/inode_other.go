//go:build !unix

package scan

import "io/fs"

// inodeOf has no portable equivalent outside unix; ordering degrades to
// discovery order, which is still a valid (if not seek-optimal) order.
func inodeOf(info fs.FileInfo) uint64 {
	return 0
}
