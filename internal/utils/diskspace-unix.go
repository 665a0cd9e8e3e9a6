//go:build linux || darwin

package utils

import "golang.org/x/sys/unix"

// FreeBytes returns the free space available on the filesystem
// containing path, used by the exit-code-5 disk-space precheck.
func FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
