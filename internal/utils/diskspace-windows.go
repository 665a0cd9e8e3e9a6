//go:build windows

package utils

import (
	"syscall"
	"unsafe"
)

// FreeBytes returns the free space available on the filesystem
// containing path, used by the exit-code-5 disk-space precheck.
func FreeBytes(path string) (uint64, error) {
	var freeBytesAvailable uint64
	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	proc := kernel32.NewProc("GetDiskFreeSpaceExW")
	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	ret, _, callErr := proc.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(unsafe.Pointer(&freeBytesAvailable)),
		0,
		0,
	)
	if ret == 0 {
		return 0, callErr
	}
	return freeBytesAvailable, nil
}
