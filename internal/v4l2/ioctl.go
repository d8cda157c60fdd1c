// +build linux

package v4l2

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl issues a V4L2 ioctl against fd, transparently retrying on EINTR.
// Every other component in this package goes through here rather than
// calling unix.Syscall directly, so the retry rule only has to be written
// once.
func ioctl(fd int, request uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno == syscall.EINTR {
			continue
		}
		return errno
	}
}
