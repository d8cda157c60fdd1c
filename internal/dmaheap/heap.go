// +build linux

// Package dmaheap allocates page-aligned DMA-BUF file descriptors from the
// kernel's DMA-BUF heap subsystem (/dev/dma_heap/*). Buffers allocated here
// are handed by file descriptor to both the V4L2 capture device and the
// V4L2 M2M encoder, which queue and dequeue them without ever mapping or
// copying the pixel data in user space.
//
// The ioctl wrapping follows the same style as internal/v4l2: a flat Go
// struct mirrors the kernel's struct dma_heap_allocation_data, and a single
// retrying ioctl() helper issues the request.
package dmaheap

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultHeap is the heap most Linux systems expose for contiguous,
// cache-coherent allocations suitable for V4L2 DMABUF import.
const DefaultHeap = "/dev/dma_heap/linux,cma"

// dmaHeapIoctlAlloc is DMA_HEAP_IOCTL_ALLOC, computed from
// _IOWR('H', 0x0, struct dma_heap_allocation_data) where the struct is
// 24 bytes (u64 len, u32 fd, u32 fd_flags, u64 heap_flags).
const dmaHeapIoctlAlloc = 0xc0184800

const (
	fdFlagCloExec = 0x80000
	fdFlagRDWR    = 0x2
)

type allocationData struct {
	len       uint64
	fd        uint32
	fdFlags   uint32
	heapFlags uint64
}

// AllocFailed indicates the kernel refused a DMA-BUF allocation request,
// e.g. because the heap is exhausted or size is zero.
type AllocFailed struct {
	Size int
	Err  error
}

func (e *AllocFailed) Error() string {
	return fmt.Sprintf("dmaheap: alloc %d bytes: %v", e.Size, e.Err)
}

func (e *AllocFailed) Unwrap() error { return e.Err }

// DmaBuffer is an opaque kernel file descriptor plus byte length. It is
// exclusively owned by the process that allocated it; the fd itself may be
// shared (by value, not by duplication) with V4L2 devices via QBUF. A
// DmaBuffer is created at session start and destroyed at session teardown;
// at any instant it is queued on at most one V4L2 queue, or idle.
type DmaBuffer struct {
	FD   int
	Size int
}

// Heap is scoped to a capture session: it allocates N DmaBuffers up front
// and releases them all on Close.
type Heap struct {
	path string
	fd   int
	bufs []DmaBuffer
}

// Open opens the DMA-BUF heap device at path. The handle must be closed
// with Close once every allocated DmaBuffer has been released.
func Open(path string) (*Heap, error) {
	if path == "" {
		path = DefaultHeap
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &AllocFailed{Err: err}
	}
	return &Heap{path: path, fd: fd}, nil
}

// Alloc allocates N page-aligned buffers of size bytes each. size is
// expected to equal the capture device's reported sizeimage. On failure,
// any buffers already allocated in this call are closed before returning.
func (h *Heap) Alloc(n int, size int) ([]DmaBuffer, error) {
	bufs := make([]DmaBuffer, 0, n)
	for i := 0; i < n; i++ {
		buf, err := h.alloc(size)
		if err != nil {
			for _, b := range bufs {
				unix.Close(b.FD)
			}
			return nil, err
		}
		bufs = append(bufs, buf)
	}
	h.bufs = append(h.bufs, bufs...)
	return bufs, nil
}

func (h *Heap) alloc(size int) (DmaBuffer, error) {
	req := allocationData{
		len:     uint64(size),
		fdFlags: fdFlagCloExec | fdFlagRDWR,
	}
	if err := ioctl(h.fd, dmaHeapIoctlAlloc, unsafe.Pointer(&req)); err != nil {
		return DmaBuffer{}, &AllocFailed{Size: size, Err: err}
	}
	return DmaBuffer{FD: int(req.fd), Size: size}, nil
}

// Close releases every buffer allocated through this heap and closes the
// heap device itself. Safe to call once.
func (h *Heap) Close() error {
	for _, b := range h.bufs {
		unix.Close(b.FD)
	}
	h.bufs = nil
	return unix.Close(h.fd)
}

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
