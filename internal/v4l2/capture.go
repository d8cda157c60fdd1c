// +build linux

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Capture binds a V4L2 capture device to N externally-owned DMA-BUF file
// descriptors (see internal/dmaheap). It never allocates or frees the
// buffers themselves -- only queues and dequeues them by index.
type Capture struct {
	fd int

	Width        uint32
	Height       uint32
	SizeImage    uint32
	BytesPerLine uint32

	numBuffers int
	dmabufFDs  []int32

	streaming bool
}

// OpenCapture opens device, verifies it is a streaming capture device, sets
// the requested pixel format, binds the given DMA-BUF fds as its buffers,
// queues all of them, and starts streaming. The caller retains ownership of
// dmabufFDs; Capture only ever QBUFs/DQBUFs them by index.
func OpenCapture(device string, fourcc uint32, dmabufFDs []int32) (*Capture, error) {
	fd, err := unix.Open(device, unix.O_RDWR, 0)
	if err != nil {
		return nil, newError(QueryCapFailed, "open", err)
	}

	c := &Capture{fd: fd, numBuffers: len(dmabufFDs), dmabufFDs: dmabufFDs}

	var cap capability
	if err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&cap)); err != nil {
		unix.Close(fd)
		return nil, newError(QueryCapFailed, "VIDIOC_QUERYCAP", err)
	}
	if !cap.has(capVideoCapture) {
		unix.Close(fd)
		return nil, newError(NotCaptureDevice, "VIDIOC_QUERYCAP", nil)
	}
	if !cap.has(capStreaming) {
		unix.Close(fd)
		return nil, newError(NoStreaming, "VIDIOC_QUERYCAP", nil)
	}

	// G_FMT first, mirroring the driver-narrowing contract: the format we
	// end up with is whatever S_FMT echoes back, but probing first matches
	// the order real V4L2 client code uses.
	fmt := format{typ: bufTypeVideoCapture}
	if err := ioctl(fd, vidiocGFmt, unsafe.Pointer(&fmt)); err != nil {
		unix.Close(fd)
		return nil, newError(GetFormatFailed, "VIDIOC_G_FMT", err)
	}

	fmt = format{typ: bufTypeVideoCapture}
	fmt.pix.pixelFormat = fourcc
	fmt.pix.field = fieldNone
	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&fmt)); err != nil {
		unix.Close(fd)
		return nil, newError(SetFormatFailed, "VIDIOC_S_FMT", err)
	}
	c.Width = fmt.pix.width
	c.Height = fmt.pix.height
	c.SizeImage = fmt.pix.sizeImage
	c.BytesPerLine = fmt.pix.bytesPerLine

	rb := requestBuffers{count: uint32(len(dmabufFDs)), typ: bufTypeVideoCapture, memory: memoryDMABUF}
	if err := ioctl(fd, vidiocReqBufs, unsafe.Pointer(&rb)); err != nil {
		unix.Close(fd)
		return nil, newError(ReqBufsFailed, "VIDIOC_REQBUFS", err)
	}

	for i, dfd := range dmabufFDs {
		if err := c.queueLocked(i, dfd); err != nil {
			unix.Close(fd)
			return nil, newError(QBufFailed, "VIDIOC_QBUF", err)
		}
	}

	typ := uint32(bufTypeVideoCapture)
	if err := ioctl(fd, vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		unix.Close(fd)
		return nil, newError(StreamOnFailed, "VIDIOC_STREAMON", err)
	}
	c.streaming = true

	return c, nil
}

// ProbeFormat opens device just long enough to negotiate fourcc and read
// back the driver-narrowed format, then closes it. The Session Supervisor
// uses this to learn sizeimage before allocating DMA-BUFs, since
// OpenCapture needs those buffers' file descriptors up front.
func ProbeFormat(device string, fourcc uint32) (width, height, sizeImage, bytesPerLine uint32, err error) {
	fd, oerr := unix.Open(device, unix.O_RDWR, 0)
	if oerr != nil {
		return 0, 0, 0, 0, newError(QueryCapFailed, "open", oerr)
	}
	defer unix.Close(fd)

	fmt := format{typ: bufTypeVideoCapture}
	fmt.pix.pixelFormat = fourcc
	fmt.pix.field = fieldNone
	if ierr := ioctl(fd, vidiocSFmt, unsafe.Pointer(&fmt)); ierr != nil {
		return 0, 0, 0, 0, newError(SetFormatFailed, "VIDIOC_S_FMT", ierr)
	}

	return fmt.pix.width, fmt.pix.height, fmt.pix.sizeImage, fmt.pix.bytesPerLine, nil
}

func (c *Capture) queueLocked(index int, dmabufFD int32) error {
	b := buffer{typ: bufTypeVideoCapture, memory: memoryDMABUF, index: uint32(index)}
	b.setFD(dmabufFD)
	return ioctl(c.fd, vidiocQBuf, unsafe.Pointer(&b))
}

// Queue returns buffer index to the driver. Must be called for every
// successful Dequeue, unless the encoder is about to consume the same
// index directly.
func (c *Capture) Queue(index int) error {
	if err := c.queueLocked(index, c.dmabufFDs[index]); err != nil {
		return newError(QBufFailed, "VIDIOC_QBUF", err)
	}
	return nil
}

// Dequeue blocks via file-descriptor readiness up to timeoutMs, then
// dequeues one filled buffer. Returns a *Error with Kind == Timeout if the
// deadline elapses first; callers decide whether to retry.
func (c *Capture) Dequeue(timeoutMs int) (index int, bytesUsed int, err error) {
	pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, perr := unix.Poll(pfd, timeoutMs)
	if perr != nil {
		return 0, 0, newError(PollFailed, "poll", perr)
	}
	if n == 0 {
		return 0, 0, newError(Timeout, "poll", nil)
	}

	b := buffer{typ: bufTypeVideoCapture, memory: memoryDMABUF}
	if err := ioctl(c.fd, vidiocDQBuf, unsafe.Pointer(&b)); err != nil {
		return 0, 0, newError(DQBufFailed, "VIDIOC_DQBUF", err)
	}
	return int(b.index), int(b.bytesUsed), nil
}

// Close stops streaming, then closes the device. Buffer fds are not owned
// by Capture and are left open.
func (c *Capture) Close() error {
	if c.streaming {
		typ := uint32(bufTypeVideoCapture)
		ioctl(c.fd, vidiocStreamOff, unsafe.Pointer(&typ))
		c.streaming = false
	}
	return unix.Close(c.fd)
}
