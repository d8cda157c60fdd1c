// +build linux

package v4l2

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// EncoderConfig holds the tunables set during Encoder setup. GOPSize
// defaults to 3 and BFrames is fixed at 0 per the appliance's latency
// requirements; profile is pinned to H.264 constrained baseline so that the
// simplest hardware and software decoders can play the stream.
type EncoderConfig struct {
	Width, Height  uint32
	InputFourcc    uint32 // raw pixel format accepted on OUTPUT, e.g. UYVY
	InputSizeImage uint32
	InputBPL       uint32
	Bitrate        int
	GOPSize        int
}

// Encoder drives a V4L2 M2M device's two queues: OUTPUT (raw frames in,
// DMABUF, zero-copy from Capture) and CAPTURE (encoded NAL bytes out,
// mmap'd). Setup order follows the sequence documented in the component
// contract and must not be reordered: format both queues, apply controls,
// request buffers on both queues, map and pre-queue CAPTURE, then
// STREAMON OUTPUT before CAPTURE.
type Encoder struct {
	fd int

	dmabufFDs []int32

	captureMMAPs [][]byte
	captureLen   []uint32

	outputStreaming  bool
	captureStreaming bool
}

// OpenEncoder opens the M2M encoder device and binds its OUTPUT queue to
// dmabufFDs (the same DMA-BUFs Capture fills). numCaptureBufs chooses how
// many mmap'd CAPTURE slots the driver allocates; the driver may return
// fewer.
func OpenEncoder(device string, cfg EncoderConfig, dmabufFDs []int32, numCaptureBufs int) (*Encoder, error) {
	// O_NONBLOCK so a DQBUF on OUTPUT with nothing to reclaim yet returns
	// EAGAIN instead of blocking the single-threaded pump.
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, newError(QueryCapFailed, "open", err)
	}
	e := &Encoder{fd: fd, dmabufFDs: dmabufFDs}

	// 1. S_FMT OUTPUT.
	outFmt := format{typ: bufTypeVideoOutput}
	outFmt.pix.width = cfg.Width
	outFmt.pix.height = cfg.Height
	outFmt.pix.pixelFormat = cfg.InputFourcc
	outFmt.pix.sizeImage = cfg.InputSizeImage
	outFmt.pix.bytesPerLine = cfg.InputBPL
	outFmt.pix.field = fieldNone
	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&outFmt)); err != nil {
		unix.Close(fd)
		return nil, newError(SetFormatFailed, "VIDIOC_S_FMT(OUTPUT)", err)
	}

	// 2. S_FMT CAPTURE.
	capFmt := format{typ: bufTypeVideoCapture}
	capFmt.pix.width = cfg.Width
	capFmt.pix.height = cfg.Height
	capFmt.pix.pixelFormat = pixFmtH264
	capFmt.pix.field = fieldNone
	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&capFmt)); err != nil {
		unix.Close(fd)
		return nil, newError(SetFormatFailed, "VIDIOC_S_FMT(CAPTURE)", err)
	}

	// 3. Controls.
	gop := cfg.GOPSize
	if gop <= 0 {
		gop = 3
	}
	for _, c := range []struct {
		id    uint32
		value int32
	}{
		{cidBitrate, int32(cfg.Bitrate)},
		{cidGOPSize, int32(gop)},
		{cidH264BFrames, 0},
		{cidH264Profile, h264ProfileConstrainedBaseline},
		{cidRepeatSequenceHeader, 1},
	} {
		if err := e.setControl(c.id, c.value); err != nil {
			unix.Close(fd)
			return nil, newError(SetFormatFailed, "VIDIOC_S_EXT_CTRLS", err)
		}
	}

	// 4. REQBUFS OUTPUT, DMABUF.
	reqOut := requestBuffers{count: uint32(len(dmabufFDs)), typ: bufTypeVideoOutput, memory: memoryDMABUF}
	if err := ioctl(fd, vidiocReqBufs, unsafe.Pointer(&reqOut)); err != nil {
		unix.Close(fd)
		return nil, newError(ReqBufsFailed, "VIDIOC_REQBUFS(OUTPUT)", err)
	}

	// 5. REQBUFS CAPTURE, MMAP.
	reqCap := requestBuffers{count: uint32(numCaptureBufs), typ: bufTypeVideoCapture, memory: memoryMMAP}
	if err := ioctl(fd, vidiocReqBufs, unsafe.Pointer(&reqCap)); err != nil {
		unix.Close(fd)
		return nil, newError(ReqBufsFailed, "VIDIOC_REQBUFS(CAPTURE)", err)
	}

	// 6. Query, mmap, pre-queue every CAPTURE slot.
	n := int(reqCap.count)
	e.captureMMAPs = make([][]byte, n)
	e.captureLen = make([]uint32, n)
	for i := 0; i < n; i++ {
		qb := buffer{typ: bufTypeVideoCapture, memory: memoryMMAP, index: uint32(i)}
		if err := ioctl(fd, vidiocQueryBuf, unsafe.Pointer(&qb)); err != nil {
			e.unmapAll()
			unix.Close(fd)
			return nil, newError(QueryBufFailed, "VIDIOC_QUERYBUF", err)
		}
		mm, err := unix.Mmap(fd, int64(qb.offset()), int(qb.length), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			e.unmapAll()
			unix.Close(fd)
			return nil, newError(QueryBufFailed, "mmap", err)
		}
		e.captureMMAPs[i] = mm
		e.captureLen[i] = qb.length

		if err := ioctl(fd, vidiocQBuf, unsafe.Pointer(&qb)); err != nil {
			e.unmapAll()
			unix.Close(fd)
			return nil, newError(QBufFailed, "VIDIOC_QBUF(CAPTURE)", err)
		}
	}

	// 7. STREAMON OUTPUT, then CAPTURE.
	typOut := uint32(bufTypeVideoOutput)
	if err := ioctl(fd, vidiocStreamOn, unsafe.Pointer(&typOut)); err != nil {
		e.unmapAll()
		unix.Close(fd)
		return nil, newError(StreamOnFailed, "VIDIOC_STREAMON(OUTPUT)", err)
	}
	e.outputStreaming = true

	typCap := uint32(bufTypeVideoCapture)
	if err := ioctl(fd, vidiocStreamOn, unsafe.Pointer(&typCap)); err != nil {
		e.unmapAll()
		unix.Close(fd)
		return nil, newError(StreamOnFailed, "VIDIOC_STREAMON(CAPTURE)", err)
	}
	e.captureStreaming = true

	return e, nil
}

func (e *Encoder) unmapAll() {
	for _, mm := range e.captureMMAPs {
		if mm != nil {
			unix.Munmap(mm)
		}
	}
}

func (e *Encoder) setControl(id uint32, value int32) error {
	ctrls := [1]extControl{{id: id}}
	ctrls[0].setValue32(value)
	ec := extControls{ctrlClass: ctrlClassMPEG, count: 1, controls: uintptr(unsafe.Pointer(&ctrls[0]))}
	return ioctl(e.fd, vidiocSExtCtrls, unsafe.Pointer(&ec))
}

// ForceKeyFrame requests an out-of-band IDR on the next encode cycle.
func (e *Encoder) ForceKeyFrame() error {
	return e.setControl(cidForceKeyFrame, 1)
}

// Encode runs one cycle of the per-frame pump: queue the raw OUTPUT slot at
// index (bytesUsed valid bytes), poll for the encoder's response, dequeue
// one CAPTURE slot and return its encoded bytes, requeue that CAPTURE slot,
// then attempt a non-blocking reclaim of an OUTPUT slot.
//
// The returned []byte aliases the encoder's CAPTURE mmap region; it is only
// valid until the next call to Encode, since CAPTURE slots are requeued
// before Encode returns. Callers (the broadcaster) must finish using it
// before that point -- in practice this holds because the pump is
// single-threaded and the requeue happens inside this call, before the
// byte slice is handed back.
func (e *Encoder) Encode(index int, bytesUsed int) (encoded []byte, reclaimedIndex int, reclaimed bool, err error) {
	ob := buffer{typ: bufTypeVideoOutput, memory: memoryDMABUF, index: uint32(index), bytesUsed: uint32(bytesUsed)}
	ob.setFD(e.dmabufFDs[index])
	if err := ioctl(e.fd, vidiocQBuf, unsafe.Pointer(&ob)); err != nil {
		return nil, 0, false, newError(QBufFailed, "VIDIOC_QBUF(OUTPUT)", err)
	}

	pfd := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
	n, perr := unix.Poll(pfd, 5000)
	if perr != nil {
		return nil, 0, false, newError(PollFailed, "poll", perr)
	}
	if n == 0 {
		return nil, 0, false, newError(PollTimeout, "poll", nil)
	}

	cb := buffer{typ: bufTypeVideoCapture, memory: memoryMMAP}
	if err := ioctl(e.fd, vidiocDQBuf, unsafe.Pointer(&cb)); err != nil {
		return nil, 0, false, newError(DQBufFailed, "VIDIOC_DQBUF(CAPTURE)", err)
	}
	slot := int(cb.index)
	encoded = e.captureMMAPs[slot][:cb.bytesUsed]

	reqb := buffer{typ: bufTypeVideoCapture, memory: memoryMMAP, index: uint32(slot)}
	if err := ioctl(e.fd, vidiocQBuf, unsafe.Pointer(&reqb)); err != nil {
		return nil, 0, false, newError(QBufFailed, "VIDIOC_QBUF(CAPTURE requeue)", err)
	}

	// Non-blocking reclaim attempt of a consumed OUTPUT slot.
	rb := buffer{typ: bufTypeVideoOutput, memory: memoryDMABUF}
	if ierr := ioctlNonBlocking(e.fd, vidiocDQBuf, unsafe.Pointer(&rb)); ierr == nil {
		reclaimedIndex = int(rb.index)
		reclaimed = true
	}

	return encoded, reclaimedIndex, reclaimed, nil
}

// ioctlNonBlocking issues a single ioctl without retrying on EAGAIN; the
// caller treats EAGAIN as "nothing to reclaim yet" rather than an error.
func ioctlNonBlocking(fd int, request uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
	if errno == 0 {
		return nil
	}
	if errno == syscall.EINTR {
		return ioctlNonBlocking(fd, request, arg)
	}
	return errno
}

// Close stops both queues, unmaps CAPTURE memory, and closes the device.
func (e *Encoder) Close() error {
	if e.outputStreaming {
		typ := uint32(bufTypeVideoOutput)
		ioctl(e.fd, vidiocStreamOff, unsafe.Pointer(&typ))
		e.outputStreaming = false
	}
	if e.captureStreaming {
		typ := uint32(bufTypeVideoCapture)
		ioctl(e.fd, vidiocStreamOff, unsafe.Pointer(&typ))
		e.captureStreaming = false
	}
	e.unmapAll()
	return unix.Close(e.fd)
}
