// Video4Linux2 is a Linux-specific API. This file only mirrors its
// constants and structs and carries no build constraint; the files that
// issue ioctls are built for linux only.

package v4l2

import "encoding/binary"

// Buffer types (v4l2_buf_type).
const (
	bufTypeVideoCapture = 1
	bufTypeVideoOutput  = 2
)

// Memory types (v4l2_memory).
const (
	memoryMMAP   = 1
	memoryDMABUF = 4
)

// Field order. We always request progressive (non-interlaced) capture.
const (
	fieldAny  = 0
	fieldNone = 1
)

// Capability bits (v4l2_capability.capabilities).
const (
	capVideoCapture = 0x00000001
	capVideoOutput  = 0x00000002
	capStreaming    = 0x04000000
	capDeviceCaps   = 0x80000000
)

// Pixel formats (fourcc codes), little-endian packed.
const (
	pixFmtUYVY = 0x59565955 // 'UYVY'
	pixFmtH264 = 0x34363248 // 'H264'
)

// PixFmtUYVY is the raw packed-YUV fourcc most HDMI-to-CSI/USB capture
// bridges report; exported so callers outside this package (the session
// supervisor) can pass it to ProbeFormat and OpenCapture without knowing
// the kernel's numeric encoding.
const PixFmtUYVY = pixFmtUYVY

// Control classes and IDs (V4L2_CTRL_CLASS_MPEG / V4L2_CID_MPEG_VIDEO_*).
const (
	ctrlClassMPEG = 0x00990000

	cidMPEGBase                = 0x00990900
	cidBitrate                 = cidMPEGBase + 2
	cidGOPSize                 = cidMPEGBase + 18
	cidH264BFrames              = cidMPEGBase + 42
	cidH264Profile              = cidMPEGBase + 44
	cidRepeatSequenceHeader     = cidMPEGBase + 71
	cidForceKeyFrame            = cidMPEGBase + 27
)

// H.264 profile enum values (V4L2_MPEG_VIDEO_H264_PROFILE_*).
const (
	h264ProfileConstrainedBaseline = 11
)

// ioctl request codes for the VIDIOC_* family. Computed the same way the
// kernel's asm-generic/ioctl.h macros compute them (direction<<30 |
// size<<16 | type<<8 | nr), but written out as literal constants to match
// how small V4L2 programs in the wild hardcode them rather than re-deriving
// the encoding at init time.
const (
	vidiocQueryCap     = 0x80685600
	vidiocGFmt         = 0xc0cc5604
	vidiocSFmt         = 0xc0cc5605
	vidiocReqBufs      = 0xc0145608
	vidiocQueryBuf     = 0xc0585609
	vidiocQBuf         = 0xc058560f
	vidiocDQBuf        = 0xc0585611
	vidiocStreamOn     = 0x40045612
	vidiocStreamOff    = 0x40045613
	vidiocSExtCtrls    = 0xc0205648
	vidiocSCtrl        = 0xc008561c
)

var nativeEndian binary.ByteOrder = binary.LittleEndian

// v4l2_capability
type capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

func (c *capability) has(bit uint32) bool {
	caps := c.capabilities
	if c.capabilities&capDeviceCaps != 0 {
		caps = c.deviceCaps
	}
	return caps&bit != 0
}

// v4l2_pix_format
type pixFormat struct {
	width        uint32
	height       uint32
	pixelFormat  uint32
	field        uint32
	bytesPerLine uint32
	sizeImage    uint32
	colorspace   uint32
	priv         uint32
}

// v4l2_format, with the union collapsed to its pix member (single-planar).
// The kernel layout reserves 200 bytes for the union; we only ever populate
// the first few fields of v4l2_pix_format, which fits comfortably.
type format struct {
	typ uint32
	pix pixFormat
	_   [200 - 32]byte
}

// v4l2_requestbuffers
type requestBuffers struct {
	count    uint32
	typ      uint32
	memory   uint32
	reserved [2]uint32
}

// v4l2_buffer. The `m` union holds either the MMAP offset (first 4 bytes) or
// the DMABUF file descriptor (also first 4 bytes, reinterpreted as int32),
// matching the kernel union layout. The padding fields reproduce the 64-bit
// kernel's alignment, giving the 88-byte size encoded in vidiocQBuf.
type buffer struct {
	index     uint32
	typ       uint32
	bytesUsed uint32
	flags     uint32
	field     uint32
	_         uint32
	timestamp [16]byte
	timecode  [16]byte
	sequence  uint32
	memory    uint32
	m         [8]byte
	length    uint32
	reserved2 uint32
	reserved  uint32
	_         uint32
}

func (b *buffer) setOffset(offset uint32) {
	nativeEndian.PutUint32(b.m[0:4], offset)
}

func (b *buffer) offset() uint32 {
	return nativeEndian.Uint32(b.m[0:4])
}

func (b *buffer) setFD(fd int32) {
	nativeEndian.PutUint32(b.m[0:4], uint32(fd))
}

// v4l2_ext_control
type extControl struct {
	id       uint32
	size     uint32
	reserved2 [1]uint32
	value    [8]byte
}

func (c *extControl) setValue32(v int32) {
	nativeEndian.PutUint32(c.value[0:4], uint32(v))
}

// v4l2_ext_controls
type extControls struct {
	ctrlClass uint32
	count     uint32
	errorIdx  uint32
	reserved  [2]uint32
	controls  uintptr // pointer to []extControl
}
