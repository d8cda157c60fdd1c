// Package packet provides a small fixed-size byte writer used to build USB
// HID reports, the appliance's one remaining fixed-layout wire format now
// that the peer-to-peer record codecs this package used to also serve are
// gone.
package packet

// Writer fills a fixed-size byte slice one byte at a time, tracking how
// much of it has been written. HID reports are small and fully specified
// up front (8 bytes for a keyboard report, 6 for mouse), so there is no
// need for growth, multi-byte endian helpers, or capacity checks beyond
// what a slice index already enforces.
type Writer struct {
	buffer []byte
	offset int
}

// NewWriterSize allocates a Writer over a zeroed buffer of n bytes, the
// exact size of the report being built.
func NewWriterSize(n int) *Writer {
	return &Writer{buffer: make([]byte, n)}
}

// WriteByte appends the next byte of the report.
func (w *Writer) WriteByte(v byte) {
	w.buffer[w.offset] = v
	w.offset++
}

// Bytes returns the bytes written so far.
func (w *Writer) Bytes() []byte {
	return w.buffer[:w.offset]
}
