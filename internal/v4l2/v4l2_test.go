package v4l2

import (
	"errors"
	"testing"
	"unsafe"
)

func TestErrorFormatting(t *testing.T) {
	underlying := errors.New("boom")
	err := newError(QBufFailed, "queue", underlying)

	if err.Unwrap() != underlying {
		t.Fatalf("expected Unwrap to return underlying error")
	}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
	if !errors.Is(err, underlying) {
		t.Fatalf("expected errors.Is to find underlying error via Unwrap")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(newError(Timeout, "dequeue", nil)) {
		t.Fatal("expected Timeout kind to be reported as timeout")
	}
	if !IsTimeout(newError(PollTimeout, "poll", nil)) {
		t.Fatal("expected PollTimeout kind to be reported as timeout")
	}
	if IsTimeout(newError(QBufFailed, "queue", nil)) {
		t.Fatal("expected QBufFailed to not be reported as timeout")
	}
	if IsTimeout(errors.New("plain error")) {
		t.Fatal("expected a non-*Error to not be reported as timeout")
	}
}

func TestKindString(t *testing.T) {
	if Timeout.String() == "" {
		t.Fatal("expected non-empty Kind string")
	}
	if Kind(999).String() != "unknown v4l2 error" {
		t.Fatalf("expected fallback string for unknown kind, got %q", Kind(999).String())
	}
}

func TestCapabilityHasBit(t *testing.T) {
	var c capability
	c.capabilities = capVideoCapture | capStreaming

	if !c.has(capVideoCapture) {
		t.Fatal("expected capVideoCapture bit to be set")
	}
	if c.has(capVideoOutput) {
		t.Fatal("did not expect capVideoOutput bit to be set")
	}

	// When the device-caps bit is set, has() must consult deviceCaps instead
	// of capabilities.
	c.capabilities = capDeviceCaps
	c.deviceCaps = capVideoOutput
	if !c.has(capVideoOutput) {
		t.Fatal("expected has() to consult deviceCaps when capDeviceCaps is set")
	}
	if c.has(capVideoCapture) {
		t.Fatal("did not expect capVideoCapture to be set via deviceCaps")
	}
}

func TestBufferOffsetAndFDRoundTrip(t *testing.T) {
	var b buffer
	b.setOffset(0x1234)
	if got := b.offset(); got != 0x1234 {
		t.Fatalf("expected offset 0x1234, got 0x%x", got)
	}

	var fdBuf buffer
	fdBuf.setFD(42)
	if got := nativeEndian.Uint32(fdBuf.m[0:4]); got != 42 {
		t.Fatalf("expected fd 42 encoded in m[0:4], got %d", got)
	}
}

func TestExtControlSetValue32(t *testing.T) {
	var c extControl
	c.setValue32(5_000_000)
	got := int32(nativeEndian.Uint32(c.value[0:4]))
	if got != 5_000_000 {
		t.Fatalf("expected value 5000000, got %d", got)
	}
}

func TestStructSizesMatchKernelABI(t *testing.T) {
	// These sizes are load-bearing: v4l2_format and v4l2_buffer must match
	// the kernel's layout byte-for-byte since they cross the ioctl boundary.
	if sz := unsafe.Sizeof(format{}); sz != 200+4 {
		t.Fatalf("expected format struct to be 204 bytes, got %d", sz)
	}
}
