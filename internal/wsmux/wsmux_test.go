package wsmux

import (
	"bufio"
	"bytes"
	"net/http"
	"testing"
)

func mustRequest(t *testing.T, raw string) *http.Request {
	t.Helper()
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewBufferString(raw)))
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	return req
}

// S4: a request with all three required headers classifies as upgrade;
// removing any one flips the classification.
func TestIsUpgradeRequestAllHeaders(t *testing.T) {
	raw := "GET /ws HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: WebSocket\r\n" +
		"Connection: keep-alive, Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	if !isUpgradeRequest(mustRequest(t, raw)) {
		t.Fatal("expected request with all three headers to classify as upgrade")
	}
}

func TestIsUpgradeRequestCombinations(t *testing.T) {
	base := map[string]string{
		"Upgrade":           "websocket",
		"Connection":        "Upgrade",
		"Sec-WebSocket-Key": "dGhlIHNhbXBsZSBub25jZQ==",
	}

	for omit := range base {
		headers := ""
		for k, v := range base {
			if k == omit {
				continue
			}
			headers += k + ": " + v + "\r\n"
		}
		raw := "GET /ws HTTP/1.1\r\nHost: example.com\r\n" + headers + "\r\n"
		if isUpgradeRequest(mustRequest(t, raw)) {
			t.Fatalf("expected omitting %s to flip classification to non-upgrade", omit)
		}
	}
}

func TestIsUpgradeRequestPlainGET(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	if isUpgradeRequest(mustRequest(t, raw)) {
		t.Fatal("expected plain GET to not classify as upgrade")
	}
}

func TestAcceptKeyKnownVector(t *testing.T) {
	// RFC 6455 section 1.3 worked example.
	got := acceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("acceptKey = %q, want %q", got, want)
	}
}

func TestFrameRoundTripBinary(t *testing.T) {
	payload := []byte("hello world")

	buf := new(bytes.Buffer)
	bw := bufio.NewWriter(buf)
	if err := writeFrame(bw, opBinary, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	// The written frame is unmasked (server -> client); mask it as if a
	// client had sent it, to exercise readFrame's unmask path.
	masked := maskFrame(t, buf.Bytes())

	opcode, got, err := readFrame(bufio.NewReader(bytes.NewReader(masked)))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if opcode != opBinary {
		t.Fatalf("expected opcode %d, got %d", opBinary, opcode)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round-tripped payload %q, want %q", got, payload)
	}
}

func TestReadFrameRejectsUnmasked(t *testing.T) {
	buf := new(bytes.Buffer)
	bw := bufio.NewWriter(buf)
	writeFrame(bw, opText, []byte("hi"))

	_, _, err := readFrame(bufio.NewReader(buf))
	if err != errUnmasked {
		t.Fatalf("expected errUnmasked, got %v", err)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	payload := make([]byte, maxInboundMessage+1)

	buf := new(bytes.Buffer)
	bw := bufio.NewWriter(buf)
	writeFrame(bw, opBinary, payload)
	masked := maskFrame(t, buf.Bytes())

	_, _, err := readFrame(bufio.NewReader(bytes.NewReader(masked)))
	if err != errFrameTooBig {
		t.Fatalf("expected errFrameTooBig, got %v", err)
	}
}

// maskFrame takes an unmasked server-style frame (as writeFrame produces)
// and re-encodes it as a masked client-style frame with a fixed mask key,
// so readFrame's masked-input path can be exercised using writeFrame's
// output as a payload source.
func maskFrame(t *testing.T, unmasked []byte) []byte {
	t.Helper()

	opcode := unmasked[0] & 0x0f
	b1 := unmasked[1]
	lenByte := b1 & 0x7f

	var header, payload []byte
	switch {
	case lenByte <= 125:
		header = unmasked[:2]
		payload = unmasked[2:]
	case lenByte == 126:
		header = unmasked[:4]
		payload = unmasked[4:]
	default:
		header = unmasked[:10]
		payload = unmasked[10:]
	}

	out := new(bytes.Buffer)
	out.WriteByte(0x80 | opcode)
	maskKey := [4]byte{0x12, 0x34, 0x56, 0x78}

	switch {
	case lenByte <= 125:
		out.WriteByte(0x80 | lenByte)
		out.Write(header[2:])
	case lenByte == 126:
		out.WriteByte(0x80 | 126)
		out.Write(header[2:])
	default:
		out.WriteByte(0x80 | 127)
		out.Write(header[2:])
	}
	out.Write(maskKey[:])

	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ maskKey[i%4]
	}
	out.Write(masked)
	return out.Bytes()
}
