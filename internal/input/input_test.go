package input

import (
	"bytes"
	"testing"
)

type recordingWriter struct {
	reports [][]byte
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.reports = append(w.reports, append([]byte(nil), p...))
	return len(p), nil
}

// S6: keydown KeyA with shift held produces an 8-byte report with byte 0 =
// 0x02 (left shift) and byte 2 = 0x04 (KeyA), all other bytes zero.
func TestKeydownShiftA(t *testing.T) {
	kbd := &recordingWriter{}
	mouse := &recordingWriter{}
	inj := New(kbd, mouse)

	inj.HandleMessage([]byte(`{"type":"keyboard","event":"keydown","code":"KeyA","modifiers":{"shift":true}}`))

	if len(kbd.reports) != 1 {
		t.Fatalf("expected 1 keyboard report, got %d", len(kbd.reports))
	}
	report := kbd.reports[0]
	want := []byte{0x02, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(report, want) {
		t.Fatalf("report = % x, want % x", report, want)
	}
}

func TestKeyupRemovesKey(t *testing.T) {
	kbd := &recordingWriter{}
	inj := New(kbd, &recordingWriter{})

	inj.HandleMessage([]byte(`{"type":"keyboard","event":"keydown","code":"KeyA","modifiers":{}}`))
	inj.HandleMessage([]byte(`{"type":"keyboard","event":"keyup","code":"KeyA","modifiers":{}}`))

	last := kbd.reports[len(kbd.reports)-1]
	want := []byte{0, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(last, want) {
		t.Fatalf("report after keyup = % x, want all-zero", last)
	}
}

func TestSimultaneousKeysUpToSix(t *testing.T) {
	kbd := &recordingWriter{}
	inj := New(kbd, &recordingWriter{})

	codes := []string{"KeyA", "KeyB", "KeyC", "KeyD", "KeyE", "KeyF", "KeyG"}
	for _, c := range codes {
		inj.HandleMessage([]byte(`{"type":"keyboard","event":"keydown","code":"` + c + `","modifiers":{}}`))
	}

	last := kbd.reports[len(kbd.reports)-1]
	nonzero := 0
	for _, b := range last[2:8] {
		if b != 0 {
			nonzero++
		}
	}
	if nonzero != 6 {
		t.Fatalf("expected 6 simultaneous keys to be reported, got %d", nonzero)
	}
}

func TestMouseMoveClampsCoordinates(t *testing.T) {
	mouse := &recordingWriter{}
	inj := New(&recordingWriter{}, mouse)

	inj.HandleMessage([]byte(`{"type":"mouse","event":"move","x":999999,"y":-50}`))

	report := mouse.reports[0]
	x := uint16(report[1]) | uint16(report[2])<<8
	y := uint16(report[3]) | uint16(report[4])<<8
	if x != 32767 {
		t.Fatalf("expected x clamped to 32767, got %d", x)
	}
	if y != 0 {
		t.Fatalf("expected y clamped to 0, got %d", y)
	}
}

func TestMouseButtonMapping(t *testing.T) {
	mouse := &recordingWriter{}
	inj := New(&recordingWriter{}, mouse)

	inj.HandleMessage([]byte(`{"type":"mouse","event":"down","button":1}`)) // middle
	report := mouse.reports[0]
	if report[0] != mouseButtonMiddle {
		t.Fatalf("expected middle button bit set, got 0x%02x", report[0])
	}
}

func TestMouseWheelClamped(t *testing.T) {
	mouse := &recordingWriter{}
	inj := New(&recordingWriter{}, mouse)

	inj.HandleMessage([]byte(`{"type":"mouse","event":"wheel","delta":500}`))
	report := mouse.reports[0]
	if int8(report[5]) != 127 {
		t.Fatalf("expected wheel delta clamped to 127, got %d", int8(report[5]))
	}
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	inj := New(&recordingWriter{}, &recordingWriter{})
	inj.HandleMessage([]byte(`{"type":"bogus"}`))
}

func TestMalformedJSONIgnored(t *testing.T) {
	inj := New(&recordingWriter{}, &recordingWriter{})
	inj.HandleMessage([]byte(`not json`))
}

func TestUnknownFieldsAreTolerated(t *testing.T) {
	kbd := &recordingWriter{}
	inj := New(kbd, &recordingWriter{})
	inj.HandleMessage([]byte(`{"type":"keyboard","event":"keydown","code":"KeyA","modifiers":{"shift":true},"extra":"ignored"}`))
	if len(kbd.reports) != 1 {
		t.Fatalf("expected message with unknown field to still be handled")
	}
}
