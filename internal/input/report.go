package input

import "github.com/openkvm-go/kvmd/internal/packet"

// HID modifier bits, Keyboard/Keypad usage page (boot protocol byte 0).
const (
	modLeftCtrl   = 0x01
	modLeftShift  = 0x02
	modLeftAlt    = 0x04
	modLeftMeta   = 0x08
	modRightCtrl  = 0x10
	modRightShift = 0x20
	modRightAlt   = 0x40
	modRightMeta  = 0x80
)

// Mouse button bits, byte 0 of the report: bit0 left, bit1 right, bit2
// middle.
const (
	mouseButtonLeft   = 0x01
	mouseButtonRight  = 0x02
	mouseButtonMiddle = 0x04
)

// mouseButtonBit maps the wire protocol's button id (0/1/2 =
// left/middle/right) to its HID report bit.
func mouseButtonBit(button int) byte {
	switch button {
	case 0:
		return mouseButtonLeft
	case 1:
		return mouseButtonMiddle
	case 2:
		return mouseButtonRight
	default:
		return 0
	}
}

// buildKeyboardReport encodes the boot-protocol keyboard report: byte 0 is
// the modifier mask, byte 1 is reserved (always 0), bytes 2-7 hold up to
// six currently pressed, non-modifier scancodes (0 for unused slots).
func buildKeyboardReport(modifiers byte, keys [6]byte) []byte {
	w := packet.NewWriterSize(8)
	w.WriteByte(modifiers)
	w.WriteByte(0)
	for _, k := range keys {
		w.WriteByte(k)
	}
	return w.Bytes()
}

// buildMouseReport encodes the appliance's absolute-position mouse
// report: buttons, then little-endian x and y in [0, 32767], then a
// signed 8-bit wheel delta for this event only. packet.Writer only writes
// single bytes, so x/y are written low byte first to keep the wire's
// little-endian order.
func buildMouseReport(buttons byte, x, y uint16, wheel int8) []byte {
	w := packet.NewWriterSize(6)
	w.WriteByte(buttons)
	w.WriteByte(byte(x))
	w.WriteByte(byte(x >> 8))
	w.WriteByte(byte(y))
	w.WriteByte(byte(y >> 8))
	w.WriteByte(byte(wheel))
	return w.Bytes()
}

func clampCoordinate(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 32767 {
		return 32767
	}
	return uint16(v)
}

func clampWheelDelta(v float64) int8 {
	if v < -127 {
		return -127
	}
	if v > 127 {
		return 127
	}
	return int8(v)
}
