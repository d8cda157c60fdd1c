// Package input decodes the browser's keyboard/mouse JSON event stream and
// injects equivalent USB HID reports into the attached host through the
// gadget's character devices.
package input

import (
	"encoding/json"
	"sync"

	"github.com/openkvm-go/kvmd/internal/logging"
)

var log = logging.DefaultLogger.WithTag("input")

// Writer is satisfied by the HID gadget character devices (/dev/hidgN);
// each Write delivers one complete report.
type Writer interface {
	Write(p []byte) (int, error)
}

type modifiers struct {
	Shift bool `json:"shift"`
	Ctrl  bool `json:"ctrl"`
	Alt   bool `json:"alt"`
	Meta  bool `json:"meta"`
	Right bool `json:"right"` // selects the right-hand variant of the modifier(s) above
}

func (m modifiers) bits() byte {
	var b byte
	if m.Shift {
		if m.Right {
			b |= modRightShift
		} else {
			b |= modLeftShift
		}
	}
	if m.Ctrl {
		if m.Right {
			b |= modRightCtrl
		} else {
			b |= modLeftCtrl
		}
	}
	if m.Alt {
		if m.Right {
			b |= modRightAlt
		} else {
			b |= modLeftAlt
		}
	}
	if m.Meta {
		if m.Right {
			b |= modRightMeta
		} else {
			b |= modLeftMeta
		}
	}
	return b
}

// envelope carries only the discriminator field; every concrete message
// type is decoded separately with encoding/json's default tolerant,
// unknown-field-ignoring semantics.
type envelope struct {
	Type string `json:"type"`
}

type keyboardMessage struct {
	Event     string    `json:"event"`
	Code      string    `json:"code"`
	Modifiers modifiers `json:"modifiers"`
}

type mouseMessage struct {
	Event  string  `json:"event"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Button int     `json:"button"`
	Delta  float64 `json:"delta"`
}

// Injector tracks the currently-pressed keyboard and mouse state and
// serializes it into HID reports written to kbd/mouse. Simultaneous
// clients share one Injector; concurrent calls to HandleMessage race on
// shared state, with the last write winning, which is the accepted
// behavior for multi-client input.
type Injector struct {
	mu sync.Mutex

	kbd   Writer
	mouse Writer

	kbdModifiers byte
	kbdKeys      [6]byte // 0 = empty slot

	mouseButtons byte
	mouseX       uint16
	mouseY       uint16
}

// New creates an Injector writing keyboard and mouse reports to kbd and
// mouse respectively.
func New(kbd, mouse Writer) *Injector {
	return &Injector{kbd: kbd, mouse: mouse}
}

// HandleMessage parses one WebSocket text frame payload and, if it
// decodes to a recognized message, injects the corresponding HID report.
// Unknown types or events are logged and otherwise ignored; a malformed
// JSON payload is reported but does not close the connection.
func (inj *Injector) HandleMessage(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn("malformed input message: %v", err)
		return
	}

	switch env.Type {
	case "keyboard":
		var msg keyboardMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn("malformed keyboard message: %v", err)
			return
		}
		inj.handleKeyboard(msg)
	case "mouse":
		var msg mouseMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn("malformed mouse message: %v", err)
			return
		}
		inj.handleMouse(msg)
	default:
		log.Debug("ignoring input message of unknown type %q", env.Type)
	}
}

func (inj *Injector) handleKeyboard(msg keyboardMessage) {
	scancode, known := domCodeToHID[msg.Code]

	inj.mu.Lock()
	defer inj.mu.Unlock()

	switch msg.Event {
	case "keydown":
		inj.kbdModifiers = msg.Modifiers.bits()
		if known {
			inj.pressKeyLocked(scancode)
		}
	case "keyup":
		inj.kbdModifiers = msg.Modifiers.bits()
		if known {
			inj.releaseKeyLocked(scancode)
		}
	default:
		log.Debug("ignoring keyboard event of unknown type %q", msg.Event)
		return
	}

	inj.writeKeyboardReportLocked()
}

func (inj *Injector) pressKeyLocked(scancode byte) {
	for _, k := range inj.kbdKeys {
		if k == scancode {
			return // already down
		}
	}
	for i, k := range inj.kbdKeys {
		if k == 0 {
			inj.kbdKeys[i] = scancode
			return
		}
	}
	// All six slots full; additional simultaneous keys are dropped rather
	// than rolling over, matching the "up to 6 simultaneous" limit.
}

func (inj *Injector) releaseKeyLocked(scancode byte) {
	for i, k := range inj.kbdKeys {
		if k == scancode {
			inj.kbdKeys[i] = 0
			return
		}
	}
}

func (inj *Injector) writeKeyboardReportLocked() {
	report := buildKeyboardReport(inj.kbdModifiers, inj.kbdKeys)
	if _, err := inj.kbd.Write(report); err != nil {
		log.Warn("keyboard report write failed: %v", err)
	}
}

func (inj *Injector) handleMouse(msg mouseMessage) {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	wheel := int8(0)

	switch msg.Event {
	case "move":
		inj.mouseX = clampCoordinate(msg.X)
		inj.mouseY = clampCoordinate(msg.Y)
	case "down":
		inj.mouseButtons |= mouseButtonBit(msg.Button)
	case "up":
		inj.mouseButtons &^= mouseButtonBit(msg.Button)
	case "wheel":
		wheel = clampWheelDelta(msg.Delta)
	default:
		log.Debug("ignoring mouse event of unknown type %q", msg.Event)
		return
	}

	report := buildMouseReport(inj.mouseButtons, inj.mouseX, inj.mouseY, wheel)
	if _, err := inj.mouse.Write(report); err != nil {
		log.Warn("mouse report write failed: %v", err)
	}
}
