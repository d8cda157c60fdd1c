package logging

import "github.com/fatih/color"

var (
	ansiBoldRed    = []byte("\033[1;31m")
	ansiBoldGreen  = []byte("\033[1;32m")
	ansiBoldYellow = []byte("\033[1;33m")
	ansiBoldCyan   = []byte("\033[1;36m")
	ansiWhite      = []byte("\033[37m")
	ansiReset      = []byte("\033[0m")
)

// colorEnabled defers to fatih/color's terminal detection (color.NoColor),
// which itself honors NO_COLOR and whether stdout is a TTY, so the banner
// and log output agree on when to emit escapes.
func colorEnabled() bool {
	return !color.NoColor
}
