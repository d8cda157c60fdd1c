package logging

import "os"

// Fatalf logs at Error level, then terminates the process. cmd/kvmd uses
// it for the startup sequence (device/asset/TLS setup), where there is no
// partially-running session to tear down gracefully yet; a runtime
// failure after startup instead logs and triggers internal/shutdown so
// cleanup hooks still run.
func (log *Logger) Fatalf(format string, a ...interface{}) {
	log.Log(Error, 1, format, a...)
	os.Exit(1)
}
