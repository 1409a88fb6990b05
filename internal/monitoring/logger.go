// Package monitoring holds the package-level diagnostic loggers used by the
// pipeline layers. Both may be swapped out by tests or muted entirely.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the operational logger. It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles per-window diagnostics emitted through Debugf.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether Debugf currently forwards to Logf.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// Debugf logs high-volume diagnostics (one line per window or tick). It is
// silent unless SetDebug(true) has been called.
func Debugf(format string, v ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	Logf(format, v...)
}
