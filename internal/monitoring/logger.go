package monitoring

import "log"

// Logf is the diagnostic logger shared by the hot-path packages (ingestion,
// extraction, classification). It defaults to log.Printf; tests mute it and
// tools may redirect it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
