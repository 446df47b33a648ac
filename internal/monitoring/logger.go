// Package monitoring provides the process-wide diagnostic logger used by the
// gaze pipeline. Per-frame and per-sample failures are data on the output
// streams, not log events, so hot-path noise goes through Debugf and stays
// silent unless explicitly enabled.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose enables Debugf output. Off by default.
func SetVerbose(v bool) {
	verbose = v
}

// Debugf logs only when verbose mode is enabled. Used where a message per
// frame or per gaze sample would drown the log.
func Debugf(format string, v ...interface{}) {
	if verbose {
		Logf(format, v...)
	}
}
