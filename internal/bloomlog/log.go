// Package bloomlog is the logging layer shared by the manager, the
// underlying filter, and the command-line entrypoint.
package bloomlog

import (
	"github.com/intuitivelabs/slog"
)

// Log is the package-level logger. Replace Log.Set(...) or reassign it
// entirely to redirect output or change the verbosity level.
var Log slog.Log = slog.New(slog.LERR, slog.LbackTraceL|slog.LlocInfoL, slog.LStdErr)

// BuildTags records which logging build tags were compiled in, appended
// by the debug/nodebug variants' init() functions.
var BuildTags []string

// WARN logs a warning-level message.
func WARN(f string, a ...interface{}) {
	Log.LLog(slog.LWARN, 1, "WARNING: bloomd: ", f, a...)
}

// ERR logs an error-level message.
func ERR(f string, a ...interface{}) {
	Log.LLog(slog.LERR, 1, "ERROR: bloomd: ", f, a...)
}

// BUG logs a message for a condition that should never happen: a caller
// violated an internal contract (e.g. returning a handle whose name is
// no longer in the registry).
func BUG(f string, a ...interface{}) {
	Log.LLog(slog.LBUG, 1, "BUG: bloomd: ", f, a...)
}
