// Package monitoring carries the library's diagnostic logging. Client
// packages report recoverable oddities here (dropped frames, stream
// resyncs, stray discovery datagrams) so embedding programs can redirect
// or silence them without the library taking a logging dependency.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf
// and may be replaced with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
