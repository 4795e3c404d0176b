// Package monitoring provides the shared diagnostic logging seam for the
// mapping pipeline. Components log through Logf so embedders and tests
// can redirect or mute diagnostics in one place.
package monitoring

import "log"

// Logf is the package-level diagnostic logger, defaulting to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger, muting all diagnostics.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
