package logging

import (
	"os"
	"strings"
)

// Fatalf logs at Error level and exits. Reserved for the command entry point;
// library code returns errors instead.
func (log *Logger) Fatalf(format string, v ...interface{}) {
	log.Log(Error, 1, format, v...)
	os.Exit(1)
}

// Printf adapts the logger to APIs expecting a Printf-style logger.
func (log *Logger) Printf(format string, v ...interface{}) {
	log.Log(Info, 1, format, v...)
}

// Write implements io.Writer at Warn level, one message per call, so that a
// standard library *log.Logger can be layered on top (e.g. http.Server's
// ErrorLog).
func (log *Logger) Write(p []byte) (int, error) {
	log.Log(Warn, 1, "%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
