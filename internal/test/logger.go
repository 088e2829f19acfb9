// Package test contains shared test utilities.
package test

import (
	"github.com/RainStream/rainstream-server/internal/logger"
)

// Logger is a logger that calls a callback.
type Logger func(logger.Level, string, ...interface{})

// Log implements logger.Writer.
func (l Logger) Log(level logger.Level, format string, args ...interface{}) {
	l(level, format, args...)
}

// NilLogger is a logger that discards everything.
var NilLogger = Logger(func(logger.Level, string, ...interface{}) {
})
