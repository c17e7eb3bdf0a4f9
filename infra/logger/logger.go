package logger

import corelogger "github.com/kilianp07/microgrid/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger discards every message.
type NopLogger = corelogger.Nop

// New returns a Logger for the given component. The output format is chosen
// from the APP_ENV variable and the level from LOG_LEVEL.
func New(component string) Logger {
	return NewZerologLogger(component)
}
