package log

import (
	"io"

	"github.com/RichardKnop/logging"
)

var (
	logger = logging.New(nil, nil, new(logging.ColouredFormatter))

	// DEBUG ...
	DEBUG = logger[logging.DEBUG]
	// INFO ...
	INFO = logger[logging.INFO]
	// WARNING ...
	WARNING = logger[logging.WARNING]
	// ERROR ...
	ERROR = logger[logging.ERROR]
	// FATAL ...
	FATAL = logger[logging.FATAL]
)

// Set sets a custom logger for all log levels
func Set(l logging.LoggerInterface) {
	DEBUG = l
	INFO = l
	WARNING = l
	ERROR = l
	FATAL = l
}

// SetDebug sets a custom logger for DEBUG level logs
func SetDebug(l logging.LoggerInterface) {
	DEBUG = l
}

// SetInfo sets a custom logger for INFO level logs
func SetInfo(l logging.LoggerInterface) {
	INFO = l
}

// Quiet sends DEBUG and INFO output to w, leaving warnings and errors
// on their default writers. The CLI uses it to keep stdout clean for results.
func Quiet(w io.Writer) {
	quiet := logging.New(w, w, new(logging.DefaultFormatter))
	DEBUG = quiet[logging.DEBUG]
	INFO = quiet[logging.INFO]
}
