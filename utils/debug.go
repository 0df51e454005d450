package utils

import (
	"os"
	"strings"
)

// IsDebugEnabled reports whether startup diagnostics should be logged: the
// log level is debug, or gin is not running in release mode
func IsDebugEnabled(logLevel string) bool {
	if strings.EqualFold(logLevel, "debug") {
		return true
	}
	return os.Getenv("GIN_MODE") != "release"
}
