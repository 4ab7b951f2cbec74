package utils

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

var Log = logrus.New()

// SetLogLevel sets the level of Log. Unknown level strings are an error.
func SetLogLevel(level string) error {
	// We are not using logrus' trace and panic levels
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(log.DebugLevel)
	case "info":
		Log.SetLevel(log.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(log.WarnLevel)
	case "error":
		Log.SetLevel(log.ErrorLevel)
	case "fatal":
		Log.SetLevel(log.FatalLevel)
	default:
		return fmt.Errorf("bad log level %q", level)
	}
	return nil
}

// SetLogFormat switches Log between the text and JSON formatters.
func SetLogFormat(format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		Log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		Log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("bad log format %q", format)
	}
	return nil
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
