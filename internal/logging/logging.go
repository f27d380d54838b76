// Package logging provides category-tagged logging for the proxy.
// All logging goes through a single logrus logger so output format and
// level are controlled in one place.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Category constants for consistent logging categories.
const (
	CategoryApp        = "App"
	CategoryServer     = "Server"
	CategoryConnection = "Connection"
	CategoryIngress    = "Ingress"
	CategoryEgress     = "Egress"
	CategoryGemini     = "Gemini"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Init initializes logging. Level is taken from LOG_LEVEL (default info).
func Init() {
	once.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

		switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
		case "trace":
			logger.SetLevel(logrus.TraceLevel)
		case "debug":
			logger.SetLevel(logrus.DebugLevel)
		case "warn", "warning":
			logger.SetLevel(logrus.WarnLevel)
		case "error":
			logger.SetLevel(logrus.ErrorLevel)
		default:
			logger.SetLevel(logrus.InfoLevel)
		}
	})
}

func entry(category string) *logrus.Entry {
	if logger == nil {
		Init()
	}
	return logger.WithField("category", category)
}

// Debug logs a debug message.
func Debug(category, msg string, params ...interface{}) {
	entry(category).Debugf(msg, params...)
}

// Info logs an info message.
func Info(category, msg string, params ...interface{}) {
	entry(category).Infof(msg, params...)
}

// Warning logs a warning message.
func Warning(category, msg string, params ...interface{}) {
	entry(category).Warnf(msg, params...)
}

// Error logs an error message.
func Error(category, msg string, params ...interface{}) {
	entry(category).Errorf(msg, params...)
}

// Fail logs a fatal condition without exiting; the caller decides how to stop.
func Fail(category, msg string, params ...interface{}) {
	entry(category).Errorf(msg, params...)
}
