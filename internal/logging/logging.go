// Package logging builds the process logger.
package logging

import (
	"go.uber.org/zap"
)

// New returns a logger for level. debug uses the development configuration;
// everything else logs JSON at the given level.
func New(level string) (*zap.Logger, error) {
	var config zap.Config
	switch level {
	case "debug":
		config = zap.NewDevelopmentConfig()
	default:
		config = zap.NewProductionConfig()
		config.Level = ParseLevel(level)
	}
	return config.Build()
}

// ParseLevel parses the log level string, defaulting to info.
func ParseLevel(level string) zap.AtomicLevel {
	switch level {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
