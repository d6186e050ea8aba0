// Package logger builds the process-wide logrus logger.
package logger

import (
	"io"
	"os"

	"github.com/eksporyuk/backend/internal/config"
	"github.com/sirupsen/logrus"
	gormlogger "gorm.io/gorm/logger"
)

// New returns a logrus logger configured from cfg. JSON output is used when
// the format asks for it or the service runs in production.
func New(cfg config.LogConfig, environment string) *logrus.Logger {
	return NewWithOutput(cfg, environment, os.Stdout)
}

// NewWithOutput is New writing to out
func NewWithOutput(cfg config.LogConfig, environment string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" || environment == "production" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}

// Discard returns a logger that drops everything, for tests
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// GormLevel maps the DATABASE_LOG_LEVEL setting onto gorm's logger levels
func GormLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
