// Package logger configures the process-wide structured logger.
package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, format and destination for log output.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stdout, stderr, or a file path
	// MaxAgeDays enables rotation for file output; 0 appends forever.
	MaxAgeDays int `yaml:"max_age_days"`
}

// New builds a logrus logger from the config. LOG_LEVEL in the environment
// overrides the configured level.
func New(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()

	level := cfg.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	log.SetLevel(lvl)

	switch cfg.Format {
	case "", "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	switch cfg.Output {
	case "", "stdout":
		log.SetOutput(os.Stdout)
	case "stderr":
		log.SetOutput(os.Stderr)
	default:
		if cfg.MaxAgeDays > 0 {
			log.SetOutput(&lumberjack.Logger{
				Filename: cfg.Output,
				MaxAge:   cfg.MaxAgeDays,
				MaxSize:  100,
				Compress: true,
			})
			break
		}
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %q: %w", cfg.Output, err)
		}
		log.SetOutput(file)
	}

	return log, nil
}
