package config

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(level)
}

// NewLogger builds a logger from cfg. The returned Closer releases the log
// file when Output names one.
func NewLogger(cfg *LoggingConfig) (*logrus.Logger, io.Closer, error) {
	c := LoggingConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.SetDefaults()

	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, nil, &ConfigError{Field: "logging.level", Message: err.Error(), Err: err}
	}

	logger := logrus.New()
	logger.SetLevel(level)

	switch c.Format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, nil, NewConfigError("logging.format", fmt.Sprintf("unknown format %q (must be text or json)", c.Format))
	}

	var closer io.Closer = nopCloser{}
	switch c.Output {
	case "stderr":
		logger.SetOutput(os.Stderr)
	case "stdout":
		logger.SetOutput(os.Stdout)
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		closer = f
	}

	return logger, closer, nil
}
