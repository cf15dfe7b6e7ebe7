package app

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging настраивает формат и уровень глобального logrus-логгера.
func ConfigureLogging(cfg LogConfig) error {
	level := log.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	log.SetLevel(level)
	return nil
}
