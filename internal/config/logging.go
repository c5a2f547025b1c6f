package config

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// InitLogger configures the global zerolog logger. Format "text" writes
// human readable lines, anything else JSON. A log file is rotated at 10MB.
func InitLogger(cfg Log) error {
	var w io.Writer = os.Stderr
	if cfg.Format == "text" {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	if cfg.File != "" {
		w = io.MultiWriter(w, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}
	logger := zerolog.New(w).With().Timestamp()
	if cfg.WithCaller {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return nil
}
