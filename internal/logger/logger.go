package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qqringman/Degrade/internal/config"
)

// New builds the process logger and installs it as the zerolog global.
// Dev gets a console writer, everything else structured JSON.
func New(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.AppEnv == "dev" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
		log.Logger = logger
		return logger
	}
	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
