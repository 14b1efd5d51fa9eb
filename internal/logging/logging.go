// Package logging builds the process-wide zerolog.Logger, following the
// setup in the go-edu mini-service's cmd/service/main.go.
package logging

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/sponsorrelay/relay/internal/config"
)

// New builds a zerolog.Logger from the logging section of Config.
func New(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
