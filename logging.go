package reql

import (
	"log/slog"
	"os"
	"sync"

	"github.com/rs/zerolog"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

// NewLogger returns a slog.Logger writing through zerolog.
func NewLogger(zl zerolog.Logger, level slog.Level) *slog.Logger {
	return slog.New(slogzerolog.Option{Level: level, Logger: &zl}.NewZerologHandler())
}

var defaultLogger = sync.OnceValue(func() *slog.Logger {
	zl := zerolog.New(os.Stderr).With().Timestamp().Str("component", "reql").Logger()
	return NewLogger(zl, slog.LevelWarn)
})
