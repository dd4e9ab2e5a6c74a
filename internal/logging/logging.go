package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Output goes to stderr so command output on
// stdout stays machine-readable.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	w := zerolog.NewConsoleWriter()
	w.Out = os.Stderr
	w.TimeFormat = time.DateTime

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
