// pkg/logger/logger.go
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

var (
	// Log is the global logger instance
	Log zerolog.Logger
)

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano

	Log = newLogger(consoleWriter(os.Stderr), zerolog.InfoLevel)
}

func consoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
	}
}

func newLogger(out io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Configure sets the log level and output format ("console" or "json").
// Logs always go to stderr so stdout stays free for command output.
func Configure(levelStr, format string) {
	ConfigureOutput(os.Stderr, levelStr, format)
}

// ConfigureOutput is Configure with an explicit destination.
func ConfigureOutput(out io.Writer, levelStr, format string) {
	var w io.Writer
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		w = out
	default:
		w = consoleWriter(out)
	}
	Log = newLogger(w, Log.GetLevel())
	SetLevel(levelStr)
}

// SetLevel sets the log level
func SetLevel(levelStr string) {
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil || levelStr == "" {
		Log.Warn().Str("level", levelStr).Msg("invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	Log = Log.Level(level)
}
