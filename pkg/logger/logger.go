// Package logger provides structured logging on top of zerolog.
// JSON output is used in production; pretty console output in development.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log is the package-level logger instance, replaced by Init.
var log zerolog.Logger

// Config configures the global logger.
type Config struct {
	// Level is the minimum level logged: "debug", "info", "warn", "error".
	Level string

	// Pretty switches to a human-readable console writer instead of JSON.
	Pretty bool

	// Output is the writer logs are sent to. Defaults to os.Stdout.
	Output io.Writer
}

func init() {
	pretty := strings.ToLower(os.Getenv("LOG_PRETTY")) == "true"

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	Init(Config{Level: level, Pretty: pretty})
}

// Init (re)configures the global logger. Call once at process startup.
func Init(cfg Config) {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	level := parseLevel(cfg.Level)

	log = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }
func Panic() *zerolog.Event { return log.Panic() }

// With starts a derived logger builder.
func With() zerolog.Context { return log.With() }

// Logger returns the current global logger value.
func Logger() zerolog.Logger { return log }

// SetGlobalLogger overrides the global logger, mainly for tests.
func SetGlobalLogger(l zerolog.Logger) { log = l }
