package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/config"
)

// Logger is the process-wide structured logger. Every record carries
// service=tagbox and the build version.
//
// Thread Safety: Safe for concurrent use.
type Logger struct {
	*slog.Logger

	// file is set when logging to a rotated file; only the root logger
	// closes it.
	file io.Closer
}

// New builds a logger from the logging section of config.yaml.
func New(cfg config.LoggingConfig, version string) *Logger {
	w, file := openOutput(cfg)
	return &Logger{
		Logger: slog.New(newHandler(w, cfg, version)),
		file:   file,
	}
}

// Default is the logger used until config has loaded: JSON on stdout.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// openOutput resolves logging.output. "file" rotates through lumberjack so
// the SD card does not fill; it falls back to stdout when no path is set.
func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer) {
	out := strings.ToLower(cfg.Output)
	switch {
	case out == "stderr":
		return os.Stderr, nil
	case out == "file" && cfg.File.Path != "":
		rotated := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		}
		return rotated, rotated
	}
	return os.Stdout, nil
}

func newHandler(w io.Writer, cfg config.LoggingConfig, version string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return h.WithAttrs([]slog.Attr{
		slog.String("service", "tagbox"),
		slog.String("version", version),
	})
}

// parseLevel accepts debug, info, warn (or warning) and error in any case.
// Anything else is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// With returns a child logger carrying args on every record.
//
//	log := logger.With("component", "reader")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Close releases the rotated log file, if any. Child loggers own nothing.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
