package log

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bnema/domain-redirector/internal/models"
)

// ParseLevel maps a config level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a text logger writing to w and, when cfg.File is set, to a
// rotated log file
func New(w io.Writer, cfg models.LogConfig) *slog.Logger {
	if cfg.File != "" {
		w = io.MultiWriter(w, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    5, // megabytes
			MaxBackups: 5,
			MaxAge:     7, // days
			LocalTime:  true,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format("2006-01-02 15:04:05"))
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetLogConf installs the configured logger as the slog default. Logs go to
// stderr so command output on stdout stays clean.
func SetLogConf(cfg models.LogConfig) {
	slog.SetDefault(New(os.Stderr, cfg))
}
