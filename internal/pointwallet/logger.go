package pointwallet

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

var logLevel slog.LevelVar

func parseLogLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func InitLogger(cfg LoggingConfig) {
	initLogger(os.Stdout, cfg)
}

func initLogger(w io.Writer, cfg LoggingConfig) {
	lvl, ok := parseLogLevel(cfg.Level)
	if !ok {
		lvl = slog.LevelInfo
	}
	logLevel.Set(lvl)

	opts := &slog.HandlerOptions{
		Level: &logLevel,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.TimeOnly))
			case slog.LevelKey:
				if v, ok := a.Value.Any().(slog.Level); ok {
					return slog.String(slog.LevelKey, strings.ToUpper(v.String()))
				}
				return slog.String(slog.LevelKey, strings.ToUpper(a.Value.String()))
			default:
				return a
			}
		},
	}

	var handler slog.Handler
	if cfg.Format == LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", "level", strings.ToUpper(lvl.String()), "format", cfg.Format)
}
