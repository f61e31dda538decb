package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logger used across the repo. Every method takes the
// request context first so handlers can pull trace ids off the active span.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App             string
	Version         string
	Level           slog.Level
	StacktraceLevel slog.Level
	JsonFormat      bool
	Writer          io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

// Log writes msg at lvl. Levels between the named ones round down, so a custom
// level of INFO+2 is logged as Info.
func Log(l Logger, ctx context.Context, lvl slog.Level, msg string, kv ...any) {
	if l == nil {
		return
	}
	switch {
	case lvl >= slog.LevelError:
		l.Error(ctx, nil, msg, kv...)
	case lvl >= slog.LevelWarn:
		l.Warn(ctx, msg, kv...)
	case lvl >= slog.LevelInfo:
		l.Info(ctx, msg, kv...)
	default:
		l.Debug(ctx, msg, kv...)
	}
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
	}
}
