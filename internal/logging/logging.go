// Package logging provides centralized logging infrastructure for bulkmail.
// Components retrieve loggers via Component() instead of passing through constructors.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	once     sync.Once
	logLevel = new(slog.LevelVar)
	current  atomic.Pointer[handlerBox]
)

type handlerBox struct{ h slog.Handler }

// Init initializes the global logger from LOG_LEVEL and NO_COLOR.
// Safe to call multiple times; only the first call takes effect.
func Init() {
	once.Do(func() {
		Setup(os.Getenv("LOG_LEVEL"), os.Getenv("NO_COLOR") != "", os.Stdout)
	})
}

// Setup replaces the global handler. Loggers already obtained through
// Component pick up the new handler on their next record.
func Setup(level string, json bool, out io.Writer) {
	logLevel.Set(parseLogLevel(level))
	opts := &slog.HandlerOptions{Level: logLevel}

	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = NewColorHandler(out, opts)
	}
	current.Store(&handlerBox{h: h})
}

func handler() slog.Handler {
	if b := current.Load(); b != nil {
		return b.h
	}
	Init()
	return current.Load().h
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	return slog.New(&switchHandler{})
}

// Component returns a logger with component context.
// Use this at package level: var log = logging.Component("dispatch")
func Component(name string) *slog.Logger {
	return Logger().With("component", name)
}

// WithFields returns a logger with additional fields.
func WithFields(fields ...any) *slog.Logger {
	return Logger().With(fields...)
}

// Level returns the current log level.
func Level() slog.Level {
	handler()
	return logLevel.Level()
}

// IsDebugEnabled returns true if debug logging is enabled.
func IsDebugEnabled() bool {
	return Level() <= slog.LevelDebug
}

// RedactEmail masks the local part of an address for info-level logs.
// "jane.doe@example.com" becomes "j***@example.com".
func RedactEmail(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 0 {
		if addr == "" {
			return ""
		}
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// switchHandler resolves the global handler at record time so that
// package-level component loggers follow Setup.
type switchHandler struct {
	wrap []func(slog.Handler) slog.Handler
}

func (s *switchHandler) resolve() slog.Handler {
	h := handler()
	for _, w := range s.wrap {
		h = w(h)
	}
	return h
}

func (s *switchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return handler().Enabled(ctx, level)
}

func (s *switchHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.resolve().Handle(ctx, r)
}

func (s *switchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return s.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (s *switchHandler) WithGroup(name string) slog.Handler {
	return s.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (s *switchHandler) with(f func(slog.Handler) slog.Handler) *switchHandler {
	wrap := make([]func(slog.Handler) slog.Handler, len(s.wrap), len(s.wrap)+1)
	copy(wrap, s.wrap)
	return &switchHandler{wrap: append(wrap, f)}
}
