// Package logger is a zap-backed structured logger that travels in the context.
// Fields attached with WithFields follow the context into every log call made
// below it, so an adjustment logs its operation id without threading a logger.
package logger

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appctx "lotledger/internal/core/context"
)

// Encodings accepted by Config.Format.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Logger is a sugared zap logger.
type Logger struct {
	*zap.SugaredLogger
}

// Config selects level, encoding and sinks.
type Config struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Format is json or console. Empty means console in development, json otherwise.
	Format string
	// Development enables caller-friendly output and DPanic panics.
	Development bool
	// Service is attached to every line when set.
	Service     string
	OutputPaths []string
}

// New builds a Logger. An unknown level or format is an error.
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		if level, err = zapcore.ParseLevel(cfg.Level); err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}

	switch cfg.Format {
	case "":
		if cfg.Development {
			zc.Encoding = FormatConsole
		}
	case FormatJSON, FormatConsole:
		zc.Encoding = cfg.Format
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	if zc.Encoding == FormatConsole {
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zc.Level = zap.NewAtomicLevelAt(level)
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	if cfg.Service != "" {
		zc.InitialFields = map[string]any{"service": cfg.Service}
	}

	zl, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &Logger{zl.Sugar()}, nil
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

var fallback atomic.Pointer[Logger]

// SetDefault makes l the logger used for contexts that carry none.
func SetDefault(l *Logger) {
	fallback.Store(l)
}

// Default returns the logger set by SetDefault, or an info-level JSON logger on stdout.
func Default() *Logger {
	if l := fallback.Load(); l != nil {
		return l
	}
	l, err := New(Config{OutputPaths: []string{"stdout"}})
	if err != nil {
		l = Nop()
	}
	fallback.CompareAndSwap(nil, l)
	return fallback.Load()
}

// WithContext adds the trace and user of ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var kv []any
	if trace := appctx.GetTrace(ctx); trace != nil {
		kv = append(kv, "trace_id", trace.TraceID, "request_id", trace.RequestID)
	}
	if userID := appctx.GetUserID(ctx); userID != "" {
		kv = append(kv, "user_id", userID)
	}
	if len(kv) == 0 {
		return l
	}
	return &Logger{l.SugaredLogger.With(kv...)}
}

// With adds key-value pairs.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{l.SugaredLogger.With(keysAndValues...)}
}

// WithComponent names the subsystem that logs.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{l.SugaredLogger.Named(name).With("component", name)}
}

type loggerKey struct{}

// WithLogger stores l in ctx.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// WithFields returns a context whose logger carries keysAndValues.
func WithFields(ctx context.Context, keysAndValues ...any) context.Context {
	return WithLogger(ctx, stored(ctx).With(keysAndValues...))
}

func stored(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// FromContext returns the logger of ctx enriched with its trace and user.
func FromContext(ctx context.Context) *Logger {
	return stored(ctx).WithContext(ctx)
}

func Debug(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Debugw(msg, keysAndValues...)
}

func Info(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Infow(msg, keysAndValues...)
}

func Warn(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Warnw(msg, keysAndValues...)
}

func Error(ctx context.Context, msg string, keysAndValues ...any) {
	FromContext(ctx).Errorw(msg, keysAndValues...)
}
