package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a JSON zap logger writing to stdout, tagged with service and env.
func New(service, env, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stdout"}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	cfg.InitialFields = map[string]any{
		"service": service,
		"env":     env,
	}
	return cfg.Build()
}

// MustNew is like New but panics if the logger cannot be created.
func MustNew(service, env, level string) *zap.Logger {
	logger, err := New(service, env, level)
	if err != nil {
		panic(err)
	}
	return logger
}

type ctxKey struct{}

// WithContext stores the given logger in the context.
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext retrieves a logger from the context, falling back to fallback and then zap.L().
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	if fallback != nil {
		return fallback
	}
	return zap.L()
}
