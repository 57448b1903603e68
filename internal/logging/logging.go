// Package logging builds the zap logger used by the cmssign CLI and carries
// it through a context.
package logging

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describes the logger.
type Config struct {
	// Level is one of debug, info, warn or error. Empty means info.
	Level string
	// Development switches to a human readable console encoder.
	Development bool
}

type options struct {
	output     zapcore.WriteSyncer
	callerSkip int
}

// Option is a function that sets an option.
type Option func(o *options)

// WithOutput redirects log entries, which go to stderr by default.
func WithOutput(w zapcore.WriteSyncer) Option {
	return func(o *options) {
		o.output = w
	}
}

// AddCallerSkip increases the number of callers skipped by caller annotation.
func AddCallerSkip(skip int) Option {
	return func(o *options) {
		o.callerSkip = skip
	}
}

// New builds a logger from cfg.
func New(cfg Config, opts ...Option) (*zap.Logger, error) {
	o := options{output: zapcore.Lock(os.Stderr)}
	for _, opt := range opts {
		opt(&o)
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	if cfg.Development {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	zapOpts := []zap.Option{zap.AddCaller()}
	if o.callerSkip != 0 {
		zapOpts = append(zapOpts, zap.AddCallerSkip(o.callerSkip))
	}
	return zap.New(zapcore.NewCore(enc, o.output, level), zapOpts...), nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(strings.ToLower(s))
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

type loggerContextKey string

const loggerKey loggerContextKey = "logger"

// CtxWith returns a new context, based on ctx, that embeds logger.
func CtxWith(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		panic("nil context")
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromCtx returns the logger embedded in ctx, or a no-op logger. It never
// returns nil.
func FromCtx(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return zap.NewNop()
	}
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}
