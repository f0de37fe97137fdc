package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is an interface for logging
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
	Sync() error
}

// ZapLogger is a concrete implementation using zap's sugared logger
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new logger instance. Production uses the JSON encoder,
// everything else the console encoder. Unknown levels fall back to info.
func NewLogger(env, level string) Logger {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		base = zap.NewExample()
	}

	return &ZapLogger{sugar: base.Sugar()}
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return &ZapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *ZapLogger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l *ZapLogger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

func (l *ZapLogger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *ZapLogger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

func (l *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{sugar: l.sugar.With(args...)}
}

func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
