// Package logger provides coremesh's structured logging facade.
//
// The Field-based API (String, Int, Err, ...) and the leveled methods
// (Debug/Info/Warn/Error/Fatal) are a thin facade over go.uber.org/zap,
// keeping call sites decoupled from the logging library itself.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the logger's severity threshold.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case Debug:
		return zapcore.DebugLevel
	case Warn:
		return zapcore.WarnLevel
	case Error:
		return zapcore.ErrorLevel
	case Fatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Field is a structured key/value pair attached to a log entry.
type Field = zap.Field

func String(key, val string) Field { return zap.String(key, val) }
func Int(key string, val int) Field { return zap.Int(key, val) }
func Uint64(key string, val uint64) Field { return zap.Uint64(key, val) }
func Duration(key string, val any) Field { return zap.Any(key, val) }
func Err(err error) Field { return zap.Error(err) }
func Any(key string, val any) Field { return zap.Any(key, val) }

// Config configures a Logger instance.
type Config struct {
	Level     Level
	Component string
	Encoding  string // "console" or "json"
}

// Logger is coremesh's structured, leveled logger.
type Logger struct {
	z         *zap.Logger
	component string
}

// New builds a Logger per Config, defaulting to console encoding at Info.
func New(cfg Config) *Logger {
	if cfg.Encoding == "" {
		cfg.Encoding = "console"
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), cfg.Level.zapLevel())
	z := zap.New(core)
	if cfg.Component != "" {
		z = z.With(zap.String("component", cfg.Component))
	}
	return &Logger{z: z, component: cfg.Component}
}

// Default returns a Logger with sensible defaults for component.
func Default(component string) *Logger {
	return New(Config{Level: Info, Component: component})
}

// With returns a child Logger that also carries the given fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{z: l.z.With(fields...), component: l.component}
}

// Named returns a child Logger scoped to a sub-component.
func (l *Logger) Named(name string) *Logger {
	return &Logger{z: l.z.Named(name), component: l.component}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, fields...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }
