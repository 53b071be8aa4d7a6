// Package logger provides the process-wide structured logger for the
// simulator. It mirrors a small set of named component loggers (cache,
// dram, controller, trace) that can be toggled independently, on top of
// a single zap core so every component shares one output stream.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors the verbosity knob the CLI exposes; it maps onto zap's
// levels rather than reinventing one.
type Level int

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

type component struct {
	enabled bool
}

// Logger is the process-wide logger instance. Only one is constructed
// per run; it is threaded explicitly rather than kept as a package
// global so tests can run in parallel with distinct instances.
type Logger struct {
	level  Level
	base   *zap.Logger
	cache  component
	dram   component
	ctrl   component
	trace  component
	closer func() error
}

// Config controls where the logger writes and which components are
// noisy. Filename == "" logs to stderr only.
type Config struct {
	Level        Level
	Filename     string
	MaxSizeMB    int
	MaxBackups   int
	CacheEnabled bool
	DRAMEnabled  bool
	CtrlEnabled  bool
	TraceEnabled bool
}

// New builds a Logger from Config.
func New(cfg Config) (*Logger, error) {
	zapLevel := toZapLevel(cfg.Level)

	var writer zapcore.WriteSyncer
	closer := func() error { return nil }

	if cfg.Filename != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    maxOr(cfg.MaxSizeMB, 64),
			MaxBackups: maxOr(cfg.MaxBackups, 3),
			Compress:   false,
		}
		writer = zapcore.AddSync(rotator)
		closer = rotator.Close
	} else {
		writer = zapcore.AddSync(os.Stderr)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	core := zapcore.NewCore(encoder, writer, zapLevel)
	base := zap.New(core)

	return &Logger{
		level:  cfg.Level,
		base:   base,
		cache:  component{cfg.CacheEnabled},
		dram:   component{cfg.DRAMEnabled},
		ctrl:   component{cfg.CtrlEnabled},
		trace:  component{cfg.TraceEnabled},
		closer: closer,
	}, nil
}

func maxOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case LevelOff:
		return zapcore.FatalLevel + 1
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelDebug, LevelTrace:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close flushes and releases the underlying writer.
func (l *Logger) Close() error {
	_ = l.base.Sync()
	return l.closer()
}

// SetCacheLogging enables or disables cache-hierarchy tracing.
func (l *Logger) SetCacheLogging(enabled bool) { l.cache.enabled = enabled }

// SetDRAMLogging enables or disables bank/command tracing.
func (l *Logger) SetDRAMLogging(enabled bool) { l.dram.enabled = enabled }

// SetControllerLogging enables or disables controller pipeline tracing.
func (l *Logger) SetControllerLogging(enabled bool) { l.ctrl.enabled = enabled }

// SetTraceLogging enables or disables trace-record tracing.
func (l *Logger) SetTraceLogging(enabled bool) { l.trace.enabled = enabled }

// Cache logs a cache-hierarchy message when cache tracing is enabled.
func (l *Logger) Cache(format string, args ...interface{}) {
	if l.cache.enabled && l.level >= LevelDebug {
		l.base.Debug(fmt.Sprintf(format, args...), zap.String("component", "cache"))
	}
}

// DRAM logs a DRAM-state message when DRAM tracing is enabled.
func (l *Logger) DRAM(format string, args ...interface{}) {
	if l.dram.enabled && l.level >= LevelDebug {
		l.base.Debug(fmt.Sprintf(format, args...), zap.String("component", "dram"))
	}
}

// Controller logs a controller pipeline message when enabled.
func (l *Logger) Controller(format string, args ...interface{}) {
	if l.ctrl.enabled && l.level >= LevelTrace {
		l.base.Debug(fmt.Sprintf(format, args...), zap.String("component", "controller"))
	}
}

// Trace logs a trace-record message when enabled.
func (l *Logger) Trace(format string, args ...interface{}) {
	if l.trace.enabled && l.level >= LevelDebug {
		l.base.Debug(fmt.Sprintf(format, args...), zap.String("component", "trace"))
	}
}

// Info logs a general informational message, gated only by level.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LevelInfo {
		l.base.Info(fmt.Sprintf(format, args...))
	}
}

// Warn logs a recoverable misconfiguration or skipped trace record.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LevelWarn {
		l.base.Warn(fmt.Sprintf(format, args...))
	}
}

// Error logs a configuration error or other non-fatal failure.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.level >= LevelError {
		l.base.Error(fmt.Sprintf(format, args...))
	}
}

// Fatal logs an internal invariant violation and exits the process.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.base.Error(fmt.Sprintf(format, args...), zap.String("severity", "fatal"))
	os.Exit(1)
}

// LevelFromString converts a CLI-facing level name to Level, defaulting
// to LevelInfo for an unrecognized value.
func LevelFromString(level string) Level {
	switch level {
	case "off":
		return LevelOff
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	default:
		return LevelInfo
	}
}
