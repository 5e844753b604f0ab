package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *zap.Logger
	globalMu     sync.RWMutex
)

func init() {
	// Default to a production logger until SetGlobal is called
	globalLogger, _ = zap.NewProduction()
}

// Options configures a logger built by NewWithOptions.
type Options struct {
	Level string
	// File, when set, receives a copy of every entry and is rotated by lumberjack.
	File     string
	Rotation Rotation
}

// Rotation mirrors the lumberjack knobs exposed in configuration.
type Rotation struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	LocalTime  bool
}

// New creates a new zap logger from a level string.
func New(level string) (*zap.Logger, error) {
	return NewWithOptions(Options{Level: level})
}

// NewWithOptions creates a zap logger that writes JSON to stderr and, when
// opts.File is set, to a rotated log file as well.
func NewWithOptions(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	if opts.File == "" {
		return cfg.Build(
			zap.AddCallerSkip(1), // Skip one level to account for our wrapper functions
		)
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    orDefault(opts.Rotation.MaxSize, 100),
		MaxBackups: orDefault(opts.Rotation.MaxBackups, 3),
		MaxAge:     orDefault(opts.Rotation.MaxAge, 28),
		Compress:   opts.Rotation.Compress,
		LocalTime:  opts.Rotation.LocalTime,
	}

	encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), cfg.Level),
		zapcore.NewCore(encoder, zapcore.AddSync(rotator), cfg.Level),
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

// ParseLevel maps a configuration string onto a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Global returns the global logger.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal sets the global logger.
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// Info logs at info level using the global logger.
func Info(msg string, fields ...zap.Field) {
	Global().Info(msg, fields...)
}

// Warn logs at warn level using the global logger.
func Warn(msg string, fields ...zap.Field) {
	Global().Warn(msg, fields...)
}

// Error logs at error level using the global logger.
func Error(msg string, fields ...zap.Field) {
	Global().Error(msg, fields...)
}

// Debug logs at debug level using the global logger.
func Debug(msg string, fields ...zap.Field) {
	Global().Debug(msg, fields...)
}

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return Global().With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() {
	Global().Sync()
}
