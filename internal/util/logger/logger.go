package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.SugaredLogger
	mu           sync.RWMutex
)

// Config defines logging configuration
type Config struct {
	Level    string // "debug", "info", "warn", "error"
	Encoding string // "json" or "console"
	Output   string // "stdout", "stderr" or a file path
}

// DefaultConfig returns default logger config
func DefaultConfig() *Config {
	return &Config{
		Level:    "info",
		Encoding: "console",
		Output:   "stdout",
	}
}

// InitLogger installs the global logger unless one is already present.
func InitLogger(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger != nil {
		return
	}
	globalLogger = build(cfg)
}

// ReplaceGlobal swaps the global logger, flushing the previous one.
func ReplaceGlobal(cfg *Config) {
	next := build(cfg)
	mu.Lock()
	prev := globalLogger
	globalLogger = next
	mu.Unlock()
	if prev != nil {
		_ = prev.Sync()
	}
}

// UseNop silences logging; tests call it to keep output clean.
func UseNop() {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = zap.NewNop().Sugar()
}

func build(cfg *Config) *zap.SugaredLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var level zapcore.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.LevelKey = "level"
	encoderCfg.CallerKey = "caller"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, sink(cfg.Output), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func sink(output string) zapcore.WriteSyncer {
	switch output {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return zapcore.AddSync(os.Stdout)
	}
	return zapcore.AddSync(f)
}

// GetLogger returns the global logger instance
func GetLogger() *zap.SugaredLogger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	InitLogger(DefaultConfig())
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// Debug logs debug level messages
func Debug(msg string, args ...interface{}) {
	GetLogger().Debugf(msg, args...)
}

// Info logs info level messages
func Info(msg string, args ...interface{}) {
	GetLogger().Infof(msg, args...)
}

// Infof logs info level messages with formatting
func Infof(msg string, args ...interface{}) {
	GetLogger().Infof(msg, args...)
}

// Infow logs a message with structured key/value pairs.
func Infow(msg string, keysAndValues ...interface{}) {
	GetLogger().Infow(msg, keysAndValues...)
}

// Warn logs warning level messages
func Warn(msg string, args ...interface{}) {
	GetLogger().Warnf(msg, args...)
}

// Warnf logs warning level messages with formatting
func Warnf(msg string, args ...interface{}) {
	GetLogger().Warnf(msg, args...)
}

// Error logs error level messages
func Error(msg string, args ...interface{}) {
	GetLogger().Errorf(msg, args...)
}

// Errorf logs error level messages with formatting
func Errorf(msg string, args ...interface{}) {
	GetLogger().Errorf(msg, args...)
}

// Fatalf logs fatal level messages with formatting and exits
func Fatalf(msg string, args ...interface{}) {
	GetLogger().Fatalf(msg, args...)
}
