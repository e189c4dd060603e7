package util

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	once         sync.Once
)

// Options selects how the process-wide logger is built.
type Options struct {
	Environment string
	Level       string
	Format      string // "json" or "console"
	Service     string
}

// Init builds the global logger once. Entries carry the service name and
// the host they came from, since several gateway replicas share one sink.
func Init(opts Options) *zap.Logger {
	once.Do(func() {
		globalLogger = build(opts)
		zap.ReplaceGlobals(globalLogger)
	})
	return globalLogger
}

func build(opts Options) *zap.Logger {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if opts.Environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.DisableStacktrace = true
		config.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}
	config.Level = zap.NewAtomicLevelAt(parseLogLevel(opts.Level))

	config.Encoding = "console"
	if opts.Format == "json" {
		config.Encoding = "json"
	}
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	fields := []zap.Field{}
	if opts.Service != "" {
		fields = append(fields, zap.String("service", opts.Service))
	}
	if host, err := os.Hostname(); err == nil {
		fields = append(fields, zap.String("instance", host))
	}

	logger, err := config.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.Fields(fields...))
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger
}

// Named returns a child of the global logger without the extra caller skip,
// for components that log through their own *zap.Logger.
func Named(name string) *zap.Logger {
	return Get().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// Get returns the global logger, building a JSON production logger if Init
// was never called.
func Get() *zap.Logger {
	if globalLogger == nil {
		return Init(Options{Environment: "production", Level: "info", Format: "json"})
	}
	return globalLogger
}

// Sync flushes any buffered log entries
func Sync() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// parseLogLevel falls back to info for anything zap does not recognise.
func parseLogLevel(level string) zapcore.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zapcore.WarnLevel
	}
	if parsed, err := zapcore.ParseLevel(level); err == nil && level != "" {
		return parsed
	}
	return zapcore.InfoLevel
}

// Convenience methods
func Info(msg string, fields ...zap.Field) {
	Get().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	Get().Warn(msg, fields...)
}

// Error function for logging error messages
func Error(msg string, fields ...zap.Field) {
	Get().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	Get().Fatal(msg, fields...)
}

// Common field helpers
func String(key, value string) zap.Field {
	return zap.String(key, value)
}

func Bool(key string, value bool) zap.Field {
	return zap.Bool(key, value)
}

func Int(key string, value int) zap.Field {
	return zap.Int(key, value)
}

func Strings(key string, value []string) zap.Field {
	return zap.Strings(key, value)
}

// ErrorField creates an error field (renamed to avoid conflict)
func ErrorField(err error) zap.Field {
	return zap.Error(err)
}

func Duration(key string, value time.Duration) zap.Field {
	return zap.Duration(key, value)
}
