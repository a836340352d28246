// Package logutil wires the process-wide logging sink used by every
// package in this module. It follows the layout of pingcap/tidb's
// pkg/util/logutil: a pingcap/log-managed zap.Logger, optionally spilling
// to a rotated file via lumberjack, with a context-scoped accessor.
package logutil

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// DefaultLogMaxSize is the default rotated log file size, in megabytes.
const DefaultLogMaxSize = 100

type ctxKeyType struct{}

var ctxKey ctxKeyType

// FileLogConfig configures the optional rotated file sink.
type FileLogConfig struct {
	log.FileLogConfig
}

// NewFileLogConfig builds a FileLogConfig with sensible rotation defaults.
func NewFileLogConfig(filename string, maxSize uint) FileLogConfig {
	if maxSize == 0 {
		maxSize = DefaultLogMaxSize
	}
	return FileLogConfig{FileLogConfig: log.FileLogConfig{
		Filename: filename,
		MaxSize:  int(maxSize),
	}}
}

// Config serializes the logger configuration, mirroring log.Config plus the
// fields this module cares about.
type Config struct {
	log.Config
}

// NewConfig builds a Config for level/format and an optional file sink.
func NewConfig(level, format string, file FileLogConfig) *Config {
	return &Config{Config: log.Config{
		Level:  level,
		Format: format,
		File:   file.FileLogConfig,
	}}
}

// globalLogger is replaced by InitLogger; it defaults to pingcap/log's
// process default so packages work before explicit initialization.
var globalLogger = log.L()

// InitLogger initializes the process-wide logger from cfg. When cfg.File.Filename
// is set, output goes only to that file, as JSON, rotated through lumberjack.
func InitLogger(cfg *Config, opts ...zap.Option) error {
	opts = append(opts, zap.AddStacktrace(zapcore.FatalLevel))
	logger, props, err := log.InitLogger(&cfg.Config, opts...)
	if err != nil {
		return errors.Trace(err)
	}
	if cfg.File.Filename != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSize,
			MaxAge:     cfg.File.MaxDays,
			MaxBackups: cfg.File.MaxBackups,
		}
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			props.Level,
		)
		logger = logger.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core {
			return core
		}))
	}
	log.ReplaceGlobals(logger, props)
	globalLogger = logger
	return nil
}

// Logger returns the ambient logger, preferring one embedded in ctx via
// WithLogger, falling back to the process-wide default.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey).(*zap.Logger); ok {
			return l
		}
	}
	return globalLogger
}

// WithLogger returns a context carrying l, retrievable with Logger.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey, l)
}

// BgLogger returns the process-wide default logger, for call sites with no context.
func BgLogger() *zap.Logger {
	return globalLogger
}
