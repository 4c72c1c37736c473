// Package logs constructs the process-wide zap logger, mirroring the
// dev/prod profile split used throughout the corpus (development favors
// readable console output; production favors structured JSON with caller
// and stacktrace information).
package logs

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Env selects a logging profile.
type Env string

const (
	EnvDevelopment Env = "development"
	EnvProduction  Env = "production"
)

// Options configures logger construction.
type Options struct {
	Env      Env
	Level    string // debug, info, warn, error
	ToFile   bool
	Dir      string
	Filename string
}

// New builds a zap.Logger for opts. On any build failure it falls back to
// zap.NewNop() rather than panicking, since logging must never be the
// reason the process fails to start.
func New(opts Options) *zap.Logger {
	level := parseLevel(opts.Level)

	var cfg zap.Config
	switch opts.Env {
	case EnvProduction:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableCaller = false
		cfg.DisableStacktrace = false
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.DisableCaller = true
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	if !opts.ToFile {
		logger, err := cfg.Build()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}

	encoder := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFilePath(opts),
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	})
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, writer, level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(cfg.EncoderConfig), zapcore.AddSync(os.Stderr), level),
	)
	opts2 := []zap.Option{}
	if !cfg.DisableCaller {
		opts2 = append(opts2, zap.AddCaller())
	}
	if !cfg.DisableStacktrace {
		opts2 = append(opts2, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(core, opts2...)
}

func logFilePath(opts Options) string {
	name := opts.Filename
	if name == "" {
		name = "odoo-mcp.log"
	}
	if opts.Dir == "" {
		return name
	}
	return filepath.Join(opts.Dir, name)
}

func parseLevel(level string) zapcore.Level {
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
