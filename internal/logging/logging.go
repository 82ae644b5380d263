// Package logging builds the zap logger used by every causality command.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/causality/internal/config"
)

// New builds a logger for cfg. Console output goes to stderr; when
// cfg.File is set, entries are written through a rotating file instead.
func New(cfg config.Log) (*zap.Logger, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.Log, stderr io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, &config.Error{Message: fmt.Sprintf("log.level %q", cfg.Level), Cause: err}
	}
	enc, err := encoder(cfg.Format)
	if err != nil {
		return nil, err
	}
	out := zapcore.AddSync(stderr)
	if cfg.File != "" {
		if out, err = fileWriter(cfg); err != nil {
			return nil, err
		}
	}
	core := zapcore.NewCore(enc, out, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller()), nil
}

func encoder(format string) (zapcore.Encoder, error) {
	switch format {
	case "", "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec), nil
	case "json":
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(ec), nil
	}
	return nil, &config.Error{Message: fmt.Sprintf("log.format %q", format)}
}

func fileWriter(cfg config.Log) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return nil, &config.Error{Path: cfg.File, Message: "create log directory", Cause: err}
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}), nil
}

// Named returns a child logger for one subsystem, or a no-op logger when
// log is nil.
func Named(log *zap.Logger, name string) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.Named(name)
}
