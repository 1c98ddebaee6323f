// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package logger provides structured logging with console and rotating file
// outputs. Packages depend on the CommonLogger interface, never on zap.
package logger

import (
	"os"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// CommonLogger is the logging interface shared across the application.
// Args are alternating key/value pairs.
type CommonLogger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	With(args ...interface{}) CommonLogger
}

// Options controls logger construction, mirroring the logging config section.
type Options struct {
	Level   string // debug, info, warn, error
	Format  string // console or json
	File    string // optional rotating log file
	Console bool   // emit to stderr
	Colors  bool   // colorize console level labels
}

// DefaultOptions returns console-only info logging.
func DefaultOptions() Options {
	return Options{Level: "info", Format: "console", Console: true, Colors: true}
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

var _ CommonLogger = (*zapLogger)(nil)

// New builds a CommonLogger for the given component.
func New(component string, opts Options) CommonLogger {
	level := parseLevel(opts.Level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if opts.Colors && opts.Format != "json" {
		encCfg.EncodeLevel = colorLevelEncoder
	} else {
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	}

	var cores []zapcore.Core
	if opts.Console {
		var enc zapcore.Encoder
		if opts.Format == "json" {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level))
	}
	if opts.File != "" {
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.TimeKey = "timestamp"
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), sink, level))
	}
	if len(cores) == 0 {
		return &zapLogger{sugar: zap.NewNop().Sugar()}
	}

	core := zapcore.NewTee(cores...)
	return &zapLogger{
		sugar: zap.New(core).Sugar().With("component", component),
	}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() CommonLogger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(msg string, args ...interface{}) { l.sugar.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...interface{})  { l.sugar.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...interface{})  { l.sugar.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...interface{}) { l.sugar.Errorw(msg, args...) }

func (l *zapLogger) With(args ...interface{}) CommonLogger {
	return &zapLogger{sugar: l.sugar.With(args...)}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func colorLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	label := l.CapitalString()
	switch l {
	case zapcore.DebugLevel:
		label = color.HiBlackString(label)
	case zapcore.InfoLevel:
		label = color.CyanString(label)
	case zapcore.WarnLevel:
		label = color.YellowString(label)
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		label = color.RedString(label)
	}
	enc.AppendString(label)
}
