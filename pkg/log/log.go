// Copyright 2025 The Flowgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides application logging on top of zap. Log entries carry
// a message and an even-length list of key-value context pairs.
package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger describes the logger interface.
type Logger interface {
	// New returns a child logger with the given context attached to every
	// entry.
	New(ctx ...interface{}) Logger
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Enabled(lvl Level) bool
}

// Level is the log level.
type Level = zapcore.Level

// The supported log levels.
const (
	LevelDebug = zapcore.DebugLevel
	LevelInfo  = zapcore.InfoLevel
	LevelError = zapcore.ErrorLevel
)

// Config configures the logging backend.
type Config struct {
	// Level of the logging entries: debug, info or error.
	Level string `toml:"level,omitempty" yaml:"level,omitempty"`
	// Format of the log entries: human or json.
	Format string `toml:"format,omitempty" yaml:"format,omitempty"`
	// StacktraceLevel sets from which level stacktraces are included.
	StacktraceLevel string `toml:"stacktrace_level,omitempty" yaml:"stacktrace_level,omitempty"`
}

// InitDefaults populates unset fields to their default values.
func (c *Config) InitDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "human"
	}
	if c.StacktraceLevel == "" {
		c.StacktraceLevel = "error"
	}
}

func parseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return lvl, fmt.Errorf("unsupported log level: %q", s)
	}
	return lvl, nil
}

// Setup configures the root logger. It must be called before the root logger
// is used.
func Setup(cfg Config) error {
	cfg.InitDefaults()
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	stacktrace, err := parseLevel(cfg.StacktraceLevel)
	if err != nil {
		return err
	}
	var encoding string
	switch cfg.Format {
	case "human":
		encoding = "console"
	case "json":
		encoding = "json"
	default:
		return fmt.Errorf("unsupported log format: %q", cfg.Format)
	}
	zCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         encoding,
		EncoderConfig:    encoderConfig(encoding),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zCfg.Build(
		zap.AddCallerSkip(1),
		zap.AddStacktrace(stacktrace),
	)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	return nil
}

func encoderConfig(encoding string) zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return ec
}

// HandlePanic catches panics and logs them before exiting. It should be
// deferred at the top of every goroutine that logs.
func HandlePanic() {
	if msg := recover(); msg != nil {
		zap.L().Error("Panic", zap.Any("msg", msg), zap.Stack("stacktrace"))
		zap.L().Sync()
		panic(msg)
	}
}

// Flush writes buffered log entries to their output.
func Flush() error {
	return zap.L().Sync()
}

// Root returns the root logger. It is never nil.
func Root() Logger {
	return &logger{logger: zap.L()}
}

// New returns a child of the root logger with the given context attached.
func New(ctx ...interface{}) Logger {
	return Root().New(ctx...)
}

// Debug logs at debug level on the root logger.
func Debug(msg string, ctx ...interface{}) { Root().(*logger).log(LevelDebug, msg, ctx) }

// Info logs at info level on the root logger.
func Info(msg string, ctx ...interface{}) { Root().(*logger).log(LevelInfo, msg, ctx) }

// Error logs at error level on the root logger.
func Error(msg string, ctx ...interface{}) { Root().(*logger).log(LevelError, msg, ctx) }

type logger struct {
	logger *zap.Logger
}

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{logger: l.logger.With(convertCtx(ctx)...)}
}

func (l *logger) Debug(msg string, ctx ...interface{}) { l.log(LevelDebug, msg, ctx) }

func (l *logger) Info(msg string, ctx ...interface{}) { l.log(LevelInfo, msg, ctx) }

func (l *logger) Error(msg string, ctx ...interface{}) { l.log(LevelError, msg, ctx) }

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(lvl)
}

func (l *logger) log(lvl Level, msg string, ctx []interface{}) {
	if ce := l.logger.Check(lvl, msg); ce != nil {
		ce.Write(convertCtx(ctx)...)
	}
}

func convertCtx(ctx []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(ctx[i]), ctx[i+1]))
	}
	return fields
}

// Discard returns a logger that drops all entries; useful in tests.
func Discard() Logger {
	return &logger{logger: zap.NewNop()}
}
