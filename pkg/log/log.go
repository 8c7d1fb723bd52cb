// Copyright 2025 The seg6 Authors
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

// Package log wraps zap with a key/value pair logging API. The data path
// logs at debug level only.
package log

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger describes the logger interface.
type Logger interface {
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
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Config configures the logger.
type Config struct {
	// Level of the logging (defaults to info).
	Level string
	// Format of the logging (human|json, defaults to human).
	Format string
}

var root atomic.Pointer[logger]

func init() {
	root.Store(&logger{logger: zap.NewNop()})
}

// Setup configures the root logger. It must be called before the root logger
// is used.
func Setup(cfg Config) error {
	lvl := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}
	encoding := "console"
	if strings.EqualFold(cfg.Format, "json") {
		encoding = "json"
	}
	zCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         encoding,
		EncoderConfig:    encoderConfig(encoding),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	zLogger, err := zCfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return err
	}
	root.Store(&logger{logger: zLogger})
	return nil
}

func encoderConfig(encoding string) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return cfg
}

// Root returns the root logger. It is never nil.
func Root() Logger {
	return root.Load()
}

// New creates a logger with the given context attached to the root logger.
func New(ctx ...interface{}) Logger {
	return Root().New(ctx...)
}

// Debug logs at debug level on the root logger.
func Debug(msg string, ctx ...interface{}) { root.Load().log(DebugLevel, msg, ctx) }

// Info logs at info level on the root logger.
func Info(msg string, ctx ...interface{}) { root.Load().log(InfoLevel, msg, ctx) }

// Error logs at error level on the root logger.
func Error(msg string, ctx ...interface{}) { root.Load().log(ErrorLevel, msg, ctx) }

// HandlePanic catches panics and logs them. Every goroutine should defer it
// as its first statement.
func HandlePanic() {
	if msg := recover(); msg != nil {
		Error("Panic", "msg", msg, "stack", string(debug.Stack()))
		panic(msg)
	}
}

// Discard returns a logger that throws everything away. Useful in tests.
func Discard() Logger {
	return &logger{logger: zap.NewNop()}
}

type logger struct {
	logger *zap.Logger
}

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{logger: l.logger.With(fields(ctx)...)}
}

func (l *logger) Debug(msg string, ctx ...interface{}) { l.log(DebugLevel, msg, ctx) }

func (l *logger) Info(msg string, ctx ...interface{}) { l.log(InfoLevel, msg, ctx) }

func (l *logger) Error(msg string, ctx ...interface{}) { l.log(ErrorLevel, msg, ctx) }

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(lvl)
}

func (l *logger) log(lvl Level, msg string, ctx []interface{}) {
	if ce := l.logger.Check(lvl, msg); ce != nil {
		ce.Write(fields(ctx)...)
	}
}

func fields(ctx []interface{}) []zap.Field {
	fs := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		fs = append(fs, zap.Any(fmt.Sprint(ctx[i]), ctx[i+1]))
	}
	return fs
}
