// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ncaclog is the process-wide structured logger every NCAC
// component logs through, instead of fmt/log directly. It wraps log/slog
// with a severity scheme (TRACE..OFF, wider than slog's default range)
// and a rotating-file sink.
package ncaclog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity strings accepted by SetLogLevel/InitLogFile, matching the
// closed set a config file's logging.severity field may hold.
const (
	SeverityTrace   = "TRACE"
	SeverityDebug   = "DEBUG"
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
	SeverityOff     = "OFF"
)

// slog levels for each severity. LevelTrace sits below slog's built-in
// LevelDebug; LevelOff sits above any real message so nothing is ever
// emitted at that level.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(math.MaxInt)
)

// LogRotateConfig mirrors a config file's logging.log-rotate block.
type LogRotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

func severityToLevel(severity string) slog.Level {
	switch severity {
	case SeverityTrace:
		return LevelTrace
	case SeverityDebug:
		return LevelDebug
	case SeverityWarning:
		return LevelWarn
	case SeverityError:
		return LevelError
	case SeverityOff:
		return LevelOff
	default:
		return LevelInfo
	}
}

func levelToSeverity(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return SeverityTrace
	case l < LevelInfo:
		return SeverityDebug
	case l < LevelWarn:
		return SeverityInfo
	case l < LevelError:
		return SeverityWarning
	case l < LevelOff:
		return SeverityError
	default:
		return SeverityOff
	}
}

func replaceSeverity(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		a.Key = "severity"
		a.Value = slog.StringValue(levelToSeverity(a.Value.Any().(slog.Level)))
	}
	return a
}

// loggerFactory owns the sink and format the process-wide logger is
// rebuilt from whenever SetLogFormat/SetLogLevel/InitLogFile is called,
// mirroring the teacher's single mutable logger-factory pattern.
type loggerFactory struct {
	mu     sync.Mutex
	out    io.Writer
	async  *AsyncLogger
	format string
	level  *slog.LevelVar
}

func (f *loggerFactory) handler() slog.Handler {
	opts := &slog.HandlerOptions{Level: f.level, ReplaceAttr: replaceSeverity}
	if f.format == "text" {
		return slog.NewTextHandler(f.out, opts)
	}
	return slog.NewJSONHandler(f.out, opts)
}

var (
	programLevel         = &slog.LevelVar{}
	defaultLoggerFactory = &loggerFactory{out: os.Stderr, format: "json", level: programLevel}
	mu                   sync.Mutex
	defaultLogger        = slog.New(defaultLoggerFactory.handler())
)

// SetLogLevel changes the minimum severity logged from now on.
func SetLogLevel(severity string) {
	programLevel.Set(severityToLevel(severity))
}

// SetLogFormat switches between "text" and "json" output; any other
// value (including "") defaults to "json".
func SetLogFormat(format string) {
	if format != "text" {
		format = "json"
	}
	mu.Lock()
	defer mu.Unlock()
	defaultLoggerFactory.mu.Lock()
	defaultLoggerFactory.format = format
	h := defaultLoggerFactory.handler()
	defaultLoggerFactory.mu.Unlock()
	defaultLogger = slog.New(h)
}

// InitLogFile redirects the sink to a lumberjack-rotated file, buffered
// through an AsyncLogger so logging calls never block on disk I/O.
func InitLogFile(path string, rotate LogRotateConfig, severity, format string) error {
	if path == "" {
		return nil
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotate.MaxFileSizeMB,
		MaxBackups: rotate.BackupFileCount,
		Compress:   rotate.Compress,
	}
	async := NewAsyncLogger(lj, 4096)

	mu.Lock()
	defer mu.Unlock()
	defaultLoggerFactory.mu.Lock()
	defaultLoggerFactory.out = async
	defaultLoggerFactory.async = async
	if format != "" {
		defaultLoggerFactory.format = format
	}
	h := defaultLoggerFactory.handler()
	defaultLoggerFactory.mu.Unlock()

	SetLogLevel(severity)
	defaultLogger = slog.New(h)
	return nil
}

// Close flushes and closes the file sink InitLogFile installed, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if defaultLoggerFactory.async == nil {
		return nil
	}
	return defaultLoggerFactory.async.Close()
}

func logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// With returns a logger carrying the given structured key/value pairs on
// every subsequent line (spec-mandated fields: collection_id, handle,
// extent_index, request_id) rather than a formatted string.
func With(args ...any) *slog.Logger {
	return logger().With(args...)
}

func log(ctx context.Context, level slog.Level, msg string) {
	l := logger()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, msg)
}

func Trace(msg string)               { log(context.Background(), LevelTrace, msg) }
func Tracef(format string, a ...any)  { log(context.Background(), LevelTrace, fmt.Sprintf(format, a...)) }
func Debug(msg string)               { log(context.Background(), LevelDebug, msg) }
func Debugf(format string, a ...any)  { log(context.Background(), LevelDebug, fmt.Sprintf(format, a...)) }
func Info(msg string)                { log(context.Background(), LevelInfo, msg) }
func Infof(format string, a ...any)   { log(context.Background(), LevelInfo, fmt.Sprintf(format, a...)) }
func Warn(msg string)                { log(context.Background(), LevelWarn, msg) }
func Warnf(format string, a ...any)   { log(context.Background(), LevelWarn, fmt.Sprintf(format, a...)) }
func Error(msg string)               { log(context.Background(), LevelError, msg) }
func Errorf(format string, a ...any)  { log(context.Background(), LevelError, fmt.Sprintf(format, a...)) }
