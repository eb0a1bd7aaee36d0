/*
 * Copyright 2023 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger provides the zerolog backed implementation of types.Logger
// with levels, used by the CLI and by components that log failures.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mulego/mulego/api/types"
)

// Formats
const (
	FormatConsole = "console"
	FormatJson    = "json"
)

// Options configures a ZeroLogger.
type Options struct {
	// Level debug, info, warn or error. Default info
	Level string
	// Format console or json. Default console
	Format string
	// Out default os.Stdout
	Out io.Writer
	// Fields added to every entry
	Fields map[string]string
}

// Leveled is implemented by loggers supporting levels.
type Leveled interface {
	types.Logger
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(err error, format string, v ...interface{})
}

// ZeroLogger 基于zerolog的日志记录器
type ZeroLogger struct {
	zl zerolog.Logger
}

var _ Leveled = (*ZeroLogger)(nil)

// New creates a ZeroLogger.
func New(opts Options) *ZeroLogger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	var zl zerolog.Logger
	if strings.ToLower(opts.Format) == FormatJson {
		zl = zerolog.New(out)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	ctx := zl.With().Timestamp()
	for k, v := range opts.Fields {
		ctx = ctx.Str(k, v)
	}
	return &ZeroLogger{zl: ctx.Logger().Level(ParseLevel(opts.Level))}
}

// ParseLevel parses a level name, unknown names are info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Printf logs at info level.
func (l *ZeroLogger) Printf(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

func (l *ZeroLogger) Debugf(format string, v ...interface{}) {
	l.zl.Debug().Msgf(format, v...)
}

func (l *ZeroLogger) Infof(format string, v ...interface{}) {
	l.zl.Info().Msgf(format, v...)
}

func (l *ZeroLogger) Warnf(format string, v ...interface{}) {
	l.zl.Warn().Msgf(format, v...)
}

func (l *ZeroLogger) Errorf(err error, format string, v ...interface{}) {
	l.zl.Error().Err(err).Msgf(format, v...)
}

// Zerolog returns the underlying logger.
func (l *ZeroLogger) Zerolog() zerolog.Logger {
	return l.zl
}

// Error logs err at error level when l supports levels, through Printf otherwise.
func Error(l types.Logger, err error, format string, v ...interface{}) {
	if l == nil {
		return
	}
	if lv, ok := l.(Leveled); ok {
		lv.Errorf(err, format, v...)
		return
	}
	l.Printf("%s: %v", fmt.Sprintf(format, v...), err)
}

// Debug logs at debug level when l supports levels and drops the entry otherwise.
func Debug(l types.Logger, format string, v ...interface{}) {
	if lv, ok := l.(Leveled); ok {
		lv.Debugf(format, v...)
	}
}

// Warn logs at warn level when l supports levels, through Printf otherwise.
func Warn(l types.Logger, format string, v ...interface{}) {
	if l == nil {
		return
	}
	if lv, ok := l.(Leveled); ok {
		lv.Warnf(format, v...)
		return
	}
	l.Printf(format, v...)
}
