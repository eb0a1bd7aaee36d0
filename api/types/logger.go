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

package types

import (
	"os"

	"github.com/rs/zerolog"
)

type Logger interface {
	Printf(format string, v ...interface{})
}

// this is a safeguard, breaking on compile time in case
// `zerolog.Logger` does not adhere to our `Logger` interface.
var _ Logger = &zerolog.Logger{}

// DefaultLogger returns a `Logger` implementation writing to stdout.
func DefaultLogger() Logger {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}).
		With().Timestamp().Logger().Level(zerolog.InfoLevel)
	return &infoLogger{l: l}
}

// infoLogger logs Printf calls at info level.
type infoLogger struct {
	l zerolog.Logger
}

func (i *infoLogger) Printf(format string, v ...interface{}) {
	i.l.Info().Msgf(format, v...)
}

func NewLogger(custom Logger) Logger {
	if custom != nil {
		return custom
	}

	return DefaultLogger()
}
