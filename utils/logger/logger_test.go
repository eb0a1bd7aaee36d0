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

package logger

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/utils/json"
)

type printfLogger struct {
	lines []string
}

func (p *printfLogger) Printf(format string, v ...interface{}) {
	p.lines = append(p.lines, fmt.Sprintf(format, v...))
}

func TestZeroLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "warn", Format: FormatJson, Out: &buf, Fields: map[string]string{"app": "test"}})
	l.Infof("dropped")
	assert.Equal(t, 0, buf.Len())

	Error(l, errors.New("boom"), "flow %s failed", "f1")
	var entry map[string]interface{}
	require.Nil(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "flow f1 failed", entry["message"])
	assert.Equal(t, "test", entry["app"])
}

func TestFallbackToPrintf(t *testing.T) {
	p := &printfLogger{}
	Error(p, errors.New("boom"), "flow %s failed", "f1")
	Warn(p, "careful")
	Debug(p, "dropped")
	assert.Equal(t, []string{"flow f1 failed: boom", "careful"}, p.lines)
	Error(nil, errors.New("x"), "no logger")
}
