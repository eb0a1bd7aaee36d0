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

// Package funcs holds the built-in functions available to expressions and scripts.
// engine.NewConfig registers ScriptFunc into types.Config.Udf.
package funcs

import (
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/mulego/mulego/utils/json"
)

// ScriptFunc 内置表达式/脚本函数
var ScriptFunc = NewFuncMap[any]()

var escaper = strings.NewReplacer(
	"\\", "\\\\",
	"\"", "\\\"",
	"\n", "\\n",
	"\r", "\\r",
	"\t", "\\t",
)

func init() {
	ScriptFunc.Register("escape", func(s string) string {
		return escaper.Replace(s)
	})
	ScriptFunc.Register("uuid", func() string {
		return uuid.Must(uuid.NewV4()).String()
	})
	// now unix milliseconds
	ScriptFunc.Register("now", func() int64 {
		return time.Now().UnixMilli()
	})
	ScriptFunc.Register("toJson", func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	})
	ScriptFunc.Register("base64Encode", func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	})
	ScriptFunc.Register("base64Decode", func(s string) (string, error) {
		b, err := base64.StdEncoding.DecodeString(s)
		return string(b), err
	})
}

// FuncMap is a concurrent safe registry of named values.
type FuncMap[T any] struct {
	v map[string]T
	sync.RWMutex
}

func NewFuncMap[T any]() *FuncMap[T] {
	return &FuncMap[T]{v: make(map[string]T)}
}

func (x *FuncMap[T]) Register(name string, value T) {
	x.Lock()
	defer x.Unlock()
	x.v[name] = value
}

func (x *FuncMap[T]) RegisterAll(values map[string]T) {
	x.Lock()
	defer x.Unlock()
	for k, v := range values {
		x.v[k] = v
	}
}

func (x *FuncMap[T]) UnRegister(name string) {
	x.Lock()
	defer x.Unlock()
	delete(x.v, name)
}

func (x *FuncMap[T]) Get(name string) (T, bool) {
	x.RLock()
	defer x.RUnlock()
	f, ok := x.v[name]
	return f, ok
}

// GetAll returns a copy of the registered values.
func (x *FuncMap[T]) GetAll() map[string]T {
	x.RLock()
	defer x.RUnlock()
	cp := make(map[string]T, len(x.v))
	for k, v := range x.v {
		cp[k] = v
	}
	return cp
}

func (x *FuncMap[T]) Names() []string {
	x.RLock()
	defer x.RUnlock()
	var keys = make([]string, 0, len(x.v))
	for k := range x.v {
		keys = append(keys, k)
	}
	return keys
}
