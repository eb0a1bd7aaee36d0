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

// Package js runs JavaScript through goja for script filters, transformers
// and loggers.
//
// A script body is wrapped into a function of (msg, inbound, vars). Runtimes
// are pooled, string udfs are compiled once per engine, and every call is
// interrupted after Config.ScriptMaxExecutionTime.
package js

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

const (
	// GlobalKey exposes Config.Properties as global.xx
	GlobalKey = "global"
	// EventKey the current event, exposed to scripts as $event
	EventKey = "$event"
	// ScriptParams parameters of a wrapped script body
	ScriptParams = "msg, inbound, vars"
)

// ErrInterrupted the script ran longer than ScriptMaxExecutionTime
var ErrInterrupted = errors.New("script execution timeout")

// Engine 脚本引擎
type Engine struct {
	config   types.Config
	entry    string
	program  *goja.Program
	udfs     map[string]*goja.Program
	runtimes sync.Pool
}

// NewScript wraps body into function entry(msg, inbound, vars) and compiles it.
// Invoke calls entry with the event's payload, inbound properties and flow variables.
func NewScript(config types.Config, entry, body string) (*Engine, error) {
	source := fmt.Sprintf("function %s(%s) { %s }", entry, ScriptParams, body)
	e, err := New(config, source)
	if err != nil {
		return nil, err
	}
	e.entry = entry
	return e, nil
}

// New compiles source, which declares the functions later reached through Call.
func New(config types.Config, source string) (*Engine, error) {
	program, err := goja.Compile("", source, true)
	if err != nil {
		return nil, errors.Wrap(types.ErrIllegalArgument, err.Error())
	}
	e := &Engine{config: config, program: program, udfs: make(map[string]*goja.Program)}
	for name, v := range config.Udf {
		if script, ok := v.(string); ok {
			p, err := goja.Compile(name, script, true)
			if err != nil {
				return nil, errors.Wrapf(types.ErrIllegalArgument, "udf %s: %s", name, err)
			}
			e.udfs[name] = p
		}
	}
	e.runtimes.New = func() interface{} {
		return e.newRuntime()
	}
	return e, nil
}

func (e *Engine) newRuntime() *goja.Runtime {
	vm := goja.New()
	logger := e.config.Logger
	if len(e.config.Properties) != 0 {
		if err := vm.Set(GlobalKey, e.config.Properties); err != nil {
			logger.Printf("js: set %s: %s", GlobalKey, err)
		}
	}
	for name, v := range e.config.Udf {
		if _, ok := v.(string); ok {
			continue
		}
		name = strings.TrimPrefix(name, types.Js+types.ScriptFuncSeparator)
		if err := vm.Set(name, v); err != nil {
			logger.Printf("js: set udf %s: %s", name, err)
		}
	}
	for name, p := range e.udfs {
		if _, err := vm.RunProgram(p); err != nil {
			logger.Printf("js: run udf %s: %s", name, err)
		}
	}
	stop := e.watch(vm)
	_, err := vm.RunProgram(e.program)
	stop()
	vm.ClearInterrupt()
	if err != nil {
		logger.Printf("js: run script: %s", err)
	}
	return vm
}

// Invoke calls the wrapped script function with the event.
func (e *Engine) Invoke(event *types.Event) (interface{}, error) {
	if e.entry == "" {
		return nil, types.NewIllegalStateError("script has no entry function")
	}
	env := event.Env()
	return e.Call(event, e.entry, env["msg"], env["inbound"], env["vars"])
}

// Call calls function name with args. event is exposed as $event when not nil.
func (e *Engine) Call(event *types.Event, name string, args ...interface{}) (out interface{}, err error) {
	vm := e.runtimes.Get().(*goja.Runtime)
	defer func() {
		if caught := recover(); caught != nil {
			err = fmt.Errorf("%s", caught)
		}
		vm.ClearInterrupt()
		e.runtimes.Put(vm)
	}()

	if event != nil {
		_ = vm.Set(EventKey, event)
	}
	fn, ok := goja.AssertFunction(vm.Get(name))
	if !ok {
		return nil, types.NewNotFoundError(name + " is not a function")
	}
	params := make([]goja.Value, len(args))
	for i, v := range args {
		params[i] = vm.ToValue(v)
	}

	stop := e.watch(vm)
	res, err := fn(goja.Undefined(), params...)
	stop()
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, errors.Wrap(ErrInterrupted, name)
		}
		return nil, err
	}
	return res.Export(), nil
}

// watch interrupts vm after ScriptMaxExecutionTime. The returned func cancels it.
func (e *Engine) watch(vm *goja.Runtime) func() {
	if e.config.ScriptMaxExecutionTime <= 0 {
		return func() {}
	}
	timer := time.AfterFunc(e.config.ScriptMaxExecutionTime, func() {
		vm.Interrupt(ErrInterrupted)
	})
	return func() { timer.Stop() }
}

// Close releases the engine.
func (e *Engine) Close() {
}
