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

package el

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/builtin"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/str"
)

// Expression is a compiled expression evaluated against an event.
// The environment is the event Env plus registered udf and the helper functions:
//
//	causedBy("UnauthorisedError")  the current exception chain has an error of that type
//	variable("name")               flow variable or nil
//	property("inbound", "key")     message property of a scope
type Expression struct {
	Source  string
	program *vm.Program
	udf     map[string]interface{}
}

// Compile compiles source. A surrounding ${} is optional.
func Compile(source string, udf map[string]interface{}) (*Expression, error) {
	s := strings.TrimSpace(source)
	if strings.HasPrefix(s, str.VarPrefix) && strings.HasSuffix(s, str.VarSuffix) {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	if s == "" {
		return nil, types.NewIllegalArgumentError("empty expression")
	}
	functions := exprUdf(udf)
	program, err := expr.Compile(s, compileOptions(functions)...)
	if err != nil {
		return nil, errors.Wrapf(err, "compile expression %q", source)
	}
	return &Expression{Source: s, program: program, udf: functions}, nil
}

// compileOptions lets registered udfs take precedence over same-named expr builtins, e.g. now().
func compileOptions(functions map[string]interface{}) []expr.Option {
	opts := []expr.Option{expr.AllowUndefinedVariables()}
	for name := range functions {
		if _, ok := builtin.Index[name]; ok {
			opts = append(opts, expr.DisableBuiltin(name))
		}
	}
	return opts
}

// exprUdf keeps functions usable from expressions, JavaScript only entries are skipped.
func exprUdf(udf map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(udf))
	for k, v := range udf {
		if strings.HasPrefix(k, types.Js+types.ScriptFuncSeparator) {
			continue
		}
		if _, isScript := v.(string); isScript {
			continue
		}
		out[k] = v
	}
	return out
}

// Env builds the evaluation environment of event.
func Env(event *types.Event, udf map[string]interface{}) map[string]interface{} {
	env := event.Env()
	for k, v := range udf {
		env[k] = v
	}
	env["causedBy"] = func(typeName string) bool {
		return CausedBy(event, typeName)
	}
	env["variable"] = func(name string) interface{} {
		v, _ := event.Variable(name)
		return v
	}
	env["property"] = func(scope, key string) interface{} {
		switch types.PropertyScope(scope) {
		case types.InvocationScope:
			v, _ := event.Variable(key)
			return v
		case types.SessionScope:
			v, _ := event.Session().Get(key)
			return v
		default:
			if msg := event.Message(); msg != nil {
				return msg.Property(types.PropertyScope(scope), key)
			}
			return nil
		}
	}
	return env
}

// Eval evaluates the expression against event.
func (e *Expression) Eval(event *types.Event) (interface{}, error) {
	return expr.Run(e.program, Env(event, e.udf))
}

// EvalBool evaluates the expression, a non bool result is an error.
func (e *Expression) EvalBool(event *types.Event) (bool, error) {
	v, err := e.Eval(event)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	default:
		return false, errors.Errorf("expression %q returned %T, expected bool", e.Source, v)
	}
}

// CausedBy reports whether the exception payload of the event's message has an
// error in its chain whose type name ends with typeName, e.g. "UnauthorisedError".
func CausedBy(event *types.Event, typeName string) bool {
	msg := event.Message()
	if msg == nil || msg.ExceptionPayload() == nil {
		return false
	}
	for err := msg.ExceptionPayload().Err; err != nil; err = errors.Unwrap(err) {
		name := fmt.Sprintf("%T", err)
		if strings.HasSuffix(name, "."+typeName) || name == typeName {
			return true
		}
	}
	return false
}

// Render executes t against event. Templates without variables skip building the environment.
func Render(t Template, event *types.Event, udf map[string]interface{}) (interface{}, error) {
	if t.IsNotVar() {
		return t.Execute(nil)
	}
	return t.Execute(Env(event, exprUdf(udf)))
}
