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

// Package el compiles ${} templates and expr-lang expressions evaluated
// against events.
package el

import (
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"

	"github.com/mulego/mulego/utils/str"
)

// Template is a configuration value that may reference the event.
type Template interface {
	Execute(env map[string]any) (interface{}, error)
	// IsNotVar the value does not depend on the environment
	IsNotVar() bool
}

var placeholder = regexp.MustCompile(`\$\{([^}]*)\}`)

// NewTemplate picks the template kind:
//
//	"${vars.n + 1}"      a whole expression keeps the result type
//	"order/${msg.id}"    mixed text is rendered to a string
//	anything else        returned as is
//
// udf names shadow expr builtins of the same name.
func NewTemplate(tmpl any, udf ...map[string]interface{}) (Template, error) {
	s, ok := tmpl.(string)
	if !ok {
		return constant{value: tmpl}, nil
	}
	matches := placeholder.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return constant{value: s}, nil
	}
	functions := make(map[string]interface{})
	for _, m := range udf {
		for k, v := range exprUdf(m) {
			functions[k] = v
		}
	}
	opts := compileOptions(functions)
	trimmed := strings.TrimSpace(s)
	if len(matches) == 1 && strings.HasPrefix(trimmed, str.VarPrefix) && strings.HasSuffix(trimmed, str.VarSuffix) {
		m := matches[0]
		program, err := compileTemplate(s[m[2]:m[3]], opts)
		if err != nil {
			return nil, err
		}
		return &exprTemplate{program: program}, nil
	}
	t := &mixedTemplate{}
	last := 0
	for _, m := range matches {
		if m[0] > last {
			t.parts = append(t.parts, part{text: s[last:m[0]]})
		}
		program, err := compileTemplate(s[m[2]:m[3]], opts)
		if err != nil {
			return nil, err
		}
		t.parts = append(t.parts, part{program: program})
		last = m[1]
	}
	if last < len(s) {
		t.parts = append(t.parts, part{text: s[last:]})
	}
	return t, nil
}

func compileTemplate(source string, opts []expr.Option) (*vm.Program, error) {
	source = strings.TrimSpace(source)
	program, err := expr.Compile(source, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "compile template ${%s}", source)
	}
	return program, nil
}

type constant struct {
	value any
}

func (t constant) Execute(map[string]any) (interface{}, error) {
	return t.value, nil
}

func (t constant) IsNotVar() bool {
	return true
}

type exprTemplate struct {
	program *vm.Program
}

func (t *exprTemplate) Execute(env map[string]any) (interface{}, error) {
	return expr.Run(t.program, env)
}

func (t *exprTemplate) IsNotVar() bool {
	return false
}

type part struct {
	text    string
	program *vm.Program
}

type mixedTemplate struct {
	parts []part
}

func (t *mixedTemplate) Execute(env map[string]any) (interface{}, error) {
	var sb strings.Builder
	for _, p := range t.parts {
		if p.program == nil {
			sb.WriteString(p.text)
			continue
		}
		v, err := expr.Run(p.program, env)
		if err != nil {
			return nil, err
		}
		sb.WriteString(str.ToString(v))
	}
	return sb.String(), nil
}

func (t *mixedTemplate) IsNotVar() bool {
	return false
}
