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

package engine

import (
	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/json"
	"github.com/mulego/mulego/utils/validate"
)

var _ types.Parser = (*JsonParser)(nil)

// JsonParser Json
type JsonParser struct {
}

// DecodeApp 通过json解析应用定义并校验
func (p *JsonParser) DecodeApp(def []byte) (*types.AppDsl, error) {
	if len(def) == 0 {
		return nil, errors.Wrap(types.ErrIllegalArgument, "application definition is empty")
	}
	var app types.AppDsl
	if err := json.Unmarshal(def, &app); err != nil {
		return nil, errors.Wrap(types.ErrIllegalArgument, err.Error())
	}
	if err := Validate(&app); err != nil {
		return nil, err
	}
	return &app, nil
}

// EncodeApp 格式化输出应用定义
func (p *JsonParser) EncodeApp(def *types.AppDsl) ([]byte, error) {
	if v, err := json.Marshal(def); err != nil {
		return nil, err
	} else {
		return json.Format(v)
	}
}

// Validate checks the tags of def and the rules tags cannot express: unique flow,
// connector and strategy names, and references to them.
func Validate(def *types.AppDsl) error {
	if err := validate.Struct(def); err != nil {
		return err
	}
	names := make(map[string]string)
	unique := func(kind, name string) error {
		if other, ok := names[name]; ok {
			return errors.Wrapf(types.ErrIllegalArgument, "%s %s: name already used by a %s", kind, name, other)
		}
		names[name] = kind
		return nil
	}
	connectors := make(map[string]bool)
	for _, c := range def.Connectors {
		if err := unique("connector", c.Name); err != nil {
			return err
		}
		connectors[c.Name] = true
	}
	for _, s := range def.ExceptionStrategies {
		if s.Name == "" {
			return errors.Wrap(types.ErrIllegalArgument, "global exception strategies require a name")
		}
		if err := unique("exception strategy", s.Name); err != nil {
			return err
		}
	}
	if def.DefaultExceptionStrategy != "" {
		if names[def.DefaultExceptionStrategy] != "exception strategy" {
			return errors.Wrapf(types.ErrNotFound, "default exception strategy %s", def.DefaultExceptionStrategy)
		}
	}
	for _, f := range def.Flows {
		if err := unique("flow", f.Name); err != nil {
			return err
		}
	}
	for _, f := range def.Flows {
		if f.Source != nil {
			if err := validateEndpoint(f.Source, connectors); err != nil {
				return errors.WithMessagef(err, "flow %s source", f.Name)
			}
		}
		if err := validateProcessors(f.Processors, connectors); err != nil {
			return errors.WithMessagef(err, "flow %s", f.Name)
		}
	}
	return nil
}

func validateEndpoint(e *types.EndpointDsl, connectors map[string]bool) error {
	if e.Connector != "" && !connectors[e.Connector] {
		return errors.Wrapf(types.ErrNotFound, "connector %s", e.Connector)
	}
	return nil
}

func validateProcessors(processors []*types.ProcessorDsl, connectors map[string]bool) error {
	for _, p := range processors {
		if p.Type == OutboundType {
			if p.Endpoint == nil {
				return errors.Wrapf(types.ErrIllegalArgument, "outbound processor %s has no endpoint", p.Id)
			}
			if err := validateEndpoint(p.Endpoint, connectors); err != nil {
				return err
			}
		}
		if err := validateProcessors(p.Processors, connectors); err != nil {
			return err
		}
		for _, r := range p.Routes {
			if err := validateProcessors(r.Processors, connectors); err != nil {
				return err
			}
		}
	}
	return nil
}
