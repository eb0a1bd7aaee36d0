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

package filter

//{
//  "type": "and",
//  "configuration": {
//    "filters": [
//      {"type": "regexFilter", "configuration": {"pattern": "^order"}},
//      {"type": "not", "configuration": {"filters": [{"type": "propertyFilter", "configuration": {"name": "test"}}]}}
//    ]
//  }
//}
import (
	"github.com/mulego/mulego/api/types"
)

func init() {
	Registry.Add(&AndFilter{})
	Registry.Add(&OrFilter{})
	Registry.Add(&NotFilter{})
}

// LogicFilterConfiguration 节点配置
type LogicFilterConfiguration struct {
	Unaccepted `mapstructure:",squash"`
	// Filters nested filter definitions
	Filters []Definition
}

type logicFilter struct {
	Config  LogicFilterConfiguration
	filters []types.Filter
}

func (x *logicFilter) init(config types.Config, configuration types.Configuration, componentType string) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if len(x.Config.Filters) == 0 {
		return types.NewIllegalArgumentError(componentType + " requires nested filters")
	}
	x.filters = nil
	for _, def := range x.Config.Filters {
		f, err := New(config, def)
		if err != nil {
			return err
		}
		x.filters = append(x.filters, f)
	}
	return nil
}

func (x *logicFilter) Destroy() {
	for _, f := range x.filters {
		if c, ok := f.(types.Component); ok {
			c.Destroy()
		}
	}
}

// AndFilter accepts events accepted by every nested filter.
type AndFilter struct {
	logicFilter
}

func (x *AndFilter) Type() string {
	return "and"
}

func (x *AndFilter) New() types.Component {
	return &AndFilter{}
}

func (x *AndFilter) Init(config types.Config, configuration types.Configuration) error {
	return x.init(config, configuration, x.Type())
}

func (x *AndFilter) Accept(event *types.Event) (bool, error) {
	for _, f := range x.filters {
		if ok, err := f.Accept(event); err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (x *AndFilter) Process(event *types.Event) (*types.Event, error) {
	return process(x, x.Type(), x.Config.ThrowOnUnaccepted, event)
}

// OrFilter accepts events accepted by any nested filter.
type OrFilter struct {
	logicFilter
}

func (x *OrFilter) Type() string {
	return "or"
}

func (x *OrFilter) New() types.Component {
	return &OrFilter{}
}

func (x *OrFilter) Init(config types.Config, configuration types.Configuration) error {
	return x.init(config, configuration, x.Type())
}

func (x *OrFilter) Accept(event *types.Event) (bool, error) {
	for _, f := range x.filters {
		ok, err := f.Accept(event)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (x *OrFilter) Process(event *types.Event) (*types.Event, error) {
	return process(x, x.Type(), x.Config.ThrowOnUnaccepted, event)
}

// NotFilter inverts its single nested filter.
type NotFilter struct {
	logicFilter
}

func (x *NotFilter) Type() string {
	return "not"
}

func (x *NotFilter) New() types.Component {
	return &NotFilter{}
}

func (x *NotFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := x.init(config, configuration, x.Type()); err != nil {
		return err
	}
	if len(x.filters) != 1 {
		return types.NewIllegalArgumentError("not requires exactly one nested filter")
	}
	return nil
}

func (x *NotFilter) Accept(event *types.Event) (bool, error) {
	ok, err := x.filters[0].Accept(event)
	return !ok && err == nil, err
}

func (x *NotFilter) Process(event *types.Event) (*types.Event, error) {
	return process(x, x.Type(), x.Config.ThrowOnUnaccepted, event)
}
