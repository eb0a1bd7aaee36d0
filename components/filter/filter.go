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

import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/maps"
)

// Registry 默认组件注册器
var Registry = &types.SafeComponentSlice{}

// Unaccepted configures what happens to rejected events.
type Unaccepted struct {
	// ThrowOnUnaccepted fail with FilterUnacceptedError instead of stopping silently
	ThrowOnUnaccepted bool
}

// process runs f as a processor.
func process(f types.Filter, name string, throw bool, event *types.Event) (*types.Event, error) {
	ok, err := f.Accept(event)
	if err != nil {
		return nil, err
	}
	if ok {
		return event, nil
	}
	if throw {
		return nil, &types.FilterUnacceptedError{Filter: name}
	}
	return nil, nil
}

// Definition 嵌套过滤器定义
type Definition struct {
	Type          string
	Configuration types.Configuration
}

// New creates and initialises the filter of def from the components registry of
// config, or from this package when none is set.
func New(config types.Config, def Definition) (types.Filter, error) {
	var c types.Component
	if config.ComponentsRegistry != nil {
		var err error
		if c, err = config.ComponentsRegistry.NewComponent(def.Type); err != nil {
			return nil, err
		}
	} else {
		for _, item := range Registry.Components() {
			if item.Type() == def.Type {
				c = item.New()
				break
			}
		}
		if c == nil {
			return nil, types.NewNotFoundError("component type " + def.Type)
		}
	}
	f, ok := c.(types.Filter)
	if !ok {
		return nil, types.NewIllegalArgumentError(def.Type + " is not a filter")
	}
	if err := c.Init(config, def.Configuration); err != nil {
		return nil, err
	}
	return f, nil
}

// decode decodes configuration into out.
func decode(configuration types.Configuration, out interface{}) error {
	return maps.Map2Struct(configuration, out)
}
