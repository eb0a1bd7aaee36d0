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
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/components/action"
	"github.com/mulego/mulego/components/filter"
	"github.com/mulego/mulego/components/router"
	"github.com/mulego/mulego/components/scope"
	"github.com/mulego/mulego/components/transform"
	"github.com/mulego/mulego/security"
)

var _ types.ComponentRegistry = (*ComponentRegistry)(nil)

// Registry is the default component registry.
var Registry = new(ComponentRegistry)

// init registers the built-in components to the default registry.
func init() {
	var components []types.Component
	components = append(components, filter.Registry.Components()...)
	components = append(components, transform.Registry.Components()...)
	components = append(components, action.Registry.Components()...)
	components = append(components, router.Registry.Components()...)
	components = append(components, scope.Registry.Components()...)
	components = append(components, security.Registry.Components()...)

	for _, c := range components {
		_ = Registry.Register(c)
	}
}

// ComponentRegistry 组件注册器
// holds component prototypes keyed by type, NewComponent creates instances from them.
type ComponentRegistry struct {
	components map[string]types.Component
	sync.RWMutex
}

// Register adds a component prototype.
func (r *ComponentRegistry) Register(component types.Component) error {
	r.Lock()
	defer r.Unlock()
	if r.components == nil {
		r.components = make(map[string]types.Component)
	}
	if component.Type() == OutboundType {
		return errors.Wrapf(types.ErrIllegalArgument, "reserved component type. componentType=%s", OutboundType)
	}
	if _, ok := r.components[component.Type()]; ok {
		return errors.Wrapf(types.ErrIllegalArgument, "the component already exists. componentType=%s", component.Type())
	}
	r.components[component.Type()] = component
	return nil
}

// Unregister removes the prototype of componentType.
func (r *ComponentRegistry) Unregister(componentType string) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.components[componentType]; !ok {
		return errors.Wrapf(types.ErrNotFound, "component not found. componentType=%s", componentType)
	}
	delete(r.components, componentType)
	return nil
}

// NewComponent creates a new instance of componentType.
func (r *ComponentRegistry) NewComponent(componentType string) (types.Component, error) {
	r.RLock()
	defer r.RUnlock()
	c, ok := r.components[componentType]
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "component not found. componentType=%s", componentType)
	}
	return c.New(), nil
}

// Components returns a copy of the registered prototypes.
func (r *ComponentRegistry) Components() map[string]types.Component {
	r.RLock()
	defer r.RUnlock()
	components := make(map[string]types.Component, len(r.components))
	for k, v := range r.components {
		components[k] = v
	}
	return components
}

// Types the registered component types, sorted.
func (r *ComponentRegistry) Types() []string {
	r.RLock()
	defer r.RUnlock()
	out := make([]string, 0, len(r.components))
	for k := range r.components {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
