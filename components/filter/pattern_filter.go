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
	"regexp"
	"strings"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/str"
)

func init() {
	Registry.Add(&RegexFilter{})
	Registry.Add(&WildcardFilter{})
	Registry.Add(&PropertyFilter{})
	Registry.Add(&PayloadTypeFilter{})
}

// RegexFilterConfiguration 节点配置
type RegexFilterConfiguration struct {
	Unaccepted `mapstructure:",squash"`
	// Pattern regular expression matched against the payload as string
	Pattern string
}

// RegexFilter accepts events whose payload matches a regular expression.
type RegexFilter struct {
	Config  RegexFilterConfiguration
	pattern *regexp.Regexp
}

func (x *RegexFilter) Type() string {
	return "regexFilter"
}

func (x *RegexFilter) New() types.Component {
	return &RegexFilter{}
}

func (x *RegexFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	pattern, err := regexp.Compile(x.Config.Pattern)
	if err != nil {
		return err
	}
	x.pattern = pattern
	return nil
}

func (x *RegexFilter) Accept(event *types.Event) (bool, error) {
	payload, err := event.Message().PayloadAsString()
	if err != nil {
		return false, err
	}
	return x.pattern.MatchString(payload), nil
}

func (x *RegexFilter) Process(event *types.Event) (*types.Event, error) {
	return process(x, x.Type(), x.Config.ThrowOnUnaccepted, event)
}

func (x *RegexFilter) Destroy() {
}

// WildcardFilterConfiguration 节点配置
type WildcardFilterConfiguration struct {
	Unaccepted `mapstructure:",squash"`
	// Pattern comma separated wildcard patterns, e.g. "*.json,order-*"
	Pattern       string
	CaseSensitive bool
}

// WildcardFilter accepts events whose payload matches a wildcard pattern.
type WildcardFilter struct {
	Config  WildcardFilterConfiguration
	pattern *regexp.Regexp
}

func (x *WildcardFilter) Type() string {
	return "wildcardFilter"
}

func (x *WildcardFilter) New() types.Component {
	return &WildcardFilter{Config: WildcardFilterConfiguration{CaseSensitive: true}}
}

func (x *WildcardFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	pattern := x.Config.Pattern
	if !x.Config.CaseSensitive {
		pattern = strings.ToLower(pattern)
	}
	re, err := str.WildcardRegexp(pattern)
	if err != nil {
		return err
	}
	x.pattern = re
	return nil
}

func (x *WildcardFilter) Accept(event *types.Event) (bool, error) {
	payload, err := event.Message().PayloadAsString()
	if err != nil {
		return false, err
	}
	if !x.Config.CaseSensitive {
		payload = strings.ToLower(payload)
	}
	return x.pattern.MatchString(payload), nil
}

func (x *WildcardFilter) Process(event *types.Event) (*types.Event, error) {
	return process(x, x.Type(), x.Config.ThrowOnUnaccepted, event)
}

func (x *WildcardFilter) Destroy() {
}

// PropertyFilterConfiguration 节点配置
type PropertyFilterConfiguration struct {
	Unaccepted `mapstructure:",squash"`
	// Scope inbound (default), outbound, invocation or session
	Scope string
	Name  string
	// Pattern wildcard pattern the value must match, "!" prefix negates, empty only requires presence
	Pattern string
}

// PropertyFilter accepts events carrying a property matching a pattern.
type PropertyFilter struct {
	Config  PropertyFilterConfiguration
	pattern *regexp.Regexp
	not     bool
}

func (x *PropertyFilter) Type() string {
	return "propertyFilter"
}

func (x *PropertyFilter) New() types.Component {
	return &PropertyFilter{Config: PropertyFilterConfiguration{Scope: string(types.InboundScope)}}
}

func (x *PropertyFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Name == "" {
		return types.NewIllegalArgumentError("propertyFilter requires a name")
	}
	pattern := x.Config.Pattern
	if strings.HasPrefix(pattern, "!") {
		x.not = true
		pattern = pattern[1:]
	}
	if pattern != "" {
		re, err := str.WildcardRegexp(pattern)
		if err != nil {
			return err
		}
		x.pattern = re
	}
	return nil
}

func (x *PropertyFilter) value(event *types.Event) (interface{}, bool) {
	switch types.PropertyScope(x.Config.Scope) {
	case types.InvocationScope:
		return event.Variable(x.Config.Name)
	case types.SessionScope:
		return event.Session().Get(x.Config.Name)
	default:
		v := event.Message().Property(types.PropertyScope(x.Config.Scope), x.Config.Name)
		return v, v != nil
	}
}

func (x *PropertyFilter) Accept(event *types.Event) (bool, error) {
	v, ok := x.value(event)
	var matched bool
	if x.pattern == nil {
		matched = ok
	} else {
		matched = ok && x.pattern.MatchString(str.ToString(v))
	}
	return matched != x.not, nil
}

func (x *PropertyFilter) Process(event *types.Event) (*types.Event, error) {
	return process(x, x.Type(), x.Config.ThrowOnUnaccepted, event)
}

func (x *PropertyFilter) Destroy() {
}

// PayloadTypeFilterConfiguration 节点配置
type PayloadTypeFilterConfiguration struct {
	Unaccepted `mapstructure:",squash"`
	// ExpectedType a data type (JSON, TEXT, BINARY) or a Go kind: string, bytes, map, slice, number, bool
	ExpectedType string
}

// PayloadTypeFilter accepts events whose payload has the expected type.
type PayloadTypeFilter struct {
	Config PayloadTypeFilterConfiguration
}

func (x *PayloadTypeFilter) Type() string {
	return "payloadTypeFilter"
}

func (x *PayloadTypeFilter) New() types.Component {
	return &PayloadTypeFilter{}
}

func (x *PayloadTypeFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	switch x.Config.ExpectedType {
	case string(types.JSON), string(types.TEXT), string(types.BINARY), "string", "bytes", "map", "slice", "number", "bool":
		return nil
	default:
		return types.NewIllegalArgumentError("unknown expected type: " + x.Config.ExpectedType)
	}
}

func (x *PayloadTypeFilter) Accept(event *types.Event) (bool, error) {
	msg := event.Message()
	switch p := msg.Payload(); x.Config.ExpectedType {
	case string(types.JSON), string(types.TEXT), string(types.BINARY):
		return string(msg.DataType()) == x.Config.ExpectedType, nil
	case "string":
		_, ok := p.(string)
		return ok, nil
	case "bytes":
		_, ok := p.([]byte)
		return ok, nil
	case "map":
		_, ok := p.(map[string]interface{})
		return ok, nil
	case "slice":
		_, ok := p.([]interface{})
		return ok, nil
	case "bool":
		_, ok := p.(bool)
		return ok, nil
	default:
		switch p.(type) {
		case int, int32, int64, float32, float64:
			return true, nil
		}
		return false, nil
	}
}

func (x *PayloadTypeFilter) Process(event *types.Event) (*types.Event, error) {
	return process(x, x.Type(), x.Config.ThrowOnUnaccepted, event)
}

func (x *PayloadTypeFilter) Destroy() {
}
