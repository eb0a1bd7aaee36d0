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

package transform

//{
//  "type": "setProperty",
//  "configuration": {
//    "name": "Content-Type",
//    "value": "application/json"
//  }
//}
import (
	"regexp"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/el"
	"github.com/mulego/mulego/utils/str"
)

func init() {
	Registry.Add(&SetVariable{})
	Registry.Add(&RemoveVariable{})
	Registry.Add(&SetProperty{})
	Registry.Add(&RemoveProperty{})
	Registry.Add(&SetSessionVariable{})
	Registry.Add(&RemoveSessionVariable{})
	Registry.Add(&CopyProperties{})
}

// NameValueConfiguration configures the setters.
type NameValueConfiguration struct {
	// Name of the variable or property, may use ${} templates
	Name string
	// Value may use ${} templates, a whole ${expr} keeps the type of its result
	Value interface{}
}

// NameConfiguration configures the removers.
type NameConfiguration struct {
	// Name of the variable or property, "*" wildcards and comma separated lists remove every match
	Name string
}

// setter evaluates a name and a value.
type setter struct {
	Config NameValueConfiguration
	name   el.Template
	value  el.Template
	udf    map[string]interface{}
}

func (x *setter) init(config types.Config, configuration types.Configuration, componentType string) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Name == "" {
		return types.NewIllegalArgumentError(componentType + " requires a name")
	}
	var err error
	if x.name, err = el.NewTemplate(x.Config.Name, config.Udf); err != nil {
		return err
	}
	if x.value, err = el.NewTemplate(x.Config.Value, config.Udf); err != nil {
		return err
	}
	x.udf = config.Udf
	return nil
}

func (x *setter) eval(event *types.Event) (string, interface{}, error) {
	name, err := el.Render(x.name, event, x.udf)
	if err != nil {
		return "", nil, err
	}
	value, err := el.Render(x.value, event, x.udf)
	if err != nil {
		return "", nil, err
	}
	return str.ToString(name), value, nil
}

func (x *setter) Destroy() {
}

// remover matches names against a wildcard pattern.
type remover struct {
	Config  NameConfiguration
	pattern *regexp.Regexp
}

func (x *remover) init(configuration types.Configuration, componentType string) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Name == "" {
		return types.NewIllegalArgumentError(componentType + " requires a name")
	}
	re, err := str.WildcardRegexp(x.Config.Name)
	if err != nil {
		return err
	}
	x.pattern = re
	return nil
}

func (x *remover) matches(names map[string]interface{}) []string {
	var out []string
	for k := range names {
		if x.pattern.MatchString(k) {
			out = append(out, k)
		}
	}
	return out
}

func (x *remover) Destroy() {
}

// SetVariable sets a flow variable.
type SetVariable struct {
	setter
}

func (x *SetVariable) Type() string {
	return "setVariable"
}

func (x *SetVariable) New() types.Component {
	return &SetVariable{}
}

func (x *SetVariable) Init(config types.Config, configuration types.Configuration) error {
	return x.init(config, configuration, x.Type())
}

func (x *SetVariable) Process(event *types.Event) (*types.Event, error) {
	name, value, err := x.eval(event)
	if err != nil {
		return nil, err
	}
	event.SetVariable(name, value)
	return event, nil
}

// RemoveVariable removes flow variables.
type RemoveVariable struct {
	remover
}

func (x *RemoveVariable) Type() string {
	return "removeVariable"
}

func (x *RemoveVariable) New() types.Component {
	return &RemoveVariable{}
}

func (x *RemoveVariable) Init(config types.Config, configuration types.Configuration) error {
	return x.init(configuration, x.Type())
}

func (x *RemoveVariable) Process(event *types.Event) (*types.Event, error) {
	for _, k := range x.matches(event.Variables()) {
		event.RemoveVariable(k)
	}
	return event, nil
}

// SetSessionVariable sets a session property.
type SetSessionVariable struct {
	setter
}

func (x *SetSessionVariable) Type() string {
	return "setSessionVariable"
}

func (x *SetSessionVariable) New() types.Component {
	return &SetSessionVariable{}
}

func (x *SetSessionVariable) Init(config types.Config, configuration types.Configuration) error {
	return x.init(config, configuration, x.Type())
}

func (x *SetSessionVariable) Process(event *types.Event) (*types.Event, error) {
	name, value, err := x.eval(event)
	if err != nil {
		return nil, err
	}
	event.Session().Set(name, value)
	return event, nil
}

// RemoveSessionVariable removes session properties.
type RemoveSessionVariable struct {
	remover
}

func (x *RemoveSessionVariable) Type() string {
	return "removeSessionVariable"
}

func (x *RemoveSessionVariable) New() types.Component {
	return &RemoveSessionVariable{}
}

func (x *RemoveSessionVariable) Init(config types.Config, configuration types.Configuration) error {
	return x.init(configuration, x.Type())
}

func (x *RemoveSessionVariable) Process(event *types.Event) (*types.Event, error) {
	for _, k := range x.matches(event.Session().Values()) {
		event.Session().Remove(k)
	}
	return event, nil
}

// SetProperty sets an outbound property.
type SetProperty struct {
	setter
}

func (x *SetProperty) Type() string {
	return "setProperty"
}

func (x *SetProperty) New() types.Component {
	return &SetProperty{}
}

func (x *SetProperty) Init(config types.Config, configuration types.Configuration) error {
	return x.init(config, configuration, x.Type())
}

func (x *SetProperty) Process(event *types.Event) (*types.Event, error) {
	name, value, err := x.eval(event)
	if err != nil {
		return nil, err
	}
	event.SetMessage(event.Message().WithOutboundProperty(name, value))
	return event, nil
}

// RemoveProperty removes outbound properties.
type RemoveProperty struct {
	remover
}

func (x *RemoveProperty) Type() string {
	return "removeProperty"
}

func (x *RemoveProperty) New() types.Component {
	return &RemoveProperty{}
}

func (x *RemoveProperty) Init(config types.Config, configuration types.Configuration) error {
	return x.init(configuration, x.Type())
}

func (x *RemoveProperty) Process(event *types.Event) (*types.Event, error) {
	msg := event.Message()
	keys := x.matches(msg.OutboundProperties())
	if len(keys) == 0 {
		return event, nil
	}
	b := msg.Builder()
	for _, k := range keys {
		b.RemoveOutboundProperty(k)
	}
	event.SetMessage(b.Build())
	return event, nil
}

// CopyProperties copies inbound properties matching the name pattern to the outbound scope.
type CopyProperties struct {
	remover
}

func (x *CopyProperties) Type() string {
	return "copyProperties"
}

func (x *CopyProperties) New() types.Component {
	return &CopyProperties{}
}

func (x *CopyProperties) Init(config types.Config, configuration types.Configuration) error {
	return x.init(configuration, x.Type())
}

func (x *CopyProperties) Process(event *types.Event) (*types.Event, error) {
	msg := event.Message()
	inbound := msg.InboundProperties()
	keys := x.matches(inbound)
	if len(keys) == 0 {
		return event, nil
	}
	b := msg.Builder()
	for _, k := range keys {
		b.OutboundProperty(k, inbound[k])
	}
	event.SetMessage(b.Build())
	return event, nil
}
