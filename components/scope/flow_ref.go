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

package scope

//{
//  "type": "flowRef",
//  "configuration": {
//    "name": "orders-${vars.region}"
//  }
//}
import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/el"
	"github.com/mulego/mulego/utils/str"
)

func init() {
	Registry.Add(&FlowRef{})
}

// FlowRefConfiguration 节点配置
type FlowRefConfiguration struct {
	// Name of the referenced flow, may use ${} templates
	Name string
}

// FlowRef 流引用
// Invokes another flow synchronously with the current event. The referenced
// flow runs in the caller's transaction scope and applies its own exception
// strategy.
type FlowRef struct {
	Config   FlowRefConfiguration
	name     el.Template
	registry types.ObjectRegistry
	udf      map[string]interface{}
}

func (x *FlowRef) Type() string {
	return "flowRef"
}

func (x *FlowRef) New() types.Component {
	return &FlowRef{}
}

func (x *FlowRef) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.Name == "" {
		return types.NewIllegalArgumentError("flowRef requires a name")
	}
	tmpl, err := el.NewTemplate(x.Config.Name, config.Udf)
	if err != nil {
		return err
	}
	x.name = tmpl
	x.registry = config.Registry
	x.udf = config.Udf
	return nil
}

// Name the configured flow name, used in error reports.
func (x *FlowRef) Name() string {
	return x.Type() + ":" + x.Config.Name
}

func (x *FlowRef) Process(event *types.Event) (*types.Event, error) {
	v, err := el.Render(x.name, event, x.udf)
	if err != nil {
		return nil, err
	}
	name := str.ToString(v)
	if x.registry == nil {
		return nil, types.NewIllegalStateError("flowRef " + name + ": no registry configured")
	}
	obj, ok := x.registry.Lookup(name)
	if !ok {
		return nil, types.NewNotFoundError("flow " + name)
	}
	flow, ok := obj.(types.Processor)
	if !ok {
		return nil, types.NewIllegalArgumentError(name + " is not a flow")
	}
	return flow.Process(event)
}

func (x *FlowRef) Destroy() {
}
