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
//  "type": "setPayload",
//  "configuration": {
//    "value": "${msg.name} received at ${vars.ts}",
//    "dataType": "TEXT"
//  }
//}
import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/el"
)

func init() {
	Registry.Add(&SetPayload{})
}

// SetPayloadConfiguration 节点配置
type SetPayloadConfiguration struct {
	ReturnDataType `mapstructure:",squash"`
	// Value new payload. A string may use ${} templates, a whole ${expr} keeps
	// the type of its result. Other values are used as is
	Value interface{}
}

// SetPayload replaces the payload.
type SetPayload struct {
	Config   SetPayloadConfiguration
	template el.Template
	udf      map[string]interface{}
}

func (x *SetPayload) Type() string {
	return "setPayload"
}

func (x *SetPayload) New() types.Component {
	return &SetPayload{}
}

func (x *SetPayload) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if err := x.Config.validate(); err != nil {
		return err
	}
	tmpl, err := el.NewTemplate(x.Config.Value, config.Udf)
	if err != nil {
		return err
	}
	x.template = tmpl
	x.udf = config.Udf
	return nil
}

func (x *SetPayload) Process(event *types.Event) (*types.Event, error) {
	v, err := el.Render(x.template, event, x.udf)
	if err != nil {
		return nil, err
	}
	x.Config.setPayload(event, v)
	return event, nil
}

func (x *SetPayload) Destroy() {
}
