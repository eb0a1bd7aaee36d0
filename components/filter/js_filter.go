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
//  "type": "jsFilter",
//  "configuration": {
//    "jsScript": "return msg.temperature > 50 && inbound.region == 'eu';"
//  }
//}
import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/js"
)

func init() {
	Registry.Add(&JsFilter{})
}

// JsFilterConfiguration 节点配置
type JsFilterConfiguration struct {
	Unaccepted `mapstructure:",squash"`
	// JsScript 配置函数体脚本内容
	// 完整脚本函数：
	// function Filter(msg, inbound, vars) { ${JsScript} }
	// msg: JSON负载解析后的对象，其他类型为原始负载
	// inbound: 消息入站属性
	// vars: 流变量
	// 返回值: bool
	JsScript string
}

// JsFilter 使用js脚本过滤消息
type JsFilter struct {
	Config   JsFilterConfiguration
	jsEngine *js.Engine
}

func (x *JsFilter) Type() string {
	return "jsFilter"
}

func (x *JsFilter) New() types.Component {
	return &JsFilter{Config: JsFilterConfiguration{JsScript: "return msg != null;"}}
}

func (x *JsFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	engine, err := js.NewScript(config, "Filter", x.Config.JsScript)
	if err != nil {
		return err
	}
	x.jsEngine = engine
	return nil
}

func (x *JsFilter) Accept(event *types.Event) (bool, error) {
	out, err := x.jsEngine.Invoke(event)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

func (x *JsFilter) Process(event *types.Event) (*types.Event, error) {
	return process(x, x.Type(), x.Config.ThrowOnUnaccepted, event)
}

func (x *JsFilter) Destroy() {
	if x.jsEngine != nil {
		x.jsEngine.Close()
	}
}
