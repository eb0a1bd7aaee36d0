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
//  "type": "jsTransformer",
//  "configuration": {
//    "jsScript": "msg.total = msg.price * msg.quantity; vars.checked = true; return {'msg': msg, 'outbound': {'x-total': msg.total}, 'vars': vars};"
//  }
//}
import (
	"errors"
	"strings"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/js"
)

const (
	// JsTransformerDefaultScript returns the payload unchanged
	JsTransformerDefaultScript = "return {'msg':msg};"
	// JsTransformerFuncName JS引擎中执行的函数名称
	JsTransformerFuncName = "Transform"
)

// JsTransformerReturnFormatErr the script did not return an object.
// 正确格式：return {'msg':msg,'outbound':outbound,'vars':vars}
var JsTransformerReturnFormatErr = errors.New("return the value is not a map")

func init() {
	Registry.Add(&JsTransformer{})
}

// JsTransformerConfiguration 节点配置
type JsTransformerConfiguration struct {
	ReturnDataType `mapstructure:",squash"`
	// JsScript 用户自定义的JavaScript脚本内容
	// 脚本会被包装成完整函数：function Transform(msg, inbound, vars) { ${JsScript} }
	// 返回格式：return {'msg':msg,'outbound':{...},'vars':{...}};
	// msg 新的负载，outbound 设置出站属性，vars 设置流变量，均可省略
	JsScript string
}

// JsTransformer transforms the message with a JavaScript function.
type JsTransformer struct {
	Config      JsTransformerConfiguration
	jsEngine    *js.Engine
	passThrough bool
}

func (x *JsTransformer) Type() string {
	return "jsTransformer"
}

func (x *JsTransformer) New() types.Component {
	return &JsTransformer{Config: JsTransformerConfiguration{JsScript: JsTransformerDefaultScript}}
}

func (x *JsTransformer) Init(config types.Config, configuration types.Configuration) error {
	err := decode(configuration, &x.Config)
	if err != nil {
		return err
	}
	if err = x.Config.validate(); err != nil {
		return err
	}
	script := strings.TrimSpace(x.Config.JsScript)
	if script == "" || script == JsTransformerDefaultScript {
		x.passThrough = true
		return nil
	}
	x.jsEngine, err = js.NewScript(config, JsTransformerFuncName, x.Config.JsScript)
	return err
}

func (x *JsTransformer) Process(event *types.Event) (*types.Event, error) {
	if x.passThrough {
		return event, nil
	}
	out, err := x.jsEngine.Invoke(event)
	if err != nil {
		return nil, err
	}
	result, ok := out.(map[string]interface{})
	if !ok {
		return nil, JsTransformerReturnFormatErr
	}
	if payload, ok := result["msg"]; ok {
		x.Config.setPayload(event, payload)
	}
	if outbound, ok := result["outbound"].(map[string]interface{}); ok {
		event.SetMessage(event.Message().Builder().OutboundProperties(outbound).Build())
	}
	if vars, ok := result["vars"].(map[string]interface{}); ok {
		for k, v := range vars {
			event.SetVariable(k, v)
		}
	}
	return event, nil
}

func (x *JsTransformer) Destroy() {
	if x.jsEngine != nil {
		x.jsEngine.Close()
	}
}
