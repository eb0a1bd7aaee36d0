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
//  "type": "expressionFilter",
//  "configuration": {
//    "expression": "msg.temperature > 50 && inbound['http.method'] == 'POST'"
//  }
//}
import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/el"
)

func init() {
	Registry.Add(&ExpressionFilter{})
}

// ExpressionFilterConfiguration 节点配置
type ExpressionFilterConfiguration struct {
	Unaccepted `mapstructure:",squash"`
	// Expression expr表达式，返回bool
	Expression string
	// NullReturnsTrue accept events the expression evaluates to nil for
	NullReturnsTrue bool
}

// ExpressionFilter 使用expr表达式过滤消息
// 通过`payload`访问消息负载，`msg`访问JSON解析后的负载，
// `inbound`/`outbound`访问消息属性，`vars`访问流变量
type ExpressionFilter struct {
	Config     ExpressionFilterConfiguration
	expression *el.Expression
}

func (x *ExpressionFilter) Type() string {
	return "expressionFilter"
}

func (x *ExpressionFilter) New() types.Component {
	return &ExpressionFilter{}
}

func (x *ExpressionFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	expression, err := el.Compile(x.Config.Expression, config.Udf)
	if err != nil {
		return err
	}
	x.expression = expression
	return nil
}

func (x *ExpressionFilter) Accept(event *types.Event) (bool, error) {
	v, err := x.expression.Eval(event)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return x.Config.NullReturnsTrue, nil
	default:
		return false, types.NewIllegalArgumentError("expression " + x.Config.Expression + " does not return a bool")
	}
}

func (x *ExpressionFilter) Process(event *types.Event) (*types.Event, error) {
	return process(x, x.Type(), x.Config.ThrowOnUnaccepted, event)
}

func (x *ExpressionFilter) Destroy() {
}
