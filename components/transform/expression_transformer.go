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
//  "type": "expressionTransformer",
//  "configuration": {
//    "expression": "msg.price * msg.quantity",
//    "target": "vars.total"
//  }
//}
import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/components/base"
	"github.com/mulego/mulego/utils/el"
)

func init() {
	Registry.Add(&ExpressionTransformer{})
}

// ExpressionTransformerConfiguration 节点配置
type ExpressionTransformerConfiguration struct {
	ReturnDataType `mapstructure:",squash"`
	// Expression expr表达式
	Expression string
	// Target where the result goes: payload (default), vars.x, outbound.x or session.x
	Target string
	// ReturnSourceIfNull keep the current payload when the expression returns nil
	ReturnSourceIfNull bool
}

// ExpressionTransformer evaluates an expression and stores its result.
type ExpressionTransformer struct {
	Config     ExpressionTransformerConfiguration
	expression *el.Expression
}

func (x *ExpressionTransformer) Type() string {
	return "expressionTransformer"
}

func (x *ExpressionTransformer) New() types.Component {
	return &ExpressionTransformer{Config: ExpressionTransformerConfiguration{Target: base.ScopePayload}}
}

func (x *ExpressionTransformer) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if err := x.Config.validate(); err != nil {
		return err
	}
	expression, err := el.Compile(x.Config.Expression, config.Udf)
	if err != nil {
		return err
	}
	x.expression = expression
	return nil
}

func (x *ExpressionTransformer) Process(event *types.Event) (*types.Event, error) {
	v, err := x.expression.Eval(event)
	if err != nil {
		return nil, err
	}
	if v == nil && x.Config.ReturnSourceIfNull {
		return event, nil
	}
	if scope, _ := base.ParseTarget(x.Config.Target); scope == base.ScopePayload || x.Config.Target == "" {
		x.Config.setPayload(event, v)
	} else {
		base.Assign(event, x.Config.Target, v)
	}
	return event, nil
}

func (x *ExpressionTransformer) Destroy() {
}
