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

package router

//{
//  "type": "choice",
//  "routes": [
//    {"when": "msg.amount > 1000", "processors": [...]},
//    {"when": "inbound['priority'] == 'high'", "processors": [...]},
//    {"processors": [...]}
//  ]
//}
import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/el"
)

func init() {
	Registry.Add(&ChoiceRouter{})
}

type choiceRoute struct {
	id        string
	when      *el.Expression
	processor types.Processor
}

// ChoiceRouter 条件路由
// Evaluates the when expression of each route in order and sends the event to
// the first one that matches. A route without expression is the otherwise
// route. Without a match and without otherwise route, routing fails.
type ChoiceRouter struct {
	routes    []choiceRoute
	otherwise types.Processor
	udf       map[string]interface{}
}

func (x *ChoiceRouter) Type() string {
	return "choice"
}

func (x *ChoiceRouter) New() types.Component {
	return &ChoiceRouter{}
}

func (x *ChoiceRouter) Init(config types.Config, configuration types.Configuration) error {
	x.udf = config.Udf
	return nil
}

func (x *ChoiceRouter) SetRoutes(routes []types.Route) error {
	if _, err := processors(x.Type(), routes); err != nil {
		return err
	}
	x.routes, x.otherwise = nil, nil
	for _, r := range routes {
		if r.When == "" {
			if x.otherwise != nil {
				return types.NewIllegalArgumentError("choice allows a single otherwise route")
			}
			x.otherwise = r.Processor
			continue
		}
		when, err := el.Compile(r.When, x.udf)
		if err != nil {
			return err
		}
		x.routes = append(x.routes, choiceRoute{id: r.Id, when: when, processor: r.Processor})
	}
	return nil
}

func (x *ChoiceRouter) Process(event *types.Event) (*types.Event, error) {
	for _, r := range x.routes {
		ok, err := r.when.EvalBool(event)
		if err != nil {
			return nil, err
		}
		if ok {
			return r.processor.Process(event)
		}
	}
	if x.otherwise != nil {
		return x.otherwise.Process(event)
	}
	return nil, routeError(x.Type(), "no route matched and no otherwise route is configured", nil)
}

func (x *ChoiceRouter) Destroy() {
}
