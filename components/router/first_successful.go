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
//  "type": "firstSuccessful",
//  "configuration": {"failureExpression": "inbound['http.status'] >= 500"},
//  "routes": [{"processors": [...]}, {"processors": [...]}]
//}
import (
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/el"
)

func init() {
	Registry.Add(&FirstSuccessfulRouter{})
	Registry.Add(&RoundRobinRouter{})
}

// FirstSuccessfulConfiguration 节点配置
type FirstSuccessfulConfiguration struct {
	// FailureExpression marks a route result as failed when it evaluates to true
	FailureExpression string
}

// FirstSuccessfulRouter sends a copy of the event to each route in turn until
// one succeeds. Routing fails when every route failed.
type FirstSuccessfulRouter struct {
	Config            FirstSuccessfulConfiguration
	failureExpression *el.Expression
	processors        []types.Processor
}

func (x *FirstSuccessfulRouter) Type() string {
	return "firstSuccessful"
}

func (x *FirstSuccessfulRouter) New() types.Component {
	return &FirstSuccessfulRouter{}
}

func (x *FirstSuccessfulRouter) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.FailureExpression != "" {
		expression, err := el.Compile(x.Config.FailureExpression, config.Udf)
		if err != nil {
			return err
		}
		x.failureExpression = expression
	}
	return nil
}

func (x *FirstSuccessfulRouter) SetRoutes(routes []types.Route) error {
	ps, err := processors(x.Type(), routes)
	if err != nil {
		return err
	}
	x.processors = ps
	return nil
}

func (x *FirstSuccessfulRouter) Process(event *types.Event) (*types.Event, error) {
	var last error
	for _, p := range x.processors {
		result, err := p.Process(event.Copy())
		if err == nil && result != nil && x.failureExpression != nil {
			var failed bool
			if failed, err = x.failureExpression.EvalBool(result); err == nil && failed {
				err = errors.New("failure expression matched")
			}
		}
		if err == nil {
			return result, nil
		}
		last = err
	}
	return nil, routeError(x.Type(), "all routes failed", last)
}

func (x *FirstSuccessfulRouter) Destroy() {
}

// RoundRobinRouter sends each event to the next route in turn.
type RoundRobinRouter struct {
	processors []types.Processor
	index      uint64
}

func (x *RoundRobinRouter) Type() string {
	return "roundRobin"
}

func (x *RoundRobinRouter) New() types.Component {
	return &RoundRobinRouter{}
}

func (x *RoundRobinRouter) Init(config types.Config, configuration types.Configuration) error {
	return nil
}

func (x *RoundRobinRouter) SetRoutes(routes []types.Route) error {
	ps, err := processors(x.Type(), routes)
	if err != nil {
		return err
	}
	x.processors = ps
	return nil
}

func (x *RoundRobinRouter) Process(event *types.Event) (*types.Event, error) {
	if len(x.processors) == 0 {
		return nil, types.NewIllegalStateError("roundRobin has no routes")
	}
	i := (atomic.AddUint64(&x.index, 1) - 1) % uint64(len(x.processors))
	return x.processors[i].Process(event)
}

func (x *RoundRobinRouter) Destroy() {
}
