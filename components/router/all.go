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
//  "type": "all",
//  "configuration": {"parallel": true},
//  "routes": [{"processors": [...]}, {"processors": [...]}]
//}
import (
	"fmt"
	"sync"

	"github.com/mulego/mulego/api/types"
)

func init() {
	Registry.Add(&AllRouter{})
}

// AllRouterConfiguration 节点配置
type AllRouterConfiguration struct {
	// Parallel run the routes concurrently. Default sequential
	Parallel bool
}

// AllRouter 广播路由
// Sends a copy of the event to every route. The result holds the payloads of
// the route results, in route order, as a collection; consumed results are
// skipped. The first route failure fails the router.
type AllRouter struct {
	Config     AllRouterConfiguration
	processors []types.Processor
}

func (x *AllRouter) Type() string {
	return "all"
}

func (x *AllRouter) New() types.Component {
	return &AllRouter{}
}

func (x *AllRouter) Init(config types.Config, configuration types.Configuration) error {
	return decode(configuration, &x.Config)
}

func (x *AllRouter) SetRoutes(routes []types.Route) error {
	ps, err := processors(x.Type(), routes)
	if err != nil {
		return err
	}
	x.processors = ps
	return nil
}

func (x *AllRouter) Process(event *types.Event) (*types.Event, error) {
	results := make([]*types.Event, len(x.processors))
	errs := make([]error, len(x.processors))
	if x.Config.Parallel {
		var wg sync.WaitGroup
		for i, p := range x.processors {
			wg.Add(1)
			go func(i int, p types.Processor) {
				defer wg.Done()
				results[i], errs[i] = safeProcess(p, event.Copy())
			}(i, p)
		}
		wg.Wait()
	} else {
		for i, p := range x.processors {
			if results[i], errs[i] = p.Process(event.Copy()); errs[i] != nil {
				break
			}
		}
	}
	var payloads []interface{}
	for i, r := range results {
		if errs[i] != nil {
			return nil, routeError(x.Type(), fmt.Sprintf("route %d failed", i), errs[i])
		}
		if r != nil {
			payloads = append(payloads, r.Message().Payload())
		}
	}
	if len(payloads) == 0 {
		return nil, nil
	}
	event.SetMessage(event.Message().Builder().Payload(payloads).DataType(types.JSON).Build())
	return event, nil
}

func (x *AllRouter) Destroy() {
}

// safeProcess turns a panic of p into an error.
func safeProcess(p types.Processor, event *types.Event) (result *types.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewMessagingException(event, fmt.Errorf("%v", r), p)
		}
	}()
	return p.Process(event)
}
