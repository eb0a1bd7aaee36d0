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

// Package router provides the routing message processors: choice, all,
// first-successful and round-robin routers, the splitter and the
// correlation aggregator.
//
// Routers receive their nested processors as routes. The splitter and the
// aggregator are intercepting processors: the rest of the chain is handed to
// them through SetNext.
package router

import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/maps"
)

// Registry 默认组件注册器
var Registry = &types.SafeComponentSlice{}

func decode(configuration types.Configuration, out interface{}) error {
	return maps.Map2Struct(configuration, out)
}

// processors returns the processors of routes, every route must have one.
func processors(componentType string, routes []types.Route) ([]types.Processor, error) {
	if len(routes) == 0 {
		return nil, types.NewIllegalArgumentError(componentType + " requires routes")
	}
	out := make([]types.Processor, 0, len(routes))
	for _, r := range routes {
		if r.Processor == nil {
			return nil, types.NewIllegalArgumentError(componentType + " route " + r.Id + " has no processors")
		}
		out = append(out, r.Processor)
	}
	return out, nil
}

// routeError wraps err of a route into a RoutingError.
func routeError(router, reason string, err error) error {
	return &types.RoutingError{Router: router, Reason: reason, Err: err}
}
