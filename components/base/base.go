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

// Package base provides helpers shared by the components: assignment of
// values to event scopes, asynchronous hand-off and graceful shutdown.
package base

import (
	"context"
	"strings"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transaction"
)

// Target scopes
const (
	ScopeVars     = "vars"
	ScopeOutbound = "outbound"
	ScopeSession  = "session"
	ScopePayload  = "payload"
)

// ParseTarget splits "scope.name". A target without scope is a flow variable.
// "payload" targets the message payload.
func ParseTarget(target string) (scope, name string) {
	if target == ScopePayload {
		return ScopePayload, ""
	}
	if i := strings.Index(target, "."); i > 0 {
		switch s := target[:i]; s {
		case ScopeVars, ScopeOutbound, ScopeSession:
			return s, target[i+1:]
		}
	}
	return ScopeVars, target
}

// Assign stores value into the target of event.
func Assign(event *types.Event, target string, value interface{}) {
	scope, name := ParseTarget(target)
	switch scope {
	case ScopePayload:
		event.SetMessage(event.Message().WithPayload(value))
	case ScopeOutbound:
		event.SetMessage(event.Message().WithOutboundProperty(name, value))
	case ScopeSession:
		event.Session().Set(name, value)
	default:
		event.SetVariable(name, value)
	}
}

// AsyncEvent copies event for processing on another goroutine: one-way, in a
// new transaction scope, detached from the caller's cancellation.
func AsyncEvent(event *types.Event) *types.Event {
	ctx := transaction.NewScope(context.WithoutCancel(event.Context()))
	c := event.WithExchangePattern(types.OneWay).WithContext(ctx)
	c.SetSynchronous(false)
	return c
}

// Submit runs task on the pool of config, on a new goroutine when none is set.
func Submit(config types.Config, task func()) error {
	if config.Pool != nil {
		return config.Pool.Submit(task)
	}
	go task()
	return nil
}

// DefaultRoute returns the processor of the first route, an error when there is none.
func DefaultRoute(componentType string, routes []types.Route) (types.Processor, error) {
	if len(routes) == 0 || routes[0].Processor == nil {
		return nil, types.NewIllegalArgumentError(componentType + " requires nested processors")
	}
	return routes[0].Processor, nil
}
