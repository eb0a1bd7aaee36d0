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

// Package scope provides the processors that run nested processors in a scope
// of their own: flow references, asynchronous and wire-tap hand-offs,
// transactional scopes, retries, iteration and plain processor chains.
package scope

import (
	"context"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/components/base"
	"github.com/mulego/mulego/execution"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/utils/logger"
	"github.com/mulego/mulego/utils/maps"
)

// Registry 默认组件注册器
var Registry = &types.SafeComponentSlice{}

func decode(configuration types.Configuration, out interface{}) error {
	return maps.Map2Struct(configuration, out)
}

// nested holds the nested processor set through SetRoutes.
type nested struct {
	processor types.Processor
}

func (n *nested) setRoutes(componentType string, routes []types.Route) error {
	p, err := base.DefaultRoute(componentType, routes)
	if err != nil {
		return err
	}
	n.processor = p
	return nil
}

func (n *nested) ready(componentType string) error {
	if n.processor == nil {
		return types.NewIllegalStateError(componentType + " has no nested processors")
	}
	return nil
}

// refuseTransaction fails when event runs inside a transaction.
func refuseTransaction(componentType string, event *types.Event) error {
	if transaction.Coordination.IsTransacted(event.Context()) {
		return types.NewIllegalStateError(componentType + " cannot be used inside a transaction")
	}
	return nil
}

// dispatchAsync processes a copy of event with p on another goroutine. Failures go
// to the exception listener of the flow, unhandled ones are logged.
func dispatchAsync(config types.Config, componentType string, p types.Processor, event *types.Event) error {
	async := base.AsyncEvent(event)
	return base.Submit(config, func() {
		template := execution.NewErrorHandlingExecutionTemplate(nil)
		if _, err := template.Execute(async.Context(), func(ctx context.Context) (*types.Event, error) {
			return p.Process(async)
		}); err != nil {
			logger.Error(config.Logger, err, "%s: asynchronous processing failed", componentType)
		}
	})
}
