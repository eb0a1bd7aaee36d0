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

package impl

import (
	"context"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/execution"
	"github.com/mulego/mulego/transaction"
)

// BaseReceiver routes received messages to its inbound endpoint. Concrete receivers
// embed it and override Start and Stop.
//
// BaseReceiver 基础消息接收器
type BaseReceiver struct {
	endpoint endpoint.InboundEndpoint
	// BeforeRoute runs inside the delivery transaction before the event enters the
	// endpoint, e.g. to enlist a transactional resource. An error fails the delivery.
	BeforeRoute func(ctx context.Context, event *types.Event) error
}

func NewBaseReceiver(ep endpoint.InboundEndpoint) *BaseReceiver {
	return &BaseReceiver{endpoint: ep}
}

func (r *BaseReceiver) Endpoint() endpoint.InboundEndpoint {
	return r.endpoint
}

func (r *BaseReceiver) Start() error {
	return nil
}

func (r *BaseReceiver) Stop() error {
	return nil
}

// RouteMessage creates an event for msg and runs it through the endpoint inside the
// main execution template: the endpoint transaction is begun or joined and failures go
// to the exception listener of the flow. ctx keeps its transaction scope if it has one,
// so a synchronous caller can share its transaction. The reply is nil for one-way
// endpoints and for consumed events.
func (r *BaseReceiver) RouteMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	ep := r.endpoint
	flow := ep.FlowConstruct()
	var handler types.MessagingExceptionHandler
	if flow != nil {
		handler = flow.ExceptionListener()
	}
	template := execution.NewMainExecutionTemplate(ep.TransactionConfig(), handler)
	result, err := template.Execute(transaction.WithScope(ctx), func(ctx context.Context) (*types.Event, error) {
		event := types.NewEvent(ctx, msg, ep.ExchangePattern(), flow)
		if transaction.Coordination.IsTransacted(ctx) {
			event.SetSynchronous(true)
		}
		if r.BeforeRoute != nil {
			if err := r.BeforeRoute(ctx, event); err != nil {
				return nil, execution.ToMessagingException(event, err, nil)
			}
		}
		return ep.Listener().Process(event)
	})
	if err != nil {
		return nil, err
	}
	if result == nil || !ep.ExchangePattern().HasResponse() {
		return nil, nil
	}
	return result.Message(), nil
}
