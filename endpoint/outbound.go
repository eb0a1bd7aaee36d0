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

package endpoint

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/execution"
)

// OutboundEndpoint dispatches events through the dispatcher of its connector.
//
// OutboundEndpoint 出站端点
type OutboundEndpoint struct {
	*base
}

// Process dispatches a transformed copy of event. One-way endpoints return event
// unchanged, request-response endpoints return event holding the response message.
func (e *OutboundEndpoint) Process(event *types.Event) (*types.Event, error) {
	accepted, err := e.accept(event)
	if err != nil {
		return nil, messagingException(event, err, e)
	}
	if !accepted {
		return nil, nil
	}
	out := event.Copy()
	out.SetMessage(out.Message().WithOutboundProperty(types.EndpointProperty, e.Address()))
	if out, err = transform(e.opts.Transformers, out); err != nil {
		return nil, messagingException(event, err, e)
	}
	if out == nil {
		return nil, nil
	}
	template := execution.NewTransactionalExecutionTemplate(e.opts.TransactionConfig)
	result, err := template.Execute(event.Context(), func(ctx context.Context) (*types.Event, error) {
		return e.dispatch(ctx, event, out)
	})
	if err != nil {
		return nil, messagingException(event, err, e)
	}
	return result, nil
}

func (e *OutboundEndpoint) dispatch(ctx context.Context, event, out *types.Event) (*types.Event, error) {
	dispatcher, err := e.Connector().Dispatcher(e)
	if err != nil {
		return nil, &types.DispatchError{Endpoint: e.Address(), Err: err}
	}
	if out.Context() != ctx {
		out = out.WithContext(ctx)
	}
	if !e.ExchangePattern().HasResponse() {
		if err := dispatcher.Dispatch(ctx, out); err != nil {
			return nil, &types.DispatchError{Endpoint: e.Address(), Err: err}
		}
		return event, nil
	}
	if timeout := e.ResponseTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	reply, err := dispatcher.Send(ctx, out)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Wrapf(types.ErrTimeout, "no response within %s", e.ResponseTimeout())
		}
		return nil, &types.DispatchError{Endpoint: e.Address(), Err: err}
	}
	if reply == nil {
		return nil, nil
	}
	event.SetMessage(reply.PromoteOutbound())
	result, err := transform(e.opts.ResponseTransformers, event)
	if err != nil {
		return nil, messagingException(event, err, e)
	}
	return result, nil
}
