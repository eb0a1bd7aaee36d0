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
	"sync"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/execution"
)

// InboundEndpoint receives messages from the receiver its connector creates and runs
// them through the inbound pipeline into its listener.
//
// InboundEndpoint 入站端点
type InboundEndpoint struct {
	*base
	lock     sync.RWMutex
	listener types.Processor
	flow     types.FlowConstruct
	receiver endpoint.MessageReceiver
}

func (e *InboundEndpoint) SetListener(listener types.Processor) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.listener = listener
}

// Listener returns the endpoint itself, receivers route messages to it.
func (e *InboundEndpoint) Listener() types.Processor {
	return e
}

func (e *InboundEndpoint) FlowConstruct() types.FlowConstruct {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.flow
}

func (e *InboundEndpoint) SetFlowConstruct(flow types.FlowConstruct) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.flow = flow
}

// Receiver the receiver registered by Start, nil when stopped.
func (e *InboundEndpoint) Receiver() endpoint.MessageReceiver {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.receiver
}

// Start registers the endpoint with its connector. Messages are received once the
// connector is started.
func (e *InboundEndpoint) Start() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.receiver != nil {
		return nil
	}
	if e.listener == nil {
		return types.NewIllegalStateError("inbound endpoint " + e.Name() + " has no listener")
	}
	receiver, err := e.Connector().RegisterListener(e)
	if err != nil {
		return err
	}
	e.receiver = receiver
	return nil
}

func (e *InboundEndpoint) Stop() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.receiver == nil {
		return nil
	}
	e.receiver = nil
	return e.Connector().UnregisterListener(e)
}

// Process runs the inbound pipeline. A nil result without error means the event was
// stopped by a filter or consumed by the listener.
func (e *InboundEndpoint) Process(event *types.Event) (*types.Event, error) {
	e.lock.RLock()
	listener := e.listener
	e.lock.RUnlock()
	if listener == nil {
		return nil, types.NewIllegalStateError("inbound endpoint " + e.Name() + " has no listener")
	}
	event.SetOriginURI(e.Address())
	event.SetMessage(event.Message().Builder().InboundProperty(types.OriginatingEndpointProperty, e.Name()).Build())

	if sf := e.opts.SecurityFilter; sf != nil {
		authenticated, err := sf.Authenticate(event)
		if err != nil {
			return nil, messagingException(event, err, e)
		}
		if authenticated == nil {
			return nil, nil
		}
		event = authenticated
	}
	deliver := types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		return e.deliver(listener, event)
	})
	if policy := e.opts.RedeliveryPolicy; policy != nil {
		// the policy owns the rest of the pipeline: counters are cleared on success
		policy.SetNext(deliver)
		result, err := policy.Process(event)
		if err != nil {
			return nil, messagingException(event, err, e)
		}
		return result, nil
	}
	return deliver(event)
}

func (e *InboundEndpoint) deliver(listener types.Processor, event *types.Event) (*types.Event, error) {
	accepted, err := e.accept(event)
	if err != nil {
		return nil, messagingException(event, err, e)
	}
	if !accepted {
		return nil, nil
	}
	transformed, err := transform(e.opts.Transformers, event)
	if err != nil || transformed == nil {
		return nil, messagingException(event, err, e)
	}
	result, err := listener.Process(transformed)
	if err != nil {
		return nil, messagingException(transformed, err, listener)
	}
	if result == nil || !e.ExchangePattern().HasResponse() {
		return result, nil
	}
	response, err := transform(e.opts.ResponseTransformers, result)
	if err != nil {
		return nil, messagingException(result, err, e)
	}
	return response, nil
}

// messagingException normalises err, nil stays nil. A MessagingException raised further
// down keeps its failing processor.
func messagingException(event *types.Event, err error, p types.Processor) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsMessagingException(err); ok {
		return err
	}
	return execution.ToMessagingException(event, err, p)
}
