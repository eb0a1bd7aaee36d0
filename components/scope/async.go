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

package scope

import (
	"github.com/mulego/mulego/api/types"
)

func init() {
	Registry.Add(&Async{})
	Registry.Add(&WireTap{})
	Registry.Add(&ProcessorChain{})
}

// Async 异步作用域
// Processes a copy of the event with the nested processors on the worker pool
// and returns the original event at once. Not allowed inside a transaction.
type Async struct {
	nested
	config types.Config
}

func (x *Async) Type() string {
	return "async"
}

func (x *Async) New() types.Component {
	return &Async{}
}

func (x *Async) Init(config types.Config, configuration types.Configuration) error {
	x.config = config
	return nil
}

func (x *Async) SetRoutes(routes []types.Route) error {
	return x.setRoutes(x.Type(), routes)
}

func (x *Async) Process(event *types.Event) (*types.Event, error) {
	if err := x.ready(x.Type()); err != nil {
		return nil, err
	}
	if err := refuseTransaction(x.Type(), event); err != nil {
		return nil, err
	}
	if err := dispatchAsync(x.config, x.Type(), x.processor, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (x *Async) Destroy() {
}

// WireTap sends a copy of the event to the nested processors on another
// goroutine. Unlike async it may be used inside a transaction: the copy never
// joins it.
type WireTap struct {
	nested
	config types.Config
}

func (x *WireTap) Type() string {
	return "wireTap"
}

func (x *WireTap) New() types.Component {
	return &WireTap{}
}

func (x *WireTap) Init(config types.Config, configuration types.Configuration) error {
	x.config = config
	return nil
}

func (x *WireTap) SetRoutes(routes []types.Route) error {
	return x.setRoutes(x.Type(), routes)
}

func (x *WireTap) Process(event *types.Event) (*types.Event, error) {
	if err := x.ready(x.Type()); err != nil {
		return nil, err
	}
	if err := dispatchAsync(x.config, x.Type(), x.processor, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (x *WireTap) Destroy() {
}

// ProcessorChain groups nested processors into one.
type ProcessorChain struct {
	nested
}

func (x *ProcessorChain) Type() string {
	return "processorChain"
}

func (x *ProcessorChain) New() types.Component {
	return &ProcessorChain{}
}

func (x *ProcessorChain) Init(config types.Config, configuration types.Configuration) error {
	return nil
}

func (x *ProcessorChain) SetRoutes(routes []types.Route) error {
	return x.setRoutes(x.Type(), routes)
}

func (x *ProcessorChain) Process(event *types.Event) (*types.Event, error) {
	if err := x.ready(x.Type()); err != nil {
		return nil, err
	}
	return x.processor.Process(event)
}

func (x *ProcessorChain) Destroy() {
}
