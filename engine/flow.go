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

package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/endpoint"
	"github.com/mulego/mulego/exception"
	"github.com/mulego/mulego/execution"
	"github.com/mulego/mulego/transaction"
)

// Initial states
const (
	InitialStateStarted = "started"
	InitialStateStopped = "stopped"
)

var (
	_ types.FlowConstruct   = (*Flow)(nil)
	_ types.StatisticsAware = (*Flow)(nil)
	_ types.Processor       = (*Flow)(nil)
)

// Flow 流
// receives events from its source, or from flow references and the Mule
// context, and runs them through its processor chain on the goroutine chosen
// by its processing strategy. Failures go to its exception listener.
type Flow struct {
	name              string
	config            types.Config
	source            *endpoint.InboundEndpoint
	chain             *Chain
	nested            []*Chain
	exceptionListener types.MessagingExceptionHandler
	strategy          ProcessingStrategy
	initialState      string
	statistics        types.FlowStatistics
	lifecycle         *LifecycleManager
	started           int32
}

func (f *Flow) Name() string {
	return f.name
}

// ExceptionListener the strategy of the flow, the context default when it has none.
func (f *Flow) ExceptionListener() types.MessagingExceptionHandler {
	if f.exceptionListener != nil {
		return f.exceptionListener
	}
	return exception.DefaultFor(f.config)
}

func (f *Flow) Statistics() types.FlowStatistics {
	return f.statistics
}

// Source the inbound endpoint, nil for flows reached only by reference.
func (f *Flow) Source() *endpoint.InboundEndpoint {
	return f.source
}

func (f *Flow) Chain() *Chain {
	return f.chain
}

func (f *Flow) ProcessingStrategy() ProcessingStrategy {
	return f.strategy
}

func (f *Flow) InitialState() string {
	return f.initialState
}

func (f *Flow) IsStarted() bool {
	return atomic.LoadInt32(&f.started) == 1
}

// Phase the current lifecycle phase.
func (f *Flow) Phase() Phase {
	return f.lifecycle.Current()
}

func (f *Flow) notStarted() error {
	return types.NewIllegalStateError("cannot process event as flow " + f.name + " is stopped")
}

// receive is the listener of the source: the event is counted and handed to the
// processing strategy.
func (f *Flow) receive(event *types.Event) (*types.Event, error) {
	if !f.IsStarted() {
		return nil, f.notStarted()
	}
	f.statistics.IncReceived()
	return f.strategy.Process(event, types.ProcessorFunc(f.run))
}

// run executes the chain and records the processing time of successful events.
func (f *Flow) run(event *types.Event) (*types.Event, error) {
	start := time.Now()
	result, err := f.chain.Process(event)
	if err != nil {
		return nil, err
	}
	f.statistics.IncProcessed()
	f.statistics.AddProcessingTime(time.Since(start))
	return result, nil
}

// Process runs event through the flow on the caller's goroutine, the entry used by flow
// references. The exception listener of this flow handles failures: a handled failure
// returns the processed event, an unhandled one is returned as error.
func (f *Flow) Process(event *types.Event) (*types.Event, error) {
	if !f.IsStarted() {
		return nil, f.notStarted()
	}
	caller := event.FlowConstruct()
	ev := event.WithFlowConstruct(f)
	f.statistics.IncReceived()
	template := execution.NewErrorHandlingExecutionTemplate(f.ExceptionListener())
	result, err := template.Execute(ev.Context(), func(ctx context.Context) (*types.Event, error) {
		return f.run(ev)
	})
	if err != nil || result == nil {
		return nil, err
	}
	if caller == nil {
		return result, nil
	}
	return result.WithFlowConstruct(caller), nil
}

// invoke runs msg through the flow inside the main execution template, like a receiver
// does. The reply is nil for one-way invocations.
func (f *Flow) invoke(ctx context.Context, msg *types.Message, pattern types.ExchangePattern) (*types.Message, error) {
	if !f.IsStarted() {
		return nil, f.notStarted()
	}
	template := execution.NewMainExecutionTemplate(nil, f.ExceptionListener())
	result, err := template.Execute(transaction.WithScope(ctx), func(ctx context.Context) (*types.Event, error) {
		return f.receive(types.NewEvent(ctx, msg, pattern, f))
	})
	if err != nil {
		return nil, err
	}
	if result == nil || !pattern.HasResponse() {
		return nil, nil
	}
	return result.Message(), nil
}

// Initialise connects the source to the flow.
func (f *Flow) Initialise() error {
	return f.lifecycle.Fire(PhaseInitialise, func() error {
		if f.source != nil {
			f.source.SetFlowConstruct(f)
			f.source.SetListener(types.ProcessorFunc(f.receive))
		}
		return nil
	})
}

// Start starts the chain and the processing strategy, then the source.
func (f *Flow) Start() error {
	return f.lifecycle.Fire(PhaseStart, func() error {
		if err := f.chain.Start(); err != nil {
			return err
		}
		if err := f.strategy.Start(); err != nil {
			_ = f.chain.Stop()
			return err
		}
		atomic.StoreInt32(&f.started, 1)
		if f.source != nil {
			if err := f.source.Start(); err != nil {
				atomic.StoreInt32(&f.started, 0)
				_ = f.strategy.Stop()
				_ = f.chain.Stop()
				return err
			}
		}
		return nil
	})
}

// Stop stops the source first, then waits for the events already accepted. The flow is
// stopped even when a part fails to stop, the first failure is returned.
func (f *Flow) Stop() error {
	var first error
	if err := f.lifecycle.Fire(PhaseStop, func() error {
		atomic.StoreInt32(&f.started, 0)
		if f.source != nil {
			first = f.source.Stop()
		}
		if err := f.strategy.Stop(); err != nil && first == nil {
			first = err
		}
		if err := f.chain.Stop(); err != nil && first == nil {
			first = err
		}
		return nil
	}); err != nil {
		return err
	}
	return first
}

// Dispose stops a started flow and releases its processors.
func (f *Flow) Dispose() {
	if f.IsStarted() {
		_ = f.Stop()
	}
	_ = f.lifecycle.Fire(PhaseDispose, func() error {
		f.chain.Dispose()
		for _, c := range f.nested {
			c.Dispose()
		}
		return nil
	})
}
