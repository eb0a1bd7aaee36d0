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

// Package test provides fixtures shared by the package tests: events, flows,
// recording processors and transactional resources.
package test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transaction"
)

// NewEvent creates a one-way event in a fresh transaction scope.
func NewEvent(payload interface{}) *types.Event {
	return types.NewEvent(transaction.NewScope(context.Background()), types.NewMessage(payload), types.OneWay, nil)
}

// NewFlowEvent creates an event owned by flow.
func NewFlowEvent(flow types.FlowConstruct, payload interface{}) *types.Event {
	return types.NewEvent(transaction.NewScope(context.Background()), types.NewMessage(payload), types.OneWay, flow)
}

// Stats counts flow statistics.
type Stats struct {
	Received        int64
	Processed       int64
	ExecutionErrors int64
	FatalErrors     int64
}

func (s *Stats) IncReceived()                      { atomic.AddInt64(&s.Received, 1) }
func (s *Stats) IncProcessed()                     { atomic.AddInt64(&s.Processed, 1) }
func (s *Stats) IncExecutionError()                { atomic.AddInt64(&s.ExecutionErrors, 1) }
func (s *Stats) IncFatalError()                    { atomic.AddInt64(&s.FatalErrors, 1) }
func (s *Stats) AddProcessingTime(d time.Duration) {}

// Flow is a flow construct with an optional exception listener.
type Flow struct {
	FlowName string
	Handler  types.MessagingExceptionHandler
	Stats    Stats
}

func NewFlow(name string) *Flow {
	return &Flow{FlowName: name}
}

func (f *Flow) Name() string {
	return f.FlowName
}

func (f *Flow) ExceptionListener() types.MessagingExceptionHandler {
	return f.Handler
}

func (f *Flow) Statistics() types.FlowStatistics {
	return &f.Stats
}

// Collector records the events it processes and returns them unchanged. The
// message of each event is kept as it was when the collector saw it.
type Collector struct {
	lock     sync.Mutex
	events   []*types.Event
	messages []*types.Message
	// Err returned by Process when set
	Err error
}

func (c *Collector) Process(event *types.Event) (*types.Event, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.events = append(c.events, event)
	c.messages = append(c.messages, event.Message())
	if c.Err != nil {
		return nil, c.Err
	}
	return event, nil
}

// Events returns the recorded events.
func (c *Collector) Events() []*types.Event {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := make([]*types.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Count number of recorded events.
func (c *Collector) Count() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.events)
}

// Messages returns the messages as they were when each event was recorded.
func (c *Collector) Messages() []*types.Message {
	c.lock.Lock()
	defer c.lock.Unlock()
	out := make([]*types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Payloads returns the payloads of the recorded messages.
func (c *Collector) Payloads() []interface{} {
	var out []interface{}
	for _, m := range c.Messages() {
		out = append(out, m.Payload())
	}
	return out
}

// SetPayload returns a processor replacing the payload.
func SetPayload(payload interface{}) types.Processor {
	return types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		event.SetMessage(event.Message().WithPayload(payload))
		return event, nil
	})
}

// Fail returns a processor failing with err.
func Fail(err error) types.Processor {
	return types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		return nil, err
	})
}

// Registry is a map based object registry.
type Registry map[string]interface{}

func (r Registry) Lookup(name string) (interface{}, bool) {
	v, ok := r[name]
	return v, ok
}

// Resource records commits and rollbacks.
type Resource struct {
	committed  int32
	rolledBack int32
}

func (r *Resource) Commit() error {
	atomic.AddInt32(&r.committed, 1)
	return nil
}

func (r *Resource) Rollback() error {
	atomic.AddInt32(&r.rolledBack, 1)
	return nil
}

func (r *Resource) Committed() int {
	return int(atomic.LoadInt32(&r.committed))
}

func (r *Resource) RolledBack() int {
	return int(atomic.LoadInt32(&r.rolledBack))
}

// LocalFactory begins single resource transactions accepting any resource.
var LocalFactory = &transaction.SingleResourceFactory{Supports: func(key interface{}) bool { return true }}

// BindResource binds a recording resource to the transaction of ctx.
func BindResource(t *testing.T, ctx context.Context) *Resource {
	tx := transaction.Coordination.Transaction(ctx)
	require.NotNil(t, tx)
	r := &Resource{}
	require.Nil(t, tx.BindResource("test.resource", r))
	return r
}

// InitComponent creates and initialises a component of the registry slice.
func InitComponent(t *testing.T, c types.Component, config types.Config, configuration types.Configuration) types.Component {
	node := c.New()
	require.Nil(t, node.Init(config, configuration))
	return node
}

// Routes builds a single default route running p.
func Routes(ps ...types.Processor) []types.Route {
	var routes []types.Route
	for i, p := range ps {
		routes = append(routes, types.Route{Id: string(rune('a' + i)), Processor: p})
	}
	return routes
}
