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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/exception"
	"github.com/mulego/mulego/test"
	"github.com/mulego/mulego/transaction"
)

type fakeReceiver struct {
	endpoint endpoint.InboundEndpoint
}

func (r *fakeReceiver) Endpoint() endpoint.InboundEndpoint { return r.endpoint }
func (r *fakeReceiver) RouteMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	return nil, nil
}
func (r *fakeReceiver) Start() error { return nil }
func (r *fakeReceiver) Stop() error  { return nil }

// fakeConnector records registered endpoints and dispatched events.
type fakeConnector struct {
	lock       sync.Mutex
	listeners  map[string]endpoint.InboundEndpoint
	dispatched []*types.Event
	reply      *types.Message
	err        error
	onDispatch func(ctx context.Context, event *types.Event)
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{listeners: make(map[string]endpoint.InboundEndpoint)}
}

func (c *fakeConnector) New() endpoint.Connector { return newFakeConnector() }
func (c *fakeConnector) Type() string            { return "fake" }
func (c *fakeConnector) Name() string            { return "fake" }
func (c *fakeConnector) SetName(name string)     {}
func (c *fakeConnector) Init(config types.Config, configuration types.Configuration) error {
	return nil
}
func (c *fakeConnector) Start() error                      { return nil }
func (c *fakeConnector) Stop() error                       { return nil }
func (c *fakeConnector) Dispose()                          {}
func (c *fakeConnector) IsStarted() bool                   { return true }
func (c *fakeConnector) Connect(ctx context.Context) error { return nil }
func (c *fakeConnector) RegisterListener(e endpoint.InboundEndpoint) (endpoint.MessageReceiver, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.listeners[e.Address()] = e
	return &fakeReceiver{endpoint: e}, nil
}
func (c *fakeConnector) UnregisterListener(e endpoint.InboundEndpoint) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.listeners, e.Address())
	return nil
}
func (c *fakeConnector) Dispatcher(e endpoint.OutboundEndpoint) (endpoint.MessageDispatcher, error) {
	return &fakeDispatcher{connector: c}, nil
}
func (c *fakeConnector) TransactionFactory() types.TransactionFactory { return nil }

type fakeDispatcher struct {
	connector *fakeConnector
}

func (d *fakeDispatcher) record(ctx context.Context, event *types.Event) error {
	c := d.connector
	if c.onDispatch != nil {
		c.onDispatch(ctx, event)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.dispatched = append(c.dispatched, event)
	return c.err
}

func (d *fakeDispatcher) Send(ctx context.Context, event *types.Event) (*types.Message, error) {
	if err := d.record(ctx, event); err != nil {
		return nil, err
	}
	return d.connector.reply, nil
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, event *types.Event) error {
	return d.record(ctx, event)
}

func (d *fakeDispatcher) Close() error { return nil }

// tracer records the order in which pipeline steps run.
type tracer struct {
	steps []string
}

func (tr *tracer) processor(name string) types.Processor {
	return types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		tr.steps = append(tr.steps, name)
		return event, nil
	})
}

func (tr *tracer) Authenticate(event *types.Event) (*types.Event, error) {
	tr.steps = append(tr.steps, "security")
	return event, nil
}

func (tr *tracer) Accept(event *types.Event) (bool, error) {
	tr.steps = append(tr.steps, "filter")
	return true, nil
}

func TestBuilder(t *testing.T) {
	connector := newFakeConnector()
	config := types.NewConfig(types.WithDefaultResponseTimeout(3 * time.Second))

	in, err := NewBuilder("fake://orders?exchangePattern=request-response&size=2", connector).
		Config(config).Property("size", "5").BuildInbound()
	require.Nil(t, err)
	assert.Equal(t, "fake://orders?exchangePattern=request-response&size=2", in.Name())
	assert.Equal(t, types.RequestResponse, in.ExchangePattern())
	assert.Equal(t, 3*time.Second, in.ResponseTimeout())
	assert.Equal(t, "orders", in.URI().Address())
	assert.Equal(t, "5", in.Property("size"))
	assert.Equal(t, "5", in.Properties()["size"])
	assert.Equal(t, types.ActionIndifferent, in.TransactionConfig().Action())

	out, err := NewBuilder("fake://orders", connector).Name("orders").ResponseTimeout(time.Second).BuildOutbound()
	require.Nil(t, err)
	assert.Equal(t, "orders", out.Name())
	assert.Equal(t, types.OneWay, out.ExchangePattern())
	assert.Equal(t, time.Second, out.ResponseTimeout())

	_, err = NewBuilder("fake://orders", nil).BuildInbound()
	assert.ErrorIs(t, err, types.ErrIllegalArgument)
	_, err = NewBuilder("", connector).BuildInbound()
	assert.ErrorIs(t, err, types.ErrIllegalArgument)
	_, err = NewBuilder("fake://orders", connector).ExchangePattern("sometimes").BuildInbound()
	assert.ErrorIs(t, err, types.ErrIllegalArgument)
	_, err = NewBuilder("vm://orders", connector).BuildInbound()
	assert.ErrorIs(t, err, types.ErrIllegalArgument)
	_, err = NewBuilder("orders", connector).BuildInbound()
	assert.ErrorIs(t, err, types.ErrIllegalArgument)
	_, err = NewBuilder("fake://orders", connector).RedeliveryPolicy(&exception.RedeliveryPolicy{}).BuildOutbound()
	assert.ErrorIs(t, err, types.ErrIllegalArgument)
}

func TestInboundStartStop(t *testing.T) {
	connector := newFakeConnector()
	in, err := NewBuilder("fake://orders", connector).BuildInbound()
	require.Nil(t, err)
	assert.ErrorIs(t, in.Start(), types.ErrIllegalState)
	_, err = in.Process(test.NewEvent("x"))
	assert.ErrorIs(t, err, types.ErrIllegalState)

	in.SetListener(&test.Collector{})
	require.Nil(t, in.Start())
	require.Nil(t, in.Start())
	assert.NotNil(t, in.Receiver())
	assert.Equal(t, in, connector.listeners["fake://orders"])
	assert.Equal(t, in, in.Listener())

	require.Nil(t, in.Stop())
	assert.Nil(t, in.Receiver())
	assert.Empty(t, connector.listeners)
	require.Nil(t, in.Stop())
}

func TestInboundPipeline(t *testing.T) {
	tr := &tracer{}
	policy, err := exception.NewRedeliveryPolicy(exception.RedeliveryOptions{MaxRedeliveryCount: 1, Config: types.NewConfig()})
	require.Nil(t, err)
	in, err := NewBuilder("fake://orders", newFakeConnector()).
		ExchangePattern(types.RequestResponse).
		SecurityFilter(tr).
		RedeliveryPolicy(policy).
		Filter(tr, false).
		Transformers(tr.processor("transformer")).
		ResponseTransformers(tr.processor("response")).
		BuildInbound()
	require.Nil(t, err)
	in.SetListener(tr.processor("listener"))

	flow := test.NewFlow("main")
	in.SetFlowConstruct(flow)
	assert.Equal(t, flow, in.FlowConstruct())

	event := test.NewEvent("x")
	result, err := in.Process(event)
	require.Nil(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []string{"security", "filter", "transformer", "listener", "response"}, tr.steps)
	assert.Equal(t, "fake://orders", result.OriginURI())
	assert.Equal(t, "fake://orders", result.Message().InboundProperty(types.OriginatingEndpointProperty))
}

func TestInboundOneWaySkipsResponseTransformers(t *testing.T) {
	tr := &tracer{}
	in, err := NewBuilder("fake://orders", newFakeConnector()).
		ResponseTransformers(tr.processor("response")).BuildInbound()
	require.Nil(t, err)
	in.SetListener(tr.processor("listener"))
	_, err = in.Process(test.NewEvent("x"))
	require.Nil(t, err)
	assert.Equal(t, []string{"listener"}, tr.steps)
}

func TestInboundFilter(t *testing.T) {
	reject := types.FilterFunc(func(event *types.Event) (bool, error) { return false, nil })
	collector := &test.Collector{}

	in, err := NewBuilder("fake://orders", newFakeConnector()).Filter(reject, false).BuildInbound()
	require.Nil(t, err)
	in.SetListener(collector)
	result, err := in.Process(test.NewEvent("x"))
	assert.Nil(t, err)
	assert.Nil(t, result)

	in, err = NewBuilder("fake://orders", newFakeConnector()).Filter(reject, true).BuildInbound()
	require.Nil(t, err)
	in.SetListener(collector)
	_, err = in.Process(test.NewEvent("x"))
	var unaccepted *types.FilterUnacceptedError
	assert.True(t, errors.As(err, &unaccepted))
	_, ok := types.AsMessagingException(err)
	assert.True(t, ok)
	assert.Equal(t, 0, collector.Count())
}

func TestInboundSecurityFailure(t *testing.T) {
	deny := securityFunc(func(event *types.Event) (*types.Event, error) {
		return nil, &types.UnauthorisedError{Realm: "mule"}
	})
	collector := &test.Collector{}
	in, err := NewBuilder("fake://orders", newFakeConnector()).SecurityFilter(deny).BuildInbound()
	require.Nil(t, err)
	in.SetListener(collector)
	_, err = in.Process(test.NewEvent("x"))
	var unauthorised *types.UnauthorisedError
	assert.True(t, errors.As(err, &unauthorised))
	assert.Equal(t, 0, collector.Count())
}

func TestInboundListenerFailureKeepsFailingProcessor(t *testing.T) {
	failing := test.Fail(errors.New("boom"))
	in, err := NewBuilder("fake://orders", newFakeConnector()).BuildInbound()
	require.Nil(t, err)
	in.SetListener(failing)
	_, err = in.Process(test.NewEvent("x"))
	me, ok := types.AsMessagingException(err)
	require.True(t, ok)
	assert.Equal(t, "boom", me.RootCause().Error())
	assert.NotNil(t, me.Event().Message().ExceptionPayload())
}

func TestInboundRedeliveryExceeded(t *testing.T) {
	policy, err := exception.NewRedeliveryPolicy(exception.RedeliveryOptions{MaxRedeliveryCount: 0, Config: types.NewConfig()})
	require.Nil(t, err)
	in, err := NewBuilder("fake://orders", newFakeConnector()).RedeliveryPolicy(policy).BuildInbound()
	require.Nil(t, err)
	in.SetListener(test.Fail(errors.New("boom")))

	msg := types.NewMessage("x")
	_, err = in.Process(test.NewEvent("x").WithMessage(msg))
	assert.NotNil(t, err)
	_, err = in.Process(test.NewEvent("x").WithMessage(msg))
	var redelivered *types.MessageRedeliveredError
	assert.True(t, errors.As(err, &redelivered))
}

type securityFunc func(event *types.Event) (*types.Event, error)

func (f securityFunc) Authenticate(event *types.Event) (*types.Event, error) {
	return f(event)
}

func TestOutboundOneWay(t *testing.T) {
	connector := newFakeConnector()
	out, err := NewBuilder("fake://audit", connector).Transformers(test.SetPayload("transformed")).BuildOutbound()
	require.Nil(t, err)

	event := test.NewEvent("x")
	result, err := out.Process(event)
	require.Nil(t, err)
	assert.Equal(t, event, result)
	assert.Equal(t, "x", result.Message().Payload())
	require.Len(t, connector.dispatched, 1)
	dispatched := connector.dispatched[0]
	assert.Equal(t, "transformed", dispatched.Message().Payload())
	assert.Equal(t, "fake://audit", dispatched.Message().OutboundProperty(types.EndpointProperty))
}

func TestOutboundRequestResponse(t *testing.T) {
	connector := newFakeConnector()
	connector.reply = types.NewMessage("reply").WithOutboundProperty("status", 200)
	tr := &tracer{}
	out, err := NewBuilder("fake://service", connector).
		ExchangePattern(types.RequestResponse).
		ResponseTransformers(tr.processor("response")).
		BuildOutbound()
	require.Nil(t, err)

	event := test.NewEvent("x")
	event.SetVariable("kept", true)
	result, err := out.Process(event)
	require.Nil(t, err)
	assert.Equal(t, "reply", result.Message().Payload())
	assert.Equal(t, 200, result.Message().InboundProperty("status"))
	assert.Nil(t, result.Message().OutboundProperty("status"))
	v, _ := result.Variable("kept")
	assert.Equal(t, true, v)
	assert.Equal(t, []string{"response"}, tr.steps)

	connector.reply = nil
	result, err = out.Process(test.NewEvent("x"))
	assert.Nil(t, err)
	assert.Nil(t, result)
}

func TestOutboundFailure(t *testing.T) {
	connector := newFakeConnector()
	connector.err = errors.New("connection refused")
	out, err := NewBuilder("fake://audit", connector).BuildOutbound()
	require.Nil(t, err)
	_, err = out.Process(test.NewEvent("x"))
	var dispatchErr *types.DispatchError
	require.True(t, errors.As(err, &dispatchErr))
	assert.Equal(t, "fake://audit", dispatchErr.Endpoint)
	_, ok := types.AsMessagingException(err)
	assert.True(t, ok)
}

func TestOutboundTimeout(t *testing.T) {
	connector := newFakeConnector()
	connector.onDispatch = func(ctx context.Context, event *types.Event) {
		<-ctx.Done()
	}
	connector.err = context.DeadlineExceeded
	out, err := NewBuilder("fake://slow", connector).ExchangePattern(types.RequestResponse).
		ResponseTimeout(10 * time.Millisecond).BuildOutbound()
	require.Nil(t, err)
	_, err = out.Process(test.NewEvent("x"))
	assert.ErrorIs(t, err, types.ErrTimeout)
}

func TestOutboundTransaction(t *testing.T) {
	var resource *test.Resource
	connector := newFakeConnector()
	connector.onDispatch = func(ctx context.Context, event *types.Event) {
		assert.True(t, transaction.Coordination.IsTransacted(ctx))
		resource = test.BindResource(t, ctx)
	}
	out, err := NewBuilder("fake://audit", connector).
		TransactionConfig(transaction.NewConfig(types.ActionAlwaysBegin, test.LocalFactory)).
		BuildOutbound()
	require.Nil(t, err)

	event := test.NewEvent("x")
	_, err = out.Process(event)
	require.Nil(t, err)
	assert.Equal(t, 1, resource.Committed())
	assert.False(t, transaction.Coordination.IsTransacted(event.Context()))

	connector.err = errors.New("boom")
	_, err = out.Process(test.NewEvent("x"))
	assert.NotNil(t, err)
	assert.Equal(t, 1, resource.RolledBack())
}
