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
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/exception"
	"github.com/mulego/mulego/test"
	"github.com/mulego/mulego/transaction"
)

const testFactory = "test.local"

func init() {
	transaction.RegisterFactory(testFactory, test.LocalFactory)
}

func newScope(t *testing.T, c types.Component, config types.Config, configuration types.Configuration, routes ...types.Route) types.Component {
	node := test.InitComponent(t, c, config, configuration)
	if len(routes) > 0 {
		require.Nil(t, node.(types.RouteAware).SetRoutes(routes))
	}
	return node
}

// failing fails the way a processor chain does.
func failing(err error) types.Processor {
	return types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		return nil, types.NewMessagingException(event, err, nil)
	})
}

func TestFlowRef(t *testing.T) {
	config := types.NewConfig()
	config.Registry = test.Registry{"orders-eu": test.SetPayload("eu"), "notAFlow": 1}

	node := newScope(t, &FlowRef{}, config, types.Configuration{"name": "orders-${vars.region}"})
	event := test.NewEvent("x")
	event.SetVariable("region", "eu")
	out, err := node.Process(event)
	require.Nil(t, err)
	assert.Equal(t, "eu", out.Message().Payload())

	event.SetVariable("region", "us")
	_, err = node.Process(event)
	assert.ErrorIs(t, err, types.ErrNotFound)

	node = newScope(t, &FlowRef{}, config, types.Configuration{"name": "notAFlow"})
	_, err = node.Process(test.NewEvent("x"))
	assert.ErrorIs(t, err, types.ErrIllegalArgument)

	assert.NotNil(t, (&FlowRef{}).New().Init(config, types.Configuration{}))
}

func TestAsync(t *testing.T) {
	collector := &test.Collector{}
	node := newScope(t, &Async{}, types.NewConfig(), nil, test.Routes(collector)...)
	event := types.NewEvent(transaction.NewScope(context.Background()), types.NewMessage("x"), types.RequestResponse, nil)
	out, err := node.Process(event)
	require.Nil(t, err)
	assert.Equal(t, event, out)
	require.Eventually(t, func() bool { return collector.Count() == 1 }, time.Second, 5*time.Millisecond)
	async := collector.Events()[0]
	assert.Equal(t, types.OneWay, async.ExchangePattern())
	assert.NotEqual(t, event.Context(), async.Context())

	tx, err := test.LocalFactory.BeginTransaction(event.Context())
	require.Nil(t, err)
	defer tx.Rollback()
	_, err = node.Process(event)
	assert.ErrorIs(t, err, types.ErrIllegalState)

	_, err = (&Async{}).Process(test.NewEvent("x"))
	assert.ErrorIs(t, err, types.ErrIllegalState)
}

func TestWireTapInsideTransaction(t *testing.T) {
	collector := &test.Collector{}
	node := newScope(t, &WireTap{}, types.NewConfig(), nil, test.Routes(collector)...)
	event := test.NewEvent("x")
	tx, err := test.LocalFactory.BeginTransaction(event.Context())
	require.Nil(t, err)
	defer tx.Rollback()

	out, err := node.Process(event)
	require.Nil(t, err)
	assert.Equal(t, event, out)
	require.Eventually(t, func() bool { return collector.Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, transaction.Coordination.Transaction(collector.Events()[0].Context()))
}

func TestAsyncFailureGoesToFlowListener(t *testing.T) {
	var handled int32
	flow := test.NewFlow("f")
	flow.Handler = types.MessagingExceptionHandlerFunc(func(err error, event *types.Event) *types.Event {
		atomic.AddInt32(&handled, 1)
		return event
	})
	node := newScope(t, &Async{}, types.NewConfig(), nil, test.Routes(failing(errors.New("boom")))...)
	_, err := node.Process(test.NewFlowEvent(flow, "x"))
	require.Nil(t, err)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&handled) == 1 }, time.Second, 5*time.Millisecond)
}

func TestProcessorChain(t *testing.T) {
	node := newScope(t, &ProcessorChain{}, types.NewConfig(), nil, test.Routes(test.SetPayload("y"))...)
	out, err := node.Process(test.NewEvent("x"))
	require.Nil(t, err)
	assert.Equal(t, "y", out.Message().Payload())
}

func TestTransactional(t *testing.T) {
	var resource *test.Resource
	bind := func(fail bool) types.Processor {
		return types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
			resource = test.BindResource(t, event.Context())
			if fail {
				return nil, types.NewMessagingException(event, errors.New("boom"), nil)
			}
			return event, nil
		})
	}
	configuration := types.Configuration{"factory": testFactory}

	node := newScope(t, &Transactional{}, types.NewConfig(), configuration, test.Routes(bind(false))...)
	event := test.NewEvent("x")
	_, err := node.Process(event)
	require.Nil(t, err)
	assert.Equal(t, 1, resource.Committed())
	assert.Nil(t, transaction.Coordination.Transaction(event.Context()))

	node = newScope(t, &Transactional{}, types.NewConfig(), configuration, test.Routes(bind(true))...)
	_, err = node.Process(test.NewEvent("x"))
	assert.NotNil(t, err)
	assert.Equal(t, 1, resource.RolledBack())

	catch, err := exception.NewCatchStrategy(exception.Options{Config: types.NewConfig()})
	require.Nil(t, err)
	node = newScope(t, &Transactional{}, types.NewConfig(), configuration, test.Routes(bind(true))...)
	node.(types.ExceptionStrategyAware).SetExceptionStrategy(catch)
	out, err := node.Process(test.NewEvent("x"))
	require.Nil(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 1, resource.Committed())

	rollback, err := exception.NewRollbackStrategy(exception.RollbackOptions{Options: exception.Options{Config: types.NewConfig()}})
	require.Nil(t, err)
	node = newScope(t, &Transactional{}, types.NewConfig(), configuration, test.Routes(bind(true))...)
	node.(types.ExceptionStrategyAware).SetExceptionStrategy(rollback)
	_, err = node.Process(test.NewEvent("x"))
	assert.NotNil(t, err)
	assert.Equal(t, 1, resource.RolledBack())

	assert.NotNil(t, (&Transactional{}).New().Init(types.NewConfig(), types.Configuration{"factory": "unknown"}))
	assert.NotNil(t, (&Transactional{}).New().Init(types.NewConfig(), types.Configuration{"action": "SOMETIMES"}))
}

func TestUntilSuccessfulSynchronous(t *testing.T) {
	var calls int32
	flaky := types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("not yet")
		}
		event.SetMessage(event.Message().WithPayload("done"))
		return event, nil
	})
	node := newScope(t, &UntilSuccessful{}, types.NewConfig(),
		types.Configuration{"maxRetries": 3, "retryInterval": "1ms", "synchronous": true}, test.Routes(flaky)...)
	defer node.Destroy()
	out, err := node.Process(test.NewEvent("x"))
	require.Nil(t, err)
	assert.Equal(t, "done", out.Message().Payload())
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	deadLetter := &test.Collector{}
	node = newScope(t, &UntilSuccessful{}, types.NewConfig(),
		types.Configuration{"maxRetries": 1, "retryInterval": "1ms", "synchronous": true},
		types.Route{Processor: test.Fail(errors.New("down"))},
		types.Route{Id: DeadLetterRoute, Processor: deadLetter})
	defer node.Destroy()
	_, err = node.Process(test.NewEvent("x"))
	assert.ErrorIs(t, err, ErrRetryExhausted)
	require.Equal(t, 1, deadLetter.Count())
	assert.NotNil(t, deadLetter.Events()[0].Message().ExceptionPayload())
}

func TestUntilSuccessfulFailureExpression(t *testing.T) {
	var calls int32
	status := types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		code := 503
		if atomic.AddInt32(&calls, 1) > 1 {
			code = 200
		}
		event.SetMessage(event.Message().Builder().InboundProperty("status", code).Build())
		return event, nil
	})
	node := newScope(t, &UntilSuccessful{}, types.NewConfig(), types.Configuration{
		"maxRetries": 2, "retryInterval": "1ms", "synchronous": true, "failureExpression": "inbound.status >= 500",
	}, test.Routes(status)...)
	defer node.Destroy()
	out, err := node.Process(test.NewEvent("x"))
	require.Nil(t, err)
	assert.Equal(t, 200, out.Message().InboundProperty("status"))
}

func TestUntilSuccessfulAsynchronous(t *testing.T) {
	deadLetter := &test.Collector{}
	node := newScope(t, &UntilSuccessful{}, types.NewConfig(),
		types.Configuration{"maxRetries": 2, "retryInterval": "1ms"},
		types.Route{Processor: test.Fail(errors.New("down"))},
		types.Route{Id: DeadLetterRoute, Processor: deadLetter})
	event := test.NewEvent("x")
	out, err := node.Process(event)
	require.Nil(t, err)
	assert.Equal(t, event, out)
	require.Eventually(t, func() bool { return deadLetter.Count() == 1 }, time.Second, 5*time.Millisecond)
	node.Destroy()

	slow := newScope(t, &UntilSuccessful{}, types.NewConfig(),
		types.Configuration{"maxRetries": 5, "retryInterval": "1h"}, test.Routes(test.Fail(errors.New("down")))...)
	_, err = slow.Process(test.NewEvent("x"))
	require.Nil(t, err)
	done := make(chan struct{})
	go func() {
		slow.Destroy()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("destroy did not interrupt pending retries")
	}
	_, err = slow.Process(test.NewEvent("x"))
	assert.NotNil(t, err)
}

func TestForeach(t *testing.T) {
	var seen []interface{}
	var counters []interface{}
	body := types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		seen = append(seen, event.Message().Payload())
		c, _ := event.Variable("counter")
		counters = append(counters, c)
		root, _ := event.Variable("rootMessage")
		assert.Equal(t, "order", root.(*types.Message).Payload().(map[string]interface{})["name"])
		event.SetVariable("last", event.Message().Payload())
		return event, nil
	})
	node := newScope(t, &Foreach{}, types.NewConfig(), types.Configuration{"collection": "msg.lines"}, test.Routes(body)...)
	event := test.NewEvent(map[string]interface{}{"name": "order", "lines": []interface{}{"a", "b", "c"}})
	original := event.Message()
	out, err := node.Process(event)
	require.Nil(t, err)
	assert.Equal(t, original, out.Message())
	assert.Equal(t, []interface{}{"a", "b", "c"}, seen)
	assert.Equal(t, []interface{}{1, 2, 3}, counters)
	last, _ := out.Variable("last")
	assert.Equal(t, "c", last)
	_, ok := out.Variable("counter")
	assert.False(t, ok)

	seen = nil
	counters = nil
	node = newScope(t, &Foreach{}, types.NewConfig(), types.Configuration{"collection": "msg.lines", "batchSize": 2}, test.Routes(body)...)
	_, err = node.Process(test.NewEvent(map[string]interface{}{"name": "order", "lines": []interface{}{"a", "b", "c"}}))
	require.Nil(t, err)
	assert.Equal(t, []interface{}{[]interface{}{"a", "b"}, []interface{}{"c"}}, seen)

	failingNode := newScope(t, &Foreach{}, types.NewConfig(), nil, test.Routes(test.Fail(errors.New("boom")))...)
	event = test.NewEvent([]interface{}{"a"})
	_, err = failingNode.Process(event)
	assert.NotNil(t, err)
	assert.Equal(t, "a", event.Message().Payload())

	assert.NotNil(t, (&Foreach{}).New().Init(types.NewConfig(), types.Configuration{"batchSize": 0}))
}
