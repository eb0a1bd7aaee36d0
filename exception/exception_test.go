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

package exception

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/execution"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/utils/cache"
)

type resource struct {
	committed  int
	rolledBack int
}

func (r *resource) Commit() error {
	r.committed++
	return nil
}

func (r *resource) Rollback() error {
	r.rolledBack++
	return nil
}

type flowStats struct {
	executionErrors int32
	fatalErrors     int32
}

func (s *flowStats) IncReceived()                      {}
func (s *flowStats) IncProcessed()                     {}
func (s *flowStats) IncExecutionError()                { atomic.AddInt32(&s.executionErrors, 1) }
func (s *flowStats) IncFatalError()                    { atomic.AddInt32(&s.fatalErrors, 1) }
func (s *flowStats) AddProcessingTime(d time.Duration) {}

type testFlow struct {
	stats   *flowStats
	handler types.MessagingExceptionHandler
}

func (f *testFlow) Name() string                                       { return "testFlow" }
func (f *testFlow) ExceptionListener() types.MessagingExceptionHandler { return f.handler }
func (f *testFlow) Statistics() types.FlowStatistics                   { return f.stats }

type registry map[string]interface{}

func (r registry) Lookup(name string) (interface{}, bool) {
	v, ok := r[name]
	return v, ok
}

var localFactory = &transaction.SingleResourceFactory{Supports: func(key interface{}) bool { return true }}

func setPayload(payload string) types.Processor {
	return types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		event.SetMessage(event.Message().WithPayload(payload))
		return event, nil
	})
}

// run executes a failing unit of work inside a transacted main template.
func run(t *testing.T, handler types.MessagingExceptionHandler, cause error) (*types.Event, error, *resource, *testFlow) {
	r := &resource{}
	flow := &testFlow{stats: &flowStats{}}
	tpl := execution.NewMainExecutionTemplate(transaction.NewConfig(types.ActionAlwaysBegin, localFactory), handler)
	result, err := tpl.Execute(context.Background(), func(ctx context.Context) (*types.Event, error) {
		require.Nil(t, transaction.Coordination.Transaction(ctx).BindResource("res", r))
		event := types.NewEvent(ctx, types.NewMessage("hello"), types.OneWay, flow)
		return nil, types.NewMessagingException(event, cause, nil)
	})
	return result, err, r, flow
}

func TestCatchStrategy(t *testing.T) {
	catch, err := NewCatchStrategy(Options{Processor: setPayload("handled")})
	require.Nil(t, err)
	result, err, r, flow := run(t, catch, errors.New("boom"))
	require.Nil(t, err)
	assert.Equal(t, "handled", result.Message().Payload())
	assert.Nil(t, result.Message().ExceptionPayload())
	assert.Equal(t, 1, r.committed)
	assert.Equal(t, int32(1), flow.stats.executionErrors)
}

func TestCatchStrategyRoutingFailureKeepsEvent(t *testing.T) {
	catch, _ := NewCatchStrategy(Options{Processor: types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		return nil, errors.New("routing failed")
	})})
	result, err, r, _ := run(t, catch, errors.New("boom"))
	require.Nil(t, err)
	assert.Equal(t, "hello", result.Message().Payload())
	assert.Equal(t, 1, r.committed)
}

func TestRollbackStrategy(t *testing.T) {
	var routed *types.Event
	rollback, err := NewRollbackStrategy(RollbackOptions{
		Options: Options{Processor: types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
			routed = event
			return event, nil
		})},
		MaxRedeliveryAttempts: 3,
		RedeliveryExhausted:   setPayload("exhausted"),
	})
	require.Nil(t, err)
	assert.True(t, rollback.HasMaxRedeliveryAttempts())
	assert.Equal(t, 3, rollback.MaxRedeliveryAttempts())

	t.Run("rollsBack", func(t *testing.T) {
		_, err, r, _ := run(t, rollback, errors.New("boom"))
		me, ok := types.AsMessagingException(err)
		require.True(t, ok)
		assert.False(t, me.Handled())
		assert.Equal(t, 1, r.rolledBack)
		assert.Equal(t, 0, r.committed)
		require.NotNil(t, routed)
		require.NotNil(t, routed.Message().ExceptionPayload())
		assert.Equal(t, "boom", routed.Message().ExceptionPayload().Message)
	})

	t.Run("redeliveryExhaustedCommits", func(t *testing.T) {
		result, err, r, _ := run(t, rollback, &types.MessageRedeliveredError{MessageId: "1", Count: 4, Max: 3})
		require.Nil(t, err)
		assert.Equal(t, "exhausted", result.Message().Payload())
		assert.Equal(t, 1, r.committed)
		assert.Equal(t, 0, r.rolledBack)
	})
}

func TestDefaultStrategy(t *testing.T) {
	def, err := NewDefaultStrategy(Options{LogException: true, Config: types.NewConfig()})
	require.Nil(t, err)
	_, err, r, _ := run(t, def, errors.New("boom"))
	me, ok := types.AsMessagingException(err)
	require.True(t, ok)
	assert.False(t, me.Handled())
	assert.Equal(t, 1, r.rolledBack)

	// the flow exception listener is used when the template has no handler
	r2 := &resource{}
	flow := &testFlow{stats: &flowStats{}, handler: def}
	tpl := execution.NewMainExecutionTemplate(transaction.NewConfig(types.ActionAlwaysBegin, localFactory), nil)
	_, err = tpl.Execute(context.Background(), func(ctx context.Context) (*types.Event, error) {
		require.Nil(t, transaction.Coordination.Transaction(ctx).BindResource("res", r2))
		return nil, types.NewMessagingException(types.NewEvent(ctx, types.NewMessage("x"), types.OneWay, flow), errors.New("boom"), nil)
	})
	assert.NotNil(t, err)
	assert.Equal(t, 1, r2.rolledBack)
	assert.Equal(t, int32(1), flow.stats.executionErrors)
}

func TestChoiceStrategy(t *testing.T) {
	config := types.NewConfig()
	unauthorised, err := NewCatchStrategy(Options{When: "causedBy('UnauthorisedError')", Processor: setPayload("denied"), Config: config})
	require.Nil(t, err)
	assert.False(t, unauthorised.AcceptsAll())
	other, err := NewCatchStrategy(Options{Processor: setPayload("other"), Config: config})
	require.Nil(t, err)

	_, err = NewChoiceStrategy("bad", []types.MessagingExceptionHandler{other, unauthorised}, config)
	assert.True(t, errors.Is(err, types.ErrIllegalArgument))
	_, err = NewChoiceStrategy("bad", []types.MessagingExceptionHandler{types.MessagingExceptionHandlerFunc(nil)}, config)
	assert.NotNil(t, err)

	choice, err := NewChoiceStrategy("choice", []types.MessagingExceptionHandler{unauthorised, other}, config)
	require.Nil(t, err)

	result, err, _, _ := run(t, choice, &types.UnauthorisedError{Reason: "no"})
	require.Nil(t, err)
	assert.Equal(t, "denied", result.Message().Payload())

	result, err, _, _ = run(t, choice, errors.New("boom"))
	require.Nil(t, err)
	assert.Equal(t, "other", result.Message().Payload())

	// no strategy accepts: the context default strategy rolls back
	only, err := NewChoiceStrategy("only", []types.MessagingExceptionHandler{unauthorised}, config)
	require.Nil(t, err)
	_, err, r, _ := run(t, only, errors.New("boom"))
	assert.NotNil(t, err)
	assert.Equal(t, 1, r.rolledBack)
}

func TestReferenceStrategy(t *testing.T) {
	catch, _ := NewCatchStrategy(Options{Processor: setPayload("global")})
	config := types.NewConfig()
	config.Registry = registry{"global": catch}

	result, err, _, _ := run(t, NewReferenceStrategy("global", config), errors.New("boom"))
	require.Nil(t, err)
	assert.Equal(t, "global", result.Message().Payload())

	_, err, r, _ := run(t, NewReferenceStrategy("missing", config), errors.New("boom"))
	assert.NotNil(t, err)
	assert.Equal(t, 1, r.rolledBack)
}

func TestFatalErrorIsReported(t *testing.T) {
	var shutdowns int32
	fatal := NewFatalErrorHandler(nil, func() { atomic.AddInt32(&shutdowns, 1) })
	config := types.NewConfig()
	config.SystemExceptionHandler = NewSystemHandler(nil, fatal)
	def, _ := NewDefaultStrategy(Options{Config: config})

	_, _, _, flow := run(t, def, &types.FatalError{Err: errors.New("out of memory")})
	_, _, _, _ = run(t, def, &types.FatalError{Err: errors.New("out of memory")})
	assert.Equal(t, int32(1), flow.stats.fatalErrors)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&shutdowns) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&shutdowns))
}

type connector struct {
	failures int32
	attempts int32
}

func (c *connector) Name() string { return "conn" }

func (c *connector) Reconnect() error {
	if atomic.AddInt32(&c.attempts, 1) <= atomic.LoadInt32(&c.failures) {
		return errors.New("still down")
	}
	return nil
}

func TestSystemHandlerReconnects(t *testing.T) {
	h := NewSystemHandler(nil, nil)
	h.ReconnectInterval = time.Millisecond
	c := &connector{failures: 2}
	h.HandleSystemException(&types.ConnectError{Connector: c, Err: errors.New("lost")})
	assert.Eventually(t, func() bool { return !h.IsReconnecting("conn") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&c.attempts))

	h.HandleSystemException(errors.New("other"))
	h.HandleSystemException(nil)
}

func TestRedeliveryPolicy(t *testing.T) {
	config := types.NewConfig(types.WithCache(cache.NewMemoryCache(time.Minute)))
	var deadLetters int32
	policy, err := NewRedeliveryPolicy(RedeliveryOptions{
		MaxRedeliveryCount: 1,
		DeadLetter: types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
			atomic.AddInt32(&deadLetters, 1)
			return event, nil
		}),
		Config: config,
	})
	require.Nil(t, err)
	failing := true
	policy.SetNext(types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		if failing {
			return nil, errors.New("boom")
		}
		return event, nil
	}))

	msg := types.NewMessage("x")
	deliver := func() error {
		_, err := policy.Process(types.NewEvent(context.Background(), msg, types.OneWay, nil))
		return err
	}
	assert.EqualError(t, deliver(), "boom")
	assert.EqualError(t, deliver(), "boom")
	err = deliver()
	var re *types.MessageRedeliveredError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 2, re.Count)
	assert.Equal(t, int32(1), atomic.LoadInt32(&deadLetters))

	// the counter restarts after exhaustion and is cleared on success
	failing = false
	assert.Nil(t, deliver())
	assert.False(t, config.Cache.Has(redeliveryKeyPrefix+msg.Id()))

	// transport reported count
	reported := msg.Builder().InboundProperty(types.RedeliveryCountProperty, 5).Build()
	_, err = policy.Process(types.NewEvent(context.Background(), reported, types.OneWay, nil))
	assert.True(t, errors.As(err, &re))

	_, err = NewRedeliveryPolicy(RedeliveryOptions{MaxRedeliveryCount: -1})
	assert.NotNil(t, err)
}

func TestRedeliveryPolicyIdExpression(t *testing.T) {
	policy, err := NewRedeliveryPolicy(RedeliveryOptions{MaxRedeliveryCount: 0, IdExpression: "inbound.key", Config: types.NewConfig(types.WithCache(cache.NewMemoryCache(time.Minute)))})
	require.Nil(t, err)
	policy.SetNext(types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		return nil, errors.New("boom")
	}))
	first := types.NewMessage("a").Builder().InboundProperty("key", "k1").Build()
	second := types.NewMessage("b").Builder().InboundProperty("key", "k1").Build()
	_, err = policy.Process(types.NewEvent(nil, first, types.OneWay, nil))
	assert.EqualError(t, err, "boom")
	_, err = policy.Process(types.NewEvent(nil, second, types.OneWay, nil))
	var re *types.MessageRedeliveredError
	assert.True(t, errors.As(err, &re))
}
