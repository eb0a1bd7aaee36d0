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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/test"
)

// twice runs the rest of the chain two times.
type twice struct {
	next types.Processor
}

func (x *twice) SetNext(next types.Processor) {
	x.next = next
}

func (x *twice) Process(event *types.Event) (*types.Event, error) {
	if _, err := x.next.Process(event.Copy()); err != nil {
		return nil, err
	}
	return x.next.Process(event)
}

// lifecycleRecorder records Start and Stop calls in order.
type lifecycleRecorder struct {
	name  string
	calls *[]string
}

func (x *lifecycleRecorder) Process(event *types.Event) (*types.Event, error) {
	return event, nil
}

func (x *lifecycleRecorder) Start() error {
	*x.calls = append(*x.calls, "start "+x.name)
	return nil
}

func (x *lifecycleRecorder) Stop() error {
	*x.calls = append(*x.calls, "stop "+x.name)
	return nil
}

func TestChain(t *testing.T) {
	collector := &test.Collector{}
	chain := NewChain("main", NewConfig(),
		Element{Id: "a", Processor: test.SetPayload("a")},
		Element{Id: "b", Processor: collector},
		Element{Id: "c", Processor: test.SetPayload("c")},
	)
	assert.Equal(t, "main", chain.Name())
	assert.Equal(t, 3, chain.Len())

	out, err := chain.Process(test.NewEvent("x"))
	require.Nil(t, err)
	assert.Equal(t, "c", out.Message().Payload())
	assert.Equal(t, []interface{}{"a"}, collector.Payloads())

	event := test.NewEvent("x")
	out, err = NewChain("empty", NewConfig()).Process(event)
	assert.Nil(t, err)
	assert.Equal(t, event, out)
}

func TestChainStopsOnNilAndError(t *testing.T) {
	collector := &test.Collector{}
	stop := types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		return nil, nil
	})
	out, err := NewChain("nil", NewConfig(), Element{Processor: stop}, Element{Processor: collector}).Process(test.NewEvent("x"))
	assert.Nil(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 0, collector.Count())

	cause := errors.New("boom")
	failing := test.Fail(cause)
	_, err = NewChain("fail", NewConfig(), Element{Id: "f", Processor: failing}, Element{Processor: collector}).Process(test.NewEvent("x"))
	me, ok := types.AsMessagingException(err)
	require.True(t, ok)
	assert.True(t, errors.Is(err, cause))
	assert.NotNil(t, me.FailingProcessor())
	assert.Equal(t, 0, collector.Count())
}

func TestChainIntercepting(t *testing.T) {
	collector := &test.Collector{}
	chain := NewChain("intercepting", NewConfig(),
		Element{Processor: test.SetPayload("a")},
		Element{Processor: &twice{}},
		Element{Processor: collector},
	)
	_, err := chain.Process(test.NewEvent("x"))
	require.Nil(t, err)
	assert.Equal(t, []interface{}{"a", "a"}, collector.Payloads())

	// last in the chain
	out, err := NewChain("last", NewConfig(), Element{Processor: &twice{}}).Process(test.NewEvent("x"))
	require.Nil(t, err)
	assert.Equal(t, "x", out.Message().Payload())
}

func TestChainDebug(t *testing.T) {
	var lock sync.Mutex
	var calls []string
	config := NewConfig(types.WithOnDebug(func(flowName string, flowType string, processorId string, event *types.Event, err error) {
		lock.Lock()
		defer lock.Unlock()
		calls = append(calls, flowType+" "+processorId)
	}))
	chain := NewChain("debug", config,
		Element{Id: "a", Processor: test.SetPayload("a"), Debug: true},
		Element{Id: "b", Processor: test.SetPayload("b")},
	)
	_, err := chain.Process(test.NewEvent("x"))
	require.Nil(t, err)
	assert.Equal(t, []string{types.In + " a", types.Out + " a"}, calls)
}

func TestChainLifecycle(t *testing.T) {
	var calls []string
	chain := NewChain("lifecycle", NewConfig(),
		Element{Processor: &lifecycleRecorder{name: "a", calls: &calls}},
		Element{Processor: &lifecycleRecorder{name: "b", calls: &calls}},
	)
	require.Nil(t, chain.Start())
	require.Nil(t, chain.Stop())
	chain.Dispose()
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, calls)
}
