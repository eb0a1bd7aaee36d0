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

package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
	mendpoint "github.com/mulego/mulego/endpoint"
	"github.com/mulego/mulego/exception"
	"github.com/mulego/mulego/test"
)

func TestValuesAndDecode(t *testing.T) {
	msg := types.NewMessageWithType(`{"a":1}`, types.JSON).Builder().
		OutboundProperty("tenant", "acme").
		OutboundProperty("skip", []int{1}).
		Build()
	values, err := Values(msg)
	require.Nil(t, err)
	assert.Equal(t, []byte(`{"a":1}`), values[fieldPayload])
	assert.Equal(t, "acme", values["p.tenant"])
	assert.NotContains(t, values, "p.skip")

	// redis returns every field as a string
	entry := redis.XMessage{ID: "1-0", Values: map[string]interface{}{}}
	for k, v := range values {
		entry.Values[k] = asString(v)
	}
	decoded := Decode("orders", entry)
	assert.Equal(t, msg.Id(), decoded.Id())
	assert.Equal(t, `{"a":1}`, decoded.Payload())
	assert.Equal(t, types.JSON, decoded.DataType())
	assert.Equal(t, "acme", decoded.InboundProperty("tenant"))
	assert.Equal(t, "orders", decoded.InboundProperty(StreamProperty))
	assert.Equal(t, "1-0", decoded.InboundProperty(EntryIdProperty))

	decoded = Decode("orders", redis.XMessage{ID: "2-0", Values: map[string]interface{}{"payload": "x"}})
	assert.Equal(t, types.TEXT, decoded.DataType())
}

func TestConfiguration(t *testing.T) {
	c := New()
	require.Nil(t, c.Init(types.NewConfig(), types.Configuration{"server": "redis:6379", "block": "200ms", "claimMinIdle": "30s"}))
	assert.Equal(t, 200*time.Millisecond, c.Config.Block)
	assert.Equal(t, 30*time.Second, c.Config.ClaimMinIdle)
	assert.Equal(t, "redis:6379", Options(c.Config).Addr)

	assert.NotNil(t, New().Init(types.NewConfig(), types.Configuration{"group": ""}))
	assert.NotNil(t, New().Init(types.NewConfig(), types.Configuration{"batchSize": 0}))
	assert.Nil(t, Options(Configuration{}).TLSConfig)
	assert.NotNil(t, Options(Configuration{TLS: true}).TLSConfig)
}

func TestEndpoints(t *testing.T) {
	c := New()
	require.Nil(t, c.Init(types.NewConfig(), nil))
	in, err := mendpoint.NewBuilder("redis://orders?group=billing", c).BuildInbound()
	require.Nil(t, err)
	r, err := c.NewReceiver(in)
	require.Nil(t, err)
	assert.Equal(t, "orders", r.(*Receiver).stream)
	assert.Equal(t, "billing", r.(*Receiver).group)
	assert.ErrorIs(t, r.Start(), types.ErrIllegalState)

	out, err := mendpoint.NewBuilder("redis://orders", c).BuildOutbound()
	require.Nil(t, err)
	d, err := c.NewDispatcher(out)
	require.Nil(t, err)
	assert.ErrorIs(t, d.Dispatch(context.Background(), test.NewEvent("x")), types.ErrIllegalState)
}

func TestConnectFailure(t *testing.T) {
	c := New()
	require.Nil(t, c.Init(types.NewConfig(), types.Configuration{"server": "127.0.0.1:1"}))
	var connectErr *types.ConnectError
	assert.ErrorAs(t, c.Start(), &connectErr)
}

// TestStream needs a server, e.g. REDIS_SERVER=127.0.0.1:6379
func TestStream(t *testing.T) {
	server := os.Getenv("REDIS_SERVER")
	if server == "" {
		t.Skip("REDIS_SERVER is not set")
	}
	stream := "mulego-test-" + types.NewId()[:8]
	c := New()
	require.Nil(t, c.Init(types.NewConfig(), types.Configuration{
		"server": server, "block": "100ms", "claimMinIdle": "200ms", "claimInterval": "100ms",
	}))
	require.Nil(t, c.Start())
	defer c.Dispose()
	defer c.Client().Del(context.Background(), stream)

	// the first delivery fails and stays pending, the claimed redelivery succeeds
	flow := test.NewFlow("orders")
	strategy, err := exception.NewRollbackStrategy(exception.RollbackOptions{
		Options: exception.Options{Config: types.NewConfig()}, MaxRedeliveryAttempts: exception.NoRedelivery,
	})
	require.Nil(t, err)
	flow.Handler = strategy
	collector := &test.Collector{}
	var attempts int
	listener := types.ProcessorFunc(func(event *types.Event) (*types.Event, error) {
		attempts++
		if attempts == 1 {
			return nil, assert.AnError
		}
		return collector.Process(event)
	})
	in, err := mendpoint.NewBuilder("redis://"+stream, c).BuildInbound()
	require.Nil(t, err)
	in.SetListener(listener)
	in.SetFlowConstruct(flow)
	require.Nil(t, in.Start())

	out, err := mendpoint.NewBuilder("redis://"+stream, c).BuildOutbound()
	require.Nil(t, err)
	_, err = out.Process(test.NewEvent("hello"))
	require.Nil(t, err)

	assert.Eventually(t, func() bool { return collector.Count() == 1 }, 5*time.Second, 20*time.Millisecond)
	msg := collector.Events()[0].Message()
	assert.Equal(t, "hello", msg.Payload())
	assert.EqualValues(t, 1, msg.InboundProperty(types.RedeliveryCountProperty))
	assert.Eventually(t, func() bool {
		pending, err := c.Client().XPending(context.Background(), stream, c.Config.Group).Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 20*time.Millisecond)
}
