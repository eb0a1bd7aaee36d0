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

package mqtt

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
	mendpoint "github.com/mulego/mulego/endpoint"
	"github.com/mulego/mulego/test"
)

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 1 }
func (m message) Retained() bool    { return true }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 9 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

func TestMessage(t *testing.T) {
	msg := Message(message{topic: "sensors/a/temp", payload: []byte(`{"t":21}`)})
	assert.Equal(t, `{"t":21}`, msg.Payload())
	assert.Equal(t, "sensors/a/temp", msg.InboundProperty(TopicProperty))
	assert.Equal(t, byte(1), msg.InboundProperty(QosProperty))
	assert.Equal(t, uint16(9), msg.InboundProperty(MessageIdProperty))
	assert.Equal(t, true, msg.InboundProperty(RetainedProperty))
}

func TestEndpoints(t *testing.T) {
	c := New()
	require.Nil(t, c.Init(types.NewConfig(), types.Configuration{"server": "tcp://127.0.0.1:1883", "qos": 1}))

	in, err := mendpoint.NewBuilder("mqtt://sensors/+/temp", c).BuildInbound()
	require.Nil(t, err)
	assert.Equal(t, "sensors/+/temp", Topic(in))
	r, err := c.NewReceiver(in)
	require.Nil(t, err)
	assert.Equal(t, byte(1), r.(*Receiver).qos)

	in, err = mendpoint.NewBuilder("mqtt://all", c).Property(TopicParam, "sensors/#").Property(QosParam, "2").BuildInbound()
	require.Nil(t, err)
	r, err = c.NewReceiver(in)
	require.Nil(t, err)
	assert.Equal(t, "sensors/#", r.(*Receiver).topic)
	assert.Equal(t, byte(2), r.(*Receiver).qos)

	in, err = mendpoint.NewBuilder("mqtt://x?qos=3", c).BuildInbound()
	require.Nil(t, err)
	_, err = c.NewReceiver(in)
	assert.ErrorIs(t, err, types.ErrIllegalArgument)

	out, err := mendpoint.NewBuilder("mqtt://sensors/+/temp", c).BuildOutbound()
	require.Nil(t, err)
	_, err = c.NewDispatcher(out)
	assert.ErrorIs(t, err, types.ErrIllegalArgument)

	out, err = mendpoint.NewBuilder("mqtt://alerts?retained=true", c).BuildOutbound()
	require.Nil(t, err)
	d, err := c.NewDispatcher(out)
	require.Nil(t, err)
	assert.True(t, d.(*Dispatcher).retained)
	assert.ErrorIs(t, d.Dispatch(test.NewEvent("x").Context(), test.NewEvent("x")), types.ErrIllegalState)
}

func TestConfiguration(t *testing.T) {
	assert.NotNil(t, New().Init(types.NewConfig(), types.Configuration{"server": ""}))
	assert.NotNil(t, New().Init(types.NewConfig(), types.Configuration{"qos": 3}))
}

func TestConnectFailure(t *testing.T) {
	c := New()
	require.Nil(t, c.Init(types.NewConfig(), types.Configuration{"server": "tcp://127.0.0.1:1", "connectTimeout": "100ms"}))
	err := c.Start()
	var connectErr *types.ConnectError
	assert.ErrorAs(t, err, &connectErr)
	assert.False(t, c.IsStarted())
}

// TestBroker needs a broker, e.g. MQTT_SERVER=tcp://127.0.0.1:1883
func TestBroker(t *testing.T) {
	server := os.Getenv("MQTT_SERVER")
	if server == "" {
		t.Skip("MQTT_SERVER is not set")
	}
	c := New()
	require.Nil(t, c.Init(types.NewConfig(), types.Configuration{"server": server}))
	require.Nil(t, c.Start())
	defer c.Dispose()

	collector := &test.Collector{}
	in, err := mendpoint.NewBuilder("mqtt://mulego/test/+", c).BuildInbound()
	require.Nil(t, err)
	in.SetListener(collector)
	require.Nil(t, in.Start())

	out, err := mendpoint.NewBuilder("mqtt://mulego/test/a", c).BuildOutbound()
	require.Nil(t, err)
	_, err = out.Process(test.NewEvent("hello"))
	require.Nil(t, err)

	assert.Eventually(t, func() bool { return collector.Count() == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "hello", collector.Events()[0].Message().Payload())
	assert.Equal(t, "mulego/test/a", collector.Events()[0].Message().InboundProperty(TopicProperty))
}
