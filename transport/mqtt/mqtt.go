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

// Package mqtt is the MQTT transport. Inbound endpoints subscribe to a topic and
// outbound endpoints publish to one, e.g. mqtt://sensors/+/temp?qos=1
//
// Topics holding # are set with the topic endpoint property since # starts a uri fragment.
package mqtt

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/transport/impl"
	"github.com/mulego/mulego/utils/logger"
	"github.com/mulego/mulego/utils/maps"
	"github.com/mulego/mulego/utils/mqtt"
	"github.com/mulego/mulego/utils/validate"
)

// Type 组件类型
const Type = "mqtt"

const (
	// TopicParam overrides the topic taken from the address
	TopicParam = "topic"
	// QosParam overrides the qos of the connector
	QosParam = "qos"
	// RetainedParam publishes retained messages
	RetainedParam = "retained"

	TopicProperty     = "mqtt.topic"
	QosProperty       = "mqtt.qos"
	MessageIdProperty = "mqtt.messageId"
	RetainedProperty  = "mqtt.retained"
	DuplicateProperty = "mqtt.duplicate"
)

// Configuration of the broker connection.
type Configuration struct {
	// Server broker address, e.g. tcp://127.0.0.1:1883
	Server               string `validate:"required"`
	Username             string
	Password             string
	MaxReconnectInterval time.Duration
	QOS                  uint8 `validate:"lte=2"`
	CleanSession         bool
	ClientID             string
	CAFile               string
	CertFile             string
	CertKeyFile          string
	// ConnectTimeout bounds one connection attempt
	ConnectTimeout time.Duration `validate:"gte=0"`
}

// Connector shares one broker client between its endpoints.
type Connector struct {
	impl.BaseConnector
	Config Configuration
	lock   sync.RWMutex
	client *mqtt.Client
}

func New() *Connector {
	return &Connector{Config: Configuration{
		Server:         "tcp://127.0.0.1:1883",
		CleanSession:   true,
		ConnectTimeout: 10 * time.Second,
	}}
}

func (c *Connector) New() endpoint.Connector {
	return New()
}

func (c *Connector) Type() string {
	return Type
}

func (c *Connector) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &c.Config); err != nil {
		return err
	}
	if err := validate.Struct(c.Config); err != nil {
		return err
	}
	return c.InitBase(c, Type, config)
}

func (c *Connector) DoConnect(ctx context.Context) error {
	if c.Config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Config.ConnectTimeout)
		defer cancel()
	}
	client, err := mqtt.NewClient(ctx, mqtt.Config{
		Server:               c.Config.Server,
		Username:             c.Config.Username,
		Password:             c.Config.Password,
		MaxReconnectInterval: c.Config.MaxReconnectInterval,
		CleanSession:         c.Config.CleanSession,
		ClientID:             c.Config.ClientID,
		CAFile:               c.Config.CAFile,
		CertFile:             c.Config.CertFile,
		CertKeyFile:          c.Config.CertKeyFile,
		OnConnectionLost:     c.ConnectionLost,
	})
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.client = client
	c.lock.Unlock()
	return nil
}

func (c *Connector) DoDisconnect() error {
	c.lock.Lock()
	client := c.client
	c.client = nil
	c.lock.Unlock()
	if client != nil {
		return client.Close()
	}
	return nil
}

func (c *Connector) mqttClient() (*mqtt.Client, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if c.client == nil {
		return nil, errors.Wrap(types.ErrIllegalState, "mqtt connector is not connected")
	}
	return c.client, nil
}

// Topic the topic of ep.
func Topic(ep endpoint.Endpoint) string {
	if topic := ep.Property(TopicParam); topic != "" {
		return topic
	}
	return ep.URI().Address()
}

func (c *Connector) qos(ep endpoint.Endpoint) (byte, error) {
	value := ep.Property(QosParam)
	if value == "" {
		return c.Config.QOS, nil
	}
	qos, err := strconv.Atoi(value)
	if err != nil || qos < 0 || qos > 2 {
		return 0, types.NewIllegalArgumentError("invalid mqtt qos " + value)
	}
	return byte(qos), nil
}

func (c *Connector) NewReceiver(ep endpoint.InboundEndpoint) (endpoint.MessageReceiver, error) {
	qos, err := c.qos(ep)
	if err != nil {
		return nil, err
	}
	topic := Topic(ep)
	if topic == "" {
		return nil, types.NewIllegalArgumentError("mqtt endpoint " + ep.Name() + " has no topic")
	}
	return &Receiver{BaseReceiver: impl.NewBaseReceiver(ep), connector: c, topic: topic, qos: qos}, nil
}

func (c *Connector) NewDispatcher(ep endpoint.OutboundEndpoint) (endpoint.MessageDispatcher, error) {
	qos, err := c.qos(ep)
	if err != nil {
		return nil, err
	}
	topic := Topic(ep)
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return nil, types.NewIllegalArgumentError("invalid publish topic " + topic)
	}
	return &Dispatcher{connector: c, topic: topic, qos: qos, retained: ep.Property(RetainedParam) == "true"}, nil
}

// Receiver subscribes to the topic of its endpoint.
type Receiver struct {
	*impl.BaseReceiver
	connector *Connector
	topic     string
	qos       byte
}

func (r *Receiver) Start() error {
	client, err := r.connector.mqttClient()
	if err != nil {
		return err
	}
	return client.Subscribe(r.topic, r.qos, r.handle)
}

func (r *Receiver) Stop() error {
	client, err := r.connector.mqttClient()
	if err != nil {
		// disconnected, nothing subscribed
		return nil
	}
	return client.Unsubscribe(r.topic)
}

func (r *Receiver) handle(data paho.Message) {
	defer func() {
		//捕捉异常
		if e := recover(); e != nil {
			logger.Error(r.connector.RuntimeConfig.Logger, errors.Errorf("%v", e), "mqtt receiver %s panic", r.topic)
		}
	}()
	if _, err := r.RouteMessage(transaction.NewScope(context.Background()), Message(data)); err != nil {
		logger.Error(r.connector.RuntimeConfig.Logger, err, "mqtt receiver %s failed", data.Topic())
	}
}

// Message converts a received mqtt message.
func Message(data paho.Message) *types.Message {
	payload := string(data.Payload())
	return types.NewMessageWithType(payload, types.InferDataType(payload)).Builder().
		InboundProperty(TopicProperty, data.Topic()).
		InboundProperty(QosProperty, data.Qos()).
		InboundProperty(MessageIdProperty, data.MessageID()).
		InboundProperty(RetainedProperty, data.Retained()).
		InboundProperty(DuplicateProperty, data.Duplicate()).
		Build()
}

// Dispatcher publishes to the topic of its endpoint. MQTT has no replies: Send
// publishes and returns no message.
type Dispatcher struct {
	connector *Connector
	topic     string
	qos       byte
	retained  bool
}

func (d *Dispatcher) Send(ctx context.Context, event *types.Event) (*types.Message, error) {
	return nil, d.Dispatch(ctx, event)
}

func (d *Dispatcher) Dispatch(ctx context.Context, event *types.Event) error {
	client, err := d.connector.mqttClient()
	if err != nil {
		return err
	}
	payload, err := event.Message().PayloadAsBytes()
	if err != nil {
		return err
	}
	return client.Publish(d.topic, d.qos, d.retained, payload)
}

func (d *Dispatcher) Close() error {
	return nil
}
