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

// Package redis is the Redis Streams transport, e.g. redis://orders?group=billing
//
// Inbound endpoints read the stream as a member of a consumer group. An entry is
// acknowledged once its flow succeeds; failed entries stay pending and, when
// ClaimMinIdle is set, are claimed again after being idle that long and redelivered
// with the MULE_REDELIVERY_COUNT inbound property. Outbound endpoints append with XADD.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/transport/impl"
	"github.com/mulego/mulego/utils/maps"
	"github.com/mulego/mulego/utils/validate"
)

// Type 组件类型
const Type = "redis"

const (
	// GroupParam overrides the consumer group of the connector
	GroupParam = "group"

	StreamProperty  = "redis.stream"
	EntryIdProperty = "redis.id"

	fieldPayload  = "payload"
	fieldId       = "id"
	fieldDataType = "dataType"
	fieldProperty = "p."
)

// Configuration of the redis connection and of the stream consumers.
type Configuration struct {
	Server   string `validate:"required"`
	Username string
	Password string
	DB       int `validate:"gte=0"`
	TLS      bool
	// Group consumer group of inbound endpoints, created on demand
	Group string `validate:"required"`
	// Consumer name of this consumer in the group
	Consumer string `validate:"required"`
	// BatchSize entries read at once
	BatchSize int `validate:"gt=0"`
	// Block how long a read waits for entries
	Block time.Duration `validate:"gt=0"`
	// ClaimMinIdle idle time after which pending entries are claimed again, 0 disables claiming
	ClaimMinIdle  time.Duration `validate:"gte=0"`
	ClaimInterval time.Duration `validate:"gt=0"`
	ClaimBatch    int           `validate:"gt=0"`
	// MaxLen approximate stream length kept by XADD, 0 keeps everything
	MaxLen int64 `validate:"gte=0"`
}

// Connector shares one redis client between its endpoints.
type Connector struct {
	impl.BaseConnector
	Config Configuration
	lock   sync.RWMutex
	client redis.UniversalClient
}

func New() *Connector {
	return &Connector{Config: Configuration{
		Server:        "127.0.0.1:6379",
		Group:         "mulego",
		Consumer:      "mulego-" + types.NewId()[:8],
		BatchSize:     10,
		Block:         time.Second,
		ClaimInterval: 5 * time.Second,
		ClaimBatch:    10,
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

// Options the client options of config.
func Options(config Configuration) *redis.Options {
	opts := &redis.Options{
		Addr:     config.Server,
		Username: config.Username,
		Password: config.Password,
		DB:       config.DB,
	}
	if config.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

func (c *Connector) DoConnect(ctx context.Context) error {
	client := redis.NewClient(Options(c.Config))
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
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

// Client the connected client, nil when disconnected.
func (c *Connector) Client() redis.UniversalClient {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.client
}

func (c *Connector) NewReceiver(ep endpoint.InboundEndpoint) (endpoint.MessageReceiver, error) {
	stream := ep.URI().Address()
	if stream == "" {
		return nil, types.NewIllegalArgumentError("redis endpoint " + ep.Name() + " has no stream")
	}
	group := ep.Property(GroupParam)
	if group == "" {
		group = c.Config.Group
	}
	return &Receiver{BaseReceiver: impl.NewBaseReceiver(ep), connector: c, stream: stream, group: group}, nil
}

func (c *Connector) NewDispatcher(ep endpoint.OutboundEndpoint) (endpoint.MessageDispatcher, error) {
	stream := ep.URI().Address()
	if stream == "" {
		return nil, types.NewIllegalArgumentError("redis endpoint " + ep.Name() + " has no stream")
	}
	return &Dispatcher{connector: c, stream: stream}, nil
}

// Values encodes msg as stream entry fields. Outbound properties with scalar
// values are kept, prefixed with p.
func Values(msg *types.Message) (map[string]interface{}, error) {
	payload, err := msg.PayloadAsBytes()
	if err != nil {
		return nil, err
	}
	values := map[string]interface{}{
		fieldPayload:  payload,
		fieldId:       msg.Id(),
		fieldDataType: string(msg.DataType()),
	}
	for k, v := range msg.OutboundProperties() {
		switch v.(type) {
		case string, bool, int, int64, float64:
			values[fieldProperty+k] = v
		}
	}
	return values, nil
}

// Decode rebuilds the message of a stream entry.
func Decode(stream string, entry redis.XMessage) *types.Message {
	payload := asString(entry.Values[fieldPayload])
	dataType := types.TEXT
	if v, ok := entry.Values[fieldDataType]; ok && asString(v) != "" {
		dataType = types.DataType(asString(v))
	}
	b := types.NewMessageWithType(payload, dataType).Builder().
		InboundProperty(StreamProperty, stream).
		InboundProperty(EntryIdProperty, entry.ID)
	if id := asString(entry.Values[fieldId]); id != "" {
		b.Id(id)
	}
	for k, v := range entry.Values {
		if strings.HasPrefix(k, fieldProperty) {
			b.InboundProperty(strings.TrimPrefix(k, fieldProperty), asString(v))
		}
	}
	return b.Build()
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

// Dispatcher appends to the stream of its endpoint. Streams have no replies: Send
// appends and returns no message.
type Dispatcher struct {
	connector *Connector
	stream    string
}

func (d *Dispatcher) Send(ctx context.Context, event *types.Event) (*types.Message, error) {
	return nil, d.Dispatch(ctx, event)
}

func (d *Dispatcher) Dispatch(ctx context.Context, event *types.Event) error {
	client := d.connector.Client()
	if client == nil {
		return errors.Wrap(types.ErrIllegalState, "redis connector is not connected")
	}
	values, err := Values(event.Message())
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: d.stream, ID: "*", Values: values}
	if maxLen := d.connector.Config.MaxLen; maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return client.XAdd(ctx, args).Err()
}

func (d *Dispatcher) Close() error {
	return nil
}
