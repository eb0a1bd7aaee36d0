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

// Package endpoint provides the core definitions and interfaces of endpoints and transports.
// An endpoint is a channel to or from a transport: inbound endpoints receive messages and hand
// them to a flow, outbound endpoints send events to external systems.
//
// Package endpoint 为端点和传输提供核心定义和接口。
// 入站端点接收消息并交给流处理，出站端点把事件发送到外部系统。
//
// Core Concepts / 核心概念：
//
// • Connector: owns the connection to a transport and creates receivers and dispatchers  连接器
// • MessageReceiver: receives messages for one inbound endpoint  消息接收器
// • MessageDispatcher: delivers events for one outbound endpoint  消息分发器
// • URI: endpoint address, scheme selects the connector  端点地址
package endpoint

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/mulego/mulego/api/types"
)

// URI is a parsed endpoint address: scheme://[user[:password]@]address[?params]
type URI struct {
	raw      string
	Scheme   string
	Host     string
	Path     string
	User     string
	Password string
	Params   map[string]string
}

// ParseURI parses an endpoint address.
func ParseURI(address string) (*URI, error) {
	if !strings.Contains(address, "://") {
		return nil, types.NewIllegalArgumentError("endpoint address must have a scheme: " + address)
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, types.NewIllegalArgumentError(err.Error())
	}
	uri := &URI{
		raw:    address,
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Host,
		Path:   u.Path,
		Params: make(map[string]string),
	}
	if u.User != nil {
		uri.User = u.User.Username()
		uri.Password, _ = u.User.Password()
	}
	for k, v := range u.Query() {
		if len(v) > 0 {
			uri.Params[k] = v[0]
		}
	}
	return uri, nil
}

// Address the scheme specific part without user info and params: host + path.
func (u *URI) Address() string {
	return u.Host + u.Path
}

// Param returns a query parameter.
func (u *URI) Param(key string) string {
	return u.Params[key]
}

func (u *URI) String() string {
	return u.raw
}

// Endpoint is the immutable part shared by inbound and outbound endpoints.
type Endpoint interface {
	Name() string
	URI() *URI
	// Address the raw address as configured
	Address() string
	ExchangePattern() types.ExchangePattern
	Connector() Connector
	TransactionConfig() types.TransactionConfig
	ResponseTimeout() time.Duration
	// Property returns an endpoint property, falling back to the uri params
	Property(key string) string
	Properties() map[string]string
	Filter() types.Filter
	SecurityFilter() types.SecurityFilter
	Transformers() []types.Processor
	ResponseTransformers() []types.Processor
	Config() types.Config
}

// InboundEndpoint receives messages from a transport.
type InboundEndpoint interface {
	Endpoint
	types.MessageSource
	// Listener the processor messages are routed to: the inbound pipeline followed by the flow
	Listener() types.Processor
	FlowConstruct() types.FlowConstruct
	SetFlowConstruct(flow types.FlowConstruct)
	Start() error
	Stop() error
}

// OutboundEndpoint sends events to a transport.
type OutboundEndpoint interface {
	Endpoint
	types.Processor
}

// Connector owns the connection to a transport.
// 连接器
type Connector interface {
	New() Connector
	// Type the protocol handled, e.g. vm
	Type() string
	Name() string
	SetName(name string)
	Init(config types.Config, configuration types.Configuration) error
	Start() error
	Stop() error
	Dispose()
	IsStarted() bool
	// Connect establishes the transport connection
	Connect(ctx context.Context) error
	// RegisterListener creates a receiver for the inbound endpoint
	RegisterListener(endpoint InboundEndpoint) (MessageReceiver, error)
	UnregisterListener(endpoint InboundEndpoint) error
	// Dispatcher returns the dispatcher of the outbound endpoint
	Dispatcher(endpoint OutboundEndpoint) (MessageDispatcher, error)
	// TransactionFactory returns the transaction factory of the transport, nil if not transactional
	TransactionFactory() types.TransactionFactory
}

// MessageReceiver receives messages for one inbound endpoint.
type MessageReceiver interface {
	Endpoint() InboundEndpoint
	// RouteMessage routes a received message through the endpoint and returns the reply
	// for request-response endpoints.
	RouteMessage(ctx context.Context, msg *types.Message) (*types.Message, error)
	Start() error
	Stop() error
}

// MessageDispatcher delivers events for one outbound endpoint.
type MessageDispatcher interface {
	// Send delivers the event and waits for the response.
	Send(ctx context.Context, event *types.Event) (*types.Message, error)
	// Dispatch delivers the event without waiting for a response.
	Dispatch(ctx context.Context, event *types.Event) error
	Close() error
}
