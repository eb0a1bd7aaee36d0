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

// Package impl provides the base implementation shared by connectors and message receivers.
//
// A concrete connector embeds BaseConnector and hands it a Transport that opens the
// connection and creates receivers and dispatchers. BaseConnector owns the lifecycle,
// the receivers keyed by endpoint address, the dispatcher cache and reconnection.
//
// Package impl 提供连接器和消息接收器共享的基础实现。
package impl

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/utils/logger"
)

// Transport is implemented by concrete connectors.
type Transport interface {
	// DoConnect opens the transport connection
	DoConnect(ctx context.Context) error
	// DoDisconnect closes the transport connection
	DoDisconnect() error
	NewReceiver(ep endpoint.InboundEndpoint) (endpoint.MessageReceiver, error)
	NewDispatcher(ep endpoint.OutboundEndpoint) (endpoint.MessageDispatcher, error)
}

// State lifecycle state of a connector.
type State int

const (
	StateCreated State = iota
	StateInitialised
	StateStarted
	StateStopped
	StateDisposed
)

var stateNames = [...]string{"created", "initialised", "started", "stopped", "disposed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// RetryConfig connection retries on start.
type RetryConfig struct {
	// ConnectAttempts attempts before start fails, default 1
	ConnectAttempts int
	// ConnectInterval first backoff, doubled per attempt, default 1s
	ConnectInterval time.Duration
}

// BaseConnector 基础连接器
type BaseConnector struct {
	// RuntimeConfig the configuration the connector was initialised with
	RuntimeConfig types.Config
	Retry         RetryConfig
	transport     Transport
	protocol      string
	name          string
	lock          sync.RWMutex
	state         State
	connected     bool
	receivers     map[string]endpoint.MessageReceiver
	dispatchers   map[endpoint.OutboundEndpoint]endpoint.MessageDispatcher
}

// InitBase initialises the connector. transport is usually the concrete connector itself.
func (c *BaseConnector) InitBase(transport Transport, protocol string, config types.Config) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state != StateCreated {
		return errors.Wrapf(types.ErrIllegalState, "connector %s is %s, cannot initialise", c.displayName(protocol), c.state)
	}
	c.transport = transport
	c.protocol = protocol
	c.RuntimeConfig = config
	if c.Retry.ConnectAttempts <= 0 {
		c.Retry.ConnectAttempts = 1
	}
	if c.Retry.ConnectInterval <= 0 {
		c.Retry.ConnectInterval = time.Second
	}
	c.receivers = make(map[string]endpoint.MessageReceiver)
	c.dispatchers = make(map[endpoint.OutboundEndpoint]endpoint.MessageDispatcher)
	c.state = StateInitialised
	return nil
}

func (c *BaseConnector) displayName(protocol string) string {
	if c.name != "" {
		return c.name
	}
	return protocol
}

func (c *BaseConnector) Type() string {
	return c.protocol
}

// Name the connector name, the protocol when no name was set.
func (c *BaseConnector) Name() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.displayName(c.protocol)
}

func (c *BaseConnector) SetName(name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.name = name
}

func (c *BaseConnector) State() State {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.state
}

func (c *BaseConnector) IsStarted() bool {
	return c.State() == StateStarted
}

func (c *BaseConnector) IsConnected() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.connected
}

// TransactionFactory nil, connectors supporting transactions override it.
func (c *BaseConnector) TransactionFactory() types.TransactionFactory {
	return nil
}

// Connect opens the connection, retrying with exponential backoff.
func (c *BaseConnector) Connect(ctx context.Context) error {
	if c.transport == nil {
		return errors.Wrap(types.ErrIllegalState, "connector is not initialised")
	}
	interval := c.Retry.ConnectInterval
	var err error
	for attempt := 1; ; attempt++ {
		if err = c.transport.DoConnect(ctx); err == nil {
			c.lock.Lock()
			c.connected = true
			c.lock.Unlock()
			return nil
		}
		if attempt >= c.Retry.ConnectAttempts {
			break
		}
		logger.Warn(c.RuntimeConfig.Logger, "connector %s: connect attempt %d failed, retrying in %s: %v", c.Name(), attempt, interval, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval *= 2
	}
	return &types.ConnectError{Connector: c, Err: err}
}

func (c *BaseConnector) disconnect() {
	c.lock.Lock()
	connected := c.connected
	c.connected = false
	c.lock.Unlock()
	if !connected {
		return
	}
	if err := c.transport.DoDisconnect(); err != nil {
		logger.Warn(c.RuntimeConfig.Logger, "connector %s: disconnect: %v", c.Name(), err)
	}
}

// Start connects and starts every registered receiver.
func (c *BaseConnector) Start() error {
	switch state := c.State(); state {
	case StateStarted:
		return nil
	case StateInitialised, StateStopped:
	default:
		return errors.Wrapf(types.ErrIllegalState, "connector %s is %s, cannot start", c.Name(), state)
	}
	if err := c.Connect(context.Background()); err != nil {
		return err
	}
	for _, r := range c.Receivers() {
		if err := r.Start(); err != nil {
			c.stopReceivers()
			c.disconnect()
			return errors.Wrapf(err, "connector %s: start receiver %s", c.Name(), r.Endpoint().Address())
		}
	}
	c.lock.Lock()
	c.state = StateStarted
	c.lock.Unlock()
	logger.Debug(c.RuntimeConfig.Logger, "connector %s started", c.Name())
	return nil
}

func (c *BaseConnector) stopReceivers() {
	for _, r := range c.Receivers() {
		if err := r.Stop(); err != nil {
			logger.Warn(c.RuntimeConfig.Logger, "connector %s: stop receiver %s: %v", c.Name(), r.Endpoint().Address(), err)
		}
	}
}

// Stop stops the receivers, closes the dispatchers and disconnects.
func (c *BaseConnector) Stop() error {
	switch state := c.State(); state {
	case StateInitialised, StateStopped:
		return nil
	case StateStarted:
	default:
		return errors.Wrapf(types.ErrIllegalState, "connector %s is %s, cannot stop", c.Name(), state)
	}
	c.stopReceivers()
	c.lock.Lock()
	dispatchers := c.dispatchers
	c.dispatchers = make(map[endpoint.OutboundEndpoint]endpoint.MessageDispatcher)
	c.state = StateStopped
	c.lock.Unlock()
	for _, d := range dispatchers {
		_ = d.Close()
	}
	c.disconnect()
	logger.Debug(c.RuntimeConfig.Logger, "connector %s stopped", c.Name())
	return nil
}

// Dispose stops the connector and forgets its receivers. A disposed connector cannot be restarted.
func (c *BaseConnector) Dispose() {
	if c.IsStarted() {
		_ = c.Stop()
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	c.receivers = make(map[string]endpoint.MessageReceiver)
	c.state = StateDisposed
}

// Reconnect drops the connection, connects again and restarts the receivers.
func (c *BaseConnector) Reconnect() error {
	if !c.IsStarted() {
		return errors.Wrapf(types.ErrIllegalState, "connector %s is not started", c.Name())
	}
	c.stopReceivers()
	c.disconnect()
	if err := c.Connect(context.Background()); err != nil {
		return err
	}
	for _, r := range c.Receivers() {
		if err := r.Start(); err != nil {
			return err
		}
	}
	return nil
}

// ConnectionLost reports a broken connection to the system exception handler, which
// reconnects the connector.
func (c *BaseConnector) ConnectionLost(err error) {
	ce := &types.ConnectError{Connector: c, Err: err}
	if h := c.RuntimeConfig.SystemExceptionHandler; h != nil {
		h.HandleSystemException(ce)
	} else {
		logger.Error(c.RuntimeConfig.Logger, ce, "connection lost")
	}
}

// ReceiverKey the key receivers are registered under: host and path of the endpoint uri.
func ReceiverKey(ep endpoint.Endpoint) string {
	return ep.URI().Address()
}

// RegisterListener creates a receiver for ep, started right away when the connector is.
func (c *BaseConnector) RegisterListener(ep endpoint.InboundEndpoint) (endpoint.MessageReceiver, error) {
	key := ReceiverKey(ep)
	c.lock.Lock()
	if c.state == StateCreated || c.state == StateDisposed {
		c.lock.Unlock()
		return nil, errors.Wrapf(types.ErrIllegalState, "connector %s is %s", c.displayName(c.protocol), c.state)
	}
	if _, ok := c.receivers[key]; ok {
		c.lock.Unlock()
		return nil, errors.Wrapf(types.ErrIllegalState, "a listener is already registered on %s", key)
	}
	receiver, err := c.transport.NewReceiver(ep)
	if err != nil {
		c.lock.Unlock()
		return nil, err
	}
	c.receivers[key] = receiver
	started := c.state == StateStarted
	c.lock.Unlock()

	if started {
		if err := receiver.Start(); err != nil {
			c.lock.Lock()
			delete(c.receivers, key)
			c.lock.Unlock()
			return nil, err
		}
	}
	return receiver, nil
}

func (c *BaseConnector) UnregisterListener(ep endpoint.InboundEndpoint) error {
	key := ReceiverKey(ep)
	c.lock.Lock()
	receiver, ok := c.receivers[key]
	delete(c.receivers, key)
	started := c.state == StateStarted
	c.lock.Unlock()
	if !ok {
		return errors.Wrapf(types.ErrNotFound, "no listener registered on %s", key)
	}
	if started {
		return receiver.Stop()
	}
	return nil
}

// Receiver returns the receiver registered on key, see ReceiverKey.
func (c *BaseConnector) Receiver(key string) (endpoint.MessageReceiver, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	r, ok := c.receivers[key]
	return r, ok
}

func (c *BaseConnector) Receivers() []endpoint.MessageReceiver {
	c.lock.RLock()
	defer c.lock.RUnlock()
	result := make([]endpoint.MessageReceiver, 0, len(c.receivers))
	for _, r := range c.receivers {
		result = append(result, r)
	}
	return result
}

// Dispatcher returns the cached dispatcher of ep, creating it on first use.
func (c *BaseConnector) Dispatcher(ep endpoint.OutboundEndpoint) (endpoint.MessageDispatcher, error) {
	c.lock.RLock()
	d, ok := c.dispatchers[ep]
	state := c.state
	c.lock.RUnlock()
	if ok {
		return d, nil
	}
	if state != StateStarted {
		return nil, errors.Wrapf(types.ErrIllegalState, "connector %s is %s", c.Name(), state)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if d, ok = c.dispatchers[ep]; ok {
		return d, nil
	}
	d, err := c.transport.NewDispatcher(ep)
	if err != nil {
		return nil, err
	}
	c.dispatchers[ep] = d
	return d, nil
}
