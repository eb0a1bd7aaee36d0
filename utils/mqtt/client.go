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

// Package mqtt wraps the paho client used by the mqtt transport. Subscriptions
// are remembered and restored after every reconnect.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

const (
	// DefaultMaxReconnectInterval 默认最大重连间隔
	DefaultMaxReconnectInterval = time.Minute
	// DefaultRetryInterval 首次连接失败后的重试间隔
	DefaultRetryInterval = 2 * time.Second
	// subscribeFailure SUBACK 返回码 0x80
	subscribeFailure = 0x80
	// quiesce disconnect 等待时间，毫秒
	quiesce = 500
)

// Config 客户端配置
type Config struct {
	// Server broker 地址，例如 tcp://127.0.0.1:1883
	Server   string
	Username string
	Password string
	// ClientID 为空时自动生成
	ClientID             string
	CleanSession         bool
	MaxReconnectInterval time.Duration
	// RetryInterval initial connect retry interval
	RetryInterval time.Duration
	CAFile        string
	CertFile      string
	CertKeyFile   string
	// OnConnectionLost is called when the broker connection drops, paho reconnects on its own.
	OnConnectionLost func(err error)
}

// TLS builds the client TLS config, nil when no file is configured.
func (c Config) TLS() (*tls.Config, error) {
	if c.CAFile == "" && c.CertFile == "" && c.CertKeyFile == "" {
		return nil, nil
	}
	config := &tls.Config{}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "mqtt ca file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("mqtt ca file %s has no certificate", c.CAFile)
		}
		config.RootCAs = pool
	}
	if c.CertFile != "" || c.CertKeyFile != "" {
		pair, err := tls.LoadX509KeyPair(c.CertFile, c.CertKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "mqtt client certificate")
		}
		config.Certificates = []tls.Certificate{pair}
	}
	return config, nil
}

// MessageHandler 订阅消息处理函数
type MessageHandler func(msg paho.Message)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client mqtt客户端
type Client struct {
	lock          sync.RWMutex
	client        paho.Client
	subscriptions map[string]subscription
	onLost        func(err error)
}

// NewClient connects to the broker, retrying every RetryInterval until ctx is done.
func NewClient(ctx context.Context, conf Config) (*Client, error) {
	tlsConfig, err := conf.TLS()
	if err != nil {
		return nil, err
	}
	c := &Client{subscriptions: make(map[string]subscription), onLost: conf.OnConnectionLost}

	opts := paho.NewClientOptions().
		AddBroker(conf.Server).
		SetUsername(conf.Username).
		SetPassword(conf.Password).
		SetCleanSession(conf.CleanSession).
		SetOnConnectHandler(c.resubscribe).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			if c.onLost != nil {
				c.onLost(err)
			}
		})
	if conf.ClientID == "" {
		conf.ClientID = "mulego/" + types.NewId()[:8]
	}
	opts.SetClientID(conf.ClientID)
	if conf.MaxReconnectInterval <= 0 {
		conf.MaxReconnectInterval = DefaultMaxReconnectInterval
	}
	opts.SetMaxReconnectInterval(conf.MaxReconnectInterval)
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}
	if conf.RetryInterval <= 0 {
		conf.RetryInterval = DefaultRetryInterval
	}

	c.client = paho.NewClient(opts)
	for {
		token := c.client.Connect()
		token.Wait()
		if token.Error() == nil {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, token.Error()
		case <-time.After(conf.RetryInterval):
		}
	}
}

// Subscribe subscribes handler to topic. A topic subscribed twice keeps the last handler.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.lock.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.lock.Unlock()
	return c.subscribe(topic, subscription{qos: qos, handler: handler})
}

// Unsubscribe removes the subscription of topic.
func (c *Client) Unsubscribe(topic string) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.subscriptions[topic]; !ok {
		return nil
	}
	delete(c.subscriptions, topic)
	return wait(c.client.Unsubscribe(topic))
}

// Publish 发布数据
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(c.client.Publish(topic, qos, retained, payload))
}

// Close unsubscribes every topic and disconnects.
func (c *Client) Close() error {
	c.lock.Lock()
	topics := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		topics = append(topics, topic)
	}
	c.subscriptions = make(map[string]subscription)
	c.lock.Unlock()
	if len(topics) > 0 && c.client.IsConnected() {
		_ = wait(c.client.Unsubscribe(topics...))
	}
	c.client.Disconnect(quiesce)
	return nil
}

func (c *Client) resubscribe(paho.Client) {
	c.lock.RLock()
	subscriptions := make(map[string]subscription, len(c.subscriptions))
	for topic, s := range c.subscriptions {
		subscriptions[topic] = s
	}
	c.lock.RUnlock()
	for topic, s := range subscriptions {
		_ = c.subscribe(topic, s)
	}
}

func (c *Client) subscribe(topic string, s subscription) error {
	handler := s.handler
	token := c.client.Subscribe(topic, s.qos, func(_ paho.Client, msg paho.Message) {
		handler(msg)
	})
	if err := wait(token); err != nil {
		return err
	}
	if st, ok := token.(*paho.SubscribeToken); ok {
		if code, ok := st.Result()[topic]; ok && code == subscribeFailure {
			return errors.Errorf("subscribe %s refused by broker", topic)
		}
	}
	return nil
}

func wait(token paho.Token) error {
	token.Wait()
	return token.Error()
}
