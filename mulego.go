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

// Package mulego provides an embeddable message-processing runtime: flows receive
// messages from transport endpoints and run them through processor chains with
// transactions, exception strategies and statistics.
//
// # Usage
//
// Applications are defined in JSON:
//
//	{
//	  "id": "orders",
//	  "connectors": [{"name": "memory", "type": "vm"}],
//	  "flows": [
//	    {
//	      "name": "receive",
//	      "source": {"address": "http://0.0.0.0:8081/orders", "exchangePattern": "request-response"},
//	      "processors": [
//	        {"type": "jsonToObject"},
//	        {"type": "outbound", "endpoint": {"address": "vm://orders", "connector": "memory"}},
//	        {"type": "setPayload", "configuration": {"value": "accepted"}}
//	      ]
//	    },
//	    {
//	      "name": "process",
//	      "source": {"address": "vm://orders", "connector": "memory",
//	                 "transaction": {"action": "ALWAYS_BEGIN"}},
//	      "processors": [{"type": "logger", "configuration": {"message": "order ${msg.id}"}}],
//	      "exceptionStrategy": {"type": "rollback", "maxRedeliveryAttempts": 3}
//	    }
//	  ]
//	}
//
// Create and start a Mule context
//
//	ctx, err := mulego.New("orders", []byte(def))
//
// Invoke a flow
//
//	reply, err := ctx.Send(context.Background(), "receive", types.NewMessage(`{"id": 1}`))
//
// Load all applications of a folder
//
//	err := mulego.Load("./apps")
//
// Get a Mule context
//
//	ctx, ok := mulego.Get("orders")
package mulego

import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/engine"
)

// Registry is the default component registry.
var Registry = engine.Registry

// DefaultPool Mule 上下文池
var DefaultPool = engine.DefaultPool

// NewConfig creates a configuration with the default parser, registry and functions.
func NewConfig(opts ...types.Option) types.Config {
	return engine.NewConfig(opts...)
}

// WithConfig sets the configuration of a Mule context.
func WithConfig(config types.Config) engine.Option {
	return engine.WithConfig(config)
}

// Load creates and starts a Mule context for every JSON application definition in
// folderPath and its subfolders.
func Load(folderPath string, opts ...engine.Option) error {
	return DefaultPool.Load(folderPath, opts...)
}

// New creates and starts a Mule context. The id of the definition is used when id is empty.
func New(id string, def []byte, opts ...engine.Option) (*engine.MuleContext, error) {
	return DefaultPool.New(id, def, opts...)
}

// Get returns the Mule context id.
func Get(id string) (*engine.MuleContext, bool) {
	return DefaultPool.Get(id)
}

// Del disposes and removes the Mule context id.
func Del(id string) {
	DefaultPool.Del(id)
}

// Stop disposes every Mule context.
func Stop() {
	DefaultPool.Stop()
}

// Range iterates over the Mule contexts.
func Range(f func(id string, ctx *engine.MuleContext) bool) {
	DefaultPool.Range(f)
}
