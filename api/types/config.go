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

package types

import (
	"math"
	"time"

	"github.com/mulego/mulego/utils/pool"
)

// Config defines the configuration shared by a Mule context, its flows and components.
type Config struct {
	// OnDebug is a callback function for processor debug information. It is only called if the processor's debugMode is set to true.
	// - flowName: The name of the flow.
	// - flowType: The event type, either IN (incoming) or OUT (outgoing) for the processor.
	// - processorId: The ID of the processor.
	// - event: The current event being processed.
	// - err: Error information, if any.
	OnDebug func(flowName string, flowType string, processorId string, event *Event, err error)
	// ScriptMaxExecutionTime is the maximum execution time for scripts, defaulting to 2000 milliseconds.
	ScriptMaxExecutionTime time.Duration
	// Pool is the interface for a coroutine pool used by asynchronous processing strategies and scopes.
	// The default implementation is `pool.WorkerPool`.
	Pool Pool
	// ComponentsRegistry is the component registry, defaulting to `mulego.Registry`.
	ComponentsRegistry ComponentRegistry
	// Parser is the DSL parser interface, defaulting to `engine.JsonParser`.
	Parser Parser
	// Logger is the logging interface, defaulting to `DefaultLogger()`.
	Logger Logger
	// Properties are global properties in key-value format.
	// Component configurations can replace values with ${global.propertyKey}.
	// Replacement occurs during component initialization and only once.
	Properties map[string]string
	// Udf is a map for registering custom Golang functions that can be called at runtime by expressions and scripts.
	Udf map[string]interface{}
	// Cache is the default object store shared by idempotent filters, redelivery policies and aggregators.
	Cache Cache
	// Registry resolves flows, connectors and global exception strategies. Set by the Mule context.
	Registry ObjectRegistry
	// SystemExceptionHandler handles failures raised outside of message processing. Set by the Mule context.
	SystemExceptionHandler SystemExceptionHandler
	// DefaultExceptionStrategy is used by flows without an exception strategy. Set by the Mule context.
	DefaultExceptionStrategy MessagingExceptionHandler
	// DefaultResponseTimeout is the request-response timeout of endpoints without an explicit one.
	DefaultResponseTimeout time.Duration
	// DefaultTransactionTimeout is applied to transactions begun without an explicit timeout, 0 means none.
	DefaultTransactionTimeout time.Duration
}

// RegisterUdf registers a custom function.
func (c *Config) RegisterUdf(name string, value interface{}) {
	if c.Udf == nil {
		c.Udf = make(map[string]interface{})
	}
	c.Udf[name] = value
}

// NewConfig creates a new Config with default values and applies the provided options.
func NewConfig(opts ...Option) Config {
	c := &Config{
		ScriptMaxExecutionTime: time.Millisecond * 2000,
		Logger:                 DefaultLogger(),
		Properties:             make(map[string]string),
		DefaultResponseTimeout: time.Second * 10,
	}

	for _, opt := range opts {
		_ = opt(c)
	}
	return *c
}

// DefaultPool provides a default coroutine pool.
func DefaultPool() Pool {
	wp := &pool.WorkerPool{MaxWorkersCount: math.MaxInt32}
	wp.Start()
	return wp
}
