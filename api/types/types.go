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

// Package types defines the core contracts of mulego: the message model,
// events, processors, lifecycle phases, transactions and the errors raised
// while a message travels through a flow.
package types

import (
	"strings"
	"time"
)

// flow direction type
// 流向 消息流入、流出处理器方向
const (
	In  = "IN"
	Out = "OUT"
	Log = "Log"
)

// script types
const (
	Js = "Js"
)

// ScriptFuncSeparator separates the script type from the function name of a registered udf.
const ScriptFuncSeparator = "#"

// Configuration 组件配置类型
type Configuration map[string]interface{}

// ExchangePattern defines whether the caller waits for a response.
type ExchangePattern string

const (
	// OneWay the caller does not wait for a response.
	OneWay ExchangePattern = "one-way"
	// RequestResponse the caller blocks until a response is produced.
	RequestResponse ExchangePattern = "request-response"
)

// HasResponse reports whether the exchange pattern produces a response.
func (p ExchangePattern) HasResponse() bool {
	return p == RequestResponse
}

func (p ExchangePattern) String() string {
	return string(p)
}

// ParseExchangePattern parses an exchange pattern name. An empty string is one-way.
func ParseExchangePattern(s string) (ExchangePattern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "one-way", "oneway", "one_way":
		return OneWay, nil
	case "request-response", "requestresponse", "request_response":
		return RequestResponse, nil
	default:
		return "", NewIllegalArgumentError("unknown exchange pattern: " + s)
	}
}

// Processor processes an event and returns the resulting event.
// Returning a nil event without error means the event was consumed and
// processing of the current chain stops.
type Processor interface {
	Process(event *Event) (*Event, error)
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(event *Event) (*Event, error)

func (f ProcessorFunc) Process(event *Event) (*Event, error) {
	return f(event)
}

// InterceptingProcessor is a processor that controls the invocation of the rest of the chain.
// 拦截处理器，由处理器链把后续处理器注入
type InterceptingProcessor interface {
	Processor
	SetNext(next Processor)
}

// Route is a conditional branch of a router.
type Route struct {
	// Id route id
	Id string
	// When expression evaluated against the event, empty means otherwise
	When string
	// Processor executed when the route is selected
	Processor Processor
}

// RouteAware is implemented by routers and scopes that own nested processors.
type RouteAware interface {
	SetRoutes(routes []Route) error
}

// Filter decides whether an event may continue.
type Filter interface {
	Accept(event *Event) (bool, error)
}

// FilterFunc adapts a function to a Filter.
type FilterFunc func(event *Event) (bool, error)

func (f FilterFunc) Accept(event *Event) (bool, error) {
	return f(event)
}

// SecurityFilter authenticates an inbound event.
type SecurityFilter interface {
	Authenticate(event *Event) (*Event, error)
}

// MessageSource produces events and hands them to a listener.
type MessageSource interface {
	SetListener(listener Processor)
}

// FlowConstruct is the named construct an event belongs to.
type FlowConstruct interface {
	Name() string
	ExceptionListener() MessagingExceptionHandler
}

// Initialisable lifecycle phase
type Initialisable interface {
	Initialise() error
}

// Startable lifecycle phase
type Startable interface {
	Start() error
}

// Stoppable lifecycle phase
type Stoppable interface {
	Stop() error
}

// Disposable lifecycle phase
type Disposable interface {
	Dispose()
}

// Initialise initialises every object that supports the phase, stopping at the first error.
func Initialise(objs ...interface{}) error {
	for _, obj := range objs {
		if v, ok := obj.(Initialisable); ok {
			if err := v.Initialise(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Start starts every object that supports the phase, stopping at the first error.
func Start(objs ...interface{}) error {
	for _, obj := range objs {
		if v, ok := obj.(Startable); ok {
			if err := v.Start(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stop stops every object that supports the phase and returns the first error.
func Stop(objs ...interface{}) error {
	var first error
	for _, obj := range objs {
		if v, ok := obj.(Stoppable); ok {
			if err := v.Stop(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Dispose disposes every object that supports the phase.
func Dispose(objs ...interface{}) {
	for _, obj := range objs {
		if v, ok := obj.(Disposable); ok {
			v.Dispose()
		}
	}
}

// Component 组件接口
// 把业务逻辑封装成组件，然后通过DSL配置方式在流里调用该组件
// 实现方式参考`components`包，然后注册到默认注册器
// mulego.Registry.Register(&MyComponent{})
type Component interface {
	Processor
	//New 创建一个组件新实例
	New() Component
	//Type 组件类型，类型不能重复
	Type() string
	//Init 组件初始化，一般做一些组件参数配置或者客户端初始化操作
	Init(config Config, configuration Configuration) error
	//Destroy 销毁，做一些资源释放操作
	Destroy()
}

// ComponentRegistry 组件注册器
type ComponentRegistry interface {
	//Register 注册组件，如果`component.Type()`已经存在则返回一个`已存在`错误
	Register(component Component) error
	//Unregister 删除组件
	Unregister(componentType string) error
	//NewComponent 通过componentType创建一个新的组件实例
	NewComponent(componentType string) (Component, error)
	//Components 获取所有注册组件列表
	Components() map[string]Component
}

// ObjectRegistry resolves named objects owned by a running context:
// flows, connectors, global exception strategies.
type ObjectRegistry interface {
	Lookup(name string) (interface{}, bool)
}

// Pool 协程池
type Pool interface {
	//Submit 往协程池提交一个任务
	//如果协程池满返回错误
	Submit(task func()) error
	//Release 释放
	Release()
}

// FlowStatistics receives the processing counters of a flow.
type FlowStatistics interface {
	IncReceived()
	IncProcessed()
	IncExecutionError()
	IncFatalError()
	AddProcessingTime(d time.Duration)
}

// StatisticsAware is implemented by flow constructs that keep statistics.
type StatisticsAware interface {
	Statistics() FlowStatistics
}
