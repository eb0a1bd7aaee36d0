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

// Package engine provides the Mule context: it builds connectors, flows and global
// exception strategies from an application definition and manages their lifecycle.
//
// Package engine 提供 Mule 上下文：根据应用定义构建连接器、流和全局异常策略，并管理它们的生命周期。
//
// Key Components:
// 关键组件：
//   - MuleContext: owns the registry, connectors and flows of one application
//     MuleContext：持有一个应用的注册表、连接器和流
//   - Flow: source endpoint, processor chain, exception listener and processing strategy
//     Flow：源端点、处理器链、异常监听器和处理策略
//   - Chain: processors linked through SetNext
//     Chain：通过 SetNext 链接的处理器
//   - Pool: Mule contexts by id
//     Pool：按 id 管理的 Mule 上下文
package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	apiendpoint "github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/builtin/funcs"
	"github.com/mulego/mulego/exception"
	"github.com/mulego/mulego/stats"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/transport"
	"github.com/mulego/mulego/utils/cache"
	"github.com/mulego/mulego/utils/logger"
	"github.com/mulego/mulego/utils/maps"
)

var _ types.ObjectRegistry = (*MuleContext)(nil)

// Option configures a Mule context before its definition is built.
type Option func(*MuleContext) error

// WithConfig sets the configuration of the Mule context.
func WithConfig(config types.Config) Option {
	return func(ctx *MuleContext) error {
		ctx.config = config
		return nil
	}
}

// WithStatistics shares a statistics collector between Mule contexts.
func WithStatistics(collector *stats.Collector) Option {
	return func(ctx *MuleContext) error {
		ctx.statistics = collector
		return nil
	}
}

// MuleContext Mule 上下文
// holds the connectors, global exception strategies and flows of one application.
// Connectors start before flows and stop after them.
type MuleContext struct {
	id         string
	config     types.Config
	definition *types.AppDsl
	dsl        []byte
	registry   *ObjectRegistry
	statistics *stats.Collector
	lifecycle  *LifecycleManager
	// connectors in creation order
	connectors []apiendpoint.Connector
	// flows in definition order
	flows []*Flow
	// chains of global exception strategies
	chains  []*Chain
	started int32
	unwatch func()
}

// NewMuleContext builds and initialises the application defined by def. The id of the
// definition is used when id is empty. The context is not started.
func NewMuleContext(id string, def []byte, opts ...Option) (*MuleContext, error) {
	if len(def) == 0 {
		return nil, types.NewIllegalArgumentError("def can not nil")
	}
	ctx := &MuleContext{
		id:       id,
		config:   NewConfig(),
		dsl:      def,
		registry: NewObjectRegistry(),
	}
	for _, opt := range opts {
		if err := opt(ctx); err != nil {
			return nil, err
		}
	}
	if ctx.config.Parser == nil {
		ctx.config.Parser = &JsonParser{}
	}
	if ctx.config.ComponentsRegistry == nil {
		ctx.config.ComponentsRegistry = Registry
	}
	if ctx.statistics == nil {
		ctx.statistics = stats.NewCollector("")
	}
	definition, err := ctx.config.Parser.DecodeApp(def)
	if err != nil {
		return nil, err
	}
	ctx.definition = definition
	if ctx.id == "" {
		ctx.id = definition.Id
	}
	ctx.lifecycle = NewLifecycleManager("mule context " + ctx.id)
	if err := ctx.build(); err != nil {
		ctx.Dispose()
		return nil, err
	}
	return ctx, nil
}

// build completes the configuration, then creates connectors, global exception
// strategies and flows in this order.
func (ctx *MuleContext) build() error {
	config := ctx.config
	properties := make(map[string]string, len(ctx.definition.Properties)+len(config.Properties))
	for k, v := range ctx.definition.Properties {
		properties[k] = v
	}
	// runtime properties override the definition
	for k, v := range config.Properties {
		properties[k] = v
	}
	config.Properties = properties
	config.Registry = ctx
	if config.SystemExceptionHandler == nil {
		fatal := exception.NewFatalErrorHandler(config.Logger, func() {
			if err := ctx.Stop(); err != nil {
				logger.Error(config.Logger, err, "stop mule context %s", ctx.id)
			}
		})
		config.SystemExceptionHandler = exception.NewSystemHandler(config.Logger, fatal)
	}
	if name := ctx.definition.DefaultExceptionStrategy; name != "" {
		config.DefaultExceptionStrategy = exception.NewReferenceStrategy(name, config)
	} else if config.DefaultExceptionStrategy == nil {
		strategy, err := exception.NewDefaultStrategy(exception.Options{Name: "default", LogException: true, Config: config})
		if err != nil {
			return err
		}
		config.DefaultExceptionStrategy = strategy
	}
	ctx.config = config

	for _, def := range ctx.definition.Connectors {
		connector, err := transport.Registry.New(def.Type, config, maps.ReplaceGlobal(def.Configuration, config.Properties))
		if err != nil {
			return errors.WithMessagef(err, "connector %s", def.Name)
		}
		connector.SetName(def.Name)
		if err := ctx.addConnector(connector); err != nil {
			return err
		}
	}

	b := newBuilder(ctx)
	for _, def := range ctx.definition.ExceptionStrategies {
		strategy, err := b.exceptionStrategy(def)
		ctx.chains = append(ctx.chains, b.take()...)
		if err != nil {
			return errors.WithMessagef(err, "exception strategy %s", def.Name)
		}
		if err := ctx.registry.Register(def.Name, strategy); err != nil {
			return err
		}
	}
	for _, def := range ctx.definition.Flows {
		flow, err := b.flow(def)
		if err != nil {
			for _, c := range b.take() {
				c.Dispose()
			}
			return err
		}
		if err := ctx.registry.Register(def.Name, flow); err != nil {
			flow.Dispose()
			return err
		}
		ctx.flows = append(ctx.flows, flow)
	}
	ctx.unwatch = ctx.statistics.WatchTransactions(transaction.Coordination)
	return ctx.lifecycle.Fire(PhaseInitialise, func() error {
		for _, flow := range ctx.flows {
			if err := flow.Initialise(); err != nil {
				return errors.WithMessagef(err, "flow %s", flow.Name())
			}
		}
		return nil
	})
}

func (ctx *MuleContext) addConnector(connector apiendpoint.Connector) error {
	if err := ctx.registry.Register(connector.Name(), connector); err != nil {
		connector.Dispose()
		return err
	}
	ctx.connectors = append(ctx.connectors, connector)
	return nil
}

// connectorFor resolves the connector of an endpoint. Without a name the only connector
// of the protocol is used, a default one is created when there is none.
func (ctx *MuleContext) connectorFor(name, protocol string) (apiendpoint.Connector, error) {
	if name != "" {
		connector, ok := ctx.Connector(name)
		if !ok {
			return nil, errors.Wrapf(types.ErrNotFound, "connector %s", name)
		}
		if connector.Type() != protocol {
			return nil, errors.Wrapf(types.ErrIllegalArgument, "connector %s does not handle %s", name, protocol)
		}
		return connector, nil
	}
	var found apiendpoint.Connector
	for _, connector := range ctx.connectors {
		if connector.Type() != protocol {
			continue
		}
		if found != nil {
			return nil, errors.Wrapf(types.ErrIllegalArgument, "more than one %s connector, the endpoint must name one", protocol)
		}
		found = connector
	}
	if found != nil {
		return found, nil
	}
	connector, err := transport.Registry.New(protocol, ctx.config, nil)
	if err != nil {
		return nil, err
	}
	connector.SetName(protocol + "Connector")
	if err := ctx.addConnector(connector); err != nil {
		return nil, err
	}
	return connector, nil
}

func (ctx *MuleContext) Id() string {
	return ctx.id
}

func (ctx *MuleContext) Config() types.Config {
	return ctx.config
}

// Definition the parsed application definition.
func (ctx *MuleContext) Definition() types.AppDsl {
	return *ctx.definition
}

// DSL the application definition as given.
func (ctx *MuleContext) DSL() []byte {
	return ctx.dsl
}

func (ctx *MuleContext) Statistics() *stats.Collector {
	return ctx.statistics
}

func (ctx *MuleContext) IsStarted() bool {
	return atomic.LoadInt32(&ctx.started) == 1
}

// Phase the current lifecycle phase.
func (ctx *MuleContext) Phase() Phase {
	return ctx.lifecycle.Current()
}

// Start starts the connectors, then every flow whose initial state is not stopped.
func (ctx *MuleContext) Start() error {
	return ctx.lifecycle.Fire(PhaseStart, func() error {
		for i, connector := range ctx.connectors {
			if err := connector.Start(); err != nil {
				ctx.stopConnectors(i - 1)
				return errors.WithMessagef(err, "start connector %s", connector.Name())
			}
		}
		for i, flow := range ctx.flows {
			if flow.InitialState() == InitialStateStopped {
				continue
			}
			if err := flow.Start(); err != nil {
				ctx.stopFlows(i - 1)
				ctx.stopConnectors(len(ctx.connectors) - 1)
				return errors.WithMessagef(err, "start flow %s", flow.Name())
			}
		}
		atomic.StoreInt32(&ctx.started, 1)
		logger.Debug(ctx.config.Logger, "mule context %s started", ctx.id)
		return nil
	})
}

// Stop stops the flows in reverse order, then the connectors. Events already accepted
// by the flows complete first.
func (ctx *MuleContext) Stop() error {
	var first error
	if err := ctx.lifecycle.Fire(PhaseStop, func() error {
		atomic.StoreInt32(&ctx.started, 0)
		first = ctx.stopFlows(len(ctx.flows) - 1)
		if err := ctx.stopConnectors(len(ctx.connectors) - 1); err != nil && first == nil {
			first = err
		}
		logger.Debug(ctx.config.Logger, "mule context %s stopped", ctx.id)
		return nil
	}); err != nil {
		return err
	}
	return first
}

// stopFlows stops the started flows up to index last, backwards.
func (ctx *MuleContext) stopFlows(last int) error {
	var first error
	for i := last; i >= 0; i-- {
		if !ctx.flows[i].IsStarted() {
			continue
		}
		if err := ctx.flows[i].Stop(); err != nil {
			logger.Error(ctx.config.Logger, err, "stop flow %s", ctx.flows[i].Name())
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (ctx *MuleContext) stopConnectors(last int) error {
	var first error
	for i := last; i >= 0; i-- {
		if !ctx.connectors[i].IsStarted() {
			continue
		}
		if err := ctx.connectors[i].Stop(); err != nil {
			logger.Error(ctx.config.Logger, err, "stop connector %s", ctx.connectors[i].Name())
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Dispose stops a started context and releases flows, strategies and connectors.
func (ctx *MuleContext) Dispose() {
	if ctx.IsStarted() {
		_ = ctx.Stop()
	}
	_ = ctx.lifecycle.Fire(PhaseDispose, func() error {
		for i := len(ctx.flows) - 1; i >= 0; i-- {
			ctx.flows[i].Dispose()
		}
		for _, c := range ctx.chains {
			c.Dispose()
		}
		for i := len(ctx.connectors) - 1; i >= 0; i-- {
			ctx.connectors[i].Dispose()
		}
		if ctx.unwatch != nil {
			ctx.unwatch()
		}
		return nil
	})
}

// Flow returns the flow named name.
func (ctx *MuleContext) Flow(name string) (*Flow, bool) {
	v, ok := ctx.registry.Lookup(name)
	if !ok {
		return nil, false
	}
	flow, ok := v.(*Flow)
	return flow, ok
}

// Flows in definition order.
func (ctx *MuleContext) Flows() []*Flow {
	return append([]*Flow(nil), ctx.flows...)
}

// Connector returns the connector named name.
func (ctx *MuleContext) Connector(name string) (apiendpoint.Connector, bool) {
	v, ok := ctx.registry.Lookup(name)
	if !ok {
		return nil, false
	}
	connector, ok := v.(apiendpoint.Connector)
	return connector, ok
}

// Lookup resolves flows, connectors, global exception strategies and registered objects.
func (ctx *MuleContext) Lookup(name string) (interface{}, bool) {
	return ctx.registry.Lookup(name)
}

// Register adds a named object, names are shared with flows and connectors.
func (ctx *MuleContext) Register(name string, obj interface{}) error {
	return ctx.registry.Register(name, obj)
}

// Send invokes the flow named flowName with a request-response event and returns the reply.
func (ctx *MuleContext) Send(c context.Context, flowName string, msg *types.Message) (*types.Message, error) {
	flow, err := ctx.lookupFlow(flowName)
	if err != nil {
		return nil, err
	}
	return flow.invoke(c, msg, types.RequestResponse)
}

// Dispatch invokes the flow named flowName with a one-way event.
func (ctx *MuleContext) Dispatch(c context.Context, flowName string, msg *types.Message) error {
	flow, err := ctx.lookupFlow(flowName)
	if err != nil {
		return err
	}
	_, err = flow.invoke(c, msg, types.OneWay)
	return err
}

func (ctx *MuleContext) lookupFlow(name string) (*Flow, error) {
	if !ctx.IsStarted() {
		return nil, types.NewIllegalStateError("mule context " + ctx.id + " is not started")
	}
	flow, ok := ctx.Flow(name)
	if !ok {
		return nil, types.NewNotFoundError("flow " + name)
	}
	return flow, nil
}

// ObjectRegistry 对象注册表
// names are unique across flows, connectors, strategies and user objects.
type ObjectRegistry struct {
	objects map[string]interface{}
	lock    sync.RWMutex
}

func NewObjectRegistry() *ObjectRegistry {
	return &ObjectRegistry{objects: make(map[string]interface{})}
}

func (r *ObjectRegistry) Register(name string, obj interface{}) error {
	if name == "" || obj == nil {
		return types.NewIllegalArgumentError("object name and value are required")
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.objects[name]; ok {
		return errors.Wrapf(types.ErrIllegalArgument, "name %s is already registered", name)
	}
	r.objects[name] = obj
	return nil
}

func (r *ObjectRegistry) Unregister(name string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.objects, name)
}

func (r *ObjectRegistry) Lookup(name string) (interface{}, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	obj, ok := r.objects[name]
	return obj, ok
}

// Names sorted.
func (r *ObjectRegistry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.objects))
	for name := range r.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewConfig creates a configuration with the JSON parser, the default component
// registry, the built-in functions and the default cache.
func NewConfig(opts ...types.Option) types.Config {
	c := types.NewConfig(opts...)
	if c.Parser == nil {
		c.Parser = &JsonParser{}
	}
	if c.ComponentsRegistry == nil {
		c.ComponentsRegistry = Registry
	}
	for name, f := range funcs.ScriptFunc.GetAll() {
		if _, ok := c.Udf[name]; !ok {
			c.RegisterUdf(name, f)
		}
	}
	if c.Cache == nil {
		c.Cache = cache.DefaultCache
	}
	return c
}
