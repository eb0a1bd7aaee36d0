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

package engine

import (
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	apiendpoint "github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/endpoint"
	"github.com/mulego/mulego/exception"
	"github.com/mulego/mulego/security"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/utils/maps"
)

// OutboundType processor type of outbound endpoints in the DSL.
const OutboundType = "outbound"

// builder turns definitions into processors, endpoints and strategies of one Mule context.
type builder struct {
	ctx    *MuleContext
	config types.Config
	// chains every chain built, released with the flow
	chains []*Chain
}

func newBuilder(ctx *MuleContext) *builder {
	return &builder{ctx: ctx, config: ctx.config}
}

// take returns the chains built so far and forgets them.
func (b *builder) take() []*Chain {
	chains := b.chains
	b.chains = nil
	return chains
}

// flow builds a flow and its source. The flow is not initialised.
func (b *builder) flow(def *types.FlowDsl) (*Flow, error) {
	f := &Flow{
		name:         def.Name,
		config:       b.config,
		initialState: def.InitialState,
		lifecycle:    NewLifecycleManager("flow " + def.Name),
		statistics:   b.ctx.statistics.Flow(def.Name),
	}
	if f.initialState == "" {
		f.initialState = InitialStateStarted
	}
	var err error
	if def.ExceptionStrategy != nil {
		if f.exceptionListener, err = b.exceptionStrategy(def.ExceptionStrategy); err != nil {
			return nil, errors.WithMessagef(err, "flow %s: exception strategy", def.Name)
		}
	}
	if f.chain, err = b.processors(def.Name, def.Processors, def.DebugMode); err != nil {
		return nil, errors.WithMessagef(err, "flow %s", def.Name)
	}
	if def.Source != nil {
		if f.source, err = b.inbound(def.Source, b.redeliveryAttempts(f.exceptionListener)); err != nil {
			return nil, errors.WithMessagef(err, "flow %s: source", def.Name)
		}
	}
	if f.strategy, err = NewProcessingStrategy(def.ProcessingStrategy, def.MaxThreads, def.QueueSize, f.ExceptionListener(), b.config); err != nil {
		return nil, errors.WithMessagef(err, "flow %s", def.Name)
	}
	// the main chain is released separately
	for _, c := range b.take() {
		if c != f.chain {
			f.nested = append(f.nested, c)
		}
	}
	return f, nil
}

// processors builds a chain of defs named name. Processor ids default to name/index.
func (b *builder) processors(name string, defs []*types.ProcessorDsl, debug bool) (*Chain, error) {
	elements := make([]Element, 0, len(defs))
	for i, def := range defs {
		id := def.Id
		if id == "" {
			id = name + "/" + strconv.Itoa(i)
		}
		p, err := b.processor(id, def, debug)
		if err != nil {
			return nil, errors.WithMessagef(err, "processor %s", id)
		}
		elements = append(elements, Element{Id: id, Processor: p, Debug: debug || def.DebugMode})
	}
	chain := NewChain(name, b.config, elements...)
	b.chains = append(b.chains, chain)
	return chain, nil
}

// processor creates the component of def, or an outbound endpoint, with its nested processors.
func (b *builder) processor(id string, def *types.ProcessorDsl, debug bool) (types.Processor, error) {
	if def.Type == OutboundType {
		if def.Endpoint == nil {
			return nil, errors.Wrap(types.ErrIllegalArgument, "outbound processor without endpoint")
		}
		return b.outbound(def.Endpoint)
	}
	c, err := b.config.ComponentsRegistry.NewComponent(def.Type)
	if err != nil {
		return nil, err
	}
	if err := c.Init(b.config, maps.ReplaceGlobal(def.Configuration, b.config.Properties)); err != nil {
		return nil, errors.WithMessagef(err, "init %s", def.Type)
	}
	routes, err := b.routes(id, def, debug)
	if err != nil {
		return nil, err
	}
	if aware, ok := c.(types.RouteAware); ok {
		if err := aware.SetRoutes(routes); err != nil {
			return nil, err
		}
	} else if len(routes) > 0 {
		return nil, errors.Wrapf(types.ErrIllegalArgument, "%s does not accept nested processors", def.Type)
	}
	if def.ExceptionStrategy != nil {
		aware, ok := c.(types.ExceptionStrategyAware)
		if !ok {
			return nil, errors.Wrapf(types.ErrIllegalArgument, "%s does not accept an exception strategy", def.Type)
		}
		handler, err := b.exceptionStrategy(def.ExceptionStrategy)
		if err != nil {
			return nil, err
		}
		aware.SetExceptionStrategy(handler)
	}
	return c, nil
}

// routes nested processors become the first route, without condition, followed by the
// routes of def.
func (b *builder) routes(id string, def *types.ProcessorDsl, debug bool) ([]types.Route, error) {
	var routes []types.Route
	if len(def.Processors) > 0 {
		chain, err := b.processors(id, def.Processors, debug)
		if err != nil {
			return nil, err
		}
		routes = append(routes, types.Route{Processor: chain})
	}
	for i, r := range def.Routes {
		routeId := r.Id
		if routeId == "" {
			routeId = strconv.Itoa(i)
		}
		chain, err := b.processors(id+"/"+routeId, r.Processors, debug)
		if err != nil {
			return nil, err
		}
		routes = append(routes, types.Route{Id: r.Id, When: r.When, Processor: chain})
	}
	return routes, nil
}

// redeliveryAttempts the redelivery limit a rollback strategy installs on the flow
// source, exception.NoRedelivery when there is none.
func (b *builder) redeliveryAttempts(handler types.MessagingExceptionHandler) int {
	if ref, ok := handler.(*exception.ReferenceStrategy); ok {
		if v, found := b.ctx.registry.Lookup(ref.Ref()); found {
			handler, _ = v.(types.MessagingExceptionHandler)
		}
	}
	if rollback, ok := handler.(*exception.RollbackStrategy); ok && rollback.HasMaxRedeliveryAttempts() {
		return rollback.MaxRedeliveryAttempts()
	}
	return exception.NoRedelivery
}

func (b *builder) inbound(def *types.EndpointDsl, redeliveryAttempts int) (*endpoint.InboundEndpoint, error) {
	eb, err := b.endpoint(def)
	if err != nil {
		return nil, err
	}
	opts := exception.RedeliveryOptions{MaxRedeliveryCount: redeliveryAttempts, Config: b.config}
	if def.Redelivery != nil {
		opts.MaxRedeliveryCount = def.Redelivery.MaxRedeliveryCount
		opts.IdExpression = def.Redelivery.IdExpression
		if len(def.Redelivery.DeadLetter) > 0 {
			if opts.DeadLetter, err = b.processors(def.Address+"/deadLetter", def.Redelivery.DeadLetter, false); err != nil {
				return nil, err
			}
		}
	}
	if def.Redelivery != nil || redeliveryAttempts != exception.NoRedelivery {
		policy, err := exception.NewRedeliveryPolicy(opts)
		if err != nil {
			return nil, err
		}
		eb.RedeliveryPolicy(policy)
	}
	return eb.BuildInbound()
}

func (b *builder) outbound(def *types.EndpointDsl) (*endpoint.OutboundEndpoint, error) {
	if def.Redelivery != nil {
		return nil, errors.Wrap(types.ErrIllegalArgument, "redelivery applies to inbound endpoints only")
	}
	eb, err := b.endpoint(def)
	if err != nil {
		return nil, err
	}
	return eb.BuildOutbound()
}

// endpoint prepares a builder with everything inbound and outbound endpoints share.
func (b *builder) endpoint(def *types.EndpointDsl) (*endpoint.Builder, error) {
	uri, err := apiendpoint.ParseURI(def.Address)
	if err != nil {
		return nil, err
	}
	connector, err := b.ctx.connectorFor(def.Connector, uri.Scheme)
	if err != nil {
		return nil, err
	}
	eb := endpoint.NewBuilder(def.Address, connector).
		Name(def.Name).
		Config(b.config).
		Properties(def.Properties)
	if def.ExchangePattern != "" {
		pattern, err := types.ParseExchangePattern(def.ExchangePattern)
		if err != nil {
			return nil, err
		}
		eb.ExchangePattern(pattern)
	}
	if def.ResponseTimeout > 0 {
		eb.ResponseTimeout(time.Duration(def.ResponseTimeout) * time.Millisecond)
	}
	if def.Transaction != nil {
		txConfig, err := b.transactionConfig(def.Transaction, connector)
		if err != nil {
			return nil, err
		}
		eb.TransactionConfig(txConfig)
	}
	if def.Filter != nil {
		p, err := b.processor(def.Address+"/filter", def.Filter, false)
		if err != nil {
			return nil, err
		}
		filter, ok := p.(types.Filter)
		if !ok {
			return nil, errors.Wrapf(types.ErrIllegalArgument, "%s is not a filter", def.Filter.Type)
		}
		var flags struct {
			ThrowOnUnaccepted bool
		}
		if err := maps.Map2Struct(def.Filter.Configuration, &flags); err != nil {
			return nil, err
		}
		eb.Filter(filter, flags.ThrowOnUnaccepted)
	}
	transformers, err := b.transformers(def.Address+"/transformer", def.Transformers)
	if err != nil {
		return nil, err
	}
	eb.Transformers(transformers...)
	if transformers, err = b.transformers(def.Address+"/responseTransformer", def.ResponseTransformers); err != nil {
		return nil, err
	}
	eb.ResponseTransformers(transformers...)
	if def.Security != nil {
		filter, err := security.NewBasicAuthFilter(def.Security.Realm, def.Security.Users)
		if err != nil {
			return nil, err
		}
		eb.SecurityFilter(filter)
	}
	return eb, nil
}

func (b *builder) transformers(id string, defs []*types.ProcessorDsl) ([]types.Processor, error) {
	var out []types.Processor
	for i, def := range defs {
		p, err := b.processor(id+"/"+strconv.Itoa(i), def, false)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// transactionConfig uses the named factory, the transaction factory of connector otherwise.
func (b *builder) transactionConfig(def *types.TransactionDsl, connector apiendpoint.Connector) (types.TransactionConfig, error) {
	action, err := types.ParseTransactionAction(def.Action)
	if err != nil {
		return nil, err
	}
	factory := connector.TransactionFactory()
	if def.Factory != "" {
		f, ok := transaction.GetFactory(def.Factory)
		if !ok {
			return nil, errors.Wrapf(types.ErrNotFound, "transaction factory %s", def.Factory)
		}
		factory = f
	}
	timeout := time.Duration(def.Timeout) * time.Millisecond
	if timeout == 0 {
		timeout = b.config.DefaultTransactionTimeout
	}
	return transaction.NewConfig(action, factory).
		WithTimeout(timeout).
		WithInteractWithExternal(def.InteractWithExternal), nil
}

// exceptionStrategy builds the strategy of def, nested strategies of a choice included.
func (b *builder) exceptionStrategy(def *types.ExceptionStrategyDsl) (types.MessagingExceptionHandler, error) {
	name := def.Name
	if name == "" {
		name = def.Type
	}
	opts := exception.Options{
		Name:         name,
		When:         def.When,
		LogException: def.EnableNotifications == nil || *def.EnableNotifications,
		Config:       b.config,
	}
	if len(def.Processors) > 0 {
		chain, err := b.processors(name, def.Processors, false)
		if err != nil {
			return nil, err
		}
		opts.Processor = chain
	}
	switch def.Type {
	case exception.TypeCatch:
		return exception.NewCatchStrategy(opts)
	case exception.TypeRollback:
		ropts := exception.RollbackOptions{Options: opts, MaxRedeliveryAttempts: exception.NoRedelivery}
		if def.MaxRedeliveryAttempts != nil {
			ropts.MaxRedeliveryAttempts = *def.MaxRedeliveryAttempts
		}
		if len(def.RedeliveryExhausted) > 0 {
			chain, err := b.processors(name+"/redeliveryExhausted", def.RedeliveryExhausted, false)
			if err != nil {
				return nil, err
			}
			ropts.RedeliveryExhausted = chain
		}
		return exception.NewRollbackStrategy(ropts)
	case exception.TypeDefault:
		return exception.NewDefaultStrategy(opts)
	case exception.TypeChoice:
		var strategies []types.MessagingExceptionHandler
		for _, nested := range def.Strategies {
			s, err := b.exceptionStrategy(nested)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, s)
		}
		return exception.NewChoiceStrategy(name, strategies, b.config)
	case exception.TypeReference:
		return exception.NewReferenceStrategy(def.Ref, b.config), nil
	default:
		return nil, errors.Wrapf(types.ErrIllegalArgument, "unknown exception strategy type %s", def.Type)
	}
}
