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

package endpoint

import (
	"fmt"
	"time"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/utils/validate"
)

// ExchangePatternParam uri parameter overriding the default exchange pattern
const ExchangePatternParam = "exchangePattern"

var (
	_ endpoint.InboundEndpoint  = (*InboundEndpoint)(nil)
	_ endpoint.OutboundEndpoint = (*OutboundEndpoint)(nil)
)

// options holds what a Builder collected, validated before an endpoint is built.
type options struct {
	Name                 string
	Address              string                `validate:"required"`
	Connector            endpoint.Connector    `validate:"required"`
	ExchangePattern      types.ExchangePattern `validate:"omitempty,oneof=one-way request-response"`
	ResponseTimeout      time.Duration         `validate:"gte=0"`
	TransactionConfig    types.TransactionConfig
	Filter               types.Filter
	ThrowOnUnaccepted    bool
	SecurityFilter       types.SecurityFilter
	RedeliveryPolicy     types.InterceptingProcessor
	Transformers         []types.Processor
	ResponseTransformers []types.Processor
	Properties           map[string]string
	Config               types.Config
}

// Builder collects the settings of an endpoint.
//
// Builder 端点构建器
type Builder struct {
	opts options
}

// NewBuilder creates a builder for address served by connector.
func NewBuilder(address string, connector endpoint.Connector) *Builder {
	return &Builder{opts: options{
		Address:    address,
		Connector:  connector,
		Properties: make(map[string]string),
		Config:     types.NewConfig(),
	}}
}

func (b *Builder) Name(name string) *Builder {
	b.opts.Name = name
	return b
}

func (b *Builder) ExchangePattern(pattern types.ExchangePattern) *Builder {
	b.opts.ExchangePattern = pattern
	return b
}

func (b *Builder) ResponseTimeout(timeout time.Duration) *Builder {
	b.opts.ResponseTimeout = timeout
	return b
}

func (b *Builder) TransactionConfig(config types.TransactionConfig) *Builder {
	b.opts.TransactionConfig = config
	return b
}

// Filter sets the filter, unaccepted events stop unless throwOnUnaccepted.
func (b *Builder) Filter(filter types.Filter, throwOnUnaccepted bool) *Builder {
	b.opts.Filter = filter
	b.opts.ThrowOnUnaccepted = throwOnUnaccepted
	return b
}

func (b *Builder) SecurityFilter(filter types.SecurityFilter) *Builder {
	b.opts.SecurityFilter = filter
	return b
}

// RedeliveryPolicy sets the policy wrapping the inbound pipeline. Ignored by outbound endpoints.
func (b *Builder) RedeliveryPolicy(policy types.InterceptingProcessor) *Builder {
	b.opts.RedeliveryPolicy = policy
	return b
}

func (b *Builder) Transformers(transformers ...types.Processor) *Builder {
	b.opts.Transformers = append(b.opts.Transformers, transformers...)
	return b
}

func (b *Builder) ResponseTransformers(transformers ...types.Processor) *Builder {
	b.opts.ResponseTransformers = append(b.opts.ResponseTransformers, transformers...)
	return b
}

func (b *Builder) Property(key, value string) *Builder {
	b.opts.Properties[key] = value
	return b
}

func (b *Builder) Properties(properties map[string]string) *Builder {
	for k, v := range properties {
		b.opts.Properties[k] = v
	}
	return b
}

func (b *Builder) Config(config types.Config) *Builder {
	b.opts.Config = config
	return b
}

// build validates the options and creates the shared part of an endpoint.
func (b *Builder) build() (*base, error) {
	if err := validate.Struct(b.opts); err != nil {
		return nil, err
	}
	uri, err := endpoint.ParseURI(b.opts.Address)
	if err != nil {
		return nil, err
	}
	if uri.Scheme != b.opts.Connector.Type() {
		return nil, types.NewIllegalArgumentError("connector " + b.opts.Connector.Type() + " cannot serve " + b.opts.Address)
	}
	e := &base{opts: b.opts, uri: uri}
	if e.opts.Name == "" {
		e.opts.Name = b.opts.Address
	}
	if e.opts.ExchangePattern == "" {
		e.opts.ExchangePattern = types.OneWay
		if p := uri.Param(ExchangePatternParam); p != "" {
			if e.opts.ExchangePattern, err = types.ParseExchangePattern(p); err != nil {
				return nil, err
			}
		}
	}
	if e.opts.ResponseTimeout == 0 {
		e.opts.ResponseTimeout = b.opts.Config.DefaultResponseTimeout
	}
	if e.opts.TransactionConfig == nil {
		e.opts.TransactionConfig = transaction.DefaultConfig()
	}
	// copy so that the builder can be reused
	e.opts.Properties = make(map[string]string, len(b.opts.Properties))
	for k, v := range b.opts.Properties {
		e.opts.Properties[k] = v
	}
	e.opts.Transformers = append([]types.Processor(nil), b.opts.Transformers...)
	e.opts.ResponseTransformers = append([]types.Processor(nil), b.opts.ResponseTransformers...)
	return e, nil
}

// BuildInbound creates an inbound endpoint. The endpoint receives nothing until a
// listener is set and it is started.
func (b *Builder) BuildInbound() (*InboundEndpoint, error) {
	e, err := b.build()
	if err != nil {
		return nil, err
	}
	return &InboundEndpoint{base: e}, nil
}

// BuildOutbound creates an outbound endpoint.
func (b *Builder) BuildOutbound() (*OutboundEndpoint, error) {
	e, err := b.build()
	if err != nil {
		return nil, err
	}
	if b.opts.RedeliveryPolicy != nil {
		return nil, types.NewIllegalArgumentError("redelivery policies apply to inbound endpoints only")
	}
	return &OutboundEndpoint{base: e}, nil
}

// base the immutable settings shared by inbound and outbound endpoints.
type base struct {
	opts options
	uri  *endpoint.URI
}

func (e *base) Name() string {
	return e.opts.Name
}

func (e *base) URI() *endpoint.URI {
	return e.uri
}

func (e *base) Address() string {
	return e.opts.Address
}

func (e *base) ExchangePattern() types.ExchangePattern {
	return e.opts.ExchangePattern
}

func (e *base) Connector() endpoint.Connector {
	return e.opts.Connector
}

func (e *base) TransactionConfig() types.TransactionConfig {
	return e.opts.TransactionConfig
}

func (e *base) ResponseTimeout() time.Duration {
	return e.opts.ResponseTimeout
}

func (e *base) Property(key string) string {
	if v, ok := e.opts.Properties[key]; ok {
		return v
	}
	return e.uri.Param(key)
}

func (e *base) Properties() map[string]string {
	result := make(map[string]string, len(e.opts.Properties)+len(e.uri.Params))
	for k, v := range e.uri.Params {
		result[k] = v
	}
	for k, v := range e.opts.Properties {
		result[k] = v
	}
	return result
}

func (e *base) Filter() types.Filter {
	return e.opts.Filter
}

func (e *base) SecurityFilter() types.SecurityFilter {
	return e.opts.SecurityFilter
}

func (e *base) Transformers() []types.Processor {
	return e.opts.Transformers
}

func (e *base) ResponseTransformers() []types.Processor {
	return e.opts.ResponseTransformers
}

func (e *base) Config() types.Config {
	return e.opts.Config
}

func (e *base) String() string {
	return "endpoint{" + e.opts.Name + ", " + e.opts.Address + ", " + string(e.opts.ExchangePattern) + "}"
}

// accept applies the filter. false stops processing, FilterUnacceptedError when configured.
func (e *base) accept(event *types.Event) (bool, error) {
	if e.opts.Filter == nil {
		return true, nil
	}
	ok, err := e.opts.Filter.Accept(event)
	if err != nil {
		return false, err
	}
	if !ok && e.opts.ThrowOnUnaccepted {
		return false, &types.FilterUnacceptedError{Filter: filterName(e.opts.Filter)}
	}
	return ok, nil
}

func filterName(f types.Filter) string {
	if n, ok := f.(types.Named); ok && n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("%T", f)
}

// transform applies transformers in order, nil when one of them consumed the event.
func transform(transformers []types.Processor, event *types.Event) (*types.Event, error) {
	for _, t := range transformers {
		if event == nil {
			return nil, nil
		}
		var err error
		if event, err = t.Process(event); err != nil {
			return nil, err
		}
	}
	return event, nil
}
