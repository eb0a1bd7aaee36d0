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

// Package exception provides the messaging exception strategies a flow
// routes failures to, the redelivery policy of inbound endpoints and the
// handler of failures raised outside of message processing.
//
// A strategy always runs the same template: the failure is normalised to a
// MessagingException, logged, counted, attached to the message as exception
// payload and routed through the strategy's processors. The strategy kind
// decides what happens to the bound transaction and whether the failure is
// handled.
package exception

import (
	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/utils/el"
	"github.com/mulego/mulego/utils/logger"
)

// Strategy types
const (
	TypeCatch     = "catch"
	TypeRollback  = "rollback"
	TypeDefault   = "default"
	TypeChoice    = "choice"
	TypeReference = "reference"
)

// NoRedelivery disables the redelivery limit of a rollback strategy.
const NoRedelivery = -1

// Options configures a strategy.
type Options struct {
	// Name global strategy name
	Name string
	// Processor processors the failure is routed to, may be nil
	Processor types.Processor
	// When acceptance expression used inside a choice strategy, empty accepts all
	When string
	// LogException logs every handled failure at error level
	LogException bool
	Config       types.Config
}

type routingHooks interface {
	beforeRouting(me *types.MessagingException, event *types.Event) *types.Event
	processorFor(me *types.MessagingException) types.Processor
	afterRouting(me *types.MessagingException, event *types.Event) *types.Event
}

// base runs the handling template, the embedding strategy provides the hooks.
type base struct {
	name         string
	processor    types.Processor
	when         *el.Expression
	logException bool
	config       types.Config
	hooks        routingHooks
}

func newBase(opts Options, hooks routingHooks) (*base, error) {
	b := &base{
		name:         opts.Name,
		processor:    opts.Processor,
		logException: opts.LogException,
		config:       opts.Config,
		hooks:        hooks,
	}
	if opts.When != "" {
		when, err := el.Compile(opts.When, opts.Config.Udf)
		if err != nil {
			return nil, err
		}
		b.when = when
	}
	return b, nil
}

func (b *base) Name() string {
	return b.name
}

// Accept evaluates the when expression against event.
func (b *base) Accept(event *types.Event) bool {
	if b.when == nil {
		return true
	}
	ok, err := b.when.EvalBool(event)
	if err != nil {
		logger.Error(b.config.Logger, err, "exception strategy %s: evaluate when", b.name)
		return false
	}
	return ok
}

// AcceptsAll true when no when expression is configured.
func (b *base) AcceptsAll() bool {
	return b.when == nil
}

func (b *base) HandleException(err error, event *types.Event) *types.Event {
	me := toMessagingException(err, event)
	fatal := types.IsFatal(err)
	b.log(me)
	recordStatistics(event, fatal)
	if fatal && b.config.SystemExceptionHandler != nil {
		b.config.SystemExceptionHandler.HandleSystemException(err)
	}
	event = withExceptionPayload(event, me)
	event = b.hooks.beforeRouting(me, event)
	result := b.route(b.hooks.processorFor(me), me, event)
	return b.hooks.afterRouting(me, result)
}

func (b *base) log(me *types.MessagingException) {
	if b.logException {
		logger.Error(b.config.Logger, me, "flow %v failed", me.Info()[types.InfoFlow])
	} else {
		logger.Debug(b.config.Logger, "flow %v failed: %v", me.Info()[types.InfoFlow], me)
	}
}

// route runs the strategy processors. A failure inside them is logged and the
// event given to them is kept.
func (b *base) route(p types.Processor, me *types.MessagingException, event *types.Event) (result *types.Event) {
	if p == nil {
		return event
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error(b.config.Logger, errors.Errorf("panic: %v", r), "exception strategy %s: route failure", b.name)
			result = event
		}
	}()
	out, err := p.Process(event)
	if err != nil {
		logger.Error(b.config.Logger, err, "exception strategy %s: route failure of %s", b.name, me.Error())
		return event
	}
	return out
}

func toMessagingException(err error, event *types.Event) *types.MessagingException {
	if me, ok := types.AsMessagingException(err); ok {
		if me.Event() == nil {
			me.SetEvent(event)
		}
		return me
	}
	return types.NewMessagingException(event, err, nil)
}

func withExceptionPayload(event *types.Event, me *types.MessagingException) *types.Event {
	if event == nil {
		return nil
	}
	if msg := event.Message(); msg != nil && msg.ExceptionPayload() == nil {
		event.SetMessage(msg.WithExceptionPayload(types.NewExceptionPayload(me)))
	}
	return event
}

func clearExceptionPayload(event *types.Event) *types.Event {
	if event == nil {
		return nil
	}
	if msg := event.Message(); msg != nil && msg.ExceptionPayload() != nil {
		event.SetMessage(msg.WithExceptionPayload(nil))
	}
	return event
}

func recordStatistics(event *types.Event, fatal bool) {
	if event == nil {
		return
	}
	aware, ok := event.FlowConstruct().(types.StatisticsAware)
	if !ok || aware.Statistics() == nil {
		return
	}
	if fatal {
		aware.Statistics().IncFatalError()
	} else {
		aware.Statistics().IncExecutionError()
	}
}

// rollback marks the transaction bound to the event scope rollback-only.
func rollback(event *types.Event) {
	if event == nil {
		return
	}
	if tx := transaction.Coordination.Transaction(event.Context()); tx != nil {
		tx.SetRollbackOnly()
	}
}

// CatchStrategy handles the failure, a bound transaction is left to commit.
type CatchStrategy struct {
	*base
}

func NewCatchStrategy(opts Options) (*CatchStrategy, error) {
	s := &CatchStrategy{}
	b, err := newBase(opts, s)
	if err != nil {
		return nil, err
	}
	s.base = b
	return s, nil
}

func (s *CatchStrategy) beforeRouting(me *types.MessagingException, event *types.Event) *types.Event {
	return event
}

func (s *CatchStrategy) processorFor(me *types.MessagingException) types.Processor {
	return s.processor
}

func (s *CatchStrategy) afterRouting(me *types.MessagingException, event *types.Event) *types.Event {
	me.SetHandled(true)
	return clearExceptionPayload(event)
}

// RollbackOptions configures a rollback strategy.
type RollbackOptions struct {
	Options
	// MaxRedeliveryAttempts redelivery limit installed on the flow source, NoRedelivery disables it
	MaxRedeliveryAttempts int
	// RedeliveryExhausted processors run once the redelivery limit is exceeded
	RedeliveryExhausted types.Processor
}

// RollbackStrategy marks the bound transaction rollback-only and leaves the
// failure unhandled so the message is redelivered. Once redelivery is exhausted
// it runs the exhausted processors and handles the failure, the transaction
// commits and the message is consumed.
type RollbackStrategy struct {
	*base
	maxRedeliveryAttempts int
	exhausted             types.Processor
}

func NewRollbackStrategy(opts RollbackOptions) (*RollbackStrategy, error) {
	s := &RollbackStrategy{maxRedeliveryAttempts: opts.MaxRedeliveryAttempts, exhausted: opts.RedeliveryExhausted}
	b, err := newBase(opts.Options, s)
	if err != nil {
		return nil, err
	}
	s.base = b
	return s, nil
}

// MaxRedeliveryAttempts the redelivery limit, NoRedelivery when none is configured.
func (s *RollbackStrategy) MaxRedeliveryAttempts() int {
	return s.maxRedeliveryAttempts
}

// HasMaxRedeliveryAttempts reports whether a redelivery limit is configured.
func (s *RollbackStrategy) HasMaxRedeliveryAttempts() bool {
	return s.maxRedeliveryAttempts >= 0
}

func redeliveryExhausted(me *types.MessagingException) bool {
	var re *types.MessageRedeliveredError
	return errors.As(me, &re)
}

func (s *RollbackStrategy) beforeRouting(me *types.MessagingException, event *types.Event) *types.Event {
	if !redeliveryExhausted(me) {
		rollback(event)
	}
	return event
}

func (s *RollbackStrategy) processorFor(me *types.MessagingException) types.Processor {
	if redeliveryExhausted(me) {
		return s.exhausted
	}
	return s.processor
}

func (s *RollbackStrategy) afterRouting(me *types.MessagingException, event *types.Event) *types.Event {
	if redeliveryExhausted(me) {
		me.SetHandled(true)
		return clearExceptionPayload(event)
	}
	me.SetHandled(false)
	return event
}

// DefaultStrategy marks the bound transaction rollback-only and leaves the
// failure unhandled. Used by flows without a strategy.
type DefaultStrategy struct {
	*base
}

func NewDefaultStrategy(opts Options) (*DefaultStrategy, error) {
	s := &DefaultStrategy{}
	b, err := newBase(opts, s)
	if err != nil {
		return nil, err
	}
	s.base = b
	return s, nil
}

func (s *DefaultStrategy) beforeRouting(me *types.MessagingException, event *types.Event) *types.Event {
	rollback(event)
	return event
}

func (s *DefaultStrategy) processorFor(me *types.MessagingException) types.Processor {
	return s.processor
}

func (s *DefaultStrategy) afterRouting(me *types.MessagingException, event *types.Event) *types.Event {
	me.SetHandled(false)
	return event
}

// DefaultFor returns the context default strategy of config, a logging DefaultStrategy when none is set.
func DefaultFor(config types.Config) types.MessagingExceptionHandler {
	if config.DefaultExceptionStrategy != nil {
		return config.DefaultExceptionStrategy
	}
	s, _ := NewDefaultStrategy(Options{Config: config, LogException: true})
	return s
}
