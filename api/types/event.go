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
	"context"
	"sync"
)

// Session is a property bag shared by every copy of an event.
type Session struct {
	id         string
	properties map[string]interface{}
	lock       sync.RWMutex
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{id: NewId(), properties: make(map[string]interface{})}
}

func (s *Session) Id() string {
	return s.id
}

func (s *Session) Get(key string) (interface{}, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	v, ok := s.properties[key]
	return v, ok
}

func (s *Session) Set(key string, value interface{}) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.properties[key] = value
}

func (s *Session) Remove(key string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.properties, key)
}

// Values returns a copy of all session properties.
func (s *Session) Values() map[string]interface{} {
	s.lock.RLock()
	defer s.lock.RUnlock()
	c := make(map[string]interface{}, len(s.properties))
	for k, v := range s.properties {
		c[k] = v
	}
	return c
}

// Event 事件
// Event is the mutable processing context of a message: it carries the current
// message, the exchange pattern, the owning flow, flow variables and the
// context.Context that holds the transaction scope.
type Event struct {
	id              string
	ctx             context.Context
	message         *Message
	exchangePattern ExchangePattern
	flow            FlowConstruct
	originURI       string
	session         *Session
	synchronous     bool
	vars            map[string]interface{}
	lock            sync.RWMutex
}

// NewEvent creates an event for msg.
func NewEvent(ctx context.Context, msg *Message, pattern ExchangePattern, flow FlowConstruct) *Event {
	if ctx == nil {
		ctx = context.Background()
	}
	if pattern == "" {
		pattern = OneWay
	}
	return &Event{
		id:              NewId(),
		ctx:             ctx,
		message:         msg,
		exchangePattern: pattern,
		flow:            flow,
		session:         NewSession(),
		synchronous:     pattern.HasResponse(),
		vars:            make(map[string]interface{}),
	}
}

func (e *Event) Id() string {
	return e.id
}

// Context returns the context.Context the event is processed in.
func (e *Event) Context() context.Context {
	return e.ctx
}

func (e *Event) Message() *Message {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.message
}

// SetMessage replaces the current message.
func (e *Event) SetMessage(msg *Message) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.message = msg
}

func (e *Event) ExchangePattern() ExchangePattern {
	return e.exchangePattern
}

func (e *Event) FlowConstruct() FlowConstruct {
	return e.flow
}

// FlowName name of the owning flow, empty if none.
func (e *Event) FlowName() string {
	if e.flow == nil {
		return ""
	}
	return e.flow.Name()
}

func (e *Event) OriginURI() string {
	return e.originURI
}

func (e *Event) SetOriginURI(uri string) {
	e.originURI = uri
}

func (e *Event) Session() *Session {
	return e.session
}

// IsSynchronous reports whether the event must be processed on the caller's goroutine.
func (e *Event) IsSynchronous() bool {
	return e.synchronous || e.exchangePattern.HasResponse()
}

func (e *Event) SetSynchronous(synchronous bool) {
	e.synchronous = synchronous
}

func (e *Event) Variable(key string) (interface{}, bool) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	v, ok := e.vars[key]
	return v, ok
}

func (e *Event) SetVariable(key string, value interface{}) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.vars[key] = value
}

func (e *Event) RemoveVariable(key string) {
	e.lock.Lock()
	defer e.lock.Unlock()
	delete(e.vars, key)
}

// Variables returns a copy of the flow variables.
func (e *Event) Variables() map[string]interface{} {
	e.lock.RLock()
	defer e.lock.RUnlock()
	c := make(map[string]interface{}, len(e.vars))
	for k, v := range e.vars {
		c[k] = v
	}
	return c
}

// Copy returns an event with the same id, message, session and context and
// an independent copy of the flow variables.
func (e *Event) Copy() *Event {
	e.lock.RLock()
	defer e.lock.RUnlock()
	c := &Event{
		id:              e.id,
		ctx:             e.ctx,
		message:         e.message,
		exchangePattern: e.exchangePattern,
		flow:            e.flow,
		originURI:       e.originURI,
		session:         e.session,
		synchronous:     e.synchronous,
		vars:            make(map[string]interface{}, len(e.vars)),
	}
	for k, v := range e.vars {
		c.vars[k] = v
	}
	return c
}

// WithContext returns a copy bound to ctx.
func (e *Event) WithContext(ctx context.Context) *Event {
	c := e.Copy()
	c.ctx = ctx
	return c
}

// WithMessage returns a copy holding msg.
func (e *Event) WithMessage(msg *Message) *Event {
	c := e.Copy()
	c.message = msg
	return c
}

// WithFlowConstruct returns a copy owned by flow.
func (e *Event) WithFlowConstruct(flow FlowConstruct) *Event {
	c := e.Copy()
	c.flow = flow
	return c
}

// WithExchangePattern returns a copy using pattern.
func (e *Event) WithExchangePattern(pattern ExchangePattern) *Event {
	c := e.Copy()
	c.exchangePattern = pattern
	return c
}

// Env builds the variables available to expressions and scripts.
func (e *Event) Env() map[string]interface{} {
	msg := e.Message()
	env := map[string]interface{}{
		"id":      e.id,
		"flow":    e.FlowName(),
		"vars":    e.Variables(),
		"session": e.session.Values(),
	}
	if msg == nil {
		return env
	}
	payload := msg.Payload()
	if b, ok := payload.([]byte); ok {
		payload = string(b)
	}
	env["payload"] = payload
	env["messageId"] = msg.Id()
	env["rootId"] = msg.RootId()
	env["dataType"] = string(msg.DataType())
	env["inbound"] = map[string]interface{}(msg.InboundProperties())
	env["outbound"] = map[string]interface{}(msg.OutboundProperties())
	env["correlationId"] = msg.Correlation().Id
	if msg.DataType() == JSON {
		if v, err := msg.PayloadAsJson(); err == nil {
			env["msg"] = v
		}
	} else {
		env["msg"] = payload
	}
	if p := msg.ExceptionPayload(); p != nil {
		env["exception"] = p.Err
		env["exceptionMessage"] = p.Message
	}
	return env
}
