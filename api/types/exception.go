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
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Info keys of a MessagingException.
const (
	InfoElement     = "Element"
	InfoFlow        = "Flow"
	InfoPayloadType = "Payload type"
	InfoMessageId   = "Message id"
)

var (
	// ErrIllegalArgument invalid argument or configuration
	ErrIllegalArgument = errors.New("illegal argument")
	// ErrIllegalState operation not allowed in the current state
	ErrIllegalState = errors.New("illegal state")
	// ErrNotFound a named object does not exist
	ErrNotFound = errors.New("not found")
	// ErrUnsupported operation not supported
	ErrUnsupported = errors.New("unsupported operation")
	// ErrTimeout operation timed out
	ErrTimeout = errors.New("timeout")
)

// transaction errors
var (
	ErrNoTransactionScope        = errors.New("no transaction scope bound to context")
	ErrTransactionAlreadyBound   = errors.New("a transaction is already bound to the current scope")
	ErrTransactionNotAvailable   = errors.New("transaction not available")
	ErrIllegalTransactionState   = errors.New("illegal transaction state")
	ErrTransactionMarkedRollback = errors.New("transaction was marked for rollback only")
	ErrTransactionTimedOut       = errors.New("transaction timed out")
	ErrSingleResourceOnly        = errors.New("single resource transaction already has a resource bound")
	ErrTransactionNotSupported   = errors.New("transaction not supported")
	ErrTransactionRolledBack     = errors.New("transaction rolled back")
)

// NewIllegalArgumentError wraps ErrIllegalArgument.
func NewIllegalArgumentError(msg string) error {
	return errors.Wrap(ErrIllegalArgument, msg)
}

// NewIllegalStateError wraps ErrIllegalState.
func NewIllegalStateError(msg string) error {
	return errors.Wrap(ErrIllegalState, msg)
}

// NewNotFoundError wraps ErrNotFound.
func NewNotFoundError(msg string) error {
	return errors.Wrap(ErrNotFound, msg)
}

// MessagingExceptionHandler handles a failure that happened while processing event
// and returns the event that results from the handling.
type MessagingExceptionHandler interface {
	HandleException(err error, event *Event) *Event
}

// MessagingExceptionHandlerFunc adapts a function to a MessagingExceptionHandler.
type MessagingExceptionHandlerFunc func(err error, event *Event) *Event

func (f MessagingExceptionHandlerFunc) HandleException(err error, event *Event) *Event {
	return f(err, event)
}

// MessagingExceptionAcceptor is implemented by strategies usable in a choice strategy.
type MessagingExceptionAcceptor interface {
	Accept(event *Event) bool
	AcceptsAll() bool
}

// MessagingException 消息处理异常
// MessagingException is the error every processing failure is normalised to.
// It carries the event at the point of failure, the failing processor and,
// once an exception handler ran, the processed event and whether the failure
// was handled.
type MessagingException struct {
	message          string
	cause            error
	event            *Event
	processedEvent   *Event
	failingProcessor Processor
	handled          bool
	info             map[string]interface{}
	lock             sync.RWMutex
}

// NewMessagingException creates a messaging exception for event.
func NewMessagingException(event *Event, cause error, processor Processor) *MessagingException {
	e := &MessagingException{
		cause:            cause,
		event:            event,
		failingProcessor: processor,
		info:             make(map[string]interface{}),
	}
	e.fillInfo()
	return e
}

// NewMessagingExceptionf creates a messaging exception with a formatted message.
func NewMessagingExceptionf(event *Event, cause error, format string, args ...interface{}) *MessagingException {
	e := NewMessagingException(event, cause, nil)
	e.message = fmt.Sprintf(format, args...)
	return e
}

func (e *MessagingException) fillInfo() {
	if e.event == nil {
		return
	}
	if name := e.event.FlowName(); name != "" {
		e.info[InfoFlow] = name
	}
	if msg := e.event.Message(); msg != nil {
		e.info[InfoPayloadType] = fmt.Sprintf("%T", msg.Payload())
		e.info[InfoMessageId] = msg.Id()
	}
	if e.failingProcessor != nil {
		e.info[InfoElement] = ProcessorName(e.failingProcessor)
	}
}

func (e *MessagingException) Error() string {
	var sb strings.Builder
	if e.message != "" {
		sb.WriteString(e.message)
	} else {
		sb.WriteString("message processing failed")
	}
	e.lock.RLock()
	element, ok := e.info[InfoElement]
	e.lock.RUnlock()
	if ok {
		sb.WriteString(fmt.Sprintf(" at %v", element))
	}
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

func (e *MessagingException) Unwrap() error {
	return e.cause
}

// Cause is the direct cause, compatible with errors.Cause.
func (e *MessagingException) Cause() error {
	return e.cause
}

// RootCause follows the cause chain to its end.
func (e *MessagingException) RootCause() error {
	var last error = e
	for err := error(e); err != nil; err = errors.Unwrap(err) {
		last = err
	}
	if last == error(e) {
		return nil
	}
	return last
}

// CausedBy reports whether target is in the cause chain.
func (e *MessagingException) CausedBy(target error) bool {
	return errors.Is(e.cause, target)
}

// Event the event at the point of failure.
func (e *MessagingException) Event() *Event {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.event
}

func (e *MessagingException) SetEvent(event *Event) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.event = event
}

// ProcessedEvent the event produced by the exception handler.
func (e *MessagingException) ProcessedEvent() *Event {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.processedEvent
}

func (e *MessagingException) SetProcessedEvent(event *Event) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.processedEvent = event
}

func (e *MessagingException) FailingProcessor() Processor {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.failingProcessor
}

// SetFailingProcessor records the processor that failed, only the innermost one is kept.
func (e *MessagingException) SetFailingProcessor(p Processor) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.failingProcessor != nil || p == nil {
		return
	}
	e.failingProcessor = p
	e.info[InfoElement] = ProcessorName(p)
}

func (e *MessagingException) Handled() bool {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.handled
}

func (e *MessagingException) SetHandled(handled bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.handled = handled
}

// Info returns a copy of the diagnostic information.
func (e *MessagingException) Info() map[string]interface{} {
	e.lock.RLock()
	defer e.lock.RUnlock()
	c := make(map[string]interface{}, len(e.info))
	for k, v := range e.info {
		c[k] = v
	}
	return c
}

func (e *MessagingException) AddInfo(key string, value interface{}) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.info[key] = value
}

// AsMessagingException finds the first MessagingException in err's chain.
func AsMessagingException(err error) (*MessagingException, bool) {
	var me *MessagingException
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// Named is implemented by processors that expose a readable name.
type Named interface {
	Name() string
}

// ProcessorName returns a readable name for p.
func ProcessorName(p Processor) string {
	if p == nil {
		return ""
	}
	if n, ok := p.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	if c, ok := p.(Component); ok {
		return c.Type()
	}
	return fmt.Sprintf("%T", p)
}

// FilterUnacceptedError raised by a filter configured to fail on unaccepted events.
type FilterUnacceptedError struct {
	Filter string
}

func (e *FilterUnacceptedError) Error() string {
	return fmt.Sprintf("message has been rejected by filter %s", e.Filter)
}

// UnauthorisedError raised by a security filter.
type UnauthorisedError struct {
	Realm  string
	Reason string
}

func (e *UnauthorisedError) Error() string {
	if e.Reason == "" {
		return "unauthorised access"
	}
	return "unauthorised access: " + e.Reason
}

// MessageRedeliveredError raised when a message exceeded its redelivery limit.
type MessageRedeliveredError struct {
	MessageId string
	Count     int
	Max       int
}

func (e *MessageRedeliveredError) Error() string {
	return fmt.Sprintf("message %s has been redelivered %d times, the maximum is %d", e.MessageId, e.Count, e.Max)
}

// DispatchError raised when an outbound endpoint fails to deliver.
type DispatchError struct {
	Endpoint string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("failed to dispatch to %s: %v", e.Endpoint, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// RoutingError raised by routers that could not route an event.
type RoutingError struct {
	Router string
	Reason string
	Err    error
}

func (e *RoutingError) Error() string {
	s := fmt.Sprintf("routing failed in %s: %s", e.Router, e.Reason)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

// Reconnectable is a connection owner able to reconnect.
type Reconnectable interface {
	Name() string
	Reconnect() error
}

// ConnectError raised when a connector loses or cannot establish its connection.
type ConnectError struct {
	Connector Reconnectable
	Err       error
}

func (e *ConnectError) Error() string {
	name := ""
	if e.Connector != nil {
		name = e.Connector.Name()
	}
	return fmt.Sprintf("connector %s connection failed: %v", name, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// FatalError marks an unrecoverable failure; the context is shut down.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// SystemExceptionHandler handles failures raised outside of message processing.
type SystemExceptionHandler interface {
	HandleSystemException(err error)
}
