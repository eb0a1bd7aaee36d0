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
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// DataType 消息数据类型
type DataType string

const (
	JSON   = DataType("JSON")
	TEXT   = DataType("TEXT")
	BINARY = DataType("BINARY")
)

// PropertyScope names the scope a property lives in.
type PropertyScope string

const (
	// InboundScope properties received from a transport, read only.
	InboundScope PropertyScope = "inbound"
	// OutboundScope properties sent with the message when it leaves through an endpoint.
	OutboundScope PropertyScope = "outbound"
	// InvocationScope flow variables of the current event.
	InvocationScope PropertyScope = "invocation"
	// SessionScope properties shared by all events of a session.
	SessionScope PropertyScope = "session"
)

// Well-known property names.
const (
	// OriginatingEndpointProperty the inbound endpoint a message was received on.
	OriginatingEndpointProperty = "MULE_ORIGINATING_ENDPOINT"
	// EndpointProperty the outbound endpoint a message was sent through.
	EndpointProperty = "MULE_ENDPOINT"
	// CorrelationIdProperty correlation id of a split group.
	CorrelationIdProperty = "MULE_CORRELATION_ID"
	// CorrelationGroupSizeProperty size of a split group.
	CorrelationGroupSizeProperty = "MULE_CORRELATION_GROUP_SIZE"
	// CorrelationSequenceProperty position within a split group.
	CorrelationSequenceProperty = "MULE_CORRELATION_SEQUENCE"
	// RedeliveryCountProperty delivery attempts reported by the transport.
	RedeliveryCountProperty = "MULE_REDELIVERY_COUNT"
)

// Properties 消息属性
type Properties map[string]interface{}

// NewProperties creates an empty property map.
func NewProperties() Properties {
	return make(Properties)
}

// Copy returns a shallow copy.
func (p Properties) Copy() Properties {
	c := make(Properties, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// Get returns the value of key.
func (p Properties) Get(key string) (interface{}, bool) {
	v, ok := p[key]
	return v, ok
}

// GetString returns the value of key formatted as string, empty if absent.
func (p Properties) GetString(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Correlation groups the parts of a split message.
type Correlation struct {
	Id        string
	GroupSize int
	Sequence  int
}

// IsSet reports whether the message belongs to a group.
func (c Correlation) IsSet() bool {
	return c.Id != ""
}

// ExceptionPayload records a failure attached to a message.
type ExceptionPayload struct {
	Err     error
	Code    int
	Message string
	Info    map[string]interface{}
}

// NewExceptionPayload creates an exception payload from err.
func NewExceptionPayload(err error) *ExceptionPayload {
	if err == nil {
		return nil
	}
	p := &ExceptionPayload{Err: err, Message: err.Error()}
	if me, ok := AsMessagingException(err); ok {
		p.Info = me.Info()
		if c := me.RootCause(); c != nil {
			p.Message = c.Error()
		}
	}
	return p
}

// Message 消息
// Message is immutable, use Builder or the With* helpers to derive a modified copy.
type Message struct {
	id          string
	rootId      string
	ts          int64
	dataType    DataType
	payload     interface{}
	attributes  map[string]interface{}
	inbound     Properties
	outbound    Properties
	correlation Correlation
	exception   *ExceptionPayload
}

// NewMessage creates a message, the data type is inferred from the payload.
func NewMessage(payload interface{}) *Message {
	return NewMessageWithType(payload, inferDataType(payload))
}

// NewMessageWithType creates a message with an explicit data type.
func NewMessageWithType(payload interface{}, dataType DataType) *Message {
	id := NewId()
	return &Message{
		id:       id,
		rootId:   id,
		ts:       time.Now().UnixMilli(),
		dataType: dataType,
		payload:  payload,
		inbound:  NewProperties(),
		outbound: NewProperties(),
	}
}

// NewId generates a uuid v4 string.
func NewId() string {
	uid, _ := uuid.NewV4()
	return uid.String()
}

// InferDataType returns BINARY for bytes, TEXT for strings and nil, JSON otherwise.
func InferDataType(payload interface{}) DataType {
	return inferDataType(payload)
}

func inferDataType(payload interface{}) DataType {
	switch payload.(type) {
	case []byte:
		return BINARY
	case string, nil:
		return TEXT
	default:
		return JSON
	}
}

func (m *Message) Id() string {
	return m.id
}

// RootId id of the message this message was derived from, preserved across splits.
func (m *Message) RootId() string {
	return m.rootId
}

func (m *Message) Ts() int64 {
	return m.ts
}

func (m *Message) DataType() DataType {
	return m.dataType
}

func (m *Message) Payload() interface{} {
	return m.payload
}

// PayloadAsBytes converts the payload to bytes, structured payloads are JSON encoded.
func (m *Message) PayloadAsBytes() ([]byte, error) {
	switch v := m.payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	default:
		return json.Marshal(v)
	}
}

// PayloadAsString converts the payload to string.
func (m *Message) PayloadAsString() (string, error) {
	if s, ok := m.payload.(string); ok {
		return s, nil
	}
	b, err := m.PayloadAsBytes()
	return string(b), err
}

// PayloadAsJson decodes a textual payload as JSON, structured payloads are returned as is.
func (m *Message) PayloadAsJson() (interface{}, error) {
	switch v := m.payload.(type) {
	case []byte:
		var out interface{}
		err := json.Unmarshal(v, &out)
		return out, err
	case string:
		var out interface{}
		err := json.Unmarshal([]byte(v), &out)
		return out, err
	default:
		return v, nil
	}
}

func (m *Message) Attribute(key string) interface{} {
	return m.attributes[key]
}

func (m *Message) Attributes() map[string]interface{} {
	c := make(map[string]interface{}, len(m.attributes))
	for k, v := range m.attributes {
		c[k] = v
	}
	return c
}

func (m *Message) InboundProperty(key string) interface{} {
	return m.inbound[key]
}

func (m *Message) InboundProperties() Properties {
	return m.inbound.Copy()
}

func (m *Message) OutboundProperty(key string) interface{} {
	return m.outbound[key]
}

func (m *Message) OutboundProperties() Properties {
	return m.outbound.Copy()
}

// Property returns a message scoped property: inbound or outbound.
func (m *Message) Property(scope PropertyScope, key string) interface{} {
	switch scope {
	case InboundScope:
		return m.inbound[key]
	case OutboundScope:
		return m.outbound[key]
	default:
		return nil
	}
}

func (m *Message) Correlation() Correlation {
	return m.correlation
}

func (m *Message) ExceptionPayload() *ExceptionPayload {
	return m.exception
}

// WithPayload returns a copy with a new payload, the data type is inferred.
func (m *Message) WithPayload(payload interface{}) *Message {
	return m.Builder().Payload(payload).DataType(inferDataType(payload)).Build()
}

// WithOutboundProperty returns a copy with an outbound property set.
func (m *Message) WithOutboundProperty(key string, value interface{}) *Message {
	return m.Builder().OutboundProperty(key, value).Build()
}

// WithExceptionPayload returns a copy carrying the exception payload.
func (m *Message) WithExceptionPayload(p *ExceptionPayload) *Message {
	return m.Builder().ExceptionPayload(p).Build()
}

// PromoteOutbound returns the message as seen by the receiving side of an endpoint:
// outbound properties become the inbound ones and outbound is cleared.
func (m *Message) PromoteOutbound() *Message {
	b := m.Builder()
	b.msg.inbound = m.outbound.Copy()
	b.msg.outbound = NewProperties()
	return b.Build()
}

// Builder returns a builder initialised with a copy of the message.
func (m *Message) Builder() *MessageBuilder {
	c := *m
	c.inbound = m.inbound.Copy()
	c.outbound = m.outbound.Copy()
	if m.attributes != nil {
		c.attributes = m.Attributes()
	}
	return &MessageBuilder{msg: &c}
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{id=%s, dataType=%s, payloadType=%T}", m.id, m.dataType, m.payload)
}

// MessageBuilder builds derived messages.
type MessageBuilder struct {
	msg *Message
}

func (b *MessageBuilder) Id(id string) *MessageBuilder {
	b.msg.id = id
	return b
}

func (b *MessageBuilder) Payload(payload interface{}) *MessageBuilder {
	b.msg.payload = payload
	return b
}

func (b *MessageBuilder) DataType(dataType DataType) *MessageBuilder {
	b.msg.dataType = dataType
	return b
}

func (b *MessageBuilder) Attribute(key string, value interface{}) *MessageBuilder {
	if b.msg.attributes == nil {
		b.msg.attributes = make(map[string]interface{})
	}
	b.msg.attributes[key] = value
	return b
}

func (b *MessageBuilder) InboundProperty(key string, value interface{}) *MessageBuilder {
	b.msg.inbound[key] = value
	return b
}

func (b *MessageBuilder) InboundProperties(props Properties) *MessageBuilder {
	for k, v := range props {
		b.msg.inbound[k] = v
	}
	return b
}

func (b *MessageBuilder) OutboundProperty(key string, value interface{}) *MessageBuilder {
	b.msg.outbound[key] = value
	return b
}

func (b *MessageBuilder) OutboundProperties(props Properties) *MessageBuilder {
	for k, v := range props {
		b.msg.outbound[k] = v
	}
	return b
}

func (b *MessageBuilder) RemoveOutboundProperty(key string) *MessageBuilder {
	delete(b.msg.outbound, key)
	return b
}

func (b *MessageBuilder) ClearOutboundProperties() *MessageBuilder {
	b.msg.outbound = NewProperties()
	return b
}

func (b *MessageBuilder) Correlation(c Correlation) *MessageBuilder {
	b.msg.correlation = c
	return b
}

func (b *MessageBuilder) ExceptionPayload(p *ExceptionPayload) *MessageBuilder {
	b.msg.exception = p
	return b
}

// Build returns the message. The builder must not be used afterwards.
func (b *MessageBuilder) Build() *Message {
	m := b.msg
	b.msg = nil
	return m
}
