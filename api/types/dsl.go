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

// AppDsl 应用定义
// AppDsl describes an application: connectors, global exception strategies and flows.
type AppDsl struct {
	// Id application id, used as the Mule context id when none is given
	Id string `json:"id"`
	// Properties global properties, referenced by ${global.key}
	Properties map[string]string `json:"properties,omitempty"`
	// Connectors named transport connectors
	Connectors []*ConnectorDsl `json:"connectors,omitempty" validate:"dive"`
	// ExceptionStrategies global exception strategies
	ExceptionStrategies []*ExceptionStrategyDsl `json:"exceptionStrategies,omitempty" validate:"dive"`
	// DefaultExceptionStrategy name of the global strategy used by flows without one
	DefaultExceptionStrategy string `json:"defaultExceptionStrategy,omitempty"`
	// Flows flow definitions
	Flows []*FlowDsl `json:"flows" validate:"required,min=1,dive"`
}

// ConnectorDsl 连接器定义
type ConnectorDsl struct {
	Name          string        `json:"name" validate:"required"`
	Type          string        `json:"type" validate:"required"`
	Configuration Configuration `json:"configuration,omitempty"`
}

// FlowDsl 流定义
type FlowDsl struct {
	Name string `json:"name" validate:"required"`
	// InitialState started (default) or stopped
	InitialState string `json:"initialState,omitempty" validate:"omitempty,oneof=started stopped"`
	// ProcessingStrategy synchronous (default), asynchronous or queued-asynchronous
	ProcessingStrategy string `json:"processingStrategy,omitempty" validate:"omitempty,oneof=synchronous asynchronous queued-asynchronous"`
	// MaxThreads worker count of queued-asynchronous strategies
	MaxThreads int `json:"maxThreads,omitempty" validate:"gte=0"`
	// QueueSize queue capacity of queued-asynchronous strategies
	QueueSize int `json:"queueSize,omitempty" validate:"gte=0"`
	// DebugMode enables OnDebug callbacks for every processor of the flow
	DebugMode bool `json:"debugMode,omitempty"`
	// Source inbound endpoint, optional for flows only reached by flow-ref
	Source *EndpointDsl `json:"source,omitempty"`
	// Processors processor chain
	Processors []*ProcessorDsl `json:"processors" validate:"dive"`
	// ExceptionStrategy exception strategy of the flow
	ExceptionStrategy *ExceptionStrategyDsl `json:"exceptionStrategy,omitempty"`
}

// ProcessorDsl 处理器定义
type ProcessorDsl struct {
	// Id processor id, generated when empty
	Id string `json:"id,omitempty"`
	// Type component type, "outbound" for outbound endpoints
	Type string `json:"type" validate:"required"`
	Name string `json:"name,omitempty"`
	// DebugMode enables OnDebug callbacks for this processor
	DebugMode     bool          `json:"debugMode,omitempty"`
	Configuration Configuration `json:"configuration,omitempty"`
	// Processors nested processors of scopes
	Processors []*ProcessorDsl `json:"processors,omitempty" validate:"dive"`
	// Routes branches of routers
	Routes []*RouteDsl `json:"routes,omitempty" validate:"dive"`
	// Endpoint endpoint of an outbound processor
	Endpoint *EndpointDsl `json:"endpoint,omitempty"`
	// ExceptionStrategy exception strategy of a transactional scope
	ExceptionStrategy *ExceptionStrategyDsl `json:"exceptionStrategy,omitempty"`
}

// RouteDsl 路由定义
type RouteDsl struct {
	Id string `json:"id,omitempty"`
	// When expression, empty for the otherwise route
	When       string          `json:"when,omitempty"`
	Processors []*ProcessorDsl `json:"processors" validate:"required,min=1,dive"`
}

// EndpointDsl 端点定义
type EndpointDsl struct {
	Name string `json:"name,omitempty"`
	// Address endpoint uri, e.g. vm://orders
	Address string `json:"address" validate:"required"`
	// Connector connector name, the protocol default connector when empty
	Connector       string `json:"connector,omitempty"`
	ExchangePattern string `json:"exchangePattern,omitempty" validate:"omitempty,oneof=one-way request-response"`
	// ResponseTimeout milliseconds
	ResponseTimeout      int               `json:"responseTimeout,omitempty" validate:"gte=0"`
	Properties           map[string]string `json:"properties,omitempty"`
	Transaction          *TransactionDsl   `json:"transaction,omitempty"`
	Filter               *ProcessorDsl     `json:"filter,omitempty"`
	Transformers         []*ProcessorDsl   `json:"transformers,omitempty" validate:"dive"`
	ResponseTransformers []*ProcessorDsl   `json:"responseTransformers,omitempty" validate:"dive"`
	Security             *SecurityDsl      `json:"security,omitempty"`
	Redelivery           *RedeliveryDsl    `json:"redelivery,omitempty"`
}

// TransactionDsl 事务定义
type TransactionDsl struct {
	// Action NONE, ALWAYS_BEGIN, BEGIN_OR_JOIN, ALWAYS_JOIN, JOIN_IF_POSSIBLE, NEVER, NOT_SUPPORTED, INDIFFERENT
	Action string `json:"action"`
	// Factory registered transaction factory name: vm, sql, xa, delegate
	Factory string `json:"factory,omitempty"`
	// Timeout milliseconds
	Timeout              int  `json:"timeout,omitempty" validate:"gte=0"`
	InteractWithExternal bool `json:"interactWithExternal,omitempty"`
}

// SecurityDsl 安全过滤器定义
type SecurityDsl struct {
	Type  string `json:"type" validate:"required,oneof=basic"`
	Realm string `json:"realm,omitempty"`
	// Users user name to password, bcrypt hashes are detected by their prefix
	Users map[string]string `json:"users" validate:"required"`
}

// RedeliveryDsl 重投策略定义
type RedeliveryDsl struct {
	MaxRedeliveryCount int `json:"maxRedeliveryCount" validate:"gte=0"`
	// IdExpression expression computing the message key, message id when empty
	IdExpression string `json:"idExpression,omitempty"`
	// DeadLetter processors the message is sent to when the limit is exceeded
	DeadLetter []*ProcessorDsl `json:"deadLetter,omitempty" validate:"dive"`
}

// ExceptionStrategyDsl 异常策略定义
type ExceptionStrategyDsl struct {
	// Name global strategy name
	Name string `json:"name,omitempty"`
	// Type catch, rollback, default, choice or reference
	Type string `json:"type" validate:"required,oneof=catch rollback default choice reference"`
	// When acceptance expression inside a choice strategy
	When string `json:"when,omitempty"`
	// Ref referenced global strategy
	Ref string `json:"ref,omitempty" validate:"required_if=Type reference"`
	// MaxRedeliveryAttempts redelivery limit of rollback strategies, -1 disables it
	MaxRedeliveryAttempts *int            `json:"maxRedeliveryAttempts,omitempty"`
	Processors            []*ProcessorDsl `json:"processors,omitempty" validate:"dive"`
	// RedeliveryExhausted processors run once redelivery is exhausted
	RedeliveryExhausted []*ProcessorDsl `json:"redeliveryExhausted,omitempty" validate:"dive"`
	// Strategies nested strategies of a choice strategy
	Strategies []*ExceptionStrategyDsl `json:"strategies,omitempty" validate:"dive"`
	// EnableNotifications logs handled exceptions, defaults to true
	EnableNotifications *bool `json:"enableNotifications,omitempty"`
}

// Parser 应用定义解析器
type Parser interface {
	// DecodeApp parses an application definition
	DecodeApp(def []byte) (*AppDsl, error)
	// EncodeApp serialises an application definition
	EncodeApp(def *AppDsl) ([]byte, error)
}
