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

// Package execution runs units of work inside execution templates. A template
// is a chain of interceptors that applies the transaction configuration,
// routes failures to the exception handler and normalises errors.
//
// Package execution 在执行模板中运行工作单元，模板由拦截器链组成，
// 负责事务配置、异常处理和错误规范化。
package execution

import (
	"context"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transaction"
)

// Template executes callbacks through an interceptor chain.
type Template struct {
	chain Interceptor
}

// Execute runs callback. ctx gets a transaction scope if it has none.
func (t *Template) Execute(ctx context.Context, callback Callback) (*types.Event, error) {
	return t.chain.Execute(transaction.WithScope(ctx), callback, &Context{})
}

func configOrDefault(config types.TransactionConfig) types.TransactionConfig {
	if config == nil {
		return transaction.DefaultConfig()
	}
	return config
}

// NewMainExecutionTemplate is used by message receivers. Failures are routed to handler,
// or to the event's flow exception listener when handler is nil. Any transaction left
// bound by the execution is resolved.
func NewMainExecutionTemplate(config types.TransactionConfig, handler types.MessagingExceptionHandler) *Template {
	config = configOrDefault(config)
	var chain Interceptor = &ExecuteCallbackInterceptor{}
	chain = &HandleExceptionInterceptor{next: chain, handler: handler}
	chain = &BeginAndResolveTransactionInterceptor{next: chain, config: config, processOnException: true, mustResolveAny: true}
	chain = &ResolvePreviousTransactionInterceptor{next: chain, config: config}
	chain = &SuspendXaTransactionInterceptor{next: chain, config: config}
	chain = &ValidateTransactionalStateInterceptor{next: chain, config: config}
	chain = &IsolateCurrentTransactionInterceptor{next: chain, config: config}
	chain = &ExternalTransactionInterceptor{next: chain, config: config}
	chain = &RethrowExceptionInterceptor{next: chain}
	return &Template{chain: chain}
}

// NewScopeExecutionTemplate is used by transactional scopes inside a flow.
func NewScopeExecutionTemplate(config types.TransactionConfig, handler types.MessagingExceptionHandler) *Template {
	config = configOrDefault(config)
	var chain Interceptor = &ExecuteCallbackInterceptor{}
	chain = &HandleExceptionInterceptor{next: chain, handler: handler}
	chain = &BeginAndResolveTransactionInterceptor{next: chain, config: config, processOnException: true}
	chain = &ResolvePreviousTransactionInterceptor{next: chain, config: config}
	chain = &SuspendXaTransactionInterceptor{next: chain, config: config, processOnException: true}
	chain = &ValidateTransactionalStateInterceptor{next: chain, config: config}
	chain = &IsolateCurrentTransactionInterceptor{next: chain, config: config}
	chain = &ExternalTransactionInterceptor{next: chain, config: config}
	chain = &RethrowExceptionInterceptor{next: chain}
	return &Template{chain: chain}
}

// NewTransactionalExecutionTemplate applies config without exception handling, used by
// outbound endpoints.
func NewTransactionalExecutionTemplate(config types.TransactionConfig) *Template {
	config = configOrDefault(config)
	var chain Interceptor = &ExecuteCallbackInterceptor{}
	chain = &BeginAndResolveTransactionInterceptor{next: chain, config: config}
	chain = &ResolvePreviousTransactionInterceptor{next: chain, config: config}
	chain = &SuspendXaTransactionInterceptor{next: chain, config: config}
	chain = &ValidateTransactionalStateInterceptor{next: chain, config: config}
	chain = &IsolateCurrentTransactionInterceptor{next: chain, config: config}
	chain = &ExternalTransactionInterceptor{next: chain, config: config}
	return &Template{chain: chain}
}

// NewErrorHandlingExecutionTemplate routes failures to handler without touching
// transactions, used by asynchronous processing and flow references.
func NewErrorHandlingExecutionTemplate(handler types.MessagingExceptionHandler) *Template {
	var chain Interceptor = &ExecuteCallbackInterceptor{}
	chain = &HandleExceptionInterceptor{next: chain, handler: handler}
	chain = &RethrowExceptionInterceptor{next: chain}
	return &Template{chain: chain}
}
