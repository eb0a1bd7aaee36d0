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

package execution

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transaction"
)

// Callback is the unit of work run by a template.
type Callback func(ctx context.Context) (*types.Event, error)

// Context is shared by the interceptors of one execution.
type Context struct {
	// TransactionStarted a transaction was begun by this execution
	TransactionStarted bool
}

// Interceptor is a link of an execution chain.
type Interceptor interface {
	Execute(ctx context.Context, callback Callback, ectx *Context) (*types.Event, error)
}

// ExecuteCallbackInterceptor runs the callback.
type ExecuteCallbackInterceptor struct{}

func (i *ExecuteCallbackInterceptor) Execute(ctx context.Context, callback Callback, ectx *Context) (*types.Event, error) {
	return callback(ctx)
}

// RethrowExceptionInterceptor turns a handled MessagingException into its processed event.
type RethrowExceptionInterceptor struct {
	next Interceptor
}

func (i *RethrowExceptionInterceptor) Execute(ctx context.Context, callback Callback, ectx *Context) (*types.Event, error) {
	result, err := i.next.Execute(ctx, callback, ectx)
	if err != nil {
		if me, ok := types.AsMessagingException(err); ok && me.Handled() {
			return me.ProcessedEvent(), nil
		}
		return nil, err
	}
	return result, nil
}

// ExternalTransactionInterceptor joins a transaction started outside of mulego for the
// duration of the execution.
type ExternalTransactionInterceptor struct {
	next   Interceptor
	config types.TransactionConfig
}

func (i *ExternalTransactionInterceptor) Execute(ctx context.Context, callback Callback, ectx *Context) (*types.Event, error) {
	var joined types.Transaction
	if i.config.InteractWithExternal() && !transaction.Coordination.IsTransacted(ctx) {
		if ef, ok := i.config.Factory().(types.ExternalTransactionFactory); ok {
			tx, err := ef.JoinExternalTransaction(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "join external transaction")
			}
			joined = tx
		}
	}
	result, err := i.next.Execute(ctx, callback, ectx)
	if joined != nil {
		_ = transaction.Coordination.UnbindTransaction(ctx, joined)
	}
	return result, err
}

// IsolateCurrentTransactionInterceptor runs NONE and NOT_SUPPORTED executions outside of
// the current local transaction.
type IsolateCurrentTransactionInterceptor struct {
	next   Interceptor
	config types.TransactionConfig
}

func (i *IsolateCurrentTransactionInterceptor) Execute(ctx context.Context, callback Callback, ectx *Context) (*types.Event, error) {
	var isolated types.Transaction
	action := i.config.Action()
	if action == types.ActionNone || action == types.ActionNotSupported {
		if tx := transaction.Coordination.Transaction(ctx); tx != nil && !tx.IsXA() {
			isolated = transaction.Coordination.IsolateTransaction(ctx)
		}
	}
	result, err := i.next.Execute(ctx, callback, ectx)
	if isolated != nil {
		if rerr := transaction.Coordination.RestoreIsolatedTransaction(ctx, isolated); rerr != nil && err == nil {
			err = rerr
		}
	}
	return result, err
}

// ValidateTransactionalStateInterceptor rejects NEVER with a bound transaction and
// ALWAYS_JOIN without one.
type ValidateTransactionalStateInterceptor struct {
	next   Interceptor
	config types.TransactionConfig
}

func (i *ValidateTransactionalStateInterceptor) Execute(ctx context.Context, callback Callback, ectx *Context) (*types.Event, error) {
	tx := transaction.Coordination.Transaction(ctx)
	switch i.config.Action() {
	case types.ActionNever:
		if tx != nil {
			return nil, errors.Wrapf(types.ErrIllegalTransactionState, "transaction %s is active but the action is NEVER", tx.Id())
		}
	case types.ActionAlwaysJoin:
		if tx == nil {
			return nil, errors.Wrap(types.ErrTransactionNotAvailable, "no transaction available but the action is ALWAYS_JOIN")
		}
	}
	return i.next.Execute(ctx, callback, ectx)
}

// SuspendXaTransactionInterceptor suspends a bound XA transaction for executions that must
// not take part in it and resumes it afterwards.
type SuspendXaTransactionInterceptor struct {
	next               Interceptor
	config             types.TransactionConfig
	processOnException bool
}

func (i *SuspendXaTransactionInterceptor) Execute(ctx context.Context, callback Callback, ectx *Context) (*types.Event, error) {
	suspended := false
	switch i.config.Action() {
	case types.ActionNone, types.ActionNotSupported, types.ActionAlwaysBegin:
		if tx := transaction.Coordination.Transaction(ctx); tx != nil && tx.IsXA() {
			if err := transaction.Coordination.SuspendCurrentTransaction(ctx); err != nil {
				return nil, err
			}
			suspended = true
		}
	}
	result, err := i.next.Execute(ctx, callback, ectx)
	if suspended && (err == nil || i.processOnException) {
		if rerr := transaction.Coordination.ResumeSuspendedTransaction(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}
	return result, err
}

// ResolvePreviousTransactionInterceptor resolves the bound transaction before ALWAYS_BEGIN starts a new one.
type ResolvePreviousTransactionInterceptor struct {
	next   Interceptor
	config types.TransactionConfig
}

func (i *ResolvePreviousTransactionInterceptor) Execute(ctx context.Context, callback Callback, ectx *Context) (*types.Event, error) {
	if i.config.Action() == types.ActionAlwaysBegin && transaction.Coordination.IsTransacted(ctx) {
		if err := transaction.Coordination.ResolveTransaction(ctx); err != nil {
			return nil, errors.Wrap(err, "resolve previous transaction")
		}
	}
	return i.next.Execute(ctx, callback, ectx)
}

// BeginAndResolveTransactionInterceptor begins a transaction when the action requires
// one and resolves it once the execution finished.
type BeginAndResolveTransactionInterceptor struct {
	next               Interceptor
	config             types.TransactionConfig
	processOnException bool
	mustResolveAny     bool
}

func (i *BeginAndResolveTransactionInterceptor) Execute(ctx context.Context, callback Callback, ectx *Context) (*types.Event, error) {
	atEntry := transaction.Coordination.Transaction(ctx)
	action := i.config.Action()
	started := false
	if action == types.ActionAlwaysBegin || (action == types.ActionBeginOrJoin && atEntry == nil) {
		if _, err := beginTransaction(ctx, i.config); err != nil {
			return nil, err
		}
		started = true
		ectx.TransactionStarted = true
	}
	result, err := i.next.Execute(ctx, callback, ectx)
	tx := transaction.Coordination.Transaction(ctx)
	if tx == nil {
		return result, err
	}
	mustResolve := started || (i.mustResolveAny && tx != atEntry)
	if !mustResolve {
		return result, err
	}
	if err != nil && !i.processOnException {
		_ = tx.Rollback()
		return result, err
	}
	if rerr := transaction.Coordination.ResolveTransaction(ctx); rerr != nil && err == nil {
		if result != nil {
			return nil, types.NewMessagingException(result, rerr, nil)
		}
		return nil, rerr
	}
	return result, err
}

func beginTransaction(ctx context.Context, config types.TransactionConfig) (types.Transaction, error) {
	factory := config.Factory()
	if factory == nil {
		return nil, errors.Wrapf(types.ErrTransactionNotAvailable, "no transaction factory configured for action %s", config.Action())
	}
	tx, err := factory.BeginTransaction(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction")
	}
	if config.Timeout() > 0 {
		tx.SetTimeout(config.Timeout())
	}
	return tx, nil
}

// HandleExceptionInterceptor routes a MessagingException to the exception handler and
// records the processed event on it.
type HandleExceptionInterceptor struct {
	next    Interceptor
	handler types.MessagingExceptionHandler
}

func (i *HandleExceptionInterceptor) Execute(ctx context.Context, callback Callback, ectx *Context) (*types.Event, error) {
	result, err := i.next.Execute(ctx, callback, ectx)
	if err == nil {
		return result, nil
	}
	me, ok := types.AsMessagingException(err)
	if !ok || me.Event() == nil {
		return nil, err
	}
	handler := i.handler
	if handler == nil {
		if flow := me.Event().FlowConstruct(); flow != nil {
			handler = flow.ExceptionListener()
		}
	}
	if handler == nil {
		return nil, err
	}
	me.SetProcessedEvent(handler.HandleException(me, me.Event()))
	return nil, me
}
