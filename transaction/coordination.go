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

// Package transaction binds transactions to the unit of work processing a message
// and provides the transaction implementations used by execution templates.
//
// A unit of work is identified by a scope stored in a context.Context. A
// receiver opens a new scope for every delivery, asynchronous hand-offs open a
// fresh scope, synchronous calls share the caller's scope. At most one
// transaction is bound to a scope at a time.
//
// Package transaction 把事务绑定到处理消息的工作单元上。
// 工作单元由存放在context.Context中的作用域标识，每个作用域最多绑定一个事务。
package transaction

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

type scopeKey struct{}

// holder is the per scope transaction slot.
type holder struct {
	lock      sync.Mutex
	tx        types.Transaction
	suspended []types.Transaction
}

// WithScope returns ctx if it already carries a transaction scope, otherwise a
// child context with a new one.
func WithScope(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if HasScope(ctx) {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, &holder{})
}

// NewScope returns a child context with a new, empty transaction scope.
func NewScope(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{}, &holder{})
}

// HasScope reports whether ctx carries a transaction scope.
func HasScope(ctx context.Context) bool {
	return holderOf(ctx) != nil
}

func holderOf(ctx context.Context) *holder {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(scopeKey{}).(*holder)
	return h
}

// EventKind 事务事件类型
type EventKind string

const (
	EventBegin    EventKind = "begin"
	EventCommit   EventKind = "commit"
	EventRollback EventKind = "rollback"
	EventSuspend  EventKind = "suspend"
	EventResume   EventKind = "resume"
)

// Event is a transaction notification.
type Event struct {
	Kind          EventKind
	TransactionId string
	XA            bool
}

// Listener receives transaction notifications.
type Listener func(event Event)

// Coordination is the process wide coordinator.
var Coordination = NewCoordinator()

// Coordinator binds transactions to scopes and tracks bound transactions.
type Coordinator struct {
	active    int64
	listeners []Listener
	lock      sync.RWMutex
}

// NewCoordinator creates a coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Transaction returns the transaction bound to the scope of ctx, nil if none.
func (c *Coordinator) Transaction(ctx context.Context) types.Transaction {
	h := holderOf(ctx)
	if h == nil {
		return nil
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.tx
}

// IsTransacted reports whether a transaction is bound to the scope of ctx.
func (c *Coordinator) IsTransacted(ctx context.Context) bool {
	return c.Transaction(ctx) != nil
}

// BindTransaction binds tx to the scope of ctx. Binding the transaction that is
// already bound is a no-op, binding another one fails.
func (c *Coordinator) BindTransaction(ctx context.Context, tx types.Transaction) error {
	h := holderOf(ctx)
	if h == nil {
		return ErrNoScope()
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.tx != nil {
		if h.tx == tx {
			return nil
		}
		return errors.Wrapf(types.ErrTransactionAlreadyBound, "bound: %s, new: %s", h.tx.Id(), tx.Id())
	}
	h.tx = tx
	atomic.AddInt64(&c.active, 1)
	return nil
}

// UnbindTransaction removes tx from the scope of ctx. Fails if another transaction is bound.
func (c *Coordinator) UnbindTransaction(ctx context.Context, tx types.Transaction) error {
	h := holderOf(ctx)
	if h == nil {
		return nil
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.tx == nil {
		return nil
	}
	if tx != nil && h.tx != tx {
		return errors.Wrapf(types.ErrIllegalTransactionState, "unbinding %s but %s is bound", tx.Id(), h.tx.Id())
	}
	h.tx = nil
	atomic.AddInt64(&c.active, -1)
	return nil
}

// ResolveTransaction rolls back the bound transaction if it is rollback-only, commits it otherwise.
func (c *Coordinator) ResolveTransaction(ctx context.Context) error {
	tx := c.Transaction(ctx)
	if tx == nil {
		return nil
	}
	if tx.IsRollbackOnly() {
		return tx.Rollback()
	}
	return tx.Commit()
}

// CommitCurrentTransaction commits the bound transaction, if any.
func (c *Coordinator) CommitCurrentTransaction(ctx context.Context) error {
	if tx := c.Transaction(ctx); tx != nil {
		return tx.Commit()
	}
	return nil
}

// RollbackCurrentTransaction rolls back the bound transaction, if any.
func (c *Coordinator) RollbackCurrentTransaction(ctx context.Context) error {
	if tx := c.Transaction(ctx); tx != nil {
		return tx.Rollback()
	}
	return nil
}

// SuspendCurrentTransaction suspends the bound transaction and unbinds it.
// Suspended transactions are resumed in reverse order.
func (c *Coordinator) SuspendCurrentTransaction(ctx context.Context) error {
	tx := c.Transaction(ctx)
	if tx == nil {
		return nil
	}
	if err := tx.Suspend(); err != nil {
		return err
	}
	if err := c.UnbindTransaction(ctx, tx); err != nil {
		return err
	}
	h := holderOf(ctx)
	h.lock.Lock()
	h.suspended = append(h.suspended, tx)
	h.lock.Unlock()
	c.notify(Event{Kind: EventSuspend, TransactionId: tx.Id(), XA: tx.IsXA()})
	return nil
}

// ResumeSuspendedTransaction resumes the last suspended transaction and binds it again.
func (c *Coordinator) ResumeSuspendedTransaction(ctx context.Context) error {
	h := holderOf(ctx)
	if h == nil {
		return nil
	}
	h.lock.Lock()
	n := len(h.suspended)
	if n == 0 {
		h.lock.Unlock()
		return nil
	}
	tx := h.suspended[n-1]
	h.suspended = h.suspended[:n-1]
	h.lock.Unlock()
	if err := tx.Resume(); err != nil {
		return err
	}
	if err := c.BindTransaction(ctx, tx); err != nil {
		return err
	}
	c.notify(Event{Kind: EventResume, TransactionId: tx.Id(), XA: tx.IsXA()})
	return nil
}

// IsolateTransaction unbinds the current transaction without suspending it and returns it.
func (c *Coordinator) IsolateTransaction(ctx context.Context) types.Transaction {
	tx := c.Transaction(ctx)
	if tx != nil {
		_ = c.UnbindTransaction(ctx, tx)
	}
	return tx
}

// RestoreIsolatedTransaction binds tx again after IsolateTransaction.
// A transaction left bound by the isolated block is resolved first.
func (c *Coordinator) RestoreIsolatedTransaction(ctx context.Context, tx types.Transaction) error {
	if tx == nil {
		return nil
	}
	if current := c.Transaction(ctx); current != nil && current != tx {
		if err := c.ResolveTransaction(ctx); err != nil {
			return err
		}
	}
	return c.BindTransaction(ctx, tx)
}

// ActiveCount returns the number of transactions currently bound across all scopes.
func (c *Coordinator) ActiveCount() int64 {
	return atomic.LoadInt64(&c.active)
}

// AddListener registers a listener and returns a function that removes it.
func (c *Coordinator) AddListener(l Listener) func() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.listeners = append(c.listeners, l)
	idx := len(c.listeners) - 1
	return func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		if idx < len(c.listeners) {
			c.listeners[idx] = nil
		}
	}
}

func (c *Coordinator) notify(event Event) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	for _, l := range c.listeners {
		if l != nil {
			l(event)
		}
	}
}

// ErrNoScope returns the error raised when a transaction is bound without a scope.
func ErrNoScope() error {
	return errors.WithStack(types.ErrNoTransactionScope)
}
