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

package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

// hooks are the resource specific steps of a transaction.
type hooks interface {
	doBegin() error
	doCommit() error
	doRollback() error
}

// suspendHooks are implemented by transactions that can be suspended.
type suspendHooks interface {
	doSuspend() error
	doResume() error
}

// Base implements the state machine shared by all transactions: begin binds
// the transaction to the scope, commit and rollback unbind it, a rollback-only
// or timed out transaction is rolled back on commit.
type Base struct {
	id           string
	ctx          context.Context
	self         types.Transaction
	hooks        hooks
	coordinator  *Coordinator
	status       types.TransactionStatus
	rollbackOnly bool
	timeout      time.Duration
	started      time.Time
	lock         sync.Mutex
}

func newBase(self types.Transaction, h hooks) *Base {
	return &Base{
		id:          types.NewId(),
		self:        self,
		hooks:       h,
		coordinator: Coordination,
		status:      types.StatusNoTransaction,
	}
}

func (b *Base) Id() string {
	return b.id
}

// Begin starts the transaction and binds it to the scope of ctx.
func (b *Base) Begin(ctx context.Context) error {
	if !HasScope(ctx) {
		return ErrNoScope()
	}
	if err := b.begin(); err != nil {
		return err
	}
	if err := b.coordinator.BindTransaction(ctx, b.self); err != nil {
		_ = b.hooks.doRollback()
		b.setStatus(types.StatusRolledBack)
		return err
	}
	b.ctx = ctx
	b.coordinator.notify(Event{Kind: EventBegin, TransactionId: b.id, XA: b.self.IsXA()})
	return nil
}

// begin starts the transaction without binding it, used by delegating transactions.
func (b *Base) begin() error {
	b.lock.Lock()
	if b.status != types.StatusNoTransaction {
		b.lock.Unlock()
		return errors.Wrapf(types.ErrIllegalTransactionState, "transaction %s already begun", b.id)
	}
	b.lock.Unlock()
	if err := b.hooks.doBegin(); err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	b.lock.Lock()
	b.status = types.StatusActive
	b.started = time.Now()
	b.lock.Unlock()
	return nil
}

// Commit commits the transaction. A rollback-only or timed out transaction is
// rolled back instead and an error is returned. When the commit fails but the
// resources could be rolled back, the transaction ends RolledBack, otherwise Unknown.
func (b *Base) Commit() error {
	b.lock.Lock()
	if !b.isActiveLocked() {
		status := b.status
		b.lock.Unlock()
		return errors.Wrapf(types.ErrIllegalTransactionState, "cannot commit transaction %s in status %s", b.id, status)
	}
	rollbackOnly := b.rollbackOnly
	timedOut := b.timeout > 0 && time.Since(b.started) > b.timeout
	b.lock.Unlock()

	if rollbackOnly {
		if err := b.Rollback(); err != nil {
			return errors.Wrapf(types.ErrTransactionMarkedRollback, "transaction %s: rollback failed: %v", b.id, err)
		}
		return errors.Wrapf(types.ErrTransactionMarkedRollback, "transaction %s", b.id)
	}
	if timedOut {
		_ = b.Rollback()
		return errors.Wrapf(types.ErrTransactionTimedOut, "transaction %s exceeded %s", b.id, b.timeout)
	}

	b.setStatus(types.StatusCommitting)
	err := b.hooks.doCommit()
	b.unbind()
	if errors.Is(err, types.ErrTransactionRolledBack) {
		b.setStatus(types.StatusRolledBack)
		b.coordinator.notify(Event{Kind: EventRollback, TransactionId: b.id, XA: b.self.IsXA()})
		return errors.Wrapf(err, "commit transaction %s", b.id)
	}
	if err != nil {
		b.setStatus(types.StatusUnknown)
		return errors.Wrapf(err, "commit transaction %s", b.id)
	}
	b.setStatus(types.StatusCommitted)
	b.coordinator.notify(Event{Kind: EventCommit, TransactionId: b.id, XA: b.self.IsXA()})
	return nil
}

// Rollback rolls the transaction back and unbinds it.
func (b *Base) Rollback() error {
	b.lock.Lock()
	if !b.isActiveLocked() {
		status := b.status
		b.lock.Unlock()
		return errors.Wrapf(types.ErrIllegalTransactionState, "cannot roll back transaction %s in status %s", b.id, status)
	}
	b.rollbackOnly = true
	b.status = types.StatusRollingBack
	b.lock.Unlock()

	err := b.hooks.doRollback()
	b.unbind()
	if err != nil {
		b.setStatus(types.StatusUnknown)
		return errors.Wrapf(err, "rollback transaction %s", b.id)
	}
	b.setStatus(types.StatusRolledBack)
	b.coordinator.notify(Event{Kind: EventRollback, TransactionId: b.id, XA: b.self.IsXA()})
	return nil
}

func (b *Base) unbind() {
	if b.ctx != nil {
		_ = b.coordinator.UnbindTransaction(b.ctx, b.self)
	}
}

func (b *Base) isActiveLocked() bool {
	return b.status == types.StatusActive || b.status == types.StatusMarkedRollback
}

func (b *Base) setStatus(status types.TransactionStatus) {
	b.lock.Lock()
	b.status = status
	b.lock.Unlock()
}

func (b *Base) Status() types.TransactionStatus {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.status == types.StatusActive && b.rollbackOnly {
		return types.StatusMarkedRollback
	}
	return b.status
}

func (b *Base) IsBegun() bool {
	return b.Status() != types.StatusNoTransaction
}

func (b *Base) IsCommitted() bool {
	return b.Status() == types.StatusCommitted
}

func (b *Base) IsRolledBack() bool {
	return b.Status() == types.StatusRolledBack
}

func (b *Base) SetRollbackOnly() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.rollbackOnly = true
}

func (b *Base) IsRollbackOnly() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.rollbackOnly
}

func (b *Base) Suspend() error {
	if s, ok := b.hooks.(suspendHooks); ok {
		return s.doSuspend()
	}
	return errors.Wrapf(types.ErrTransactionNotSupported, "transaction %s cannot be suspended", b.id)
}

func (b *Base) Resume() error {
	if s, ok := b.hooks.(suspendHooks); ok {
		return s.doResume()
	}
	return errors.Wrapf(types.ErrTransactionNotSupported, "transaction %s cannot be resumed", b.id)
}

func (b *Base) Timeout() time.Duration {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.timeout
}

func (b *Base) SetTimeout(timeout time.Duration) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.timeout = timeout
}

func (b *Base) String() string {
	return b.id + "[" + b.Status().String() + "]"
}
