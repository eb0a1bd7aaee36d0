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
	"sync"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

// ResourceTransactionFactory creates the transaction for a kind of resource.
// DelegateTransaction uses it to pick its concrete transaction lazily.
type ResourceTransactionFactory interface {
	SupportsResource(key interface{}) bool
	NewTransaction() types.Transaction
}

type detachedBeginner interface {
	begin() error
}

// DelegateTransaction is bound like any transaction but decides its concrete
// kind when the first resource is bound. Without resources it commits and
// rolls back as an empty transaction.
type DelegateTransaction struct {
	*Base
	factories []ResourceTransactionFactory
	delegate  types.Transaction
	lock      sync.Mutex
}

// NewDelegateTransaction creates a delegate choosing among factories.
func NewDelegateTransaction(factories ...ResourceTransactionFactory) *DelegateTransaction {
	t := &DelegateTransaction{factories: factories}
	t.Base = newBase(t, t)
	return t
}

// Delegate returns the concrete transaction, nil before the first resource.
func (t *DelegateTransaction) Delegate() types.Transaction {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.delegate
}

func (t *DelegateTransaction) BindResource(key interface{}, resource interface{}) error {
	t.lock.Lock()
	if t.delegate == nil {
		f := t.factoryFor(key)
		if f == nil {
			t.lock.Unlock()
			return errors.Wrapf(types.ErrTransactionNotSupported, "no transaction factory supports resource %T", key)
		}
		d := f.NewTransaction()
		b, ok := d.(detachedBeginner)
		if !ok {
			t.lock.Unlock()
			return types.NewIllegalStateError("delegate transaction cannot begin a foreign transaction")
		}
		if err := b.begin(); err != nil {
			t.lock.Unlock()
			return err
		}
		d.SetTimeout(t.Timeout())
		if t.IsRollbackOnly() {
			d.SetRollbackOnly()
		}
		t.delegate = d
	}
	d := t.delegate
	t.lock.Unlock()
	return d.BindResource(key, resource)
}

func (t *DelegateTransaction) factoryFor(key interface{}) ResourceTransactionFactory {
	for _, f := range t.factories {
		if f.SupportsResource(key) {
			return f
		}
	}
	return nil
}

func (t *DelegateTransaction) Resource(key interface{}) interface{} {
	if d := t.Delegate(); d != nil {
		return d.Resource(key)
	}
	return nil
}

func (t *DelegateTransaction) HasResource(key interface{}) bool {
	if d := t.Delegate(); d != nil {
		return d.HasResource(key)
	}
	return false
}

func (t *DelegateTransaction) SupportsResource(key interface{}) bool {
	if d := t.Delegate(); d != nil {
		return d.SupportsResource(key)
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.factoryFor(key) != nil
}

func (t *DelegateTransaction) IsXA() bool {
	if d := t.Delegate(); d != nil {
		return d.IsXA()
	}
	return false
}

func (t *DelegateTransaction) SetRollbackOnly() {
	t.Base.SetRollbackOnly()
	if d := t.Delegate(); d != nil {
		d.SetRollbackOnly()
	}
}

func (t *DelegateTransaction) Commit() error {
	if d := t.Delegate(); d != nil && t.IsRollbackOnly() {
		d.SetRollbackOnly()
	}
	return t.Base.Commit()
}

func (t *DelegateTransaction) doBegin() error {
	return nil
}

func (t *DelegateTransaction) doCommit() error {
	if d := t.Delegate(); d != nil {
		return d.Commit()
	}
	return nil
}

func (t *DelegateTransaction) doRollback() error {
	if d := t.Delegate(); d != nil && !d.IsRolledBack() {
		return d.Rollback()
	}
	return nil
}

func (t *DelegateTransaction) doSuspend() error {
	if d := t.Delegate(); d != nil {
		return d.Suspend()
	}
	return nil
}

func (t *DelegateTransaction) doResume() error {
	if d := t.Delegate(); d != nil {
		return d.Resume()
	}
	return nil
}
