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
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

// SingleResourceTransaction is a local transaction over exactly one resource.
// The bound resource is committed or rolled back with the transaction when it
// implements types.TransactionalResource.
type SingleResourceTransaction struct {
	*Base
	supports func(key interface{}) bool
	key      interface{}
	resource interface{}
	lock     sync.Mutex
}

// NewSingleResourceTransaction creates a transaction accepting the resource keys
// for which supports returns true, any key when supports is nil.
func NewSingleResourceTransaction(supports func(key interface{}) bool) *SingleResourceTransaction {
	t := &SingleResourceTransaction{supports: supports}
	t.Base = newBase(t, t)
	return t
}

func (t *SingleResourceTransaction) BindResource(key interface{}, resource interface{}) error {
	if key == nil || resource == nil {
		return types.NewIllegalArgumentError("resource key and resource must not be nil")
	}
	if !t.SupportsResource(key) {
		return errors.Wrapf(types.ErrTransactionNotSupported, "resource %T", key)
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.key != nil {
		return errors.Wrapf(types.ErrSingleResourceOnly, "transaction %s", t.Id())
	}
	t.key = key
	t.resource = resource
	return nil
}

func (t *SingleResourceTransaction) Resource(key interface{}) interface{} {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.key != nil && t.key == key {
		return t.resource
	}
	return nil
}

func (t *SingleResourceTransaction) HasResource(key interface{}) bool {
	return t.Resource(key) != nil
}

func (t *SingleResourceTransaction) SupportsResource(key interface{}) bool {
	if t.supports == nil {
		return true
	}
	return t.supports(key)
}

func (t *SingleResourceTransaction) IsXA() bool {
	return false
}

func (t *SingleResourceTransaction) doBegin() error {
	return nil
}

func (t *SingleResourceTransaction) doCommit() error {
	r, ok := t.boundResource().(types.TransactionalResource)
	if !ok {
		return nil
	}
	err := r.Commit()
	if err == nil {
		return nil
	}
	// a failed commit leaves the resource as it was, return it to its pre-transaction state
	if rerr := r.Rollback(); rerr != nil {
		return errors.Wrapf(err, "rollback after failed commit: %v", rerr)
	}
	return fmt.Errorf("%w: %w", types.ErrTransactionRolledBack, err)
}

func (t *SingleResourceTransaction) doRollback() error {
	if r, ok := t.boundResource().(types.TransactionalResource); ok {
		return r.Rollback()
	}
	return nil
}

func (t *SingleResourceTransaction) boundResource() interface{} {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.resource
}
