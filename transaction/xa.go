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
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

// XaFormatId format id of the xids generated by XaTransaction.
const XaFormatId = 0x4d554c45

type enlisted struct {
	key      interface{}
	resource types.XAResource
	xid      types.Xid
	ended    bool
}

// XaTransaction coordinates several XA resources with a two-phase commit.
// Enlisting and delisting are serialised by a resource lock.
type XaTransaction struct {
	*Base
	resourceLock sync.Mutex
	resources    []*enlisted
}

// NewXaTransaction creates an XA transaction.
func NewXaTransaction() *XaTransaction {
	t := &XaTransaction{}
	t.Base = newBase(t, t)
	return t
}

// BindResource enlists resource, which must be a types.XAResource.
func (t *XaTransaction) BindResource(key interface{}, resource interface{}) error {
	xa, ok := resource.(types.XAResource)
	if !ok {
		return types.NewIllegalArgumentError("xa transactions only accept XAResource resources")
	}
	return t.EnlistResource(key, xa)
}

// EnlistResource starts a branch of the transaction on resource. Enlisting the
// same key twice is a no-op.
func (t *XaTransaction) EnlistResource(key interface{}, resource types.XAResource) error {
	if s := t.Status(); s != types.StatusActive && s != types.StatusMarkedRollback {
		return errors.Wrapf(types.ErrIllegalTransactionState, "cannot enlist in transaction %s in status %s", t.Id(), s)
	}
	t.resourceLock.Lock()
	defer t.resourceLock.Unlock()
	for _, e := range t.resources {
		if e.key == key {
			return nil
		}
	}
	e := &enlisted{
		key:      key,
		resource: resource,
		xid: types.Xid{
			FormatId:            XaFormatId,
			GlobalTransactionId: t.Id(),
			BranchQualifier:     strconv.Itoa(len(t.resources) + 1),
		},
	}
	if err := resource.Start(e.xid, types.TMNoFlags); err != nil {
		return errors.Wrap(err, "enlist xa resource")
	}
	t.resources = append(t.resources, e)
	return nil
}

// DelistResource ends the branch of key with flag. The resource still takes part in completion.
func (t *XaTransaction) DelistResource(key interface{}, flag int) error {
	t.resourceLock.Lock()
	defer t.resourceLock.Unlock()
	for _, e := range t.resources {
		if e.key == key {
			if e.ended {
				return nil
			}
			e.ended = true
			return e.resource.End(e.xid, flag)
		}
	}
	return types.NewNotFoundError("resource not enlisted")
}

func (t *XaTransaction) Resource(key interface{}) interface{} {
	t.resourceLock.Lock()
	defer t.resourceLock.Unlock()
	for _, e := range t.resources {
		if e.key == key {
			return e.resource
		}
	}
	return nil
}

func (t *XaTransaction) HasResource(key interface{}) bool {
	return t.Resource(key) != nil
}

func (t *XaTransaction) SupportsResource(key interface{}) bool {
	return true
}

func (t *XaTransaction) IsXA() bool {
	return true
}

// ResourceCount number of enlisted resources.
func (t *XaTransaction) ResourceCount() int {
	t.resourceLock.Lock()
	defer t.resourceLock.Unlock()
	return len(t.resources)
}

func (t *XaTransaction) doBegin() error {
	return nil
}

func (t *XaTransaction) endAll(flag int) error {
	var first error
	for _, e := range t.resources {
		if e.ended {
			continue
		}
		e.ended = true
		if err := e.resource.End(e.xid, flag); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *XaTransaction) doCommit() error {
	t.resourceLock.Lock()
	defer t.resourceLock.Unlock()
	if len(t.resources) == 0 {
		return nil
	}
	if err := t.endAll(types.TMSuccess); err != nil {
		t.rollbackAll()
		return errors.Wrap(err, "end xa branches")
	}
	if len(t.resources) == 1 {
		e := t.resources[0]
		return e.resource.Commit(e.xid, true)
	}
	prepared := make([]*enlisted, 0, len(t.resources))
	for _, e := range t.resources {
		vote, err := e.resource.Prepare(e.xid)
		if err != nil {
			t.rollbackAll()
			return errors.Wrapf(err, "prepare xa branch %s", e.xid.BranchQualifier)
		}
		if vote != types.XARdOnly {
			prepared = append(prepared, e)
		}
	}
	var first error
	for _, e := range prepared {
		if err := e.resource.Commit(e.xid, false); err != nil && first == nil {
			first = errors.Wrapf(err, "commit xa branch %s", e.xid.BranchQualifier)
		}
	}
	return first
}

func (t *XaTransaction) rollbackAll() error {
	var first error
	for _, e := range t.resources {
		if err := e.resource.Rollback(e.xid); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *XaTransaction) doRollback() error {
	t.resourceLock.Lock()
	defer t.resourceLock.Unlock()
	_ = t.endAll(types.TMFail)
	return t.rollbackAll()
}

func (t *XaTransaction) doSuspend() error {
	t.resourceLock.Lock()
	defer t.resourceLock.Unlock()
	for _, e := range t.resources {
		if e.ended {
			continue
		}
		if err := e.resource.End(e.xid, types.TMSuspend); err != nil {
			return errors.Wrap(err, "suspend xa branch")
		}
	}
	return nil
}

func (t *XaTransaction) doResume() error {
	t.resourceLock.Lock()
	defer t.resourceLock.Unlock()
	for _, e := range t.resources {
		if e.ended {
			continue
		}
		if err := e.resource.Start(e.xid, types.TMResume); err != nil {
			return errors.Wrap(err, "resume xa branch")
		}
	}
	return nil
}
