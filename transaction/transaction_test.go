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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/api/types"
)

type recordingResource struct {
	committed   int
	rolledBack  int
	commitErr   error
	rollbackErr error
}

func (r *recordingResource) Commit() error {
	r.committed++
	return r.commitErr
}

func (r *recordingResource) Rollback() error {
	r.rolledBack++
	return r.rollbackErr
}

type xaCall struct {
	op   string
	flag int
}

type fakeXA struct {
	lock       sync.Mutex
	calls      []xaCall
	vote       int
	prepareErr error
	onePhase   bool
}

func (f *fakeXA) record(op string, flag int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls = append(f.calls, xaCall{op: op, flag: flag})
}

func (f *fakeXA) ops() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

func (f *fakeXA) Start(xid types.Xid, flags int) error {
	f.record("start", flags)
	return nil
}

func (f *fakeXA) End(xid types.Xid, flags int) error {
	f.record("end", flags)
	return nil
}

func (f *fakeXA) Prepare(xid types.Xid) (int, error) {
	f.record("prepare", 0)
	return f.vote, f.prepareErr
}

func (f *fakeXA) Commit(xid types.Xid, onePhase bool) error {
	f.onePhase = onePhase
	f.record("commit", 0)
	return nil
}

func (f *fakeXA) Rollback(xid types.Xid) error {
	f.record("rollback", 0)
	return nil
}

func TestCoordination(t *testing.T) {
	t.Run("bindWithoutScope", func(t *testing.T) {
		tx := NewSingleResourceTransaction(nil)
		err := tx.Begin(context.Background())
		assert.True(t, errors.Is(err, types.ErrNoTransactionScope))
	})

	t.Run("bindUnbind", func(t *testing.T) {
		ctx := NewScope(context.Background())
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(ctx))
		assert.Equal(t, tx, Coordination.Transaction(ctx))
		assert.True(t, Coordination.IsTransacted(ctx))

		other := NewSingleResourceTransaction(nil)
		err := Coordination.BindTransaction(ctx, other)
		assert.True(t, errors.Is(err, types.ErrTransactionAlreadyBound))
		err = Coordination.UnbindTransaction(ctx, other)
		assert.True(t, errors.Is(err, types.ErrIllegalTransactionState))

		require.Nil(t, tx.Commit())
		assert.Nil(t, Coordination.Transaction(ctx))
	})

	t.Run("scopesAreIndependent", func(t *testing.T) {
		parent := NewScope(context.Background())
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(parent))
		assert.Equal(t, parent, WithScope(parent))
		child := NewScope(parent)
		assert.Nil(t, Coordination.Transaction(child))
		assert.Equal(t, tx, Coordination.Transaction(WithScope(parent)))
		require.Nil(t, tx.Rollback())
	})

	t.Run("resolve", func(t *testing.T) {
		ctx := NewScope(context.Background())
		res := &recordingResource{}
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.BindResource("r", res))
		require.Nil(t, Coordination.ResolveTransaction(ctx))
		assert.Equal(t, 1, res.committed)

		res2 := &recordingResource{}
		tx2 := NewSingleResourceTransaction(nil)
		require.Nil(t, tx2.Begin(ctx))
		require.Nil(t, tx2.BindResource("r", res2))
		tx2.SetRollbackOnly()
		assert.Equal(t, types.StatusMarkedRollback, tx2.Status())
		require.Nil(t, Coordination.ResolveTransaction(ctx))
		assert.Equal(t, 0, res2.committed)
		assert.Equal(t, 1, res2.rolledBack)
		assert.True(t, tx2.IsRolledBack())
	})

	t.Run("isolate", func(t *testing.T) {
		ctx := NewScope(context.Background())
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(ctx))
		isolated := Coordination.IsolateTransaction(ctx)
		assert.Equal(t, tx, isolated)
		assert.Nil(t, Coordination.Transaction(ctx))
		require.Nil(t, Coordination.RestoreIsolatedTransaction(ctx, isolated))
		assert.Equal(t, tx, Coordination.Transaction(ctx))
		require.Nil(t, tx.Commit())
	})

	t.Run("listeners", func(t *testing.T) {
		var kinds []EventKind
		var lock sync.Mutex
		remove := Coordination.AddListener(func(event Event) {
			lock.Lock()
			defer lock.Unlock()
			kinds = append(kinds, event.Kind)
		})
		defer remove()
		ctx := NewScope(context.Background())
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.Commit())
		lock.Lock()
		defer lock.Unlock()
		assert.Contains(t, kinds, EventBegin)
		assert.Contains(t, kinds, EventCommit)
	})
}

func TestSingleResourceTransaction(t *testing.T) {
	t.Run("onlyOneResource", func(t *testing.T) {
		ctx := NewScope(context.Background())
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.BindResource("a", &recordingResource{}))
		err := tx.BindResource("b", &recordingResource{})
		assert.True(t, errors.Is(err, types.ErrSingleResourceOnly))
		assert.True(t, tx.HasResource("a"))
		assert.False(t, tx.HasResource("b"))
		require.Nil(t, tx.Rollback())
	})

	t.Run("unsupportedResource", func(t *testing.T) {
		ctx := NewScope(context.Background())
		tx := NewSingleResourceTransaction(func(key interface{}) bool { return key == "a" })
		require.Nil(t, tx.Begin(ctx))
		assert.False(t, tx.SupportsResource("b"))
		assert.NotNil(t, tx.BindResource("b", &recordingResource{}))
		require.Nil(t, tx.Commit())
	})

	t.Run("commitRollbackOnly", func(t *testing.T) {
		ctx := NewScope(context.Background())
		res := &recordingResource{}
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.BindResource("a", res))
		tx.SetRollbackOnly()
		err := tx.Commit()
		assert.True(t, errors.Is(err, types.ErrTransactionMarkedRollback))
		assert.Equal(t, 1, res.rolledBack)
		assert.Nil(t, Coordination.Transaction(ctx))
	})

	t.Run("finishedTwice", func(t *testing.T) {
		ctx := NewScope(context.Background())
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.Commit())
		assert.True(t, errors.Is(tx.Commit(), types.ErrIllegalTransactionState))
		assert.True(t, errors.Is(tx.Rollback(), types.ErrIllegalTransactionState))
		assert.True(t, errors.Is(tx.Begin(ctx), types.ErrIllegalTransactionState))
	})

	t.Run("timeout", func(t *testing.T) {
		ctx := NewScope(context.Background())
		res := &recordingResource{}
		tx := NewSingleResourceTransaction(nil)
		tx.SetTimeout(time.Millisecond)
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.BindResource("a", res))
		time.Sleep(time.Millisecond * 5)
		err := tx.Commit()
		assert.True(t, errors.Is(err, types.ErrTransactionTimedOut))
		assert.Equal(t, 1, res.rolledBack)
	})

	t.Run("suspendNotSupported", func(t *testing.T) {
		ctx := NewScope(context.Background())
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(ctx))
		assert.True(t, errors.Is(tx.Suspend(), types.ErrTransactionNotSupported))
		require.Nil(t, tx.Rollback())
	})
}

func TestXaTransaction(t *testing.T) {
	t.Run("onePhase", func(t *testing.T) {
		ctx := NewScope(context.Background())
		r := &fakeXA{}
		tx := NewXaTransaction()
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.BindResource("r", r))
		require.Nil(t, tx.EnlistResource("r", r))
		assert.Equal(t, 1, tx.ResourceCount())
		require.Nil(t, tx.Commit())
		assert.Equal(t, []string{"start", "end", "commit"}, r.ops())
		assert.True(t, r.onePhase)
	})

	t.Run("twoPhase", func(t *testing.T) {
		ctx := NewScope(context.Background())
		r1 := &fakeXA{}
		r2 := &fakeXA{vote: types.XARdOnly}
		tx := NewXaTransaction()
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.EnlistResource("r1", r1))
		require.Nil(t, tx.EnlistResource("r2", r2))
		require.Nil(t, tx.Commit())
		assert.Equal(t, []string{"start", "end", "prepare", "commit"}, r1.ops())
		assert.False(t, r1.onePhase)
		assert.Equal(t, []string{"start", "end", "prepare"}, r2.ops())
	})

	t.Run("prepareFailureRollsBackAll", func(t *testing.T) {
		ctx := NewScope(context.Background())
		r1 := &fakeXA{}
		r2 := &fakeXA{prepareErr: errors.New("disk full")}
		tx := NewXaTransaction()
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.EnlistResource("r1", r1))
		require.Nil(t, tx.EnlistResource("r2", r2))
		err := tx.Commit()
		require.NotNil(t, err)
		assert.Contains(t, r1.ops(), "rollback")
		assert.Contains(t, r2.ops(), "rollback")
		assert.NotContains(t, r1.ops(), "commit")
	})

	t.Run("suspendResume", func(t *testing.T) {
		ctx := NewScope(context.Background())
		r := &fakeXA{}
		tx := NewXaTransaction()
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.EnlistResource("r", r))
		require.Nil(t, Coordination.SuspendCurrentTransaction(ctx))
		assert.Nil(t, Coordination.Transaction(ctx))
		require.Nil(t, Coordination.ResumeSuspendedTransaction(ctx))
		assert.Equal(t, tx, Coordination.Transaction(ctx))
		require.Nil(t, tx.Rollback())
		assert.Equal(t, []string{"start", "end", "start", "end", "rollback"}, r.ops())
		assert.Equal(t, types.TMSuspend, r.calls[1].flag)
		assert.Equal(t, types.TMResume, r.calls[2].flag)
		assert.Equal(t, types.TMFail, r.calls[3].flag)
	})

	t.Run("rejectsNonXAResource", func(t *testing.T) {
		ctx := NewScope(context.Background())
		tx := NewXaTransaction()
		require.Nil(t, tx.Begin(ctx))
		assert.True(t, errors.Is(tx.BindResource("r", &recordingResource{}), types.ErrIllegalArgument))
		require.Nil(t, tx.Rollback())
	})
}

func TestDelegateTransaction(t *testing.T) {
	factory := &SingleResourceFactory{Supports: func(key interface{}) bool { return key == "db" }}

	t.Run("choosesFactoryOnFirstResource", func(t *testing.T) {
		ctx := NewScope(context.Background())
		res := &recordingResource{}
		tx := NewDelegateTransaction(factory)
		require.Nil(t, tx.Begin(ctx))
		assert.Nil(t, tx.Delegate())
		assert.True(t, tx.SupportsResource("db"))
		assert.False(t, tx.SupportsResource("queue"))
		require.Nil(t, tx.BindResource("db", res))
		require.NotNil(t, tx.Delegate())
		assert.Equal(t, tx, Coordination.Transaction(ctx))
		require.Nil(t, tx.Commit())
		assert.Equal(t, 1, res.committed)
		assert.True(t, tx.Delegate().IsCommitted())
	})

	t.Run("emptyTransaction", func(t *testing.T) {
		ctx := NewScope(context.Background())
		tx := NewDelegateTransaction(factory)
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.Commit())
		assert.True(t, tx.IsCommitted())
	})

	t.Run("rollbackOnlyPropagates", func(t *testing.T) {
		ctx := NewScope(context.Background())
		res := &recordingResource{}
		tx := NewDelegateTransaction(factory)
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.BindResource("db", res))
		tx.SetRollbackOnly()
		assert.NotNil(t, tx.Commit())
		assert.Equal(t, 1, res.rolledBack)
		assert.Equal(t, 0, res.committed)
	})
}

func TestConfig(t *testing.T) {
	f, ok := GetFactory(FactoryXa)
	require.True(t, ok)
	assert.True(t, NewConfig(types.ActionAlwaysBegin, f).IsTransacted())
	assert.True(t, NewConfig(types.ActionIndifferent, f).IsTransacted())
	assert.False(t, NewConfig(types.ActionNone, f).IsTransacted())
	assert.False(t, NewConfig(types.ActionNever, f).IsTransacted())
	assert.False(t, NewConfig(types.ActionBeginOrJoin, nil).IsTransacted())
	assert.False(t, DefaultConfig().IsConfigured())

	ctx := NewScope(context.Background())
	tx, err := NewConfig(types.ActionAlwaysBegin, f).WithTimeout(time.Second).Begin(ctx)
	require.Nil(t, err)
	assert.True(t, tx.IsXA())
	assert.Equal(t, time.Second, tx.Timeout())
	require.Nil(t, tx.Commit())

	_, err = DefaultConfig().Begin(ctx)
	assert.True(t, errors.Is(err, types.ErrTransactionNotAvailable))
}

func TestCommitFailure(t *testing.T) {
	t.Run("rolledBack", func(t *testing.T) {
		ctx := NewScope(context.Background())
		res := &recordingResource{commitErr: types.ErrTimeout}
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.BindResource("r", res))
		err := tx.Commit()
		assert.ErrorIs(t, err, types.ErrTransactionRolledBack)
		assert.ErrorIs(t, err, types.ErrTimeout)
		assert.Equal(t, 1, res.rolledBack)
		assert.Equal(t, types.StatusRolledBack, tx.Status())
		assert.Nil(t, Coordination.Transaction(ctx))
	})

	t.Run("unknown", func(t *testing.T) {
		ctx := NewScope(context.Background())
		res := &recordingResource{commitErr: types.ErrTimeout, rollbackErr: errors.New("gone")}
		tx := NewSingleResourceTransaction(nil)
		require.Nil(t, tx.Begin(ctx))
		require.Nil(t, tx.BindResource("r", res))
		err := tx.Commit()
		assert.ErrorIs(t, err, types.ErrTimeout)
		assert.NotErrorIs(t, err, types.ErrTransactionRolledBack)
		assert.Equal(t, types.StatusUnknown, tx.Status())
	})
}
