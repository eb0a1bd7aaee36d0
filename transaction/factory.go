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

// Built-in factory names.
const (
	FactoryXa       = "xa"
	FactoryDelegate = "delegate"
)

var factories = struct {
	lock      sync.RWMutex
	named     map[string]types.TransactionFactory
	resources []ResourceTransactionFactory
}{named: make(map[string]types.TransactionFactory)}

func init() {
	RegisterFactory(FactoryXa, &XaTransactionFactory{})
	RegisterFactory(FactoryDelegate, &DelegateTransactionFactory{})
}

// RegisterFactory registers a named transaction factory. Factories that are also
// ResourceTransactionFactory become candidates of delegate transactions.
func RegisterFactory(name string, f types.TransactionFactory) {
	factories.lock.Lock()
	defer factories.lock.Unlock()
	factories.named[name] = f
	if rf, ok := f.(ResourceTransactionFactory); ok {
		factories.resources = append(factories.resources, rf)
	}
}

// GetFactory returns a registered factory.
func GetFactory(name string) (types.TransactionFactory, bool) {
	factories.lock.RLock()
	defer factories.lock.RUnlock()
	f, ok := factories.named[name]
	return f, ok
}

// ResourceFactories returns the registered resource transaction factories.
func ResourceFactories() []ResourceTransactionFactory {
	factories.lock.RLock()
	defer factories.lock.RUnlock()
	c := make([]ResourceTransactionFactory, len(factories.resources))
	copy(c, factories.resources)
	return c
}

// begin begins tx in ctx applying the timeout.
func begin(ctx context.Context, tx types.Transaction, timeout time.Duration) (types.Transaction, error) {
	if timeout > 0 {
		tx.SetTimeout(timeout)
	}
	if err := tx.Begin(ctx); err != nil {
		return nil, err
	}
	return tx, nil
}

var _ types.ExternalTransactionFactory = (*XaTransactionFactory)(nil)

// XaTransactionFactory begins XA transactions and joins external ones.
type XaTransactionFactory struct {
	Timeout time.Duration
}

func (f *XaTransactionFactory) BeginTransaction(ctx context.Context) (types.Transaction, error) {
	return begin(ctx, NewXaTransaction(), f.Timeout)
}

func (f *XaTransactionFactory) IsTransacted() bool {
	return true
}

// JoinExternalTransaction binds the external XA transaction carried by ctx to the
// scope of ctx. It returns nil when ctx carries none. The caller unbinds it once done;
// its owner commits or rolls it back.
func (f *XaTransactionFactory) JoinExternalTransaction(ctx context.Context) (types.Transaction, error) {
	tx, ok := ExternalTransaction(ctx)
	if !ok {
		return nil, nil
	}
	if !tx.IsXA() {
		return nil, errors.Wrapf(types.ErrIllegalTransactionState, "external transaction %s is not an xa transaction", tx.Id())
	}
	if s := tx.Status(); s != types.StatusActive && s != types.StatusMarkedRollback {
		return nil, errors.Wrapf(types.ErrIllegalTransactionState, "cannot join external transaction %s in status %s", tx.Id(), s)
	}
	if err := Coordination.BindTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

type externalKey struct{}

// WithExternalTransaction returns a child context carrying tx, a transaction owned
// outside mulego. Executions configured to interact with external transactions join it.
func WithExternalTransaction(ctx context.Context, tx types.Transaction) context.Context {
	return context.WithValue(ctx, externalKey{}, tx)
}

// ExternalTransaction returns the external transaction carried by ctx.
func ExternalTransaction(ctx context.Context) (types.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(externalKey{}).(types.Transaction)
	return tx, ok && tx != nil
}

// DelegateTransactionFactory begins delegate transactions over the registered resource factories.
type DelegateTransactionFactory struct {
	Timeout time.Duration
}

func (f *DelegateTransactionFactory) BeginTransaction(ctx context.Context) (types.Transaction, error) {
	return begin(ctx, NewDelegateTransaction(ResourceFactories()...), f.Timeout)
}

func (f *DelegateTransactionFactory) IsTransacted() bool {
	return true
}

// SingleResourceFactory begins single resource transactions for resource keys
// accepted by Supports. It also serves delegate transactions.
type SingleResourceFactory struct {
	Supports func(key interface{}) bool
	Timeout  time.Duration
}

func (f *SingleResourceFactory) BeginTransaction(ctx context.Context) (types.Transaction, error) {
	return begin(ctx, f.NewTransaction(), f.Timeout)
}

func (f *SingleResourceFactory) IsTransacted() bool {
	return true
}

func (f *SingleResourceFactory) SupportsResource(key interface{}) bool {
	return f.Supports != nil && f.Supports(key)
}

func (f *SingleResourceFactory) NewTransaction() types.Transaction {
	return NewSingleResourceTransaction(f.Supports)
}
