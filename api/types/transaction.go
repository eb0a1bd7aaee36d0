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

import (
	"context"
	"strings"
	"time"
)

// TransactionStatus 事务状态
type TransactionStatus int

const (
	StatusNoTransaction TransactionStatus = iota
	StatusActive
	StatusMarkedRollback
	StatusPreparing
	StatusPrepared
	StatusCommitting
	StatusCommitted
	StatusRollingBack
	StatusRolledBack
	StatusUnknown
)

var transactionStatusNames = [...]string{
	"NO_TRANSACTION", "ACTIVE", "MARKED_ROLLBACK", "PREPARING", "PREPARED",
	"COMMITTING", "COMMITTED", "ROLLING_BACK", "ROLLED_BACK", "UNKNOWN",
}

func (s TransactionStatus) String() string {
	if int(s) < len(transactionStatusNames) {
		return transactionStatusNames[s]
	}
	return "UNKNOWN"
}

// TransactionAction decides how an execution template treats transactions.
type TransactionAction int

const (
	// ActionIndifferent leave whatever is bound untouched
	ActionIndifferent TransactionAction = iota
	// ActionNone run outside of any transaction
	ActionNone
	// ActionAlwaysBegin begin a new transaction, resolving or suspending the current one
	ActionAlwaysBegin
	// ActionBeginOrJoin join the current transaction or begin one
	ActionBeginOrJoin
	// ActionAlwaysJoin a transaction must already be bound
	ActionAlwaysJoin
	// ActionJoinIfPossible join the current transaction if any
	ActionJoinIfPossible
	// ActionNever fail if a transaction is bound
	ActionNever
	// ActionNotSupported run outside of the current transaction
	ActionNotSupported
)

var transactionActionNames = map[TransactionAction]string{
	ActionIndifferent:    "INDIFFERENT",
	ActionNone:           "NONE",
	ActionAlwaysBegin:    "ALWAYS_BEGIN",
	ActionBeginOrJoin:    "BEGIN_OR_JOIN",
	ActionAlwaysJoin:     "ALWAYS_JOIN",
	ActionJoinIfPossible: "JOIN_IF_POSSIBLE",
	ActionNever:          "NEVER",
	ActionNotSupported:   "NOT_SUPPORTED",
}

func (a TransactionAction) String() string {
	if s, ok := transactionActionNames[a]; ok {
		return s
	}
	return "UNKNOWN"
}

// ParseTransactionAction parses an action name, case insensitive. Empty is INDIFFERENT.
func ParseTransactionAction(s string) (TransactionAction, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if name == "" {
		return ActionIndifferent, nil
	}
	for a, n := range transactionActionNames {
		if n == name {
			return a, nil
		}
	}
	return ActionIndifferent, NewIllegalArgumentError("unknown transaction action: " + s)
}

// Transaction is a unit of work bound to a transaction scope.
// 事务
type Transaction interface {
	Id() string
	// Begin starts the transaction and binds it to the scope of ctx.
	Begin(ctx context.Context) error
	// Commit commits, or rolls back when marked rollback-only, and unbinds.
	Commit() error
	// Rollback rolls back and unbinds.
	Rollback() error
	Status() TransactionStatus
	IsBegun() bool
	IsCommitted() bool
	IsRolledBack() bool
	SetRollbackOnly()
	IsRollbackOnly() bool
	IsXA() bool
	Suspend() error
	Resume() error
	// BindResource binds a resource under key.
	BindResource(key interface{}, resource interface{}) error
	Resource(key interface{}) interface{}
	HasResource(key interface{}) bool
	// SupportsResource reports whether a resource of this kind can be bound.
	SupportsResource(key interface{}) bool
	Timeout() time.Duration
	SetTimeout(timeout time.Duration)
}

// TransactionFactory begins transactions of one kind.
type TransactionFactory interface {
	BeginTransaction(ctx context.Context) (Transaction, error)
	// IsTransacted false for factories that only suspend the current transaction.
	IsTransacted() bool
}

// ExternalTransactionFactory joins a transaction started outside of mulego.
type ExternalTransactionFactory interface {
	TransactionFactory
	JoinExternalTransaction(ctx context.Context) (Transaction, error)
}

// TransactionConfig is the transaction configuration of an endpoint or scope.
type TransactionConfig interface {
	Action() TransactionAction
	Factory() TransactionFactory
	Timeout() time.Duration
	InteractWithExternal() bool
	// IsTransacted the action can begin a transaction and the factory is transacted.
	IsTransacted() bool
	// IsConfigured a factory was configured.
	IsConfigured() bool
}

// TransactionalResource is a resource committed or rolled back by a single-resource transaction.
type TransactionalResource interface {
	Commit() error
	Rollback() error
}

// Xid identifies a branch of a distributed transaction.
type Xid struct {
	FormatId            int
	GlobalTransactionId string
	BranchQualifier     string
}

// XA flags
const (
	TMNoFlags = 0
	TMJoin    = 1 << 21
	TMResume  = 1 << 27
	TMSuccess = 1 << 26
	TMFail    = 1 << 29
	TMSuspend = 1 << 25
)

// XA prepare votes
const (
	XAOk     = 0
	XARdOnly = 3
)

// XAResource is a resource participating in a two-phase commit.
type XAResource interface {
	Start(xid Xid, flags int) error
	End(xid Xid, flags int) error
	Prepare(xid Xid) (int, error)
	Commit(xid Xid, onePhase bool) error
	Rollback(xid Xid) error
}
