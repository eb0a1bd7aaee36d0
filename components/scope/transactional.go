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

package scope

//{
//  "type": "transactional",
//  "configuration": {
//    "action": "ALWAYS_BEGIN",
//    "factory": "delegate",
//    "timeout": "30s"
//  },
//  "exceptionStrategy": {"type": "rollback"},
//  "routes": [{"processors": [...]}]
//}
import (
	"context"
	"time"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/execution"
	"github.com/mulego/mulego/transaction"
)

func init() {
	Registry.Add(&Transactional{})
}

// TransactionalConfiguration 节点配置
type TransactionalConfiguration struct {
	// Action ALWAYS_BEGIN (default), BEGIN_OR_JOIN, ...
	Action string
	// Factory name of a registered transaction factory. Default delegate,
	// which picks the transaction kind from the first bound resource
	Factory string
	// Timeout of begun transactions
	Timeout time.Duration
}

// Transactional 事务作用域
// Runs the nested processors in a transaction. With an exception strategy,
// failures are handled inside the scope before the transaction is resolved;
// without one, the transaction is rolled back and the failure propagates.
type Transactional struct {
	nested
	Config   TransactionalConfiguration
	txConfig *transaction.Config
	handler  types.MessagingExceptionHandler
}

func (x *Transactional) Type() string {
	return "transactional"
}

func (x *Transactional) New() types.Component {
	return &Transactional{Config: TransactionalConfiguration{
		Action:  types.ActionAlwaysBegin.String(),
		Factory: transaction.FactoryDelegate,
	}}
}

func (x *Transactional) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	action, err := types.ParseTransactionAction(x.Config.Action)
	if err != nil {
		return err
	}
	factory, ok := transaction.GetFactory(x.Config.Factory)
	if !ok {
		return types.NewNotFoundError("transaction factory " + x.Config.Factory)
	}
	timeout := x.Config.Timeout
	if timeout == 0 {
		timeout = config.DefaultTransactionTimeout
	}
	x.txConfig = transaction.NewConfig(action, factory).WithTimeout(timeout)
	return nil
}

func (x *Transactional) SetRoutes(routes []types.Route) error {
	return x.setRoutes(x.Type(), routes)
}

func (x *Transactional) SetExceptionStrategy(handler types.MessagingExceptionHandler) {
	x.handler = handler
}

// TransactionConfig the transaction configuration of the scope.
func (x *Transactional) TransactionConfig() types.TransactionConfig {
	return x.txConfig
}

func (x *Transactional) Process(event *types.Event) (*types.Event, error) {
	if err := x.ready(x.Type()); err != nil {
		return nil, err
	}
	var template *execution.Template
	if x.handler != nil {
		template = execution.NewScopeExecutionTemplate(x.txConfig, x.handler)
	} else {
		template = execution.NewTransactionalExecutionTemplate(x.txConfig)
	}
	return template.Execute(event.Context(), func(ctx context.Context) (*types.Event, error) {
		if ctx != event.Context() {
			return x.processor.Process(event.WithContext(ctx))
		}
		return x.processor.Process(event)
	})
}

func (x *Transactional) Destroy() {
}
