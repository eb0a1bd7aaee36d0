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

package filter

//{
//  "type": "idempotentFilter",
//  "configuration": {
//    "idExpression": "msg.orderId",
//    "ttl": "24h"
//  }
//}
import (
	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/cache"
	"github.com/mulego/mulego/utils/el"
	"github.com/mulego/mulego/utils/str"
)

func init() {
	Registry.Add(&IdempotentFilter{})
}

// IdempotentFilterConfiguration 节点配置
type IdempotentFilterConfiguration struct {
	Unaccepted `mapstructure:",squash"`
	// IdExpression computes the id of an event, the message id when empty
	IdExpression string
	// Ttl how long a processed id is remembered, e.g. "24h". Empty forever
	Ttl string
	// StorePrefix key prefix in the object store
	StorePrefix string
}

// IdempotentFilter rejects events whose id was already seen. Ids are kept in
// the object store of the configuration (memory or redis).
type IdempotentFilter struct {
	Config       IdempotentFilterConfiguration
	idExpression *el.Expression
	store        types.Cache
}

func (x *IdempotentFilter) Type() string {
	return "idempotentFilter"
}

func (x *IdempotentFilter) New() types.Component {
	return &IdempotentFilter{Config: IdempotentFilterConfiguration{StorePrefix: "mulego:idempotent:"}}
}

func (x *IdempotentFilter) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	if x.Config.IdExpression != "" {
		expression, err := el.Compile(x.Config.IdExpression, config.Udf)
		if err != nil {
			return err
		}
		x.idExpression = expression
	}
	x.store = config.Cache
	if x.store == nil {
		x.store = cache.DefaultCache
	}
	return nil
}

func (x *IdempotentFilter) Accept(event *types.Event) (bool, error) {
	id := event.Message().Id()
	if x.idExpression != nil {
		v, err := x.idExpression.Eval(event)
		if err != nil {
			return false, err
		}
		if v == nil {
			return false, types.NewIllegalArgumentError("idempotent filter: id expression returned nil")
		}
		id = str.ToString(v)
	}
	return x.store.SetIfAbsent(x.Config.StorePrefix+id, true, x.Config.Ttl)
}

func (x *IdempotentFilter) Process(event *types.Event) (*types.Event, error) {
	return process(x, x.Type(), x.Config.ThrowOnUnaccepted, event)
}

func (x *IdempotentFilter) Destroy() {
}
