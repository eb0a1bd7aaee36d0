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

package exception

import (
	"strconv"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/cache"
	"github.com/mulego/mulego/utils/el"
	"github.com/mulego/mulego/utils/logger"
	"github.com/mulego/mulego/utils/str"
)

// redeliveryKeyPrefix prefix of delivery counters in the object store
const redeliveryKeyPrefix = "mulego:redelivery:"

// RedeliveryOptions configures a redelivery policy.
type RedeliveryOptions struct {
	MaxRedeliveryCount int
	// IdExpression computes the key a delivery is counted under, the message id when empty
	IdExpression string
	// DeadLetter receives the message once the limit is exceeded, may be nil
	DeadLetter types.Processor
	// CounterTtl lifetime of a counter, e.g. "1h". Empty never expires
	CounterTtl string
	Config     types.Config
}

// RedeliveryPolicy counts the deliveries of a message in an object store and
// raises MessageRedeliveredError once the limit is exceeded. It is an
// intercepting processor: the rest of the inbound pipeline runs inside it and
// the counter is cleared when processing succeeds.
//
// A redelivery count reported by the transport in MULE_REDELIVERY_COUNT takes
// precedence over the object store.
type RedeliveryPolicy struct {
	maxRedeliveryCount int
	idExpression       *el.Expression
	deadLetter         types.Processor
	ttl                string
	store              types.Cache
	config             types.Config
	next               types.Processor
}

func NewRedeliveryPolicy(opts RedeliveryOptions) (*RedeliveryPolicy, error) {
	if opts.MaxRedeliveryCount < 0 {
		return nil, types.NewIllegalArgumentError("maxRedeliveryCount must not be negative")
	}
	p := &RedeliveryPolicy{
		maxRedeliveryCount: opts.MaxRedeliveryCount,
		deadLetter:         opts.DeadLetter,
		ttl:                opts.CounterTtl,
		store:              opts.Config.Cache,
		config:             opts.Config,
	}
	if p.store == nil {
		p.store = cache.DefaultCache
	}
	if opts.IdExpression != "" {
		expr, err := el.Compile(opts.IdExpression, opts.Config.Udf)
		if err != nil {
			return nil, err
		}
		p.idExpression = expr
	}
	return p, nil
}

func (p *RedeliveryPolicy) Name() string {
	return "redeliveryPolicy"
}

func (p *RedeliveryPolicy) SetNext(next types.Processor) {
	p.next = next
}

func (p *RedeliveryPolicy) MaxRedeliveryCount() int {
	return p.maxRedeliveryCount
}

func (p *RedeliveryPolicy) key(event *types.Event) (string, error) {
	if p.idExpression == nil {
		return redeliveryKeyPrefix + event.Message().Id(), nil
	}
	v, err := p.idExpression.Eval(event)
	if err != nil {
		return "", err
	}
	return redeliveryKeyPrefix + str.ToString(v), nil
}

// transportCount the redelivery count reported by the transport, -1 when absent.
func transportCount(msg *types.Message) int {
	v := msg.InboundProperty(types.RedeliveryCountProperty)
	if v == nil {
		return -1
	}
	n, err := strconv.Atoi(str.ToString(v))
	if err != nil {
		return -1
	}
	return n
}

func (p *RedeliveryPolicy) Process(event *types.Event) (*types.Event, error) {
	msg := event.Message()
	key, err := p.key(event)
	if err != nil {
		return nil, err
	}
	redeliveries := transportCount(msg)
	counted := redeliveries < 0
	if counted {
		deliveries, err := p.store.Incr(key, p.ttl)
		if err != nil {
			return nil, err
		}
		redeliveries = int(deliveries) - 1
	}
	if redeliveries > p.maxRedeliveryCount {
		if counted {
			_ = p.store.Delete(key)
		}
		if p.deadLetter != nil {
			if _, err := p.deadLetter.Process(event.Copy()); err != nil {
				logger.Error(p.config.Logger, err, "redelivery policy: dead letter of message %s", msg.Id())
			}
		}
		return nil, &types.MessageRedeliveredError{MessageId: msg.Id(), Count: redeliveries, Max: p.maxRedeliveryCount}
	}
	if p.next == nil {
		return event, nil
	}
	result, err := p.next.Process(event)
	if counted {
		if me, ok := types.AsMessagingException(err); err == nil || (ok && me.Handled()) {
			_ = p.store.Delete(key)
		}
	}
	return result, err
}
