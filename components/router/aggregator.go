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

package router

//{
//  "type": "aggregator",
//  "configuration": {
//    "timeout": "30s",
//    "failOnTimeout": true
//  }
//}
import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/components/base"
	"github.com/mulego/mulego/utils/cache"
	"github.com/mulego/mulego/utils/logger"
)

// ErrCorrelationTimeout a correlation group did not complete in time.
var ErrCorrelationTimeout = errors.New("correlation group timed out")

func init() {
	Registry.Add(&Aggregator{})
}

// AggregatorConfiguration 节点配置
type AggregatorConfiguration struct {
	// Timeout of an incomplete group, 0 waits forever
	Timeout time.Duration
	// FailOnTimeout report expired groups to the exception listener of the flow
	// instead of releasing the partial group
	FailOnTimeout bool
	// ProcessedGroupsTtl how long completed group ids are remembered, late parts are dropped
	ProcessedGroupsTtl string
}

type group struct {
	id      string
	size    int
	events  []*types.Event
	created time.Time
}

func (g *group) complete() bool {
	return g.size > 0 && len(g.events) >= g.size
}

// Aggregator 聚合器
// Collects the events of a correlation group and, once the group is complete,
// sends one event holding the payloads in sequence order through the rest of
// the chain. Events of incomplete groups are consumed.
type Aggregator struct {
	Config    AggregatorConfiguration
	next      types.Processor
	config    types.Config
	store     types.Cache
	keyPrefix string
	groups    map[string]*group
	lock      sync.Mutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func (x *Aggregator) Type() string {
	return "aggregator"
}

func (x *Aggregator) New() types.Component {
	return &Aggregator{Config: AggregatorConfiguration{ProcessedGroupsTtl: "1h"}}
}

func (x *Aggregator) Init(config types.Config, configuration types.Configuration) error {
	if err := decode(configuration, &x.Config); err != nil {
		return err
	}
	x.config = config
	x.store = config.Cache
	if x.store == nil {
		x.store = cache.DefaultCache
	}
	x.keyPrefix = "mulego:aggregator:" + types.NewId() + ":"
	x.groups = make(map[string]*group)
	x.stop = make(chan struct{})
	if x.Config.Timeout > 0 {
		go x.reap()
	}
	return nil
}

func (x *Aggregator) SetNext(next types.Processor) {
	x.next = next
}

func (x *Aggregator) Process(event *types.Event) (*types.Event, error) {
	correlation := event.Message().Correlation()
	if !correlation.IsSet() {
		return nil, routeError(x.Type(), "message has no correlation id", nil)
	}
	x.lock.Lock()
	if x.store.Has(x.keyPrefix + correlation.Id) {
		x.lock.Unlock()
		logger.Debug(x.config.Logger, "aggregator: dropping late part of completed group %s", correlation.Id)
		return nil, nil
	}
	g, ok := x.groups[correlation.Id]
	if !ok {
		g = &group{id: correlation.Id, created: time.Now()}
		x.groups[correlation.Id] = g
	}
	if correlation.GroupSize > 0 {
		g.size = correlation.GroupSize
	}
	g.events = append(g.events, event)
	if !g.complete() {
		x.lock.Unlock()
		return nil, nil
	}
	x.remove(g)
	x.lock.Unlock()
	return x.release(g, event)
}

// remove forgets g and remembers it as processed. Must hold the lock.
func (x *Aggregator) remove(g *group) {
	delete(x.groups, g.id)
	if err := x.store.Set(x.keyPrefix+g.id, true, x.Config.ProcessedGroupsTtl); err != nil {
		logger.Error(x.config.Logger, err, "aggregator: failed to store processed group %s", g.id)
	}
}

// aggregate builds the message of g on top of the message of event.
func aggregate(g *group, event *types.Event) *types.Event {
	events := make([]*types.Event, len(g.events))
	copy(events, g.events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Message().Correlation().Sequence < events[j].Message().Correlation().Sequence
	})
	payloads := make([]interface{}, len(events))
	for i, e := range events {
		payloads[i] = e.Message().Payload()
	}
	msg := event.Message().Builder().
		Id(types.NewId()).
		Payload(payloads).
		DataType(types.JSON).
		Correlation(types.Correlation{}).
		RemoveOutboundProperty(types.CorrelationIdProperty).
		RemoveOutboundProperty(types.CorrelationGroupSizeProperty).
		RemoveOutboundProperty(types.CorrelationSequenceProperty).
		Build()
	return event.WithMessage(msg)
}

func (x *Aggregator) release(g *group, event *types.Event) (*types.Event, error) {
	aggregated := aggregate(g, event)
	if x.next == nil {
		return aggregated, nil
	}
	return x.next.Process(aggregated)
}

func (x *Aggregator) reap() {
	interval := x.Config.Timeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-x.stop:
			return
		case now := <-ticker.C:
			for _, g := range x.expired(now) {
				x.timeout(g)
			}
		}
	}
}

func (x *Aggregator) expired(now time.Time) []*group {
	x.lock.Lock()
	defer x.lock.Unlock()
	var out []*group
	for _, g := range x.groups {
		if now.Sub(g.created) >= x.Config.Timeout {
			x.remove(g)
			out = append(out, g)
		}
	}
	return out
}

// timeout handles an expired group on a new unit of work.
func (x *Aggregator) timeout(g *group) {
	last := base.AsyncEvent(g.events[len(g.events)-1])
	handle := func(err error) {
		if listener := handlerOf(last); listener != nil {
			listener.HandleException(types.NewMessagingException(last, err, x), last)
			return
		}
		logger.Error(x.config.Logger, err, "aggregator: group %s", g.id)
	}
	if x.Config.FailOnTimeout {
		handle(errors.Wrapf(ErrCorrelationTimeout, "group %s received %d of %d parts", g.id, len(g.events), g.size))
		return
	}
	err := base.Submit(x.config, func() {
		if _, err := x.release(g, last); err != nil {
			handle(err)
		}
	})
	if err != nil {
		handle(err)
	}
}

func handlerOf(event *types.Event) types.MessagingExceptionHandler {
	if flow := event.FlowConstruct(); flow != nil {
		return flow.ExceptionListener()
	}
	return nil
}

func (x *Aggregator) Destroy() {
	x.stopOnce.Do(func() {
		if x.stop != nil {
			close(x.stop)
		}
	})
}
