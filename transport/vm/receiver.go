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

package vm

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/transport/impl"
	"github.com/mulego/mulego/utils/logger"
)

// pollInterval how long a worker waits for a message before checking for stop
const pollInterval = 100 * time.Millisecond

// queuedKey marks the context of deliveries taken from a queue
type queuedKey struct{}

// Receiver consumes the queue of its endpoint.
type Receiver struct {
	*impl.BaseReceiver
	connector *Connector
	queue     *Queue
	lock      sync.Mutex
	stop      chan struct{}
	wg        sync.WaitGroup
}

func (r *Receiver) Start() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.stop != nil {
		return nil
	}
	r.stop = make(chan struct{})
	for i := 0; i < r.connector.Config.Workers; i++ {
		r.wg.Add(1)
		go r.poll(r.stop)
	}
	return nil
}

func (r *Receiver) Stop() error {
	r.lock.Lock()
	stop := r.stop
	r.stop = nil
	r.lock.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	r.wg.Wait()
	return nil
}

func (r *Receiver) poll(stop chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}
		msg, ok := r.queue.Poll(pollInterval)
		if !ok {
			continue
		}
		r.deliver(msg)
	}
}

// deliver routes msg in a fresh transaction scope.
func (r *Receiver) deliver(msg *types.Message) {
	defer func() {
		if e := recover(); e != nil {
			logger.Error(r.connector.RuntimeConfig.Logger, errors.Errorf("%v", e), "vm receiver %s panic", r.queue.Name())
		}
	}()
	ctx := transaction.NewScope(context.WithValue(context.Background(), queuedKey{}, true))
	if _, err := r.RouteMessage(ctx, msg); err != nil {
		logger.Error(r.connector.RuntimeConfig.Logger, err, "vm receiver %s: delivery of message %s failed", r.queue.Name(), msg.Id())
	}
}

// enlist registers a message taken from the queue with the delivery transaction so
// that a rollback queues it again.
func (r *Receiver) enlist(ctx context.Context, event *types.Event) error {
	if ctx.Value(queuedKey{}) == nil {
		return nil
	}
	s, err := r.connector.session(ctx)
	if err != nil || s == nil {
		return err
	}
	s.receive(r.queue, event.Message())
	return nil
}

// Dispatcher sends to the queue of its endpoint.
type Dispatcher struct {
	connector *Connector
	endpoint  endpoint.OutboundEndpoint
	queue     *Queue
}

// Dispatch queues the message, on commit when ctx is transacted.
func (d *Dispatcher) Dispatch(ctx context.Context, event *types.Event) error {
	msg := event.Message().PromoteOutbound()
	s, err := d.connector.session(ctx)
	if err != nil {
		return err
	}
	if s != nil {
		s.send(d.queue, msg)
		return nil
	}
	return d.queue.Offer(ctx, msg, d.connector.Config.QueueTimeout)
}

// Send calls the receiver of the queue in the scope of ctx and returns its reply.
func (d *Dispatcher) Send(ctx context.Context, event *types.Event) (*types.Message, error) {
	receiver, ok := d.connector.Receiver(d.queue.Name())
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "no vm receiver on %s", d.queue.Name())
	}
	return receiver.RouteMessage(ctx, event.Message().PromoteOutbound())
}

func (d *Dispatcher) Close() error {
	return nil
}
