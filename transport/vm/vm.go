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

// Package vm provides an in-memory transport: named queues shared by the endpoints of a
// connector.
//
// One-way dispatches are queued and consumed by the receiver of the queue. Inside a
// transaction the dispatched messages are buffered and queued on commit, and received
// messages are queued again on rollback. Request-response dispatches call the receiver
// of the queue directly in the caller's transaction scope, so the receiving flow can join
// the caller's transaction.
//
// Package vm 提供内存队列传输。
//
// Connector configuration example:
//
//	{
//	  "id": "memory",
//	  "type": "vm",
//	  "configuration": {
//	    "queueSize": 1024,
//	    "queueTimeout": "1s",
//	    "workers": 4
//	  }
//	}
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
	"github.com/mulego/mulego/utils/maps"
	"github.com/mulego/mulego/utils/validate"
)

// Type protocol of the vm transport
const Type = "vm"

// FactoryName name of the vm transaction factory
const FactoryName = "vm"

// Factory begins single resource transactions over vm queues.
var Factory = &transaction.SingleResourceFactory{Supports: func(key interface{}) bool {
	_, ok := key.(*Connector)
	return ok
}}

func init() {
	transaction.RegisterFactory(FactoryName, Factory)
}

// Configuration vm connector configuration
type Configuration struct {
	// QueueSize capacity of each queue
	QueueSize int `json:"queueSize" validate:"gt=0"`
	// QueueTimeout how long a dispatch waits for room in a full queue
	QueueTimeout time.Duration `json:"queueTimeout" validate:"gt=0"`
	// Workers concurrent deliveries of each receiver
	Workers int `json:"workers" validate:"gt=0"`
}

var _ endpoint.Connector = (*Connector)(nil)

// Connector vm connector
type Connector struct {
	impl.BaseConnector
	Config Configuration
	lock   sync.Mutex
	queues map[string]*Queue
}

func (c *Connector) New() endpoint.Connector {
	return &Connector{Config: Configuration{QueueSize: 1024, QueueTimeout: time.Second, Workers: 1}}
}

func (c *Connector) Type() string {
	return Type
}

func (c *Connector) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &c.Config); err != nil {
		return err
	}
	if err := validate.Struct(c.Config); err != nil {
		return err
	}
	c.queues = make(map[string]*Queue)
	return c.InitBase(c, Type, config)
}

func (c *Connector) TransactionFactory() types.TransactionFactory {
	return Factory
}

func (c *Connector) DoConnect(ctx context.Context) error {
	return nil
}

func (c *Connector) DoDisconnect() error {
	return nil
}

// Queue returns the queue of address, created on first use. Queues outlive restarts.
func (c *Connector) Queue(address string) *Queue {
	c.lock.Lock()
	defer c.lock.Unlock()
	q, ok := c.queues[address]
	if !ok {
		q = newQueue(address, c.Config.QueueSize)
		c.queues[address] = q
	}
	return q
}

func (c *Connector) NewReceiver(ep endpoint.InboundEndpoint) (endpoint.MessageReceiver, error) {
	r := &Receiver{
		BaseReceiver: impl.NewBaseReceiver(ep),
		connector:    c,
		queue:        c.Queue(impl.ReceiverKey(ep)),
	}
	r.BeforeRoute = r.enlist
	return r, nil
}

func (c *Connector) NewDispatcher(ep endpoint.OutboundEndpoint) (endpoint.MessageDispatcher, error) {
	return &Dispatcher{connector: c, endpoint: ep, queue: c.Queue(impl.ReceiverKey(ep))}, nil
}

// session returns the queue session bound to the transaction of ctx, nil outside of a
// transaction able to take a vm resource.
func (c *Connector) session(ctx context.Context) (*Session, error) {
	tx := transaction.Coordination.Transaction(ctx)
	if tx == nil {
		return nil, nil
	}
	switch r := tx.Resource(c).(type) {
	case *Session:
		return r, nil
	case *XASession:
		return r.session, nil
	}
	if !tx.SupportsResource(c) {
		return nil, nil
	}
	s := &Session{timeout: c.Config.QueueTimeout}
	var resource interface{} = s
	if tx.IsXA() {
		resource = s.XA()
	}
	if err := tx.BindResource(c, resource); err != nil {
		return nil, err
	}
	return s, nil
}

// Queue in-memory message queue. slots counts queued plus reserved messages,
// so a batch can claim room for all of its messages before any is queued.
type Queue struct {
	name  string
	ch    chan *types.Message
	slots chan struct{}
}

func newQueue(name string, size int) *Queue {
	return &Queue{name: name, ch: make(chan *types.Message, size), slots: make(chan struct{}, size)}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) Size() int {
	return len(q.ch)
}

// Offer queues msg, waiting up to timeout for room.
func (q *Queue) Offer(ctx context.Context, msg *types.Message, timeout time.Duration) error {
	if err := q.reserve(ctx, timeout); err != nil {
		return err
	}
	q.ch <- msg
	return nil
}

// reserve claims room for one message. The caller either queues a message or releases it.
func (q *Queue) reserve(ctx context.Context, timeout time.Duration) error {
	select {
	case q.slots <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.Wrapf(types.ErrTimeout, "vm queue %s is full", q.name)
	}
}

func (q *Queue) release() {
	<-q.slots
}

// Poll takes the next message, waiting up to timeout. false when none arrived.
func (q *Queue) Poll(timeout time.Duration) (*types.Message, bool) {
	select {
	case msg := <-q.ch:
		q.release()
		return msg, true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-q.ch:
		q.release()
		return msg, true
	case <-timer.C:
		return nil, false
	}
}

type pending struct {
	queue *Queue
	msg   *types.Message
}

// deliver queues all items or none of them.
func deliver(items []pending, timeout time.Duration) error {
	for i, p := range items {
		if err := p.queue.reserve(context.Background(), timeout); err != nil {
			for _, r := range items[:i] {
				r.queue.release()
			}
			return err
		}
	}
	for _, p := range items {
		p.queue.ch <- p.msg
	}
	return nil
}

// Session is the transactional resource of a vm connector: messages sent inside the
// transaction are queued on commit, received messages are queued again on rollback.
// A commit or rollback that cannot queue every message queues none and keeps them pending.
// It takes part in XA transactions through XA.
type Session struct {
	lock     sync.Mutex
	timeout  time.Duration
	sent     []pending
	received []pending
}

var (
	_ types.TransactionalResource = (*Session)(nil)
	_ types.XAResource            = (*XASession)(nil)
)

func (s *Session) send(q *Queue, msg *types.Message) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sent = append(s.sent, pending{queue: q, msg: msg})
}

func (s *Session) receive(q *Queue, msg *types.Message) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.received = append(s.received, pending{queue: q, msg: msg})
}

// Pending number of messages waiting for commit.
func (s *Session) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.sent)
}

func (s *Session) queueTimeout() time.Duration {
	if s.timeout > 0 {
		return s.timeout
	}
	return time.Second
}

func (s *Session) Commit() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := deliver(s.sent, s.queueTimeout()); err != nil {
		return errors.Wrapf(err, "commit %d vm messages", len(s.sent))
	}
	s.sent, s.received = nil, nil
	return nil
}

// Rollback discards sent messages and queues received ones again.
func (s *Session) Rollback() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sent = nil
	if err := deliver(s.received, s.queueTimeout()); err != nil {
		return errors.Wrapf(err, "requeue %d vm messages", len(s.received))
	}
	s.received = nil
	return nil
}

// XA exposes the session as an XA resource.
func (s *Session) XA() *XASession {
	return &XASession{session: s}
}

// XASession is a vm session enlisted in an XA transaction.
type XASession struct {
	session *Session
}

func (x *XASession) Start(xid types.Xid, flags int) error {
	return nil
}

func (x *XASession) End(xid types.Xid, flags int) error {
	return nil
}

func (x *XASession) Prepare(xid types.Xid) (int, error) {
	s := x.session
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.sent) == 0 && len(s.received) == 0 {
		return types.XARdOnly, nil
	}
	return types.XAOk, nil
}

func (x *XASession) Commit(xid types.Xid, onePhase bool) error {
	return x.session.Commit()
}

func (x *XASession) Rollback(xid types.Xid) error {
	return x.session.Rollback()
}
