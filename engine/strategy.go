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

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/components/base"
	"github.com/mulego/mulego/execution"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/utils/logger"
)

// Processing strategies
const (
	Synchronous        = "synchronous"
	Asynchronous       = "asynchronous"
	QueuedAsynchronous = "queued-asynchronous"
)

const (
	DefaultMaxThreads   = 16
	DefaultQueueSize    = 1000
	DefaultQueueTimeout = 10 * time.Second
)

// ProcessingStrategy decides on which goroutine the pipeline of a flow runs.
//
// ProcessingStrategy 处理策略
type ProcessingStrategy interface {
	// Process runs event through pipeline, or hands it off and returns nil
	Process(event *types.Event, pipeline types.Processor) (*types.Event, error)
	Start() error
	Stop() error
}

// NewProcessingStrategy creates the strategy named by kind. handler receives the failures of
// asynchronous executions.
func NewProcessingStrategy(kind string, maxThreads, queueSize int, handler types.MessagingExceptionHandler, config types.Config) (ProcessingStrategy, error) {
	switch kind {
	case "", Synchronous:
		return &SynchronousStrategy{}, nil
	case Asynchronous:
		return &AsynchronousStrategy{handler: handler, config: config}, nil
	case QueuedAsynchronous:
		if maxThreads <= 0 {
			maxThreads = DefaultMaxThreads
		}
		if queueSize <= 0 {
			queueSize = DefaultQueueSize
		}
		return &QueuedAsynchronousStrategy{maxThreads: maxThreads, queueSize: queueSize, handler: handler, config: config}, nil
	default:
		return nil, errors.Wrapf(types.ErrIllegalArgument, "unknown processing strategy %s", kind)
	}
}

// mustRunSynchronously request-response and transacted events never leave the caller's goroutine.
func mustRunSynchronously(event *types.Event) bool {
	return event.ExchangePattern().HasResponse() || event.IsSynchronous() ||
		transaction.Coordination.IsTransacted(event.Context())
}

// runAsync processes a detached copy of event, failures go to handler.
func runAsync(config types.Config, handler types.MessagingExceptionHandler, pipeline types.Processor, event *types.Event) {
	template := execution.NewErrorHandlingExecutionTemplate(handler)
	if _, err := template.Execute(event.Context(), func(ctx context.Context) (*types.Event, error) {
		out, err := pipeline.Process(event)
		if err != nil {
			return nil, execution.ToMessagingException(event, err, pipeline)
		}
		return out, nil
	}); err != nil {
		logger.Error(config.Logger, err, "flow %s: asynchronous processing failed", event.FlowName())
	}
}

// SynchronousStrategy runs the pipeline on the caller's goroutine.
type SynchronousStrategy struct{}

func (s *SynchronousStrategy) Process(event *types.Event, pipeline types.Processor) (*types.Event, error) {
	return pipeline.Process(event)
}

func (s *SynchronousStrategy) Start() error {
	return nil
}

func (s *SynchronousStrategy) Stop() error {
	return nil
}

// AsynchronousStrategy hands one-way events to the worker pool.
type AsynchronousStrategy struct {
	handler  types.MessagingExceptionHandler
	config   types.Config
	graceful base.GracefulShutdown
}

func (s *AsynchronousStrategy) Process(event *types.Event, pipeline types.Processor) (*types.Event, error) {
	if mustRunSynchronously(event) {
		return pipeline.Process(event)
	}
	if err := s.graceful.BeginOp(); err != nil {
		return nil, err
	}
	async := base.AsyncEvent(event)
	if err := base.Submit(s.config, func() {
		defer s.graceful.EndOp()
		runAsync(s.config, s.handler, pipeline, async)
	}); err != nil {
		s.graceful.EndOp()
		return nil, errors.Wrap(err, "submit asynchronous event")
	}
	return nil, nil
}

func (s *AsynchronousStrategy) Start() error {
	s.graceful.Reset()
	return nil
}

// Stop waits for the in-flight events.
func (s *AsynchronousStrategy) Stop() error {
	s.graceful.GracefulStop(s.config.Logger, "asynchronous processing strategy", base.DefaultShutdownTimeout)
	return nil
}

// QueuedAsynchronousStrategy queues one-way events for a fixed set of workers. A full
// queue blocks the caller until there is room, its context is done or the default
// response timeout elapses.
type QueuedAsynchronousStrategy struct {
	maxThreads int
	queueSize  int
	handler    types.MessagingExceptionHandler
	config     types.Config
	graceful   base.GracefulShutdown

	lock  sync.Mutex
	queue chan queued
	stop  chan struct{}
	wg    sync.WaitGroup
}

type queued struct {
	event    *types.Event
	pipeline types.Processor
}

func (s *QueuedAsynchronousStrategy) MaxThreads() int {
	return s.maxThreads
}

func (s *QueuedAsynchronousStrategy) QueueSize() int {
	return s.queueSize
}

// Pending events waiting in the queue.
func (s *QueuedAsynchronousStrategy) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.queue)
}

func (s *QueuedAsynchronousStrategy) Process(event *types.Event, pipeline types.Processor) (*types.Event, error) {
	if mustRunSynchronously(event) {
		return pipeline.Process(event)
	}
	s.lock.Lock()
	queue := s.queue
	s.lock.Unlock()
	if queue == nil {
		return nil, types.NewIllegalStateError("queued processing strategy is not started")
	}
	if err := s.graceful.BeginOp(); err != nil {
		return nil, err
	}
	item := queued{event: base.AsyncEvent(event), pipeline: pipeline}
	select {
	case queue <- item:
		return nil, nil
	default:
	}
	timeout := s.config.DefaultResponseTimeout
	if timeout <= 0 {
		timeout = DefaultQueueTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case queue <- item:
		return nil, nil
	case <-event.Context().Done():
		s.graceful.EndOp()
		return nil, errors.Wrap(types.ErrTimeout, "queue is full")
	case <-timer.C:
		s.graceful.EndOp()
		return nil, errors.Wrapf(types.ErrTimeout, "queue is full after %s", timeout)
	}
}

func (s *QueuedAsynchronousStrategy) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.queue != nil {
		return nil
	}
	s.graceful.Reset()
	s.queue = make(chan queued, s.queueSize)
	s.stop = make(chan struct{})
	for i := 0; i < s.maxThreads; i++ {
		s.wg.Add(1)
		go s.work(s.queue, s.stop)
	}
	return nil
}

func (s *QueuedAsynchronousStrategy) work(queue chan queued, stop chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case q := <-queue:
			runAsync(s.config, s.handler, q.pipeline, q.event)
			s.graceful.EndOp()
		case <-stop:
			return
		}
	}
}

// Stop drains the queue, then stops the workers.
func (s *QueuedAsynchronousStrategy) Stop() error {
	s.lock.Lock()
	if s.queue == nil {
		s.lock.Unlock()
		return nil
	}
	stop := s.stop
	s.queue, s.stop = nil, nil
	s.lock.Unlock()

	start := time.Now()
	if !s.graceful.GracefulStop(s.config.Logger, "queued processing strategy", base.DefaultShutdownTimeout) {
		logger.Warn(s.config.Logger, "queued processing strategy: dropping queued events after %s", time.Since(start))
	}
	close(stop)
	s.wg.Wait()
	return nil
}
