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

package base

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
)

// DefaultShutdownTimeout 默认优雅停机超时时间
const DefaultShutdownTimeout = 10 * time.Second

// ErrShuttingDown returned by BeginOp once shutdown started.
var ErrShuttingDown = errors.New("shutting down")

// GracefulShutdown tracks in-flight operations of a component so that stopping
// it waits for them, up to a timeout. The zero value is ready to use.
//
// GracefulShutdown 跟踪进行中的操作，停机时等待它们完成
type GracefulShutdown struct {
	isShuttingDown int32
	wg             sync.WaitGroup
	// lock orders Add against Wait
	lock   sync.RWMutex
	cancel context.CancelFunc
	ctx    context.Context
	once   sync.Once
}

func (g *GracefulShutdown) init() {
	g.once.Do(func() {
		g.ctx, g.cancel = context.WithCancel(context.Background())
	})
}

// ShutdownContext is cancelled when a graceful stop times out.
func (g *GracefulShutdown) ShutdownContext() context.Context {
	g.init()
	return g.ctx
}

// BeginOp registers an operation, ErrShuttingDown once shutdown started.
func (g *GracefulShutdown) BeginOp() error {
	g.lock.RLock()
	defer g.lock.RUnlock()
	if atomic.LoadInt32(&g.isShuttingDown) == 1 {
		return ErrShuttingDown
	}
	g.wg.Add(1)
	return nil
}

// EndOp completes an operation started by BeginOp.
func (g *GracefulShutdown) EndOp() {
	g.wg.Done()
}

func (g *GracefulShutdown) IsShuttingDown() bool {
	return atomic.LoadInt32(&g.isShuttingDown) == 1
}

// GracefulStop rejects new operations and waits for in-flight ones. After timeout
// the shutdown context is cancelled and false is returned.
func (g *GracefulShutdown) GracefulStop(logger types.Logger, name string, timeout time.Duration) bool {
	g.init()
	g.lock.Lock()
	if !atomic.CompareAndSwapInt32(&g.isShuttingDown, 0, 1) {
		g.lock.Unlock()
		return true
	}
	g.lock.Unlock()
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		if logger != nil {
			logger.Printf("%s: graceful stop timed out after %s, cancelling in-flight operations", name, timeout)
		}
		g.cancel()
		return false
	}
}

// Reset allows operations again after a stop.
func (g *GracefulShutdown) Reset() {
	g.lock.Lock()
	defer g.lock.Unlock()
	atomic.StoreInt32(&g.isShuttingDown, 0)
	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.once.Do(func() {})
}
