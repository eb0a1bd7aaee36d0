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

// Package pool provides the worker pool used by asynchronous processing strategies,
// async scopes and receivers.
//
// The scheduling follows fasthttp's workerpool.go (Valyala, Version 1.48.0,
// https://github.com/valyala/fasthttp/blob/master/workerpool.go), serving
// functions instead of connections.
package pool

import (
	"errors"
	"runtime"
	"sync"
	"time"
)

// ErrPoolExhausted returned by Submit when every worker is busy.
var ErrPoolExhausted = errors.New("no idle workers")

// WorkerPool runs submitted functions on a bounded set of goroutines.
// Idle workers are reused in FILO order and cleaned up after MaxIdleWorkerDuration.
//
// WorkerPool 协程池，空闲协程按先进后出复用
type WorkerPool struct {
	// MaxWorkersCount maximum number of concurrent workers
	MaxWorkersCount int
	// MaxIdleWorkerDuration idle time after which a worker exits, 10s by default
	MaxIdleWorkerDuration time.Duration
	// PanicHandler receives panics raised by tasks, they are swallowed when nil
	PanicHandler func(r interface{})

	lock         sync.Mutex
	workersCount int
	mustStop     bool
	ready        []*workerChan
	stopCh       chan struct{}
	chanPool     sync.Pool
	startOnce    sync.Once
}

type workerChan struct {
	lastUseTime time.Time
	ch          chan func()
}

var workerChanCap = func() int {
	// Use blocking workerChan if GOMAXPROCS=1 so the submitter yields to the worker.
	if runtime.GOMAXPROCS(0) == 1 {
		return 0
	}
	return 1
}()

// Start starts the cleaner. It must be called before Submit.
func (wp *WorkerPool) Start() {
	wp.startOnce.Do(func() {
		wp.stopCh = make(chan struct{})
		stopCh := wp.stopCh
		wp.chanPool.New = func() interface{} {
			return &workerChan{ch: make(chan func(), workerChanCap)}
		}
		go func() {
			var scratch []*workerChan
			for {
				wp.clean(&scratch)
				select {
				case <-stopCh:
					return
				case <-time.After(wp.maxIdleWorkerDuration()):
				}
			}
		}()
	})
}

// Stop stops idle workers; busy workers exit after their current task.
func (wp *WorkerPool) Stop() {
	wp.lock.Lock()
	defer wp.lock.Unlock()
	if wp.stopCh == nil || wp.mustStop {
		return
	}
	close(wp.stopCh)
	for i := range wp.ready {
		wp.ready[i].ch <- nil
		wp.ready[i] = nil
	}
	wp.ready = wp.ready[:0]
	wp.mustStop = true
}

// Release stops the pool.
func (wp *WorkerPool) Release() {
	wp.Stop()
}

// Submit runs fn on an idle worker or a new one, ErrPoolExhausted if none is available.
func (wp *WorkerPool) Submit(fn func()) error {
	ch := wp.getCh()
	if ch == nil {
		return ErrPoolExhausted
	}
	ch.ch <- fn
	return nil
}

// Running number of live workers.
func (wp *WorkerPool) Running() int {
	wp.lock.Lock()
	defer wp.lock.Unlock()
	return wp.workersCount
}

func (wp *WorkerPool) maxIdleWorkerDuration() time.Duration {
	if wp.MaxIdleWorkerDuration <= 0 {
		return 10 * time.Second
	}
	return wp.MaxIdleWorkerDuration
}

func (wp *WorkerPool) clean(scratch *[]*workerChan) {
	criticalTime := time.Now().Add(-wp.maxIdleWorkerDuration())

	wp.lock.Lock()
	ready := wp.ready
	n := len(ready)
	// ready is sorted by lastUseTime, find the last expired worker
	l, r := 0, n-1
	for l <= r {
		mid := (l + r) / 2
		if criticalTime.After(ready[mid].lastUseTime) {
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	if r == -1 {
		wp.lock.Unlock()
		return
	}
	*scratch = append((*scratch)[:0], ready[:r+1]...)
	m := copy(ready, ready[r+1:])
	for i := m; i < n; i++ {
		ready[i] = nil
	}
	wp.ready = ready[:m]
	wp.lock.Unlock()

	tmp := *scratch
	for i := range tmp {
		tmp[i].ch <- nil
		tmp[i] = nil
	}
}

func (wp *WorkerPool) getCh() *workerChan {
	var ch *workerChan
	createWorker := false

	wp.lock.Lock()
	if wp.mustStop {
		wp.lock.Unlock()
		return nil
	}
	ready := wp.ready
	n := len(ready) - 1
	if n < 0 {
		if wp.workersCount < wp.MaxWorkersCount {
			createWorker = true
			wp.workersCount++
		}
	} else {
		ch = ready[n]
		ready[n] = nil
		wp.ready = ready[:n]
	}
	wp.lock.Unlock()

	if ch == nil {
		if !createWorker {
			return nil
		}
		vch := wp.chanPool.Get()
		ch = vch.(*workerChan)
		go func() {
			wp.workerFunc(ch)
			wp.chanPool.Put(vch)
		}()
	}
	return ch
}

func (wp *WorkerPool) release(ch *workerChan) bool {
	ch.lastUseTime = time.Now()
	wp.lock.Lock()
	defer wp.lock.Unlock()
	if wp.mustStop {
		return false
	}
	wp.ready = append(wp.ready, ch)
	return true
}

func (wp *WorkerPool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil && wp.PanicHandler != nil {
			wp.PanicHandler(r)
		}
	}()
	fn()
}

func (wp *WorkerPool) workerFunc(ch *workerChan) {
	for fn := range ch.ch {
		if fn == nil {
			break
		}
		wp.run(fn)
		if !wp.release(ch) {
			break
		}
	}
	wp.lock.Lock()
	wp.workersCount--
	wp.lock.Unlock()
}
