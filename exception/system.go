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
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/utils/logger"
)

// FatalErrorHandler shuts the context down the first time a fatal error is reported.
type FatalErrorHandler struct {
	logger   types.Logger
	shutdown func()
	once     sync.Once
}

func NewFatalErrorHandler(l types.Logger, shutdown func()) *FatalErrorHandler {
	return &FatalErrorHandler{logger: l, shutdown: shutdown}
}

// Handle logs err and runs the shutdown on its own goroutine, at most once.
func (h *FatalErrorHandler) Handle(err error) {
	logger.Error(h.logger, err, "fatal error, shutting down")
	h.once.Do(func() {
		if h.shutdown != nil {
			go h.shutdown()
		}
	})
}

// SystemHandler handles failures raised outside of message processing.
// Connection failures trigger a reconnection with exponential backoff.
type SystemHandler struct {
	logger types.Logger
	fatal  *FatalErrorHandler
	// ReconnectAttempts attempts before giving up, default 5
	ReconnectAttempts int
	// ReconnectInterval first backoff, doubled per attempt up to MaxReconnectInterval
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration

	lock         sync.Mutex
	reconnecting map[string]bool
}

func NewSystemHandler(l types.Logger, fatal *FatalErrorHandler) *SystemHandler {
	return &SystemHandler{
		logger:               l,
		fatal:                fatal,
		ReconnectAttempts:    5,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 30 * time.Second,
		reconnecting:         make(map[string]bool),
	}
}

func (h *SystemHandler) HandleSystemException(err error) {
	if err == nil {
		return
	}
	if types.IsFatal(err) {
		if h.fatal != nil {
			h.fatal.Handle(err)
		} else {
			logger.Error(h.logger, err, "fatal error")
		}
		return
	}
	var ce *types.ConnectError
	if errors.As(err, &ce) && ce.Connector != nil {
		logger.Error(h.logger, err, "connector %s lost its connection", ce.Connector.Name())
		h.startReconnect(ce.Connector)
		return
	}
	logger.Error(h.logger, err, "system exception")
}

func (h *SystemHandler) startReconnect(c types.Reconnectable) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.reconnecting[c.Name()] {
		return
	}
	h.reconnecting[c.Name()] = true
	go h.reconnect(c)
}

func (h *SystemHandler) reconnect(c types.Reconnectable) {
	defer func() {
		h.lock.Lock()
		delete(h.reconnecting, c.Name())
		h.lock.Unlock()
	}()
	interval := h.ReconnectInterval
	var err error
	for attempt := 1; attempt <= h.ReconnectAttempts; attempt++ {
		if err = c.Reconnect(); err == nil {
			logger.Warn(h.logger, "connector %s reconnected after %d attempts", c.Name(), attempt)
			return
		}
		time.Sleep(interval)
		interval *= 2
		if h.MaxReconnectInterval > 0 && interval > h.MaxReconnectInterval {
			interval = h.MaxReconnectInterval
		}
	}
	logger.Error(h.logger, err, "connector %s could not reconnect after %d attempts", c.Name(), h.ReconnectAttempts)
}

// IsReconnecting reports whether a reconnection of the named connector is in progress.
func (h *SystemHandler) IsReconnecting(name string) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.reconnecting[name]
}
