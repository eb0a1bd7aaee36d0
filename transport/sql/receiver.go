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

package sql

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/transport/impl"
	"github.com/mulego/mulego/utils/logger"
)

// Receiver polls the select of its endpoint and routes one message per row.
type Receiver struct {
	*impl.BaseReceiver
	connector *Connector
	stmt      *Statement
	ack       *Statement
	frequency time.Duration
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
	r.wg.Add(1)
	go r.run(r.stop)
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

func (r *Receiver) run(stop chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.frequency)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if err := r.Poll(context.Background()); err != nil {
			logger.Error(r.connector.RuntimeConfig.Logger, err, "sql receiver %s: poll failed", r.Endpoint().Name())
		}
	}
}

// Poll runs the select once and routes each row, each in its own transaction scope.
func (r *Receiver) Poll(ctx context.Context) error {
	db := r.connector.DB()
	if db == nil {
		return errors.Wrap(types.ErrIllegalState, "sql connector is not connected")
	}
	ep := r.Endpoint()
	args, err := r.stmt.Args(types.NewEvent(ctx, types.NewMessage(nil), ep.ExchangePattern(), ep.FlowConstruct()))
	if err != nil {
		return err
	}
	rows, err := Query(ctx, db, r.stmt.SQL, args...)
	if err != nil {
		return err
	}
	for _, row := range rows {
		r.deliver(row)
	}
	return nil
}

func (r *Receiver) deliver(row map[string]interface{}) {
	defer func() {
		if e := recover(); e != nil {
			logger.Error(r.connector.RuntimeConfig.Logger, errors.Errorf("%v", e), "sql receiver %s panic", r.Endpoint().Name())
		}
	}()
	if _, err := r.RouteMessage(transaction.NewScope(context.Background()), types.NewMessage(row)); err != nil {
		logger.Error(r.connector.RuntimeConfig.Logger, err, "sql receiver %s: row delivery failed", r.Endpoint().Name())
	}
}

// acknowledge runs the ack statement for the polled row, joining the delivery transaction.
func (r *Receiver) acknowledge(ctx context.Context, event *types.Event) error {
	q, err := r.connector.Querier(ctx)
	if err != nil {
		return err
	}
	_, err = r.ack.Execute(ctx, q, event)
	return err
}
