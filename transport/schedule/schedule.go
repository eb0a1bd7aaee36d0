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

// Package schedule fires inbound events on a cron schedule.
//
// The expression is the cron endpoint property, e.g. schedule://poll-orders?cron=*/5 * * * * *
// It has a seconds field:
//
//	Field name   | Mandatory? | Allowed values  | Allowed special characters
//	----------   | ---------- | --------------  | --------------------------
//	Seconds      | Yes        | 0-59            | * / , -
//	Minutes      | Yes        | 0-59            | * / , -
//	Hours        | Yes        | 0-23            | * / , -
//	Day of month | Yes        | 1-31            | * / , - ?
//	Month        | Yes        | 1-12 or JAN-DEC | * / , -
//	Day of week  | Yes        | 0-6 or SUN-SAT  | * / , - ?
//
// The descriptors @yearly, @monthly, @weekly, @daily, @hourly and @every <duration> are accepted too.
// The payload endpoint property, if any, becomes the payload of every fired event.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/transport/impl"
	"github.com/mulego/mulego/utils/logger"
)

// Type 组件类型
const Type = "schedule"

const (
	// CronParam the cron expression of the endpoint
	CronParam = "cron"
	// PayloadParam the payload of fired events
	PayloadParam = "payload"
	// FireTimeProperty inbound property holding the scheduled fire time
	FireTimeProperty = "schedule.fireTime"
	// JobProperty inbound property holding the endpoint name
	JobProperty = "schedule.job"
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Connector runs one cron for all its endpoints.
type Connector struct {
	impl.BaseConnector
	lock sync.Mutex
	cron *cron.Cron
}

func New() *Connector {
	return &Connector{}
}

func (c *Connector) New() endpoint.Connector {
	return New()
}

func (c *Connector) Type() string {
	return Type
}

func (c *Connector) Init(config types.Config, configuration types.Configuration) error {
	return c.InitBase(c, Type, config)
}

// DoConnect starts the cron.
func (c *Connector) DoConnect(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.cron == nil {
		c.cron = cron.New(cron.WithParser(parser))
		c.cron.Start()
	}
	return nil
}

// DoDisconnect stops the cron and waits for running jobs.
func (c *Connector) DoDisconnect() error {
	c.lock.Lock()
	cr := c.cron
	c.cron = nil
	c.lock.Unlock()
	if cr != nil {
		<-cr.Stop().Done()
	}
	return nil
}

func (c *Connector) scheduler() *cron.Cron {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.cron
}

func (c *Connector) NewReceiver(ep endpoint.InboundEndpoint) (endpoint.MessageReceiver, error) {
	expr := ep.Property(CronParam)
	if expr == "" {
		return nil, types.NewIllegalArgumentError("schedule endpoint " + ep.Name() + " has no cron expression")
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(types.ErrIllegalArgument, "cron expression %s: %v", expr, err)
	}
	return &Receiver{BaseReceiver: impl.NewBaseReceiver(ep), connector: c, schedule: schedule}, nil
}

func (c *Connector) NewDispatcher(ep endpoint.OutboundEndpoint) (endpoint.MessageDispatcher, error) {
	return nil, types.NewIllegalArgumentError("schedule endpoints are inbound only")
}

// Receiver fires its endpoint on the schedule.
type Receiver struct {
	*impl.BaseReceiver
	connector *Connector
	schedule  cron.Schedule
	lock      sync.Mutex
	entry     cron.EntryID
}

func (r *Receiver) Start() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.entry != 0 {
		return nil
	}
	cr := r.connector.scheduler()
	if cr == nil {
		return errors.Wrap(types.ErrIllegalState, "schedule connector is not connected")
	}
	r.entry = cr.Schedule(r.schedule, cron.FuncJob(r.fire))
	return nil
}

func (r *Receiver) Stop() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.entry == 0 {
		return nil
	}
	if cr := r.connector.scheduler(); cr != nil {
		cr.Remove(r.entry)
	}
	r.entry = 0
	return nil
}

// Next the next fire time, zero when stopped.
func (r *Receiver) Next() time.Time {
	r.lock.Lock()
	defer r.lock.Unlock()
	cr := r.connector.scheduler()
	if r.entry == 0 || cr == nil {
		return time.Time{}
	}
	return cr.Entry(r.entry).Next
}

func (r *Receiver) fire() {
	defer func() {
		//捕捉异常
		if e := recover(); e != nil {
			logger.Error(r.connector.RuntimeConfig.Logger, errors.Errorf("%v", e), "schedule %s panic", r.Endpoint().Name())
		}
	}()
	ep := r.Endpoint()
	msg := types.NewMessage(ep.Property(PayloadParam)).Builder().
		InboundProperty(FireTimeProperty, time.Now()).
		InboundProperty(JobProperty, ep.Name()).
		Build()
	if _, err := r.RouteMessage(transaction.NewScope(context.Background()), msg); err != nil {
		logger.Error(r.connector.RuntimeConfig.Logger, err, "schedule %s failed", ep.Name())
	}
}
