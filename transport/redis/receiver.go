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

package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transaction"
	"github.com/mulego/mulego/transport/impl"
	"github.com/mulego/mulego/utils/logger"
)

const maxBackoff = 5 * time.Second

// Receiver consumes the stream of its endpoint as a member of the consumer group.
type Receiver struct {
	*impl.BaseReceiver
	connector *Connector
	stream    string
	group     string
	lock      sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func (r *Receiver) Start() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.cancel != nil {
		return nil
	}
	client := r.connector.Client()
	if client == nil {
		return errors.Wrap(types.ErrIllegalState, "redis connector is not connected")
	}
	if err := client.XGroupCreateMkStream(context.Background(), r.stream, r.group, "0").Err(); err != nil &&
		!strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrapf(err, "create consumer group %s on %s", r.group, r.stream)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.poll(ctx, client)
	if r.connector.Config.ClaimMinIdle > 0 {
		r.wg.Add(1)
		go r.claim(ctx, client)
	}
	return nil
}

func (r *Receiver) Stop() error {
	r.lock.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.lock.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	r.wg.Wait()
	return nil
}

func (r *Receiver) poll(ctx context.Context, client redis.UniversalClient) {
	defer r.wg.Done()
	cfg := r.connector.Config
	args := &redis.XReadGroupArgs{
		Group:    r.group,
		Consumer: cfg.Consumer,
		Streams:  []string{r.stream, ">"},
		Count:    int64(cfg.BatchSize),
		Block:    cfg.Block,
	}
	backoff := 100 * time.Millisecond
	for ctx.Err() == nil {
		res, err := client.XReadGroup(ctx, args).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			logger.Warn(r.connector.RuntimeConfig.Logger, "redis receiver %s: read failed, retrying in %s: %v", r.stream, backoff, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 100 * time.Millisecond
		for _, stream := range res {
			for _, entry := range stream.Messages {
				r.deliver(ctx, client, entry, 0)
			}
		}
	}
}

// claim takes over entries pending longer than ClaimMinIdle, on any consumer of the group.
func (r *Receiver) claim(ctx context.Context, client redis.UniversalClient) {
	defer r.wg.Done()
	cfg := r.connector.Config
	ticker := time.NewTicker(cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: r.stream,
			Group:  r.group,
			Start:  "-",
			End:    "+",
			Count:  int64(cfg.ClaimBatch),
			Idle:   cfg.ClaimMinIdle,
		}).Result()
		if err != nil || len(pending) == 0 {
			continue
		}
		ids := make([]string, 0, len(pending))
		retries := make(map[string]int64, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
			retries[p.ID] = p.RetryCount
		}
		entries, err := client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   r.stream,
			Group:    r.group,
			Consumer: cfg.Consumer,
			MinIdle:  cfg.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			continue
		}
		for _, entry := range entries {
			r.deliver(ctx, client, entry, retries[entry.ID])
		}
	}
}

// deliver routes entry and acknowledges it on success. deliveries counts earlier deliveries.
func (r *Receiver) deliver(ctx context.Context, client redis.UniversalClient, entry redis.XMessage, deliveries int64) {
	defer func() {
		if e := recover(); e != nil {
			logger.Error(r.connector.RuntimeConfig.Logger, errors.Errorf("%v", e), "redis receiver %s panic", r.stream)
		}
	}()
	msg := Decode(r.stream, entry)
	if deliveries > 0 {
		msg = msg.Builder().InboundProperty(types.RedeliveryCountProperty, deliveries).Build()
	}
	if _, err := r.RouteMessage(transaction.NewScope(context.Background()), msg); err != nil {
		logger.Error(r.connector.RuntimeConfig.Logger, err, "redis receiver %s: entry %s left pending", r.stream, entry.ID)
		return
	}
	if err := client.XAck(ctx, r.stream, r.group, entry.ID).Err(); err != nil {
		logger.Warn(r.connector.RuntimeConfig.Logger, "redis receiver %s: ack %s: %v", r.stream, entry.ID, err)
	}
}
