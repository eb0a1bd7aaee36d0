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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transaction"
)

func TestAssign(t *testing.T) {
	event := types.NewEvent(context.Background(), types.NewMessage("x"), types.RequestResponse, nil)
	Assign(event, "a", 1)
	Assign(event, "vars.b", 2)
	Assign(event, "outbound.c", 3)
	Assign(event, "session.d", 4)
	Assign(event, "payload", "y")
	Assign(event, "other.e", 5)

	v, _ := event.Variable("a")
	assert.Equal(t, 1, v)
	v, _ = event.Variable("b")
	assert.Equal(t, 2, v)
	v, _ = event.Variable("other.e")
	assert.Equal(t, 5, v)
	assert.Equal(t, 3, event.Message().OutboundProperty("c"))
	v, _ = event.Session().Get("d")
	assert.Equal(t, 4, v)
	assert.Equal(t, "y", event.Message().Payload())
}

func TestAsyncEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(transaction.NewScope(context.Background()))
	event := types.NewEvent(ctx, types.NewMessage("x"), types.RequestResponse, nil)
	async := AsyncEvent(event)
	cancel()
	assert.Equal(t, types.OneWay, async.ExchangePattern())
	assert.False(t, async.IsSynchronous())
	assert.Nil(t, async.Context().Err())
	assert.True(t, transaction.HasScope(async.Context()))
	assert.Equal(t, event.Id(), async.Id())
}

func TestGracefulShutdown(t *testing.T) {
	var g GracefulShutdown
	assert.Nil(t, g.BeginOp())
	go func() {
		time.Sleep(20 * time.Millisecond)
		g.EndOp()
	}()
	assert.True(t, g.GracefulStop(nil, "test", time.Second))
	assert.Equal(t, ErrShuttingDown, g.BeginOp())

	g.Reset()
	assert.Nil(t, g.BeginOp())
	assert.False(t, g.GracefulStop(nil, "test", 10*time.Millisecond))
	assert.NotNil(t, g.ShutdownContext().Err())
	g.EndOp()
}
