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

package stats

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mulego/mulego/transaction"
)

func TestFlowStatistics(t *testing.T) {
	c := NewCollector("")
	s := c.Flow("orders")
	assert.Same(t, s, c.Flow("orders"))

	s.IncReceived()
	s.IncReceived()
	s.IncProcessed()
	s.IncExecutionError()
	s.IncFatalError()
	s.AddProcessingTime(10 * time.Millisecond)
	s.AddProcessingTime(30 * time.Millisecond)

	snapshot := s.Snapshot()
	assert.Equal(t, "orders", snapshot.Flow)
	assert.Equal(t, int64(2), snapshot.Received)
	assert.Equal(t, int64(1), snapshot.Processed)
	assert.Equal(t, int64(1), snapshot.ExecutionErrors)
	assert.Equal(t, int64(1), snapshot.FatalErrors)
	assert.Equal(t, 40*time.Millisecond, snapshot.TotalProcessingTime)
	assert.Equal(t, 30*time.Millisecond, snapshot.MaxProcessingTime)
	assert.Equal(t, 40*time.Millisecond, snapshot.AverageProcessingTime())

	assert.Equal(t, float64(2), testutil.ToFloat64(c.received.WithLabelValues("orders")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.processed.WithLabelValues("orders")))
	assert.Len(t, c.Flows(), 1)
}

func TestDisabled(t *testing.T) {
	s := NewCollector("test").Flow("f")
	s.SetEnabled(false)
	s.IncReceived()
	s.AddProcessingTime(time.Second)
	assert.Equal(t, int64(0), s.Snapshot().Received)
	assert.Equal(t, time.Duration(0), s.Snapshot().MaxProcessingTime)
	assert.Equal(t, time.Duration(0), Snapshot{}.AverageProcessingTime())
	s.SetEnabled(true)
	s.IncReceived()
	assert.Equal(t, int64(1), s.Snapshot().Received)
}

func TestTransactions(t *testing.T) {
	c := NewCollector("")
	stop := c.WatchTransactions(transaction.Coordination)
	defer stop()

	factory := &transaction.SingleResourceFactory{Supports: func(key interface{}) bool { return true }}
	tx, err := factory.BeginTransaction(transaction.NewScope(context.Background()))
	require.Nil(t, err)
	require.Nil(t, tx.Commit())

	tx, err = factory.BeginTransaction(transaction.NewScope(context.Background()))
	require.Nil(t, err)
	require.Nil(t, tx.Rollback())

	assert.Equal(t, float64(2), testutil.ToFloat64(c.transactions.WithLabelValues("begin", "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.transactions.WithLabelValues("commit", "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.transactions.WithLabelValues("rollback", "false")))
}

func TestHandler(t *testing.T) {
	c := NewCollector("")
	c.Flow("orders").IncReceived()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.Nil(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	assert.True(t, strings.Contains(string(body), `mulego_flow_events_received_total{flow="orders"} 1`))
}
