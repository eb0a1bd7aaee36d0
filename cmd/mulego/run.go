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

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mulego/mulego/config"
	"github.com/mulego/mulego/engine"
	"github.com/mulego/mulego/stats"
)

type runOptions struct {
	ConfigPath      string
	Apps            string
	ShutdownTimeout time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [--config mulego.yaml] [--apps ./apps]",
		Short: "Start the applications of a folder until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVar(&opts.Apps, "apps", "", "folder of application definitions, overrides the configuration")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "time given to flows to complete on shutdown")
	return cmd
}

// run loads the applications and blocks until ctx is done.
func run(ctx context.Context, opts runOptions) error {
	c, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Apps != "" {
		c.Apps = opts.Apps
	}
	l := c.Logger()
	collector := stats.NewCollector(c.Metrics.Namespace)
	pool := engine.NewPool()
	pool.Logger = l
	pool.Callbacks.OnNew = func(id string, _ []byte) {
		l.Infof("application %s started", id)
	}
	pool.Callbacks.OnDeleted = func(id string) {
		l.Infof("application %s stopped", id)
	}
	if err := pool.Load(c.Apps, engine.WithConfig(c.EngineConfig(l)), engine.WithStatistics(collector)); err != nil {
		return errors.Wrapf(err, "load applications from %s", c.Apps)
	}

	var server *http.Server
	if c.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(c.Metrics.Path, collector.Handler())
		server = &http.Server{Addr: c.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Errorf(err, "metrics server")
			}
		}()
		l.Infof("metrics available on %s%s", c.Metrics.Addr, c.Metrics.Path)
	}

	<-ctx.Done()
	l.Infof("shutting down")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Stop()
		if server != nil {
			_ = server.Shutdown(timeoutCtx)
		}
	}()
	select {
	case <-done:
		return nil
	case <-timeoutCtx.Done():
		l.Errorf(timeoutCtx.Err(), "deadline exceeded during shutdown")
		os.Exit(1)
	}
	return nil
}
