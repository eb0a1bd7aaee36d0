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

package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
)

// StatusError an outbound call answered with an error status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Dispatcher calls the url of its endpoint.
type Dispatcher struct {
	connector *Connector
	endpoint  endpoint.OutboundEndpoint
	method    string
	url       string
}

func (d *Dispatcher) request(ctx context.Context, event *types.Event) (*http.Request, error) {
	msg := event.Message()
	var body io.Reader
	if d.method != http.MethodGet && d.method != http.MethodHead {
		b, err := msg.PayloadAsBytes()
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, d.method, d.url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range msg.OutboundProperties() {
		if strings.HasPrefix(k, "http.") || strings.HasPrefix(k, "MULE_") {
			continue
		}
		if s, ok := headerValue(v); ok {
			req.Header.Set(k, s)
		}
	}
	if body != nil && req.Header.Get(ContentTypeKey) == "" {
		req.Header.Set(ContentTypeKey, contentType(msg.DataType()))
	}
	return req, nil
}

// Send calls the service and returns the response. Status and headers are outbound
// properties of the reply, they are seen as inbound once the reply reaches the flow.
func (d *Dispatcher) Send(ctx context.Context, event *types.Event) (*types.Message, error) {
	client := d.connector.httpClient()
	if client == nil {
		return nil, errors.Wrap(types.ErrIllegalState, "http connector is not connected")
	}
	req, err := d.request(ctx, event)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	dataType := types.TEXT
	if strings.HasPrefix(resp.Header.Get(ContentTypeKey), JsonContentType) {
		dataType = types.JSON
	}
	b := types.NewMessageWithType(string(body), dataType).Builder().
		OutboundProperty(StatusProperty, resp.StatusCode)
	for k, v := range resp.Header {
		if len(v) > 0 {
			b.OutboundProperty(strings.ToLower(k), v[0])
		}
	}
	return b.Build(), nil
}

// Dispatch calls the service and discards the response.
func (d *Dispatcher) Dispatch(ctx context.Context, event *types.Event) error {
	_, err := d.Send(ctx, event)
	return err
}

func (d *Dispatcher) Close() error {
	return nil
}

func statusCode(v interface{}) (int, bool) {
	switch c := v.(type) {
	case int:
		return c, true
	case int64:
		return int(c), true
	case float64:
		return int(c), true
	case string:
		code, err := strconv.Atoi(c)
		return code, err == nil
	}
	return 0, false
}

func headerValue(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case int, int64, float64, bool:
		return fmt.Sprint(s), true
	}
	return "", false
}
