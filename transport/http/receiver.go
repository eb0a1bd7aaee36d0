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
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/transport/impl"
	"github.com/mulego/mulego/utils/logger"
)

// shutdownTimeout how long a stopping server waits for in-flight requests
const shutdownTimeout = 5 * time.Second

// server is the http server of one host:port. httprouter routes cannot be removed, so
// registered routes stay and dispatch to the receiver currently active on them.
type server struct {
	host       string
	connector  *Connector
	lock       sync.RWMutex
	router     *httprouter.Router
	registered map[string]bool
	receivers  map[string]*Receiver
	srv        *http.Server
	listener   net.Listener
}

func newServer(host string, connector *Connector) *server {
	router := httprouter.New()
	router.HandleMethodNotAllowed = false
	return &server{
		host:       host,
		connector:  connector,
		router:     router,
		registered: make(map[string]bool),
		receivers:  make(map[string]*Receiver),
	}
}

func routeKey(method, path string) string {
	return method + " " + path
}

// add activates r and starts listening if needed.
func (s *server) add(r *Receiver) (err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	// httprouter panics on conflicting wildcard routes
	defer func() {
		if e := recover(); e != nil {
			err = errors.Wrapf(types.ErrIllegalArgument, "%s: %v", r.path, e)
		}
	}()
	for _, m := range r.methods {
		key := routeKey(m, r.path)
		if existing, ok := s.receivers[key]; ok && existing != r {
			return errors.Wrapf(types.ErrIllegalState, "%s is already served on %s", key, s.host)
		}
	}
	for _, m := range r.methods {
		key := routeKey(m, r.path)
		if !s.registered[key] {
			s.router.Handle(m, r.path, s.handle(key))
			s.registered[key] = true
		}
		s.receivers[key] = r
	}
	if s.srv != nil {
		return nil
	}
	return s.listen()
}

func (s *server) listen() error {
	listener, err := net.Listen("tcp", s.host)
	if err != nil {
		return errors.Wrapf(err, "http server %s", s.host)
	}
	cfg := s.connector.Config
	s.listener = listener
	s.srv = &http.Server{Handler: s.router, ReadTimeout: cfg.ReadTimeout, WriteTimeout: cfg.WriteTimeout}
	srv := s.srv
	go func() {
		var err error
		if cfg.CertFile != "" && cfg.CertKeyFile != "" {
			err = srv.ServeTLS(listener, cfg.CertFile, cfg.CertKeyFile)
		} else {
			err = srv.Serve(listener)
		}
		if err != nil && err != http.ErrServerClosed {
			s.connector.ConnectionLost(errors.Wrapf(err, "http server %s", s.host))
		}
	}()
	logger.Debug(s.connector.RuntimeConfig.Logger, "http server listening on %s", listener.Addr())
	return nil
}

// remove deactivates r and stops the server once no receiver is left.
func (s *server) remove(r *Receiver) error {
	s.lock.Lock()
	for _, m := range r.methods {
		key := routeKey(m, r.path)
		if s.receivers[key] == r {
			delete(s.receivers, key)
		}
	}
	if len(s.receivers) > 0 || s.srv == nil {
		s.lock.Unlock()
		return nil
	}
	srv := s.srv
	s.srv = nil
	s.listener = nil
	// httprouter routes cannot be removed, the next server starts with a fresh router
	s.router = httprouter.New()
	s.router.HandleMethodNotAllowed = false
	s.registered = make(map[string]bool)
	s.lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// addr the address the server listens on, nil when stopped.
func (s *server) addr() net.Addr {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *server) handle(key string) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
		s.lock.RLock()
		r := s.receivers[key]
		s.lock.RUnlock()
		if r == nil {
			http.NotFound(w, req)
			return
		}
		r.serve(w, req, params)
	}
}

// Receiver serves the path of its endpoint.
type Receiver struct {
	*impl.BaseReceiver
	connector *Connector
	host      string
	path      string
	methods   []string
}

func (r *Receiver) Start() error {
	return r.connector.server(r.host).add(r)
}

func (r *Receiver) Stop() error {
	return r.connector.server(r.host).remove(r)
}

// Addr the address the receiver is served on, useful with port 0.
func (r *Receiver) Addr() net.Addr {
	return r.connector.server(r.host).addr()
}

// requestMessage converts req into a message.
func requestMessage(req *http.Request, params httprouter.Params) (*types.Message, error) {
	var body []byte
	if req.Body != nil {
		defer req.Body.Close()
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return nil, err
		}
	}
	dataType := types.TEXT
	if strings.HasPrefix(req.Header.Get(ContentTypeKey), JsonContentType) {
		dataType = types.JSON
	}
	b := types.NewMessageWithType(string(body), dataType).Builder()
	for k, v := range req.Header {
		if len(v) > 0 {
			b.InboundProperty(strings.ToLower(k), v[0])
		}
	}
	query := make(map[string]interface{})
	for k, v := range req.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}
	uriParams := make(map[string]interface{})
	for _, p := range params {
		uriParams[p.Key] = p.Value
	}
	return b.InboundProperty(MethodProperty, req.Method).
		InboundProperty(RequestPathProperty, req.URL.Path).
		InboundProperty(QueryParamsProperty, query).
		InboundProperty(UriParamsProperty, uriParams).
		InboundProperty(RemoteAddressProperty, req.RemoteAddr).
		Build(), nil
}

func (r *Receiver) serve(w http.ResponseWriter, req *http.Request, params httprouter.Params) {
	defer func() {
		if e := recover(); e != nil {
			logger.Error(r.connector.RuntimeConfig.Logger, errors.Errorf("%v", e), "http receiver %s panic", r.path)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}()
	msg, err := requestMessage(req, params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply, err := r.RouteMessage(req.Context(), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	if reply == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	body, err := reply.PayloadAsBytes()
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	for k, v := range reply.OutboundProperties() {
		switch {
		case k == StatusProperty:
			if code, ok := statusCode(v); ok {
				status = code
			}
		case strings.HasPrefix(k, "http.") || strings.HasPrefix(k, "MULE_"):
		default:
			if s, ok := headerValue(v); ok {
				w.Header().Set(k, s)
			}
		}
	}
	if w.Header().Get(ContentTypeKey) == "" {
		w.Header().Set(ContentTypeKey, contentType(reply.DataType()))
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Status maps a processing failure to a response status.
func Status(err error) int {
	var unauthorised *types.UnauthorisedError
	var unaccepted *types.FilterUnacceptedError
	switch {
	case errors.As(err, &unauthorised):
		return http.StatusUnauthorized
	case errors.As(err, &unaccepted):
		return http.StatusNotAcceptable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := Status(err)
	var unauthorised *types.UnauthorisedError
	if errors.As(err, &unauthorised) && unauthorised.Realm != "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="`+unauthorised.Realm+`"`)
	}
	http.Error(w, err.Error(), status)
}

func contentType(dataType types.DataType) string {
	switch dataType {
	case types.JSON:
		return JsonContentType
	case types.BINARY:
		return "application/octet-stream"
	default:
		return TextContentType
	}
}
