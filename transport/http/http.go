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

// Package http provides the http transport. Inbound endpoints are served by an
// httprouter server per host:port, outbound endpoints call http services through a
// shared client, optionally through an HTTP or SOCKS5 proxy.
//
// Package http 提供HTTP传输：入站端点由每个host:port上的httprouter服务提供，出站端点通过共享客户端调用HTTP服务。
//
// Request headers become inbound properties with lower case names, together with:
//
//	http.method         request method
//	http.request.path   request path
//	http.query.params   map of query parameters
//	http.uri.params     map of path parameters, e.g. /orders/:id
//	http.remote.address remote address
//
// The response status is taken from the http.status outbound property of the reply,
// other outbound properties become response headers. Failures are answered with 401
// for UnauthorisedError, 406 for FilterUnacceptedError and 500 otherwise.
//
// Connector configuration example:
//
//	{
//	  "id": "web",
//	  "type": "http",
//	  "configuration": {
//	    "readTimeout": "30s",
//	    "requestTimeout": "10s",
//	    "enableProxy": true,
//	    "proxyScheme": "socks5",
//	    "proxyHost": "127.0.0.1",
//	    "proxyPort": 1080
//	  }
//	}
//
// Endpoint properties: method (inbound: comma separated methods, default all;
// outbound: default POST), tls (outbound: "true" calls https).
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/mulego/mulego/api/types"
	"github.com/mulego/mulego/api/types/endpoint"
	"github.com/mulego/mulego/transport/impl"
	"github.com/mulego/mulego/utils/maps"
	"github.com/mulego/mulego/utils/validate"
)

// Type protocol of the http transport
const Type = "http"

// inbound and outbound property names
const (
	MethodProperty        = "http.method"
	RequestPathProperty   = "http.request.path"
	QueryParamsProperty   = "http.query.params"
	UriParamsProperty     = "http.uri.params"
	RemoteAddressProperty = "http.remote.address"
	StatusProperty        = "http.status"
)

// endpoint properties
const (
	MethodParam = "method"
	TlsParam    = "tls"
)

const (
	ContentTypeKey  = "Content-Type"
	JsonContentType = "application/json"
	TextContentType = "text/plain; charset=utf-8"
)

// Configuration http connector configuration
type Configuration struct {
	// ReadTimeout server read timeout, 0 means none
	ReadTimeout time.Duration `json:"readTimeout" validate:"gte=0"`
	// WriteTimeout server write timeout, 0 means none
	WriteTimeout time.Duration `json:"writeTimeout" validate:"gte=0"`
	// CertFile and CertKeyFile enable TLS on inbound servers
	CertFile    string `json:"certFile"`
	CertKeyFile string `json:"certKeyFile"`
	// RequestTimeout timeout of outbound calls
	RequestTimeout     time.Duration `json:"requestTimeout" validate:"gte=0"`
	InsecureSkipVerify bool          `json:"insecureSkipVerify"`
	// MaxConnsPerHost limits outbound connections per host, 0 means no limit
	MaxConnsPerHost int `json:"maxConnsPerHost" validate:"gte=0"`
	// EnableProxy routes outbound calls through a proxy
	EnableProxy bool `json:"enableProxy"`
	// UseSystemProxyProperties takes the proxy from HTTP_PROXY / HTTPS_PROXY
	UseSystemProxyProperties bool   `json:"useSystemProxyProperties"`
	ProxyScheme              string `json:"proxyScheme" validate:"omitempty,oneof=http https socks5"`
	ProxyHost                string `json:"proxyHost"`
	ProxyPort                int    `json:"proxyPort" validate:"gte=0,lte=65535"`
	ProxyUser                string `json:"proxyUser"`
	ProxyPassword            string `json:"proxyPassword"`
}

var _ endpoint.Connector = (*Connector)(nil)

// Connector http connector
type Connector struct {
	impl.BaseConnector
	Config  Configuration
	lock    sync.Mutex
	servers map[string]*server
	client  *http.Client
}

func (c *Connector) New() endpoint.Connector {
	return &Connector{Config: Configuration{RequestTimeout: 30 * time.Second}}
}

func (c *Connector) Type() string {
	return Type
}

func (c *Connector) Init(config types.Config, configuration types.Configuration) error {
	if err := maps.Map2Struct(configuration, &c.Config); err != nil {
		return err
	}
	if err := validate.Struct(c.Config); err != nil {
		return err
	}
	c.servers = make(map[string]*server)
	return c.InitBase(c, Type, config)
}

// DoConnect creates the outbound client. Servers are started by their receivers.
func (c *Connector) DoConnect(ctx context.Context) error {
	client, err := NewClient(c.Config)
	if err != nil {
		return err
	}
	c.lock.Lock()
	c.client = client
	c.lock.Unlock()
	return nil
}

func (c *Connector) DoDisconnect() error {
	c.lock.Lock()
	client := c.client
	c.client = nil
	c.lock.Unlock()
	if client != nil {
		client.CloseIdleConnections()
	}
	return nil
}

func (c *Connector) httpClient() *http.Client {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.client
}

// server returns the server of host, created on first use.
func (c *Connector) server(host string) *server {
	c.lock.Lock()
	defer c.lock.Unlock()
	s, ok := c.servers[host]
	if !ok {
		s = newServer(host, c)
		c.servers[host] = s
	}
	return s
}

func (c *Connector) NewReceiver(ep endpoint.InboundEndpoint) (endpoint.MessageReceiver, error) {
	methods, err := parseMethods(ep.Property(MethodParam))
	if err != nil {
		return nil, err
	}
	path := ep.URI().Path
	if path == "" {
		path = "/"
	}
	return &Receiver{
		BaseReceiver: impl.NewBaseReceiver(ep),
		connector:    c,
		host:         ep.URI().Host,
		path:         path,
		methods:      methods,
	}, nil
}

func (c *Connector) NewDispatcher(ep endpoint.OutboundEndpoint) (endpoint.MessageDispatcher, error) {
	method := strings.ToUpper(ep.Property(MethodParam))
	if method == "" {
		method = http.MethodPost
	}
	scheme := "http"
	if ep.Property(TlsParam) == "true" {
		scheme = "https"
	}
	target := &url.URL{Scheme: scheme, Host: ep.URI().Host, Path: ep.URI().Path}
	query := url.Values{}
	for k, v := range ep.URI().Params {
		switch k {
		case MethodParam, TlsParam, "exchangePattern":
		default:
			query.Set(k, v)
		}
	}
	target.RawQuery = query.Encode()
	return &Dispatcher{connector: c, endpoint: ep, method: method, url: target.String()}, nil
}

var allMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions}

func parseMethods(value string) ([]string, error) {
	if value == "" {
		return allMethods, nil
	}
	var methods []string
	for _, m := range strings.Split(value, ",") {
		m = strings.ToUpper(strings.TrimSpace(m))
		valid := false
		for _, known := range allMethods {
			if m == known {
				valid = true
			}
		}
		if !valid {
			return nil, types.NewIllegalArgumentError("unsupported http method " + m)
		}
		methods = append(methods, m)
	}
	return methods, nil
}

// NewClient creates the outbound client of config.
func NewClient(config Configuration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: config.InsecureSkipVerify}
	transport.MaxConnsPerHost = config.MaxConnsPerHost

	if config.EnableProxy {
		if config.UseSystemProxyProperties {
			if proxyURL := SystemProxy(); proxyURL != nil {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		} else if proxyURL := ProxyURL(config.ProxyScheme, config.ProxyHost, config.ProxyPort, config.ProxyUser, config.ProxyPassword); proxyURL != nil {
			if config.ProxyScheme == "socks5" {
				dialer, err := SOCKS5Dialer(proxyURL)
				if err != nil {
					return nil, err
				}
				transport.Proxy = nil
				transport.DialContext = dialer
			} else {
				transport.Proxy = http.ProxyURL(proxyURL)
			}
		}
	}
	return &http.Client{Transport: transport, Timeout: config.RequestTimeout}, nil
}

// SystemProxy the proxy of the HTTP_PROXY / HTTPS_PROXY environment variables.
func SystemProxy() *url.URL {
	for _, env := range []string{"HTTP_PROXY", "http_proxy", "HTTPS_PROXY", "https_proxy"} {
		if proxyStr := os.Getenv(env); proxyStr != "" {
			if proxyURL, err := url.Parse(proxyStr); err == nil {
				return proxyURL
			}
		}
	}
	return nil
}

// ProxyURL builds the proxy url, nil when incomplete.
func ProxyURL(scheme, host string, port int, user, password string) *url.URL {
	if scheme == "" || host == "" || port == 0 {
		return nil
	}
	u := &url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", host, port)}
	if user != "" && password != "" {
		u.User = url.UserPassword(user, password)
	}
	return u
}

// SOCKS5Dialer dials through the SOCKS5 proxy of proxyURL.
func SOCKS5Dialer(proxyURL *url.URL) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	var auth *proxy.Auth
	if proxyURL.User != nil {
		if password, ok := proxyURL.User.Password(); ok {
			auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
		}
	}
	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return nil, err
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}
