// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package httppost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

const (
	defaultMaxBody         = 1 << 20
	defaultResponseTimeout = 30 * time.Second
	shutdownGrace          = 5 * time.Second
)

type Config struct {
	Address         string
	MaxBody         int64
	ResponseTimeout time.Duration
}

// Transport accepts messages as HTTP POST requests. The destination of a
// consumer is the URL path it serves. A request is answered once its
// delivery is settled: 200 with the reply as body, 202 when there is no
// reply, 500 when the delivery was rejected.
type Transport struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	server *http.Server
	paths  map[string]*consumer
}

func New(name string, cfg Config, logger *slog.Logger) *Transport {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	return &Transport{name: name, cfg: cfg, logger: logger, paths: make(map[string]*consumer)}
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "http_post" }

func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(t.handlePost)
}

func (t *Transport) Connect(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.cfg.Address)
	if err != nil {
		return fmt.Errorf("http_post listen %s: %w", t.cfg.Address, err)
	}
	server := &http.Server{Handler: t.Handler(), ReadHeaderTimeout: 5 * time.Second}

	t.mu.Lock()
	t.server = server
	t.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("http_post server failed", "name", t.name, "error", err)
		}
	}()

	t.logger.Info("http_post transport listening", "name", t.name, "address", ln.Addr().String())
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	server := t.server
	t.server = nil
	t.mu.Unlock()
	if server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (t *Transport) NewConsumer(spec core.ConsumerSpec) (core.Consumer, error) {
	if spec.Selector != "" {
		return nil, fmt.Errorf("%w: http_post (endpoint %s)", core.ErrSelectorUnsupported, spec.EndpointID)
	}
	if spec.Destination == "" || spec.Destination[0] != '/' {
		return nil, fmt.Errorf("%w: http_post destination must be a path starting with '/', got %q", core.ErrInvalidConfig, spec.Destination)
	}
	return &consumer{t: t, spec: spec}, nil
}

type outcome struct {
	accepted bool
	reply    string
}

func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	t.mu.RLock()
	c := t.paths[r.URL.Path]
	t.mu.RUnlock()
	if c == nil {
		http.NotFound(w, r)
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.cfg.MaxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	done := make(chan outcome, 1)
	d := c.toDelivery(r, body, done)

	if !c.deliver(r.Context(), d) {
		http.Error(w, "not consuming", http.StatusServiceUnavailable)
		return
	}

	timer := time.NewTimer(t.cfg.ResponseTimeout)
	defer timer.Stop()
	select {
	case o := <-done:
		switch {
		case !o.accepted:
			writeStatus(w, http.StatusInternalServerError, `{"status":"rejected"}`)
		case o.reply != "":
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(o.reply))
		default:
			writeStatus(w, http.StatusAccepted, `{"status":"accepted"}`)
		}
	case <-timer.C:
		http.Error(w, "timeout", http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

type consumer struct {
	t    *Transport
	spec core.ConsumerSpec

	mu  sync.Mutex
	ctx context.Context
	out chan<- core.Delivery
}

func (c *consumer) Spec() core.ConsumerSpec { return c.spec }

func (c *consumer) Start(ctx context.Context, ch chan<- core.Delivery) error {
	c.t.mu.Lock()
	if _, taken := c.t.paths[c.spec.Destination]; taken {
		c.t.mu.Unlock()
		return fmt.Errorf("%w: http_post path %s is already bound", core.ErrInvalidConfig, c.spec.Destination)
	}
	c.mu.Lock()
	c.ctx, c.out = ctx, ch
	c.mu.Unlock()
	c.t.paths[c.spec.Destination] = c
	c.t.mu.Unlock()

	<-ctx.Done()
	return nil
}

func (c *consumer) deliver(reqCtx context.Context, d core.Delivery) bool {
	c.mu.Lock()
	ctx, out := c.ctx, c.out
	c.mu.Unlock()
	if out == nil {
		return false
	}
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	case <-reqCtx.Done():
		return false
	}
}

func (c *consumer) toDelivery(r *http.Request, body []byte, done chan<- outcome) core.Delivery {
	m := &core.Message{
		ID:          core.NewMessageID(),
		EndpointID:  c.spec.EndpointID,
		Destination: r.URL.Path,
		Properties:  make(map[string]any, len(r.Header)+1),
		ContentType: r.Header.Get("Content-Type"),
		ReceivedAt:  time.Now().UTC(),
	}
	for k := range r.Header {
		m.Properties[k] = r.Header.Get(k)
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			m.Properties[k] = v[0]
		}
	}
	m.Properties["client_id"] = core.ClientID(r)
	m.Payload = core.BytePayload(body, m.ContentType)

	var (
		mu    sync.Mutex
		reply string
		once  sync.Once
	)
	settle := func(accepted bool) {
		once.Do(func() {
			mu.Lock()
			done <- outcome{accepted: accepted, reply: reply}
			mu.Unlock()
		})
	}
	return core.Delivery{
		Message: m,
		Ack:     func() error { settle(true); return nil },
		Nack:    func() error { settle(false); return nil },
		Reply: func(_ context.Context, body string) error {
			mu.Lock()
			reply = body
			mu.Unlock()
			return nil
		},
	}
}

func (c *consumer) Close(ctx context.Context) error {
	c.t.mu.Lock()
	if c.t.paths[c.spec.Destination] == c {
		delete(c.t.paths, c.spec.Destination)
	}
	c.t.mu.Unlock()

	c.mu.Lock()
	c.out = nil
	c.mu.Unlock()
	return nil
}
