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

package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

const shutdownGrace = 5 * time.Second

type Config struct {
	// Address is the listen address, e.g. ":8090".
	Address string
}

// Transport accepts websocket clients on one HTTP listener. Each consumer
// owns the URL path named by its destination, and every frame a client sends
// on that path is one message.
type Transport struct {
	name     string
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	server *http.Server
	paths  map[string]*consumer
}

func New(name string, cfg Config, logger *slog.Logger) *Transport {
	return &Transport{
		name:   name,
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		paths: make(map[string]*consumer),
	}
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "websocket" }

// Handler serves websocket upgrades for every registered path.
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(t.handleConnection)
}

func (t *Transport) Connect(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.cfg.Address)
	if err != nil {
		return fmt.Errorf("websocket listen %s: %w", t.cfg.Address, err)
	}
	server := &http.Server{Handler: t.Handler()}

	t.mu.Lock()
	t.server = server
	t.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("websocket server failed", "name", t.name, "error", err)
		}
	}()

	t.logger.Info("websocket transport listening", "name", t.name, "address", ln.Addr().String())
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
		return nil, fmt.Errorf("%w: websocket (endpoint %s)", core.ErrSelectorUnsupported, spec.EndpointID)
	}
	if spec.Destination == "" || spec.Destination[0] != '/' {
		return nil, fmt.Errorf("%w: websocket destination must be a path starting with '/', got %q", core.ErrInvalidConfig, spec.Destination)
	}
	return &consumer{t: t, spec: spec, conns: make(map[*websocket.Conn]struct{})}, nil
}

func (t *Transport) handleConnection(w http.ResponseWriter, r *http.Request) {
	t.mu.RLock()
	c := t.paths[r.URL.Path]
	t.mu.RUnlock()
	if c == nil {
		http.NotFound(w, r)
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("ws upgrade failed", "name", t.name, "error", err)
		return
	}
	c.serve(conn, core.ClientID(r))
}

type consumer struct {
	t    *Transport
	spec core.ConsumerSpec

	mu    sync.Mutex
	ctx   context.Context
	out   chan<- core.Delivery
	conns map[*websocket.Conn]struct{}
}

func (c *consumer) Spec() core.ConsumerSpec { return c.spec }

func (c *consumer) Start(ctx context.Context, ch chan<- core.Delivery) error {
	c.t.mu.Lock()
	if _, taken := c.t.paths[c.spec.Destination]; taken {
		c.t.mu.Unlock()
		return fmt.Errorf("%w: websocket path %s is already bound", core.ErrInvalidConfig, c.spec.Destination)
	}
	c.mu.Lock()
	c.ctx, c.out = ctx, ch
	c.mu.Unlock()
	c.t.paths[c.spec.Destination] = c
	c.t.mu.Unlock()

	<-ctx.Done()
	return nil
}

func (c *consumer) serve(conn *websocket.Conn, clientID string) {
	c.mu.Lock()
	ctx, out := c.ctx, c.out
	if out == nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conns[conn] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		conn.Close()
		c.t.logger.Info("ws client disconnected", "client_id", clientID, "path", c.spec.Destination)
	}()
	c.t.logger.Info("ws client connected", "client_id", clientID, "path", c.spec.Destination)

	var writeMu sync.Mutex
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.t.logger.Error("ws read error", "client_id", clientID, "error", err)
			}
			return
		}

		contentType := "text/plain"
		if kind == websocket.BinaryMessage {
			contentType = "application/octet-stream"
		}
		m := &core.Message{
			ID:          core.NewMessageID(),
			EndpointID:  c.spec.EndpointID,
			Destination: c.spec.Destination,
			Properties:  map[string]any{"client_id": clientID},
			Payload:     core.BytePayload(frame, contentType),
			ContentType: contentType,
			ReceivedAt:  time.Now().UTC(),
		}
		d := core.Delivery{
			Message: m,
			Ack:     func() error { return nil },
			Nack:    func() error { return nil },
			Reply: func(_ context.Context, body string) error {
				writeMu.Lock()
				defer writeMu.Unlock()
				return conn.WriteMessage(websocket.TextMessage, []byte(body))
			},
		}

		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
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
	conns := make([]*websocket.Conn, 0, len(c.conns))
	for conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge stopping"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	return nil
}
