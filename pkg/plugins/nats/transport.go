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

package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

const HeaderContentType = "Content-Type"

type Config struct {
	URL      string
	Username string
	Password string
	// QueueGroup load-balances a subject across bridge replicas.
	QueueGroup string
}

type Transport struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

func New(name string, cfg Config, logger *slog.Logger) *Transport {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "process-bridge"
	}
	return &Transport{name: name, cfg: cfg, logger: logger}
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "nats" }

func (t *Transport) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name("process-bridge-" + t.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.logger.Warn("nats disconnected", "name", t.name, "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			t.logger.Info("nats reconnected", "name", t.name, "url", c.ConnectedUrl())
		}),
	}
	if t.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(t.cfg.Username, t.cfg.Password))
	}

	conn, err := nats.Connect(t.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.logger.Info("nats transport connected", "name", t.name, "url", t.cfg.URL)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

func (t *Transport) NewConsumer(spec core.ConsumerSpec) (core.Consumer, error) {
	if spec.Selector != "" {
		return nil, fmt.Errorf("%w: nats (endpoint %s)", core.ErrSelectorUnsupported, spec.EndpointID)
	}
	if spec.Destination == "" {
		return nil, fmt.Errorf("%w: nats consumer needs a subject", core.ErrInvalidConfig)
	}
	return &consumer{t: t, spec: spec}, nil
}

type consumer struct {
	t    *Transport
	spec core.ConsumerSpec

	mu  sync.Mutex
	sub *nats.Subscription
}

func (c *consumer) Spec() core.ConsumerSpec { return c.spec }

func (c *consumer) Start(ctx context.Context, ch chan<- core.Delivery) error {
	c.t.mu.Lock()
	conn := c.t.conn
	c.t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: nats transport %s is not connected", core.ErrTransportUnavailable, c.t.name)
	}

	sub, err := conn.QueueSubscribe(c.spec.Destination, c.t.cfg.QueueGroup, func(msg *nats.Msg) {
		select {
		case ch <- c.toDelivery(msg):
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", c.spec.Destination, err)
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	<-ctx.Done()
	return nil
}

func (c *consumer) toDelivery(msg *nats.Msg) core.Delivery {
	m := &core.Message{
		ID:          core.NewMessageID(),
		EndpointID:  c.spec.EndpointID,
		Destination: msg.Subject,
		Properties:  make(map[string]any, len(msg.Header)),
		ReplyTo:     msg.Reply,
		ReceivedAt:  time.Now().UTC(),
	}
	for k := range msg.Header {
		m.Properties[k] = msg.Header.Get(k)
	}
	m.ContentType = msg.Header.Get(HeaderContentType)
	m.Payload = core.BytePayload(msg.Data, m.ContentType)

	d := core.Delivery{
		Message: m,
		// Core NATS has no redelivery.
		Ack:  func() error { return nil },
		Nack: func() error { return nil },
	}
	if msg.Reply != "" {
		d.Reply = func(_ context.Context, body string) error {
			return msg.Respond([]byte(body))
		}
	}
	return d
}

func (c *consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats unsubscribe: %w", err)
	}
	return nil
}
