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

package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

type Config struct {
	URL      string
	Prefetch int
	// Declare makes the consumer declare its queue as durable on start.
	Declare bool
}

type Transport struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	conn  *amqp.Connection
	pubCh *amqp.Channel
}

func New(name string, cfg Config, logger *slog.Logger) *Transport {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Transport{name: name, cfg: cfg, logger: logger}
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "rabbitmq" }

func (t *Transport) Connect(ctx context.Context) error {
	conn, err := amqp.Dial(t.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq publish channel: %w", err)
	}

	t.mu.Lock()
	t.conn, t.pubCh = conn, pubCh
	t.mu.Unlock()

	t.logger.Info("rabbitmq transport connected", "name", t.name)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubCh != nil {
		t.pubCh.Close()
		t.pubCh = nil
	}
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

func (t *Transport) NewConsumer(spec core.ConsumerSpec) (core.Consumer, error) {
	if spec.Selector != "" {
		return nil, fmt.Errorf("%w: rabbitmq (endpoint %s)", core.ErrSelectorUnsupported, spec.EndpointID)
	}
	if spec.Destination == "" {
		return nil, fmt.Errorf("%w: rabbitmq consumer needs a queue", core.ErrInvalidConfig)
	}
	return &consumer{t: t, spec: spec}, nil
}

func (t *Transport) publish(ctx context.Context, routingKey, correlationID, body string) error {
	t.mu.Lock()
	ch := t.pubCh
	t.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("%w: rabbitmq transport %s is not connected", core.ErrTransportUnavailable, t.name)
	}
	return ch.PublishWithContext(ctx, "", routingKey, false, false, amqp.Publishing{
		ContentType:   "text/plain",
		CorrelationId: correlationID,
		MessageId:     core.NewMessageID(),
		Timestamp:     time.Now().UTC(),
		Body:          []byte(body),
	})
}

type consumer struct {
	t    *Transport
	spec core.ConsumerSpec

	mu sync.Mutex
	ch *amqp.Channel
}

func (c *consumer) Spec() core.ConsumerSpec { return c.spec }

func (c *consumer) Start(ctx context.Context, out chan<- core.Delivery) error {
	c.t.mu.Lock()
	conn := c.t.conn
	c.t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: rabbitmq transport %s is not connected", core.ErrTransportUnavailable, c.t.name)
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq consumer channel: %w", err)
	}
	if c.t.cfg.Declare {
		if _, err := ch.QueueDeclare(c.spec.Destination, true, false, false, false, nil); err != nil {
			ch.Close()
			return fmt.Errorf("rabbitmq queue declare %s: %w", c.spec.Destination, err)
		}
	}
	if err := ch.Qos(c.t.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("rabbitmq qos: %w", err)
	}

	tag := fmt.Sprintf("bridge-%s-%s", c.spec.EndpointID, core.NewMessageID())
	deliveries, err := ch.Consume(c.spec.Destination, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return c.cancelConsume(ch, tag)
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			select {
			case out <- c.toDelivery(d):
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return c.cancelConsume(ch, tag)
			}
		}
	}
}

// cancelConsume stops the broker from pushing more deliveries while the
// channel stays open for acks of the ones already handed out.
func (c *consumer) cancelConsume(ch *amqp.Channel, tag string) error {
	if err := ch.Cancel(tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("rabbitmq cancel %s: %w", tag, err)
	}
	return nil
}

func (c *consumer) toDelivery(d amqp.Delivery) core.Delivery {
	m := &core.Message{
		ID:          d.MessageId,
		EndpointID:  c.spec.EndpointID,
		Destination: c.spec.Destination,
		Properties:  make(map[string]any, len(d.Headers)),
		Payload:     core.BytePayload(d.Body, d.ContentType),
		ContentType: d.ContentType,
		ReplyTo:     d.ReplyTo,
		ReceivedAt:  time.Now().UTC(),
	}
	if m.ID == "" {
		m.ID = core.NewMessageID()
	}
	for k, v := range d.Headers {
		m.Properties[k] = v
	}

	out := core.Delivery{
		Message: m,
		Ack:     func() error { return d.Ack(false) },
		Nack:    func() error { return d.Nack(false, true) },
	}
	if d.ReplyTo != "" {
		correlation := d.CorrelationId
		if correlation == "" {
			correlation = m.ID
		}
		out.Reply = func(ctx context.Context, body string) error {
			return c.t.publish(ctx, d.ReplyTo, correlation, body)
		}
	}
	return out
}

func (c *consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	ch := c.ch
	c.ch = nil
	c.mu.Unlock()
	if ch != nil {
		return ch.Close()
	}
	return nil
}
