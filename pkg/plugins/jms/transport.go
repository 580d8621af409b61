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

package jms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/go-amqp"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

// JMS over AMQP 1.0 marks the original JMS message kind with this
// annotation.
const msgTypeAnnotation = "x-opt-jms-msg-type"

const (
	jmsMessage int64 = iota
	jmsObjectMessage
	jmsMapMessage
	jmsBytesMessage
	jmsStreamMessage
	jmsTextMessage
)

type Config struct {
	URL      string
	Username string
	Password string
	// Credit is the receiver link credit per consumer.
	Credit int32
}

// Transport consumes JMS destinations through an AMQP 1.0 broker
// (ActiveMQ Artemis, Qpid, Azure Service Bus).
type Transport struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	conn      *amqp.Conn
	replySess *amqp.Session
}

func New(name string, cfg Config, logger *slog.Logger) *Transport {
	if cfg.Credit <= 0 {
		cfg.Credit = 10
	}
	return &Transport{name: name, cfg: cfg, logger: logger}
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "jms" }

func (t *Transport) Connect(ctx context.Context) error {
	opts := &amqp.ConnOptions{}
	if t.cfg.Username != "" {
		opts.SASLType = amqp.SASLTypePlain(t.cfg.Username, t.cfg.Password)
	}
	conn, err := amqp.Dial(ctx, t.cfg.URL, opts)
	if err != nil {
		return fmt.Errorf("jms dial: %w", err)
	}
	replySess, err := conn.NewSession(ctx, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("jms reply session: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.replySess = replySess
	t.mu.Unlock()

	t.logger.Info("jms transport connected", "name", t.name, "url", t.cfg.URL)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.replySess != nil {
		t.replySess.Close(ctx)
		t.replySess = nil
	}
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

func (t *Transport) NewConsumer(spec core.ConsumerSpec) (core.Consumer, error) {
	if spec.Destination == "" {
		return nil, fmt.Errorf("%w: jms consumer needs a destination", core.ErrInvalidConfig)
	}
	return &consumer{t: t, spec: spec}, nil
}

func (t *Transport) connection() (*amqp.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, fmt.Errorf("%w: jms transport %s is not connected", core.ErrTransportUnavailable, t.name)
	}
	return t.conn, nil
}

func (t *Transport) reply(ctx context.Context, to, correlationID string, body string) error {
	t.mu.Lock()
	sess := t.replySess
	t.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("%w: jms transport %s is not connected", core.ErrTransportUnavailable, t.name)
	}

	sender, err := sess.NewSender(ctx, to, nil)
	if err != nil {
		return fmt.Errorf("jms reply sender: %w", err)
	}
	defer sender.Close(ctx)

	msg := amqp.NewMessage([]byte(body))
	msg.Properties = &amqp.MessageProperties{CorrelationID: correlationID}
	msg.Annotations = amqp.Annotations{msgTypeAnnotation: int8(jmsTextMessage)}
	return sender.Send(ctx, msg, nil)
}

type consumer struct {
	t    *Transport
	spec core.ConsumerSpec

	mu       sync.Mutex
	receiver *amqp.Receiver
	session  *amqp.Session
}

func (c *consumer) Spec() core.ConsumerSpec { return c.spec }

func (c *consumer) Start(ctx context.Context, ch chan<- core.Delivery) error {
	conn, err := c.t.connection()
	if err != nil {
		return err
	}

	sess, err := conn.NewSession(ctx, nil)
	if err != nil {
		return fmt.Errorf("jms consumer session: %w", err)
	}
	opts := &amqp.ReceiverOptions{Credit: c.t.cfg.Credit}
	if c.spec.Selector != "" {
		opts.Filters = []amqp.LinkFilter{amqp.NewSelectorFilter(c.spec.Selector)}
	}
	receiver, err := sess.NewReceiver(ctx, c.spec.Destination, opts)
	if err != nil {
		sess.Close(ctx)
		return fmt.Errorf("jms receiver: %w", err)
	}

	c.mu.Lock()
	c.receiver, c.session = receiver, sess
	c.mu.Unlock()

	settleCtx := context.WithoutCancel(ctx)
	for {
		msg, err := receiver.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("jms receive: %w", err)
		}

		amqpMsg := msg
		m := c.toMessage(amqpMsg)
		d := core.Delivery{
			Message: m,
			Ack:     func() error { return receiver.AcceptMessage(settleCtx, amqpMsg) },
			Nack:    func() error { return receiver.RejectMessage(settleCtx, amqpMsg, nil) },
		}
		if m.ReplyTo != "" {
			replyTo, correlation := m.ReplyTo, m.ID
			d.Reply = func(ctx context.Context, body string) error {
				return c.t.reply(ctx, replyTo, correlation, body)
			}
		}

		select {
		case ch <- d:
		case <-ctx.Done():
			_ = receiver.ReleaseMessage(settleCtx, amqpMsg)
			return nil
		}
	}
}

func (c *consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	receiver, sess := c.receiver, c.session
	c.receiver, c.session = nil, nil
	c.mu.Unlock()

	if receiver != nil {
		receiver.Close(ctx)
	}
	if sess != nil {
		return sess.Close(ctx)
	}
	return nil
}

func (c *consumer) toMessage(msg *amqp.Message) *core.Message {
	m := &core.Message{
		ID:          core.NewMessageID(),
		EndpointID:  c.spec.EndpointID,
		Destination: c.spec.Destination,
		Properties:  make(map[string]any, len(msg.ApplicationProperties)),
		ReceivedAt:  time.Now().UTC(),
	}
	for k, v := range msg.ApplicationProperties {
		m.Properties[k] = v
	}
	if p := msg.Properties; p != nil {
		if p.MessageID != nil {
			m.ID = fmt.Sprint(p.MessageID)
		}
		if p.ReplyTo != nil {
			m.ReplyTo = *p.ReplyTo
		}
		if p.ContentType != nil {
			m.ContentType = *p.ContentType
		}
	}
	m.Payload = payload(msg, m.ContentType)
	return m
}

func payload(msg *amqp.Message, contentType string) any {
	kind, hasKind := messageKind(msg)
	switch {
	case hasKind && kind == jmsStreamMessage:
		return streamPayload(msg)
	case hasKind && (kind == jmsBytesMessage || kind == jmsObjectMessage):
		return msg.GetData()
	case len(msg.Sequence) > 0:
		return streamPayload(msg)
	}

	switch v := msg.Value.(type) {
	case string:
		return v
	case map[string]any:
		return v
	case map[any]any:
		return core.StringMap(v)
	case []any:
		return core.StreamPayload(v)
	case []byte:
		return core.BytePayload(v, contentType)
	case nil:
	default:
		return v
	}

	data := msg.GetData()
	if hasKind && kind == jmsTextMessage {
		return string(data)
	}
	return core.BytePayload(data, contentType)
}

func streamPayload(msg *amqp.Message) core.StreamPayload {
	var out core.StreamPayload
	for _, section := range msg.Sequence {
		out = append(out, section...)
	}
	if list, ok := msg.Value.([]any); ok {
		out = append(out, list...)
	}
	return out
}

func messageKind(msg *amqp.Message) (int64, bool) {
	if msg.Annotations == nil {
		return 0, false
	}
	switch v := msg.Annotations[msgTypeAnnotation].(type) {
	case int8:
		return int64(v), true
	case uint8:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
