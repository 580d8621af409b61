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

package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

// Header names read from inbound records.
const (
	HeaderReplyTo     = "reply-to"
	HeaderContentType = "content-type"
	HeaderCorrelation = "correlation-id"
)

type Config struct {
	Brokers []string
	GroupID string
}

type Transport struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	writer *kafka.Writer
}

func New(name string, cfg Config, logger *slog.Logger) *Transport {
	if cfg.GroupID == "" {
		cfg.GroupID = "process-bridge-" + name
	}
	return &Transport{name: name, cfg: cfg, logger: logger}
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "kafka" }

func (t *Transport) Connect(ctx context.Context) error {
	if len(t.cfg.Brokers) == 0 {
		return fmt.Errorf("%w: kafka transport %s has no brokers", core.ErrInvalidConfig, t.name)
	}
	t.mu.Lock()
	t.writer = &kafka.Writer{
		Addr:     kafka.TCP(t.cfg.Brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	t.mu.Unlock()
	t.logger.Info("kafka transport connected",
		"name", t.name,
		"brokers", strings.Join(t.cfg.Brokers, ","),
		"group_id", t.cfg.GroupID,
	)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writer != nil {
		err := t.writer.Close()
		t.writer = nil
		return err
	}
	return nil
}

func (t *Transport) NewConsumer(spec core.ConsumerSpec) (core.Consumer, error) {
	if spec.Selector != "" {
		return nil, fmt.Errorf("%w: kafka (endpoint %s)", core.ErrSelectorUnsupported, spec.EndpointID)
	}
	if spec.Destination == "" {
		return nil, fmt.Errorf("%w: kafka consumer needs a topic", core.ErrInvalidConfig)
	}
	return &consumer{t: t, spec: spec, offsets: newOffsetTracker()}, nil
}

func (t *Transport) reply(ctx context.Context, topic, correlationID, body string) error {
	t.mu.Lock()
	w := t.writer
	t.mu.Unlock()
	if w == nil {
		return fmt.Errorf("%w: kafka transport %s is not connected", core.ErrTransportUnavailable, t.name)
	}
	return w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(correlationID),
		Value:   []byte(body),
		Headers: []kafka.Header{{Key: HeaderCorrelation, Value: []byte(correlationID)}},
	})
}

type consumer struct {
	t       *Transport
	spec    core.ConsumerSpec
	offsets *offsetTracker

	mu     sync.Mutex
	reader *kafka.Reader
}

func (c *consumer) Spec() core.ConsumerSpec { return c.spec }

func (c *consumer) Start(ctx context.Context, ch chan<- core.Delivery) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.t.cfg.Brokers,
		Topic:    c.spec.Destination,
		GroupID:  c.t.cfg.GroupID,
		MaxWait:  500 * time.Millisecond,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	c.mu.Lock()
	c.reader = reader
	c.mu.Unlock()

	settleCtx := context.WithoutCancel(ctx)
	commit := func(m kafka.Message) error { return reader.CommitMessages(settleCtx, m) }
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.t.logger.Error("kafka fetch error", "endpoint", c.spec.EndpointID, "error", err)
			return fmt.Errorf("kafka fetch: %w", err)
		}

		record := msg
		c.offsets.track(record.Partition, record.Offset)
		select {
		case ch <- c.toDelivery(record, commit):
		case <-ctx.Done():
			return nil
		}
	}
}

// toDelivery wraps a fetched record. Ack commits through commit once every
// earlier offset of the partition is acked too.
func (c *consumer) toDelivery(msg kafka.Message, commit func(kafka.Message) error) core.Delivery {
	m := &core.Message{
		ID:          fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset),
		EndpointID:  c.spec.EndpointID,
		Destination: c.spec.Destination,
		Properties:  make(map[string]any, len(msg.Headers)+1),
		ReceivedAt:  time.Now().UTC(),
	}
	if len(msg.Key) > 0 {
		m.Properties["kafka_key"] = string(msg.Key)
	}
	for _, h := range msg.Headers {
		v := string(h.Value)
		switch h.Key {
		case HeaderReplyTo:
			m.ReplyTo = v
		case HeaderContentType:
			m.ContentType = v
		}
		m.Properties[h.Key] = v
	}
	m.Payload = core.BytePayload(msg.Value, m.ContentType)

	d := core.Delivery{
		Message: m,
		Ack: func() error {
			offset, ok := c.offsets.ack(msg.Partition, msg.Offset)
			if !ok {
				return nil
			}
			upTo := msg
			upTo.Offset = offset
			return commit(upTo)
		},
		// A nacked offset is never committed past, so it is fetched again
		// after a rebalance or restart.
		Nack: func() error {
			c.offsets.nack(msg.Partition, msg.Offset)
			return nil
		},
	}
	if m.ReplyTo != "" {
		replyTo, correlation := m.ReplyTo, m.ID
		if v, ok := m.Property(HeaderCorrelation); ok {
			correlation = v
		}
		d.Reply = func(ctx context.Context, body string) error {
			return c.t.reply(ctx, replyTo, correlation, body)
		}
	}
	return d
}

func (c *consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	reader := c.reader
	c.reader = nil
	c.mu.Unlock()
	if reader != nil {
		return reader.Close()
	}
	return nil
}
