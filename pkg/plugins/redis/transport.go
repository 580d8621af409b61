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

package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

// Stream entry fields with a fixed meaning. Every other field becomes a
// message property.
const (
	FieldData        = "data"
	FieldContentType = "content_type"
	FieldReplyTo     = "reply_to"
	FieldCorrelation = "correlation_id"
)

const readBlock = time.Second

type Config struct {
	Addr     string
	Password string
	DB       int
	Group    string
	Consumer string
}

// Transport reads Redis streams through a consumer group.
type Transport struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client redis.UniversalClient
}

func New(name string, cfg Config, logger *slog.Logger) *Transport {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Group == "" {
		cfg.Group = "process-bridge"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "process-bridge-" + name
	}
	return &Transport{name: name, cfg: cfg, logger: logger}
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "redis" }

func (t *Transport) Connect(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     t.cfg.Addr,
		Password: t.cfg.Password,
		DB:       t.cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis connection failed: %w", err)
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	t.logger.Info("redis transport connected", "name", t.name, "addr", t.cfg.Addr)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()
	if client != nil {
		return client.Close()
	}
	return nil
}

func (t *Transport) NewConsumer(spec core.ConsumerSpec) (core.Consumer, error) {
	if spec.Selector != "" {
		return nil, fmt.Errorf("%w: redis (endpoint %s)", core.ErrSelectorUnsupported, spec.EndpointID)
	}
	if spec.Destination == "" {
		return nil, fmt.Errorf("%w: redis consumer needs a stream key", core.ErrInvalidConfig)
	}
	return &consumer{t: t, spec: spec}, nil
}

type consumer struct {
	t    *Transport
	spec core.ConsumerSpec
}

func (c *consumer) Spec() core.ConsumerSpec { return c.spec }

func (c *consumer) Start(ctx context.Context, ch chan<- core.Delivery) error {
	c.t.mu.Lock()
	client := c.t.client
	c.t.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%w: redis transport %s is not connected", core.ErrTransportUnavailable, c.t.name)
	}

	stream, group := c.spec.Destination, c.t.cfg.Group
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis create group %s on %s: %w", group, stream, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: c.t.cfg.Consumer,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.t.logger.Error("redis read failed", "name", c.t.name, "stream", stream, "error", err)
			select {
			case <-time.After(readBlock):
			case <-ctx.Done():
			}
			continue
		}

		for _, s := range streams {
			for _, xm := range s.Messages {
				select {
				case ch <- c.toDelivery(ctx, client, xm):
				case <-ctx.Done():
					// Left pending in the group for the next reader.
					return nil
				}
			}
		}
	}
}

func (c *consumer) toDelivery(ctx context.Context, client redis.UniversalClient, xm redis.XMessage) core.Delivery {
	m := &core.Message{
		ID:          xm.ID,
		EndpointID:  c.spec.EndpointID,
		Destination: c.spec.Destination,
		Properties:  make(map[string]any, len(xm.Values)),
		ReceivedAt:  time.Now().UTC(),
	}
	var body []byte
	var correlation string
	for k, v := range xm.Values {
		s := fmt.Sprint(v)
		switch k {
		case FieldData:
			body = []byte(s)
		case FieldContentType:
			m.ContentType = s
		case FieldReplyTo:
			m.ReplyTo = s
		case FieldCorrelation:
			correlation = s
		default:
			m.Properties[k] = s
		}
	}
	m.Payload = core.BytePayload(body, m.ContentType)

	settle := context.WithoutCancel(ctx)
	d := core.Delivery{
		Message: m,
		Ack: func() error {
			return client.XAck(settle, c.spec.Destination, c.t.cfg.Group, xm.ID).Err()
		},
		// Unacked entries stay in the pending list.
		Nack: func() error { return nil },
	}
	if m.ReplyTo != "" {
		replyTo := m.ReplyTo
		d.Reply = func(ctx context.Context, body string) error {
			values := map[string]any{FieldData: body}
			if correlation != "" {
				values[FieldCorrelation] = correlation
			}
			return client.XAdd(ctx, &redis.XAddArgs{Stream: replyTo, Values: values}).Err()
		}
	}
	return d
}

func (c *consumer) Close(ctx context.Context) error { return nil }
