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

package solace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"solace.dev/go/messaging"
	"solace.dev/go/messaging/pkg/solace"
	"solace.dev/go/messaging/pkg/solace/config"
	"solace.dev/go/messaging/pkg/solace/message"
	"solace.dev/go/messaging/pkg/solace/resource"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

const terminateGrace = 5 * time.Second

type Config struct {
	Host     string
	VPN      string
	Username string
	Password string
}

// Transport consumes durable Solace queues with guaranteed delivery. It is
// the only transport besides jms that honours message selectors.
type Transport struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	service solace.MessagingService
}

func New(name string, cfg Config, logger *slog.Logger) *Transport {
	return &Transport{name: name, cfg: cfg, logger: logger}
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "solace" }

func (t *Transport) Connect(ctx context.Context) error {
	service, err := messaging.NewMessagingServiceBuilder().
		FromConfigurationProvider(config.ServicePropertyMap{
			config.TransportLayerPropertyHost:                t.cfg.Host,
			config.ServicePropertyVPNName:                    t.cfg.VPN,
			config.AuthenticationPropertySchemeBasicUserName: t.cfg.Username,
			config.AuthenticationPropertySchemeBasicPassword: t.cfg.Password,
		}).Build()
	if err != nil {
		return fmt.Errorf("solace build: %w", err)
	}
	if err = service.Connect(); err != nil {
		return fmt.Errorf("solace connect: %w", err)
	}

	t.mu.Lock()
	t.service = service
	t.mu.Unlock()

	t.logger.Info("solace transport connected", "name", t.name, "host", t.cfg.Host)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	service := t.service
	t.service = nil
	t.mu.Unlock()
	if service != nil {
		return service.Disconnect()
	}
	return nil
}

func (t *Transport) NewConsumer(spec core.ConsumerSpec) (core.Consumer, error) {
	if spec.Destination == "" {
		return nil, fmt.Errorf("%w: solace consumer needs a queue", core.ErrInvalidConfig)
	}
	return &consumer{t: t, spec: spec}, nil
}

type consumer struct {
	t    *Transport
	spec core.ConsumerSpec

	mu       sync.Mutex
	receiver solace.PersistentMessageReceiver
}

func (c *consumer) Spec() core.ConsumerSpec { return c.spec }

func (c *consumer) Start(ctx context.Context, ch chan<- core.Delivery) error {
	c.t.mu.Lock()
	service := c.t.service
	c.t.mu.Unlock()
	if service == nil {
		return fmt.Errorf("%w: solace transport %s is not connected", core.ErrTransportUnavailable, c.t.name)
	}

	builder := service.CreatePersistentMessageReceiverBuilder()
	if c.spec.Selector != "" {
		builder = builder.WithMessageSelector(c.spec.Selector)
	}
	receiver, err := builder.Build(resource.QueueDurableNonExclusive(c.spec.Destination))
	if err != nil {
		return fmt.Errorf("solace receiver build: %w", err)
	}
	if err = receiver.Start(); err != nil {
		return fmt.Errorf("solace receiver start: %w", err)
	}

	c.mu.Lock()
	c.receiver = receiver
	c.mu.Unlock()

	err = receiver.ReceiveAsync(func(in message.InboundMessage) {
		select {
		case ch <- c.toDelivery(receiver, in):
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("solace receive: %w", err)
	}

	<-ctx.Done()
	return nil
}

func (c *consumer) toDelivery(receiver solace.PersistentMessageReceiver, in message.InboundMessage) core.Delivery {
	m := &core.Message{
		ID:          core.NewMessageID(),
		EndpointID:  c.spec.EndpointID,
		Destination: c.spec.Destination,
		Properties:  map[string]any{},
		ReceivedAt:  time.Now().UTC(),
	}
	if id, ok := in.GetApplicationMessageID(); ok && id != "" {
		m.ID = id
	}
	for k, v := range in.GetProperties() {
		m.Properties[string(k)] = v
	}
	if ct, ok := in.GetHTTPContentType(); ok {
		m.ContentType = ct
	}
	if s, ok := in.GetPayloadAsString(); ok {
		m.Payload = s
	} else if b, ok := in.GetPayloadAsBytes(); ok {
		m.Payload = core.BytePayload(b, m.ContentType)
	} else {
		m.Payload = ""
	}

	return core.Delivery{
		Message: m,
		Ack:     func() error { return receiver.Ack(in) },
		// Unacknowledged guaranteed messages are redelivered by the broker.
		Nack: func() error { return nil },
	}
}

func (c *consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	receiver := c.receiver
	c.receiver = nil
	c.mu.Unlock()
	if receiver != nil {
		return receiver.Terminate(terminateGrace)
	}
	return nil
}
