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

package mqtt5

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte
}

type Transport struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	cm   *autopaho.ConnectionManager
	subs map[*consumer]struct{}
}

func New(name string, cfg Config, logger *slog.Logger) *Transport {
	if cfg.ClientID == "" {
		cfg.ClientID = "process-bridge-" + name + "-" + uuid.New().String()[:8]
	}
	if cfg.QoS == 0 {
		cfg.QoS = 1
	}
	return &Transport{name: name, cfg: cfg, logger: logger, subs: make(map[*consumer]struct{})}
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) Type() string { return "mqtt5" }

func (t *Transport) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(t.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: false,
		SessionExpiryInterval:         60,
		ConnectUsername:               t.cfg.Username,
		ConnectPassword:               []byte(t.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			t.logger.Info("mqtt5 connection up", "name", t.name)
			t.resubscribe(cm)
		},
		OnConnectError: func(err error) {
			t.logger.Warn("mqtt5 connection attempt failed", "name", t.name, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: t.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					return t.dispatch(pr.Packet), nil
				},
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt5 connection: %w", err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("mqtt5 await connection: %w", err)
	}

	t.mu.Lock()
	t.cm = cm
	t.mu.Unlock()

	t.logger.Info("mqtt5 transport connected", "name", t.name, "broker", t.cfg.BrokerURL)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	cm := t.cm
	t.cm = nil
	t.mu.Unlock()
	if cm != nil {
		return cm.Disconnect(ctx)
	}
	return nil
}

func (t *Transport) NewConsumer(spec core.ConsumerSpec) (core.Consumer, error) {
	if spec.Selector != "" {
		return nil, fmt.Errorf("%w: mqtt5 (endpoint %s)", core.ErrSelectorUnsupported, spec.EndpointID)
	}
	if spec.Destination == "" {
		return nil, fmt.Errorf("%w: mqtt5 consumer needs a topic filter", core.ErrInvalidConfig)
	}
	return &consumer{t: t, spec: spec}, nil
}

// dispatch hands pub to every consumer whose filter matches its topic.
func (t *Transport) dispatch(pub *paho.Publish) bool {
	t.mu.RLock()
	targets := make([]*consumer, 0, len(t.subs))
	for c := range t.subs {
		if TopicMatches(c.spec.Destination, pub.Topic) {
			targets = append(targets, c)
		}
	}
	t.mu.RUnlock()

	for _, c := range targets {
		c.deliver(pub)
	}
	return len(targets) > 0
}

// resubscribe restores subscriptions after a reconnect.
func (t *Transport) resubscribe(cm *autopaho.ConnectionManager) {
	t.mu.RLock()
	filters := make([]string, 0, len(t.subs))
	for c := range t.subs {
		filters = append(filters, c.spec.Destination)
	}
	t.mu.RUnlock()

	for _, f := range filters {
		if err := t.subscribe(context.Background(), cm, f); err != nil {
			t.logger.Error("mqtt5 resubscribe failed", "name", t.name, "topic", f, "error", err)
		}
	}
}

func (t *Transport) subscribe(ctx context.Context, cm *autopaho.ConnectionManager, filter string) error {
	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: t.cfg.QoS}},
	})
	return err
}

func (t *Transport) publish(ctx context.Context, topic string, correlation []byte, body string) error {
	t.mu.RLock()
	cm := t.cm
	t.mu.RUnlock()
	if cm == nil {
		return fmt.Errorf("%w: mqtt5 transport %s is not connected", core.ErrTransportUnavailable, t.name)
	}
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:      topic,
		QoS:        t.cfg.QoS,
		Payload:    []byte(body),
		Properties: &paho.PublishProperties{CorrelationData: correlation},
	})
	return err
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
	cm := c.t.cm
	if cm == nil {
		c.t.mu.Unlock()
		return fmt.Errorf("%w: mqtt5 transport %s is not connected", core.ErrTransportUnavailable, c.t.name)
	}
	c.mu.Lock()
	c.ctx, c.out = ctx, ch
	c.mu.Unlock()
	c.t.subs[c] = struct{}{}
	c.t.mu.Unlock()

	if err := c.t.subscribe(ctx, cm, c.spec.Destination); err != nil {
		c.Close(ctx)
		return fmt.Errorf("mqtt5 subscribe: %w", err)
	}

	<-ctx.Done()
	return nil
}

func (c *consumer) deliver(pub *paho.Publish) {
	c.mu.Lock()
	ctx, out := c.ctx, c.out
	c.mu.Unlock()
	if out == nil {
		return
	}

	select {
	case out <- c.toDelivery(pub):
	case <-ctx.Done():
	}
}

func (c *consumer) toDelivery(pub *paho.Publish) core.Delivery {
	m := &core.Message{
		ID:          core.NewMessageID(),
		EndpointID:  c.spec.EndpointID,
		Destination: pub.Topic,
		Properties:  map[string]any{},
		ReceivedAt:  time.Now().UTC(),
	}
	var correlation []byte
	if p := pub.Properties; p != nil {
		for _, u := range p.User {
			m.Properties[u.Key] = u.Value
		}
		m.ContentType = p.ContentType
		m.ReplyTo = p.ResponseTopic
		correlation = p.CorrelationData
	}
	m.Payload = core.BytePayload(pub.Payload, m.ContentType)

	d := core.Delivery{
		Message: m,
		// The client acknowledges QoS 1 publishes once handlers return.
		Ack:  func() error { return nil },
		Nack: func() error { return nil },
	}
	if m.ReplyTo != "" {
		replyTo := m.ReplyTo
		d.Reply = func(ctx context.Context, body string) error {
			return c.t.publish(ctx, replyTo, correlation, body)
		}
	}
	return d
}

func (c *consumer) Close(ctx context.Context) error {
	c.t.mu.Lock()
	_, subscribed := c.t.subs[c]
	delete(c.t.subs, c)
	cm := c.t.cm
	c.t.mu.Unlock()

	c.mu.Lock()
	c.out = nil
	c.mu.Unlock()

	if !subscribed || cm == nil {
		return nil
	}
	_, err := cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{c.spec.Destination}})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("mqtt5 unsubscribe: %w", err)
	}
	return nil
}

// TopicMatches reports whether topic matches an MQTT topic filter with '+'
// and '#' wildcards.
func TopicMatches(filter, topic string) bool {
	if strings.HasPrefix(filter, "$share/") {
		parts := strings.SplitN(filter, "/", 3)
		if len(parts) < 3 {
			return false
		}
		filter = parts[2]
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		switch {
		case f == "#":
			return true
		case i >= len(tl):
			return false
		case f == "+":
		case f != tl[i]:
			return false
		}
	}
	return len(fl) == len(tl)
}
