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

// Package plugintest provides an in-memory transport for tests.
package plugintest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

// ErrClosed is returned when a delivery is settled after its consumer was
// closed, as a broker would refuse an ack on a released link.
var ErrClosed = errors.New("plugintest: consumer closed")

type Transport struct {
	TransportName string
	ConnectErr    error
	// NoSelectors makes NewConsumer reject selectors like most brokers do.
	NoSelectors bool

	mu          sync.Mutex
	connects    int
	disconnects int
	consumers   map[string]*Consumer
}

func New(name string) *Transport {
	return &Transport{TransportName: name, consumers: make(map[string]*Consumer)}
}

func (t *Transport) Name() string { return t.TransportName }
func (t *Transport) Type() string { return "fake" }

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	return t.ConnectErr
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	return nil
}

func (t *Transport) NewConsumer(spec core.ConsumerSpec) (core.Consumer, error) {
	if t.NoSelectors && spec.Selector != "" {
		return nil, fmt.Errorf("%w: fake", core.ErrSelectorUnsupported)
	}
	c := &Consumer{spec: spec, started: make(chan struct{}), exit: make(chan error, 1)}
	t.mu.Lock()
	t.consumers[spec.EndpointID] = c
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

// Consumer returns the consumer built for an endpoint, or nil.
func (t *Transport) Consumer(endpointID string) *Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consumers[endpointID]
}

// Outcome records how a pushed delivery was settled.
type Outcome struct {
	Acked   bool
	Nacked  bool
	Replies []string
}

type Consumer struct {
	spec core.ConsumerSpec

	mu       sync.Mutex
	ctx      context.Context
	out      chan<- core.Delivery
	started  chan struct{}
	exit     chan error
	closed   bool
	outcomes []*Outcome
}

func (c *Consumer) Spec() core.ConsumerSpec { return c.spec }

func (c *Consumer) Start(ctx context.Context, ch chan<- core.Delivery) error {
	c.mu.Lock()
	c.ctx, c.out = ctx, ch
	c.mu.Unlock()
	close(c.started)
	select {
	case <-ctx.Done():
		return nil
	case err := <-c.exit:
		return err
	}
}

// Fail makes a started consumer stop receiving with err, like a broker
// dropping the link.
func (c *Consumer) Fail(err error) {
	select {
	case c.exit <- err:
	default:
	}
}

func (c *Consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Push delivers msg once the consumer has started and returns its outcome,
// which fills in as the delivery is settled.
func (c *Consumer) Push(msg *core.Message) (*Outcome, error) {
	select {
	case <-c.started:
	case <-time.After(2 * time.Second):
		return nil, fmt.Errorf("consumer %s never started", c.spec.EndpointID)
	}

	o := &Outcome{}
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	ctx, out := c.ctx, c.out
	c.mu.Unlock()

	if msg.EndpointID == "" {
		msg.EndpointID = c.spec.EndpointID
	}
	if msg.Destination == "" {
		msg.Destination = c.spec.Destination
	}
	d := core.Delivery{
		Message: msg,
		Ack: func() error {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				return ErrClosed
			}
			o.Acked = true
			return nil
		},
		Nack: func() error {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				return ErrClosed
			}
			o.Nacked = true
			return nil
		},
		Reply: func(_ context.Context, body string) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				return ErrClosed
			}
			o.Replies = append(o.Replies, body)
			return nil
		},
	}
	select {
	case out <- d:
		return o, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Settled reports whether o has been acked or nacked.
func (c *Consumer) Settled(o *Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return o.Acked || o.Nacked
}

// Snapshot returns a copy of o taken under the consumer lock.
func (c *Consumer) Snapshot(o *Outcome) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Outcome{Acked: o.Acked, Nacked: o.Nacked, Replies: append([]string(nil), o.Replies...)}
}
