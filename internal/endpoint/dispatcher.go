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

package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/logging"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/internal/metrics"
	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

const consumerCloseGrace = 5 * time.Second

// Dispatcher runs the workers of one endpoint: it starts the consumer and
// hands each delivery to the pipeline, then settles it.
type Dispatcher struct {
	endpoint   *Endpoint
	metrics    *metrics.Metrics
	deliveries *logging.DeliveryLogger
	logger     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	workers sync.WaitGroup
	done    chan struct{}
}

func NewDispatcher(ep *Endpoint, m *metrics.Metrics, deliveries *logging.DeliveryLogger, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		endpoint:   ep,
		metrics:    m,
		deliveries: deliveries,
		logger: logger.With(
			"endpoint", ep.Definition.ID,
			"destination", ep.Definition.Destination,
			"definitions", ep.Definition.DefinitionsIdentifier,
		),
	}
}

func (d *Dispatcher) Endpoint() *Endpoint { return d.endpoint }

// Done is closed when the consumer stops receiving, whether through Stop or
// because it failed. It is nil before Start.
func (d *Dispatcher) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Start launches the consumer and the endpoint's workers. Handlers run with
// a context detached from ctx, so Stop never cancels a message mid-flight.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	handleCtx := context.WithoutCancel(ctx)
	ch := make(chan core.Delivery)

	go func() {
		defer close(d.done)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("consumer panic recovered", "error", r)
			}
		}()
		if err := d.endpoint.Consumer.Start(consumeCtx, ch); err != nil && consumeCtx.Err() == nil {
			d.logger.Error("consumer stopped", "consumer", d.endpoint.Name(), "error", err)
		}
	}()

	for i := 0; i < d.endpoint.Definition.Concurrency; i++ {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			for {
				select {
				case <-consumeCtx.Done():
					return
				case del := <-ch:
					d.process(handleCtx, del)
				}
			}
		}()
	}

	d.logger.Info("consumer started", "consumer", d.endpoint.Name(), "workers", d.endpoint.Definition.Concurrency)
}

// Stop stops accepting deliveries, waits for in-flight ones to settle and
// then closes the consumer. Waiting is bounded by ctx; the consumer is
// closed either way.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	if cancel == nil || d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()
	cancel()

	finished := make(chan struct{})
	go func() {
		d.workers.Wait()
		<-done
		close(finished)
	}()

	var errs []error
	select {
	case <-finished:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("endpoint %s: in-flight deliveries not finished: %w", d.endpoint.Definition.ID, ctx.Err()))
	}
	closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(ctx), consumerCloseGrace)
	defer cancelClose()
	if err := d.endpoint.Consumer.Close(closeCtx); err != nil {
		errs = append(errs, fmt.Errorf("endpoint %s: close consumer: %w", d.endpoint.Definition.ID, err))
	}
	if len(errs) == 0 {
		d.logger.Info("consumer stopped", "consumer", d.endpoint.Name())
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) process(ctx context.Context, del core.Delivery) {
	start := time.Now()
	msg := del.Message
	outcome := logging.OutcomeFailed
	replied := false

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic recovered", "message_id", msg.ID, "error", r)
			d.nack(del)
			outcome = logging.OutcomeFailed
		}
		d.metrics.Delivery(d.endpoint.Definition.ID, outcome)
		d.deliveries.Log(msg, outcome, replied, time.Since(start))
	}()

	reply, err := d.handle(ctx, msg)
	if err != nil {
		if isPayloadError(err) {
			outcome = logging.OutcomeRejected
			d.logger.Warn("message rejected", "message_id", msg.ID, "error", err)
		} else {
			d.logger.Error("message processing failed", "message_id", msg.ID, "error", err)
		}
		d.nack(del)
		return
	}

	if reply != "" {
		if del.Reply == nil {
			d.logger.Debug("transport cannot reply, reply dropped", "message_id", msg.ID)
		} else if err := del.Reply(ctx, reply); err != nil {
			d.logger.Warn("reply failed", "message_id", msg.ID, "reply_to", msg.ReplyTo, "error", err)
		} else {
			replied = true
		}
	}

	if err := del.Ack(); err != nil {
		d.logger.Warn("ack failed", "message_id", msg.ID, "error", err)
	}
	outcome = logging.OutcomeAcked
}

func (d *Dispatcher) handle(ctx context.Context, msg *core.Message) (string, error) {
	if err := d.endpoint.Converter.Convert(msg); err != nil {
		return "", err
	}
	return d.endpoint.Pipeline.Handle(ctx, msg)
}

func (d *Dispatcher) nack(del core.Delivery) {
	if err := del.Nack(); err != nil {
		d.logger.Warn("nack failed", "message_id", del.Message.ID, "error", err)
	}
}

func isPayloadError(err error) bool {
	return errors.Is(err, core.ErrUnsupportedPayload) || errors.Is(err, core.ErrPayloadShape)
}
