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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

func newTestTransport(brokers ...string) *Transport {
	return New("events", Config{Brokers: brokers}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDefaults(t *testing.T) {
	tr := newTestTransport("localhost:9092")
	if tr.cfg.GroupID != "process-bridge-events" {
		t.Fatalf("expected default group id, got %s", tr.cfg.GroupID)
	}
	if err := newTestTransport().Connect(context.Background()); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without brokers, got %v", err)
	}
}

func TestNewConsumerRejectsSelector(t *testing.T) {
	tr := newTestTransport("localhost:9092")
	if _, err := tr.NewConsumer(core.ConsumerSpec{Destination: "t", Selector: "x"}); !errors.Is(err, core.ErrSelectorUnsupported) {
		t.Fatalf("expected ErrSelectorUnsupported, got %v", err)
	}
}

func TestToDelivery(t *testing.T) {
	tr := newTestTransport("localhost:9092")
	c, err := tr.NewConsumer(core.ConsumerSpec{EndpointID: "e1", Destination: "orders"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := c.(*consumer).toDelivery(kafka.Message{
		Topic:     "orders",
		Partition: 2,
		Offset:    17,
		Key:       []byte("k"),
		Value:     []byte(`{"id":1}`),
		Headers: []kafka.Header{
			{Key: HeaderReplyTo, Value: []byte("orders-replies")},
			{Key: HeaderContentType, Value: []byte("application/json")},
			{Key: "SignalName", Value: []byte("Resume")},
		},
	}, func(kafka.Message) error { return nil })

	if d.Message.ID != "orders-2-17" {
		t.Fatalf("unexpected id %s", d.Message.ID)
	}
	if d.Message.Payload != `{"id":1}` {
		t.Fatalf("expected string payload, got %#v", d.Message.Payload)
	}
	if d.Message.ReplyTo != "orders-replies" {
		t.Fatalf("expected reply-to header, got %q", d.Message.ReplyTo)
	}
	if v, _ := d.Message.Property("SignalName"); v != "Resume" {
		t.Fatalf("expected SignalName property, got %q", v)
	}
	if d.Reply == nil {
		t.Fatal("expected reply function")
	}
	if err := d.Nack(); err != nil {
		t.Fatalf("nack should not fail, got %v", err)
	}
}

// settle builds deliveries for offsets 0..n-1 of one partition and records
// what each settlement commits.
func settle(t *testing.T, n int) ([]core.Delivery, *[]int64) {
	t.Helper()
	tr := newTestTransport("localhost:9092")
	c, err := tr.NewConsumer(core.ConsumerSpec{EndpointID: "e1", Destination: "orders"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	kc := c.(*consumer)

	var committed []int64
	commit := func(m kafka.Message) error {
		committed = append(committed, m.Offset)
		return nil
	}
	ds := make([]core.Delivery, n)
	for i := range ds {
		msg := kafka.Message{Topic: "orders", Partition: 0, Offset: int64(i), Value: []byte("x")}
		kc.offsets.track(msg.Partition, msg.Offset)
		ds[i] = kc.toDelivery(msg, commit)
	}
	return ds, &committed
}

func TestAckOutOfOrderCommitsContiguousPrefix(t *testing.T) {
	ds, committed := settle(t, 3)

	ds[1].Ack()
	ds[2].Ack()
	if len(*committed) != 0 {
		t.Fatalf("nothing may be committed while offset 0 is in flight, got %v", *committed)
	}
	ds[0].Ack()
	if fmt.Sprint(*committed) != "[2]" {
		t.Fatalf("expected a single commit up to offset 2, got %v", *committed)
	}
}

func TestNackHoldsPartition(t *testing.T) {
	ds, committed := settle(t, 4)

	ds[0].Ack()
	ds[1].Nack()
	ds[2].Ack()
	ds[3].Ack()
	if fmt.Sprint(*committed) != "[0]" {
		t.Fatalf("commits must stop before the nacked offset, got %v", *committed)
	}
}

func TestOffsetTrackerPartitionsAreIndependent(t *testing.T) {
	tr := newOffsetTracker()
	tr.track(0, 10)
	tr.track(1, 5)
	tr.nack(0, 10)

	if off, ok := tr.ack(1, 5); !ok || off != 5 {
		t.Fatalf("expected partition 1 to commit 5, got %d %v", off, ok)
	}
	if _, ok := tr.ack(0, 99); ok {
		t.Fatal("untracked offset must not commit")
	}
}
