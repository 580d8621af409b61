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
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/Azure/go-amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

func kind(k int64) amqp.Annotations {
	return amqp.Annotations{msgTypeAnnotation: int8(k)}
}

func TestPayloadKinds(t *testing.T) {
	tests := []struct {
		name string
		msg  *amqp.Message
		want any
	}{
		{"text value", &amqp.Message{Value: "hello"}, "hello"},
		{"text annotated data", &amqp.Message{Data: [][]byte{[]byte("hi")}, Annotations: kind(jmsTextMessage)}, "hi"},
		{"map value", &amqp.Message{Value: map[string]any{"x": int64(1)}, Annotations: kind(jmsMapMessage)}, map[string]any{"x": int64(1)}},
		{"map with any keys", &amqp.Message{Value: map[any]any{"x": "y"}}, map[string]any{"x": "y"}},
		{"bytes message", &amqp.Message{Data: [][]byte{[]byte("raw")}, Annotations: kind(jmsBytesMessage)}, []byte("raw")},
		{"object message", &amqp.Message{Data: [][]byte{{0xac, 0xed}}, Annotations: kind(jmsObjectMessage)}, []byte{0xac, 0xed}},
		{"stream message", &amqp.Message{Sequence: [][]any{{"a", int32(2)}}, Annotations: kind(jmsStreamMessage)}, core.StreamPayload{"a", int32(2)}},
		{"list value", &amqp.Message{Value: []any{"a"}}, core.StreamPayload{"a"}},
		{"utf8 data", &amqp.Message{Data: [][]byte{[]byte(`{"a":1}`)}}, `{"a":1}`},
		{"binary data", &amqp.Message{Data: [][]byte{{0xff, 0xfe}}}, []byte{0xff, 0xfe}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, payload(tt.msg, ""))
		})
	}
}

func TestToMessageCopiesHeaders(t *testing.T) {
	replyTo := "replies"
	ct := "text/plain"
	c := &consumer{spec: core.ConsumerSpec{EndpointID: "e1", Destination: "Q1"}}

	m := c.toMessage(&amqp.Message{
		Value:                 "body",
		ApplicationProperties: map[string]any{"SignalName": "Resume"},
		Properties:            &amqp.MessageProperties{MessageID: "ID:1", ReplyTo: &replyTo, ContentType: &ct},
	})

	assert.Equal(t, "ID:1", m.ID)
	assert.Equal(t, "e1", m.EndpointID)
	assert.Equal(t, "Q1", m.Destination)
	assert.Equal(t, "replies", m.ReplyTo)
	assert.Equal(t, "text/plain", m.ContentType)
	assert.Equal(t, "body", m.Payload)
	name, ok := m.Property("SignalName")
	require.True(t, ok)
	assert.Equal(t, "Resume", name)
}

func TestNewConsumerNeedsDestination(t *testing.T) {
	tr := New("default", Config{URL: "amqp://localhost:5672"}, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	_, err := tr.NewConsumer(core.ConsumerSpec{EndpointID: "e1"})
	assert.True(t, errors.Is(err, core.ErrInvalidConfig))

	c, err := tr.NewConsumer(core.ConsumerSpec{EndpointID: "e1", Destination: "Q1", Selector: "kind = 'order'"})
	require.NoError(t, err)
	assert.Equal(t, "kind = 'order'", c.Spec().Selector)
	assert.Equal(t, "jms", tr.Type())
}
