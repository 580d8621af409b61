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

package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/gateway-runtime/process-bridge/pkg/core"
)

type order struct {
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
	Lines     int     `json:"lines"`
}

func TestNoneLeavesPayload(t *testing.T) {
	msg := &core.Message{Payload: []byte("raw")}
	require.NoError(t, New(core.MappingNone, nil, "").Convert(msg))
	assert.Equal(t, []byte("raw"), msg.Payload)
}

func TestJSONGenericObject(t *testing.T) {
	msg := &core.Message{Payload: []byte(`{"x":1,"y":"two","z":[1.5,true]}`)}
	require.NoError(t, New(core.MappingJSON, nil, "").Convert(msg))

	assert.Equal(t, map[string]any{
		"x": int64(1),
		"y": "two",
		"z": []any{1.5, true},
	}, msg.Payload)
}

func TestJSONStringPayload(t *testing.T) {
	msg := &core.Message{Payload: `"hello"`}
	require.NoError(t, NewJSON(nil, "").Convert(msg))
	assert.Equal(t, "hello", msg.Payload)
}

func TestJSONRegisteredType(t *testing.T) {
	registry := NewTypeRegistry()
	registry.Register("com.acme.Order", &order{})

	msg := &core.Message{
		Payload:    []byte(`{"reference":"A-1","amount":12.5,"lines":3}`),
		Properties: map[string]any{DefaultTypeProperty: "com.acme.Order"},
	}
	require.NoError(t, NewJSON(registry, "").Convert(msg))

	got, ok := msg.Payload.(*order)
	require.True(t, ok, "expected *order, got %T", msg.Payload)
	assert.Equal(t, order{Reference: "A-1", Amount: 12.5, Lines: 3}, *got)
}

func TestJSONUnknownTypeFallsBackToGeneric(t *testing.T) {
	msg := &core.Message{
		Payload:    []byte(`{"a":"b"}`),
		Properties: map[string]any{"Type": "unknown"},
	}
	require.NoError(t, NewJSON(NewTypeRegistry(), "Type").Convert(msg))
	assert.Equal(t, map[string]any{"a": "b"}, msg.Payload)
}

func TestJSONInvalidPayload(t *testing.T) {
	msg := &core.Message{Payload: []byte(`{not json`)}
	err := NewJSON(nil, "").Convert(msg)
	assert.ErrorIs(t, err, core.ErrPayloadShape)
}

func TestJSONIgnoresDecodedPayloads(t *testing.T) {
	in := map[string]any{"k": "v"}
	msg := &core.Message{Payload: in}
	require.NoError(t, NewJSON(nil, "").Convert(msg))
	assert.Equal(t, in, msg.Payload)
}

func TestObjectMapper(t *testing.T) {
	m, err := JSONObjectMapper{}.ToMap(&order{Reference: "A-1", Amount: 2, Lines: 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"reference": "A-1", "amount": 2.0, "lines": 1.0}, m)

	_, err = JSONObjectMapper{}.ToMap([]int{1, 2})
	assert.ErrorIs(t, err, core.ErrPayloadShape)

	in := map[string]any{"k": "v"}
	m, err = JSONObjectMapper{}.ToMap(in)
	require.NoError(t, err)
	assert.Equal(t, in, m)
}
